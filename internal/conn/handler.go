package conn

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/internal/search"
	"github.com/shelfdb/shelfdb/internal/table"
	"github.com/shelfdb/shelfdb/pkg"
)

// HandleRequest serves the key-value API. Requests carry a 'what'
// parameter naming the operation; further parameters depend on it.
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	s.acquire()
	defer s.release()

	ip := ClientIP(r)
	if !s.gate.Allow(ip) {
		writeError(w, http.StatusTooManyRequests, "Too many requests. Try again later.")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	param := func(key string) string { return r.Form.Get(key) }

	switch param("what") {
	case "":
		writeError(w, http.StatusBadRequest, "Undefined request. For help set parameter 'what' to 'help'")
	case "help":
		writeText(w, s.helpPage())
	case "status":
		writeText(w, s.engine.Summary())
	case "erm":
		writeText(w, s.engine.TableSpecification())
	case "login":
		s.handleLogin(w, ip, param)
	case "logout":
		s.handleLogout(w, param)
	case "row":
		s.handleRow(w, param)
	case "insert", "update", "delete":
		s.handleMutation(w, param("what"), param)
	case "query":
		s.handleQuery(w, param)
	default:
		writeError(w, http.StatusBadRequest, "Unknown request")
	}
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(text))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}

func (s *Server) handleLogin(w http.ResponseWriter, ip string, param func(string) string) {
	user := param("user")
	password := param("password")
	if user == "" || password == "" {
		writeError(w, http.StatusBadRequest, "User-ID or password missing.")
		return
	}
	if s.authority.IsBlocked(ip) {
		writeError(w, http.StatusTooManyRequests, "Too many login tries. Try again later.")
		return
	}
	token := s.authority.Login(user, password)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Invalid user or password.")
		return
	}
	writeText(w, token)
}

func (s *Server) handleLogout(w http.ResponseWriter, param func(string) string) {
	token := param("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing token.")
		return
	}
	s.authority.Logout(token)
	writeText(w, "OK")
}

func (s *Server) lookupTable(name string) (*table.Table, int, string) {
	if name == "" {
		return nil, http.StatusBadRequest, "Missing table name."
	}
	t := s.set.ByName(name)
	if t == nil {
		return nil, http.StatusNotFound, fmt.Sprintf("Table '%s' not found.", name)
	}
	return t, 0, ""
}

// requestKey resolves a row key from the request, trying the primary
// key parameter first and the unique id parameter second.
func requestKey(t *table.Table, param func(string) string) ([]byte, int, string) {
	meta := t.Meta
	if pk := param(meta.Columns[meta.PKColumn].Name); pk != "" {
		return []byte(pk), 0, ""
	}
	if meta.IDColumn == -1 {
		return nil, http.StatusBadRequest, "Missing primary key."
	}
	id := param(meta.Columns[meta.IDColumn].Name)
	if id == "" {
		return nil, http.StatusBadRequest, "Missing primary key or ID."
	}
	pk := t.PKFromID([]byte(id))
	if pk == nil {
		return nil, http.StatusNotFound, fmt.Sprintf("ID '%s' not found.", id)
	}
	return pk, 0, ""
}

func (s *Server) handleRow(w http.ResponseWriter, param func(string) string) {
	t, status, msg := s.lookupTable(param("table"))
	if t == nil {
		writeError(w, status, msg)
		return
	}

	pk, status, msg := requestKey(t, param)
	if pk == nil {
		writeError(w, status, msg)
		return
	}

	row := t.RowByKey(pk)
	if row == nil {
		writeError(w, http.StatusNotFound,
			fmt.Sprintf("Primary key '%s' not found in table '%s'.", pk, t.Meta.Name()))
		return
	}

	// cells are swapped in place by updates, render under the read lock
	t.RLock()
	text := rowText(t, row)
	t.RUnlock()
	writeText(w, text)
}

// rowText renders one row as "Title:value" lines. Structure payloads
// precede the cells; embedded newlines are escaped to keep the
// line-per-column shape.
func rowText(t *table.Table, row *table.Row) string {
	var text strings.Builder
	if t.Structured && row.Extra != nil && row.Extra.IDCode != nil {
		text.WriteString("idcode:")
		text.Write(row.Extra.IDCode)
		text.WriteByte('\n')
		if row.Extra.Coords != nil {
			text.WriteString("idcoords:")
			text.Write(row.Extra.Coords)
			text.WriteByte('\n')
		}
	}
	for i, column := range t.Meta.Columns {
		cell := row.Cell(i)
		if cell == nil {
			continue
		}
		text.WriteString(column.Title)
		text.WriteByte(':')
		text.WriteString(strings.ReplaceAll(string(cell), "\n", "<NL>"))
		text.WriteByte('\n')
	}
	return text.String()
}

// columnValues collects the request parameters that name columns of t,
// plus the structure payload parameters on structure tables.
func columnValues(t *table.Table, param func(string) string) map[string]string {
	values := map[string]string{}
	if t.Structured {
		for _, name := range []string{table.PayloadIDCode, table.PayloadCoords, table.PayloadFingerprint} {
			if v := param(name); v != "" {
				values[name] = v
			}
		}
	}
	for _, column := range t.Meta.Columns {
		if v := param(column.Name); v != "" {
			values[column.Name] = v
		}
	}
	return values
}

// extractKey removes and returns the primary key from the column
// values, falling back to resolving the unique id value when the
// primary key itself was not supplied.
func extractKey(t *table.Table, values map[string]string) []byte {
	meta := t.Meta
	pk_name := meta.Columns[meta.PKColumn].Name
	if pk, ok := values[pk_name]; ok {
		delete(values, pk_name)
		return []byte(pk)
	}
	if meta.IDColumn != -1 {
		if id, ok := values[meta.Columns[meta.IDColumn].Name]; ok {
			return t.PKFromID([]byte(id))
		}
	}
	return nil
}

func (s *Server) checkToken(param func(string) string) (int, string) {
	token := param("token")
	if token == "" {
		return http.StatusBadRequest, "Missing token."
	}
	if !s.authority.IsValidToken(token) {
		return http.StatusUnauthorized, "Invalid token"
	}
	return 0, ""
}

func (s *Server) handleMutation(w http.ResponseWriter, what string, param func(string) string) {
	if status, msg := s.checkToken(param); status != 0 {
		writeError(w, status, msg)
		return
	}

	t, status, msg := s.lookupTable(param("table"))
	if t == nil {
		writeError(w, status, msg)
		return
	}

	values := columnValues(t, param)
	pk := extractKey(t, values)

	if what != "delete" && len(values) == 0 {
		if what == "insert" {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Insert row into '%s': No column values found.", t.Meta.Name()))
		} else {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Update row of '%s': No new column values found.", t.Meta.Name()))
		}
		return
	}

	if what != "insert" && pk == nil {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Primary key '%s' not defined.", t.Meta.Columns[t.Meta.PKColumn].Name))
		return
	}

	switch what {
	case "insert":
		key, err := t.Insert(values)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeText(w, fmt.Sprintf("OK; %s:%s", t.Meta.Columns[t.Meta.PKColumn].Name, key))
	case "update":
		if err := t.Update(values, pk, true); err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeText(w, "OK")
	case "delete":
		if err := t.Delete(pk); err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeText(w, "OK")
	}
}

// buildQuery converts request parameters into a search query, the
// text-parameter twin of the JSON action schema.
func (s *Server) buildQuery(param func(string) string) (*search.Query, error) {
	q := &search.Query{
		Criteria:      map[string]string{},
		WithStructure: param("withidcode") == "true",
	}

	if maxrows := param("maxrows"); maxrows != "" {
		n, err := strconv.Atoi(maxrows)
		if err != nil {
			return nil, search.NewError(http.StatusBadRequest, "Invalid maxrows.")
		}
		q.MaxRows = n
	}

	// an unknown table name degrades to the default multi-table query
	if name := param("table"); name != "" && s.set.ByName(name) != nil {
		q.Table = name
	}

	for _, name := range s.engine.QueryColumnNames() {
		value := param(name)
		if value == "" && q.Table != "" {
			// single table queries may omit the alias
			value = param(name[strings.IndexByte(name, '.')+1:])
		}
		if value != "" {
			q.Criteria[name] = value
		}
	}

	if idcode := param("idcode"); idcode != "" {
		spec := &search.StructureSpec{
			Type:      search.StructureSubstructure,
			IDCode:    []byte(idcode),
			Threshold: 0.8,
		}
		switch param("searchType") {
		case "", "substructure":
		case "similarity":
			spec.Type = search.StructureSimilarity
		default:
			return nil, search.NewError(http.StatusBadRequest, "Search type not recognized")
		}
		if threshold := param("threshold"); threshold != "" {
			cutoff, err := strconv.ParseFloat(threshold, 64)
			if err != nil {
				return nil, search.NewError(http.StatusBadRequest, "Invalid similarity threshold")
			}
			if cutoff > 1 {
				cutoff /= 100 // we also support percent values
			}
			if cutoff < 0.6 || cutoff > 1 {
				return nil, search.NewError(http.StatusBadRequest, "Similarity threshold is out of range")
			}
			spec.Threshold = cutoff
		}
		q.Structure = spec
	} else if q.Table == "" {
		q.Structure = &search.StructureSpec{Type: search.StructureNone}
	}

	return q, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, param func(string) string) {
	q, err := s.buildQuery(param)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	var body bytes.Buffer
	count, err := s.engine.SearchStream(q, &body)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write(body.Bytes())
	pkg.InfoLog("query returned", count, "rows")
}

func (s *Server) helpPage() string {
	num_columns := strings.Join(s.engine.QueryColumnNamesOfKind(schema.KindNum), ", ")
	text_columns := strings.Join(s.engine.QueryColumnNamesOfKind(schema.KindText), ", ")

	return "Help page of the REST-API of the ShelfDB inventory search engine\n\n" +
		"To use the REST-API you may send HTTP(S) GET or POST requests to the server,\n" +
		"which runs the inventory service, e.g. http://localhost:8092.\n" +
		"You may attach key-value pairs as parameters to define your request:\n\n" +
		"key 'what':\n" +
		"  value 'help': Returns this help page as text.\n\n" +
		"  value 'status': Returns status text with row counts for every table.\n\n" +
		"  value 'erm': Returns a specification of all tables and columns accessible by this server.\n\n" +
		"  value 'query': Defines a query and accepts more parameters:\n" +
		"    key 'idcode': Optional parameter to attach a structure search to the query.\n" +
		"      value: encoded structure for substructure or similarity search.\n" +
		"        key 'searchType': optional parameter to define the search type. If not given, 'substructure' is assumed.\n" +
		"          value: Currently it must be 'substructure' or 'similarity'.\n" +
		"        key 'threshold' Optional numerical similarity cut-off. If not given '80' is assumed.\n" +
		"          value: numerical fractional or percent value, e.g. '0.75' or '75'.\n" +
		"    key 'withidcode': Optional parameter to define, whether the result shall include structure columns.\n" +
		"      value: 'true' or 'false'. The default is 'false'.\n" +
		"    key 'table': Optional parameter to search a single table rather than the server default.\n" +
		"      value: SQL table name. If 'table' is used, then result rows include all columns of that table,\n" +
		"                             column names don't require a table alias,\n" +
		"                             and only alphanumerical query criteria can be used.\n" +
		"    key 'maxrows': Optional parameter to limit the number of result rows.\n" +
		"      value: any integer value, e.g. 1000.\n" +
		"    Within a query any numerical column in the database may be used as additional criterion:\n" +
		"    key '<numcol>', where <numcol> is the database table alias followed by '.' and the column name\n" +
		"      value: float value, leading '<' or '>' or ranges as '150-250' are accepted.\n" +
		"      Valid values for <numcol>: " + num_columns + "\n" +
		"    Within a query any text column in the database may be used as additional criterion:\n" +
		"    key '<textcol>', where <textcol> is the database table alias followed by '.' and the column name\n" +
		"      value: text string, which must be a substring of a row's column content for the row to be a match.\n" +
		"             The value may be preceded by '!' (does not contain).\n" +
		"      Valid values for <textcol>: " + text_columns + "\n" +
		"      (specify mixture of <numcol> and <textcol> key-value pairs to define matching rows)\n\n" +
		"  value 'row': Returns one row of the defined table (includes structure columns for structure tables).\n" +
		"    key 'table': SQL table name.\n" +
		"    key '<column>' ([pk] or [id] column name): the row's primary key or ID.\n" +
		"  value 'login': Returns a token, which is needed for inserting, changing, or deleting rows in the database.\n" +
		"    key 'user': Valid user-ID.\n" +
		"    key 'password': Valid password.\n" +
		"  value 'logout': Invalidates the token returned by the previous 'login' request.\n\n" +
		"  value 'insert': Inserts a new row into the specified table of the database.\n" +
		"    key 'token': A valid token returned by a previous 'login' request.\n" +
		"    key 'table': The name of the table in which to insert a new row.\n" +
		"    key '<column>' (SQL column name): column value for the new row.\n" +
		"      (specify a key-value pair for every column except for null values and for the [pk] column)\n\n" +
		"  value 'update': Updates an existing row of the specified table of the database.\n" +
		"    key 'token': A valid token returned by a previous 'login' request.\n" +
		"    key 'table': The name of the table in which the row shall be updated.\n" +
		"    key '<column>' (SQL column name): new column value for the existing row.\n" +
		"      (specify a key-value pair for every column that needs to change and for the [pk] column)\n\n" +
		"  value 'delete': Deletes an existing row from the specified table of the database.\n" +
		"    key 'token': A valid token returned by a previous 'login' request.\n" +
		"    key 'table': The name of the table from which the row shall be deleted.\n" +
		"    key '<column>' ([pk] or [id] column name): the row's primary key or ID.\n\n" +
		"Examples (as HTTP(S) GET requests):\n" +
		"  http(s)://some.server.com/?what=help\n" +
		"    Get this help page.\n\n" +
		"  http(s)://some.server.com/?what=query&s.name=ABC&b.amount=>5000\n" +
		"    Retrieve all rows from supplier 'ABC' with an amount above 5000.\n"
}
