package conn

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shelfdb/shelfdb/internal/search"
)

type RequestAction string

const (
	RequestActionStatus RequestAction = "status"
	RequestActionErm    RequestAction = "erm"
	RequestActionLogin  RequestAction = "login"
	RequestActionLogout RequestAction = "logout"
	RequestActionRow    RequestAction = "row"
	RequestActionInsert RequestAction = "insert"
	RequestActionUpdate RequestAction = "update"
	RequestActionDelete RequestAction = "delete"
	RequestActionQuery  RequestAction = "query"
)

func (action RequestAction) IsMutation() bool {
	return action == RequestActionInsert || action == RequestActionUpdate ||
		action == RequestActionDelete
}

type WsRequest struct {
	Action RequestAction `json:"action"`
	Token  string        `json:"token"`
	ReqId  int           `json:"__shelf_client_req_id__"` // used in shelf clients
}

func (s *Server) HandleAction(ip string, raw []byte) Response {
	var req WsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	if !s.gate.Allow(ip) {
		res := NewErrorResponse(http.StatusTooManyRequests, "Too many requests. Try again later.")
		res.ReqId = req.ReqId
		return res
	}

	if req.Action.IsMutation() {
		if req.Token == "" {
			res := NewErrorResponse(http.StatusBadRequest, "Missing token.")
			res.ReqId = req.ReqId
			return res
		}
		if !s.authority.IsValidToken(req.Token) {
			res := NewErrorResponse(http.StatusUnauthorized, "Invalid token")
			res.ReqId = req.ReqId
			return res
		}
	}

	res := s.dispatchAction(ip, req.Action, raw)
	res.ReqId = req.ReqId
	return res
}

func (s *Server) dispatchAction(ip string, action RequestAction, raw []byte) Response {
	switch action {
	case RequestActionStatus:
		return NewResponse(http.StatusOK, "", s.engine.Summary())
	case RequestActionErm:
		return NewResponse(http.StatusOK, "", s.engine.TableSpecification())
	case RequestActionLogin:
		return s.LoginReqHandler(ip, raw)
	case RequestActionLogout:
		return s.LogoutReqHandler(raw)
	case RequestActionRow:
		return s.RowReqHandler(raw)
	case RequestActionInsert:
		return s.InsertReqHandler(raw)
	case RequestActionUpdate:
		return s.UpdateReqHandler(raw)
	case RequestActionDelete:
		return s.DeleteReqHandler(raw)
	case RequestActionQuery:
		return s.QueryReqHandler(raw)
	default:
		return NewErrorResponse(http.StatusBadRequest, fmt.Sprintf("unknown action: %s", action))
	}
}

type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func (s *Server) LoginReqHandler(ip string, raw []byte) Response {
	var req LoginRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	if req.User == "" || req.Password == "" {
		return NewErrorResponse(http.StatusBadRequest, "User-ID or password missing.")
	}
	if s.authority.IsBlocked(ip) {
		return NewErrorResponse(http.StatusTooManyRequests, "Too many login tries. Try again later.")
	}
	token := s.authority.Login(req.User, req.Password)
	if token == "" {
		return NewErrorResponse(http.StatusUnauthorized, "Invalid user or password.")
	}
	return NewResponse(http.StatusOK, "Logged in", token)
}

func (s *Server) LogoutReqHandler(raw []byte) Response {
	var req WsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		return NewErrorResponse(http.StatusBadRequest, "Missing token.")
	}
	s.authority.Logout(req.Token)
	return NewResponse(http.StatusOK, "Logged out", nil)
}

type RowRequest struct {
	Table string `json:"table"`
	// primary key, or the unique id when the primary key is unknown
	Key string `json:"key"`
}

func (s *Server) RowReqHandler(raw []byte) Response {
	var req RowRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	t, status, msg := s.lookupTable(req.Table)
	if t == nil {
		return NewErrorResponse(status, msg)
	}
	if req.Key == "" {
		return NewErrorResponse(http.StatusBadRequest, "Missing primary key or ID.")
	}

	pk := []byte(req.Key)
	row := t.RowByKey(pk)
	if row == nil && t.Meta.IDColumn != -1 {
		if resolved := t.PKFromID(pk); resolved != nil {
			pk = resolved
			row = t.RowByKey(pk)
		}
	}
	if row == nil {
		return NewErrorResponse(http.StatusNotFound,
			fmt.Sprintf("Primary key '%s' not found in table '%s'.", req.Key, t.Meta.Name()))
	}

	// cells are swapped in place by updates, render under the read lock
	t.RLock()
	defer t.RUnlock()

	cells := map[string]string{}
	if t.Structured && row.Extra != nil && row.Extra.IDCode != nil {
		cells["idcode"] = string(row.Extra.IDCode)
		if row.Extra.Coords != nil {
			cells["idcoords"] = string(row.Extra.Coords)
		}
	}
	for i, column := range t.Meta.Columns {
		if cell := row.Cell(i); cell != nil {
			cells[column.Title] = string(cell)
		}
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Found row in table %s", t.Meta.Name()), cells)
}

type MutationRequest struct {
	Table  string            `json:"table"`
	Values map[string]string `json:"values"`
}

func (s *Server) InsertReqHandler(raw []byte) Response {
	var req MutationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	t, status, msg := s.lookupTable(req.Table)
	if t == nil {
		return NewErrorResponse(status, msg)
	}

	values := cloneValues(req.Values)
	extractKey(t, values)
	if len(values) == 0 {
		return NewErrorResponse(http.StatusBadRequest,
			fmt.Sprintf("Insert row into '%s': No column values found.", t.Meta.Name()))
	}

	key, err := t.Insert(values)
	if err != nil {
		return NewErrorResponse(errorStatus(err), err.Error())
	}

	pk_name := t.Meta.Columns[t.Meta.PKColumn].Name
	return NewResponse(http.StatusCreated,
		fmt.Sprintf("Created new row in table %s", t.Meta.Name()),
		map[string]string{pk_name: string(key)})
}

func (s *Server) UpdateReqHandler(raw []byte) Response {
	var req MutationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	t, status, msg := s.lookupTable(req.Table)
	if t == nil {
		return NewErrorResponse(status, msg)
	}

	values := cloneValues(req.Values)
	pk := extractKey(t, values)
	if len(values) == 0 {
		return NewErrorResponse(http.StatusBadRequest,
			fmt.Sprintf("Update row of '%s': No new column values found.", t.Meta.Name()))
	}
	if pk == nil {
		return NewErrorResponse(http.StatusBadRequest,
			fmt.Sprintf("Primary key '%s' not defined.", t.Meta.Columns[t.Meta.PKColumn].Name))
	}

	if err := t.Update(values, pk, true); err != nil {
		return NewErrorResponse(errorStatus(err), err.Error())
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Updated row in table %s", t.Meta.Name()), nil)
}

func (s *Server) DeleteReqHandler(raw []byte) Response {
	var req MutationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	t, status, msg := s.lookupTable(req.Table)
	if t == nil {
		return NewErrorResponse(status, msg)
	}

	values := cloneValues(req.Values)
	pk := extractKey(t, values)
	if pk == nil {
		return NewErrorResponse(http.StatusBadRequest,
			fmt.Sprintf("Primary key '%s' not defined.", t.Meta.Columns[t.Meta.PKColumn].Name))
	}

	if err := t.Delete(pk); err != nil {
		return NewErrorResponse(errorStatus(err), err.Error())
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Deleted row in table %s", t.Meta.Name()), nil)
}

type QueryRequest struct {
	Criteria      map[string]string `json:"criteria"`
	Table         string            `json:"table"`
	MaxRows       int               `json:"maxrows"`
	WithStructure bool              `json:"withidcode"`

	IDCode     string  `json:"idcode"`
	SearchType string  `json:"searchType"`
	Threshold  float64 `json:"threshold"`
}

func (s *Server) QueryReqHandler(raw []byte) Response {
	var req QueryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}

	q := &search.Query{
		Criteria:      req.Criteria,
		Table:         req.Table,
		MaxRows:       req.MaxRows,
		WithStructure: req.WithStructure,
	}
	if q.Criteria == nil {
		q.Criteria = map[string]string{}
	}

	if req.IDCode != "" {
		spec := &search.StructureSpec{
			Type:      search.StructureSubstructure,
			IDCode:    []byte(req.IDCode),
			Threshold: 0.8,
		}
		switch req.SearchType {
		case "", "substructure":
		case "similarity":
			spec.Type = search.StructureSimilarity
		default:
			return NewErrorResponse(http.StatusBadRequest, "Search type not recognized")
		}
		if req.Threshold != 0 {
			cutoff := req.Threshold
			if cutoff > 1 {
				cutoff /= 100
			}
			if cutoff < 0.6 || cutoff > 1 {
				return NewErrorResponse(http.StatusBadRequest, "Similarity threshold is out of range")
			}
			spec.Threshold = cutoff
		}
		q.Structure = spec
	} else if q.Table == "" {
		q.Structure = &search.StructureSpec{Type: search.StructureNone}
	}

	matrix, err := s.engine.SearchMatrix(q)
	if err != nil {
		return NewErrorResponse(errorStatus(err), err.Error())
	}

	rows := make([][]string, len(matrix))
	for i, row := range matrix {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = string(cell)
		}
		rows[i] = cells
	}
	return NewResponse(http.StatusOK,
		fmt.Sprintf("Found %d rows", maxInt(len(rows)-1, 0)), rows)
}

func cloneValues(values map[string]string) map[string]string {
	clone := make(map[string]string, len(values))
	for name, value := range values {
		clone[name] = value
	}
	return clone
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
