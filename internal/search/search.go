package search

import (
	"bytes"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/internal/table"
	"github.com/shelfdb/shelfdb/pkg"
)

type Error struct {
	msg    string
	status int
}

func NewError(status int, msg string) *Error {
	return &Error{msg: msg, status: status}
}

func (e Error) Error() string { return e.msg }
func (e Error) Status() int   { return e.status }

type StructureType int

const (
	StructureNone StructureType = iota
	StructureSubstructure
	StructureSimilarity
)

// StructureSpec describes the structure-shaped part of a query. The
// engine does not match structures itself, it hands the spec to the
// external StructureSearcher together with the alphanumeric
// co-filter.
type StructureSpec struct {
	Type      StructureType
	IDCode    []byte
	Threshold float64
}

// StructureSearcher returns the ordered row indexes of the primary
// table whose structure matches spec and whose row_qualifies co-filter
// holds. Ceilings of zero mean no limit.
type StructureSearcher interface {
	Search(spec *StructureSpec, row_qualifies func(row int) bool, max_sss, max_non_sss int) ([]int, error)
}

// Query is the decoded search request. Criteria keys are
// '<alias>.<column>'; in a single-table query the alias may be
// omitted.
type Query struct {
	Criteria      map[string]string
	Structure     *StructureSpec
	Table         string
	MaxRows       int
	WithStructure bool
}

type QueryColumn struct {
	Table  *table.Table
	Column int
	Kind   schema.Kind
}

// Engine compiles query criteria into predicates and evaluates them
// against the linked in-memory graph.
type Engine struct {
	set      *table.TableSet
	primary  *table.Table
	searcher StructureSearcher
	builder  *ResultBuilder

	// non-zero values cap structure search hits
	max_sss     int
	max_non_sss int

	columns pkg.Map[string, QueryColumn]
}

func NewEngine(set *table.TableSet, primary *table.Table, searcher StructureSearcher, builder *ResultBuilder, max_sss, max_non_sss int) *Engine {
	e := &Engine{
		set:         set,
		primary:     primary,
		searcher:    searcher,
		builder:     builder,
		max_sss:     max_sss,
		max_non_sss: max_non_sss,
		columns:     pkg.Map[string, QueryColumn]{},
	}
	for _, t := range set.Tables() {
		for column, col := range t.Meta.Columns {
			if col.Kind == schema.KindNum || col.Kind == schema.KindText {
				e.columns.Set(t.Meta.Alias+"."+col.Name, QueryColumn{t, column, col.Kind})
			}
		}
	}
	return e
}

// QueryColumnNames lists every queryable column as
// '<alias>.<column>', sorted for stable help output.
func (e *Engine) QueryColumnNames() []string { return pkg.SortedKeys(e.columns) }

// QueryColumnNamesOfKind filters the listing down to one column kind.
func (e *Engine) QueryColumnNamesOfKind(kind schema.Kind) []string {
	names := []string{}
	for _, name := range e.QueryColumnNames() {
		if e.columns.Get(name).Kind == kind {
			names = append(names, name)
		}
	}
	return names
}

// Summary reports the row count of every table.
func (e *Engine) Summary() string {
	var sb strings.Builder
	for _, t := range e.set.Tables() {
		sb.WriteString(t.Meta.Name())
		sb.WriteString(": ")
		sb.WriteString(strconv.Itoa(t.Len()))
		sb.WriteString(" rows\n")
	}
	return sb.String()
}

// TableSpecification returns the table definitions the way clients
// need them to build query forms.
func (e *Engine) TableSpecification() string {
	var sb strings.Builder
	for _, t := range e.set.Tables() {
		sb.WriteString(t.Meta.Spec)
		sb.WriteByte('\n')
	}
	return sb.String()
}

type predicate struct {
	column int
	kind   schema.Kind
	fk     int // -1 when the criterion targets the walked table itself
	low    float64
	high   float64
	text   []byte
	negate bool
}

// parseNumCriterion accepts '<=N', '<N', '>=N', '>N', 'lo-hi' and bare
// 'N'. Strict bounds are nudged to the adjacent representable float so
// the bound check stays inclusive. Unparseable bounds stay infinite.
func parseNumCriterion(criterion string) (low, high float64) {
	low, high = math.Inf(-1), math.Inf(1)
	criterion = strings.ReplaceAll(criterion, " ", "")

	if idx := strings.IndexByte(criterion, '-'); idx != -1 {
		if v, err := strconv.ParseFloat(criterion[:idx], 64); err == nil {
			low = v
		}
		if v, err := strconv.ParseFloat(criterion[idx+1:], 64); err == nil {
			high = v
		}
		return low, high
	}

	switch {
	case strings.HasPrefix(criterion, "<="):
		if v, err := strconv.ParseFloat(criterion[2:], 64); err == nil {
			high = v
		}
	case strings.HasPrefix(criterion, "<"):
		if v, err := strconv.ParseFloat(criterion[1:], 64); err == nil {
			high = math.Nextafter(v, math.Inf(-1))
		}
	case strings.HasPrefix(criterion, ">="):
		if v, err := strconv.ParseFloat(criterion[2:], 64); err == nil {
			low = v
		}
	case strings.HasPrefix(criterion, ">"):
		if v, err := strconv.ParseFloat(criterion[1:], 64); err == nil {
			low = math.Nextafter(v, math.Inf(1))
		}
	default:
		if v, err := strconv.ParseFloat(criterion, 64); err == nil {
			low, high = v, v
		}
	}
	return low, high
}

func parseTextCriterion(criterion string) (text []byte, negate bool) {
	if strings.HasPrefix(criterion, "!") {
		return []byte(criterion[1:]), true
	}
	return []byte(criterion), false
}

// compile resolves criteria keys against the query column map into
// predicates relative to the walked table. Unknown keys are an error.
func (e *Engine) compile(criteria map[string]string, walked *table.Table, allow_bare bool) ([]predicate, error) {
	preds := []predicate{}
	for _, key := range pkg.SortedKeys(pkg.Map[string, string](criteria)) {
		criterion := criteria[key]
		if criterion == "" {
			continue
		}

		lookup := key
		if allow_bare && !strings.Contains(key, ".") {
			lookup = walked.Meta.Alias + "." + key
		}
		if !e.columns.Has(lookup) {
			return nil, NewError(http.StatusNotFound, "Unknown query column '"+key+"'.")
		}
		qc := e.columns.Get(lookup)

		fk := -1
		if qc.Table != walked {
			fk = e.set.FKIndex(walked, qc.Table.Meta.Alias)
			if fk == -1 {
				return nil, NewError(http.StatusNotFound,
					"Column '"+key+"' is not reachable from table '"+walked.Meta.Name()+"'.")
			}
		}

		p := predicate{column: qc.Column, kind: qc.Kind, fk: fk}
		if qc.Kind == schema.KindNum {
			p.low, p.high = parseNumCriterion(criterion)
		} else {
			p.text, p.negate = parseTextCriterion(criterion)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// qualifies is the closed-world conjunction over one row: an unset
// foreign key, NULL cell or NaN value fails any non-negated predicate.
func qualifies(row *table.Row, preds []predicate) bool {
	for i := range preds {
		p := &preds[i]
		target := row
		if p.fk != -1 {
			target = row.Ref(p.fk)
			if target == nil {
				if p.negate {
					continue
				}
				return false
			}
		}
		if p.kind == schema.KindNum {
			value := target.Float(p.column)
			if math.IsNaN(value) || value < p.low || value > p.high {
				return false
			}
		} else {
			cell := target.Cell(p.column)
			if cell == nil {
				if p.negate {
					continue
				}
				return false
			}
			if bytes.Contains(cell, p.text) == p.negate {
				return false
			}
		}
	}
	return true
}

// Search evaluates the query and returns the hit row indexes together
// with the table they index into. Queries that name neither a
// structure spec nor a table target are rejected. The row graph is
// read-locked for the whole evaluation; note that the returned indexes
// may go stale once the lock is released.
func (e *Engine) Search(q *Query) ([]int, *table.Table, error) {
	e.set.RLock()
	defer e.set.RUnlock()
	return e.search(q)
}

func (e *Engine) search(q *Query) ([]int, *table.Table, error) {
	if q.Table != "" {
		return e.searchSingleTable(q)
	}
	if q.Structure == nil {
		return nil, nil, NewError(http.StatusBadRequest, "No structure search defined.")
	}

	preds, err := e.compile(q.Criteria, e.primary, false)
	if err != nil {
		return nil, nil, err
	}
	rows := e.primary.Rows()
	row_qualifies := func(i int) bool {
		return i >= 0 && i < len(rows) && qualifies(rows[i], preds)
	}

	if q.Structure.Type == StructureNone {
		hits := []int{}
		for i := range rows {
			if !qualifies(rows[i], preds) {
				continue
			}
			hits = append(hits, i)
			if q.MaxRows > 0 && len(hits) >= q.MaxRows {
				break
			}
		}
		if e.max_non_sss != 0 && len(hits) > e.max_non_sss {
			return nil, nil, NewError(http.StatusRequestEntityTooLarge,
				"Structure search hit limit exceeded.\nTry to make your search more specific.")
		}
		return hits, e.primary, nil
	}

	if e.searcher == nil {
		return nil, nil, NewError(http.StatusBadRequest, "No structure search defined.")
	}
	hits, err := e.searcher.Search(q.Structure, row_qualifies, capLimit(q.MaxRows, e.max_sss), capLimit(q.MaxRows, e.max_non_sss))
	if err != nil {
		return nil, nil, err
	}
	if q.Structure.Type == StructureSubstructure {
		if e.max_sss != 0 && len(hits) > e.max_sss {
			return nil, nil, NewError(http.StatusRequestEntityTooLarge,
				"Sub-structure search hit limit exceeded.\nTry to make your search more specific.")
		}
	} else if e.max_non_sss != 0 && len(hits) > e.max_non_sss {
		return nil, nil, NewError(http.StatusRequestEntityTooLarge,
			"Structure search hit limit exceeded.\nTry to make your search more specific.")
	}
	if q.MaxRows > 0 && len(hits) > q.MaxRows {
		hits = hits[:q.MaxRows]
	}
	return hits, e.primary, nil
}

func capLimit(max_rows, ceiling int) int {
	if max_rows <= 0 {
		return ceiling
	}
	if ceiling == 0 || max_rows < ceiling {
		return max_rows
	}
	return ceiling
}

// searchSingleTable walks one named table with alphanumeric criteria
// only and returns its full native column set.
func (e *Engine) searchSingleTable(q *Query) ([]int, *table.Table, error) {
	if q.Structure != nil && q.Structure.Type != StructureNone {
		return nil, nil, NewError(http.StatusBadRequest,
			"Only alphanumerical query criteria can be used in single table queries.")
	}
	t := e.set.ByName(q.Table)
	if t == nil {
		return nil, nil, NewError(http.StatusNotFound, "Table '"+q.Table+"' not found.")
	}

	preds, err := e.compile(q.Criteria, t, true)
	if err != nil {
		return nil, nil, err
	}
	rows := t.Rows()
	hits := []int{}
	for i := range rows {
		if !qualifies(rows[i], preds) {
			continue
		}
		hits = append(hits, i)
		if q.MaxRows > 0 && len(hits) >= q.MaxRows {
			break
		}
	}
	if e.max_non_sss != 0 && len(hits) > e.max_non_sss {
		return nil, nil, NewError(http.StatusRequestEntityTooLarge,
			"Structure search hit limit exceeded.\nTry to make your search more specific.")
	}
	return hits, t, nil
}

// SearchMatrix runs the query and assembles the header+rows byte
// matrix for binary transport. The row graph stays read-locked until
// the matrix is complete, so a concurrent mutation can never tear a
// result row.
func (e *Engine) SearchMatrix(q *Query) ([][][]byte, error) {
	e.set.RLock()
	defer e.set.RUnlock()

	hits, t, err := e.search(q)
	if err != nil {
		return nil, err
	}
	if q.Table != "" {
		return NewSingleTableResultBuilder(t).Build(hits, q.WithStructure), nil
	}
	return e.builder.Build(hits), nil
}

// SearchStream runs the query and streams the tab-delimited text
// result. It returns the hit count. The row graph stays read-locked
// until the stream is written, so callers should hand in a buffer
// rather than a slow client connection.
func (e *Engine) SearchStream(q *Query, w io.Writer) (int, error) {
	e.set.RLock()
	defer e.set.RUnlock()

	hits, t, err := e.search(q)
	if err != nil {
		return 0, err
	}
	if q.Table != "" {
		if err := NewSingleTableResultBuilder(t).Stream(hits, w, q.WithStructure); err != nil {
			return 0, err
		}
		return len(hits), nil
	}
	if err := e.builder.Stream(hits, w, q.WithStructure); err != nil {
		return 0, err
	}
	return len(hits), nil
}
