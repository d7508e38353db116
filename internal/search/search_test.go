package search_test

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	. "github.com/shelfdb/shelfdb/internal/search"
	"github.com/shelfdb/shelfdb/internal/table"
	"gotest.tools/assert"
)

const supplier_def = "Suppliers, inventory.supplier s, [pk]No, supplier_id, " +
	"[id]Name, name, [num]Rating, rating, [text]Comment, comment"

const item_def = "Items, inventory.item i, [pk]No, item_id, [id]Item ID, item_no, " +
	"[mw]Weight, weight, [mf]Formula, formula"

const bottle_def = "Bottles, inventory.bottle b, [fk:i.item_id]Item, item_id, " +
	"[fk:s.supplier_id]Supplier, supplier_id, [pk]Bottle No, bottle_id, " +
	"[num]Amount, amount"

type fixtureBackend struct {
	tables   map[string][][][]byte
	next_key int64
}

func (b *fixtureBackend) Select(query string) ([][][]byte, error) {
	for name, rows := range b.tables {
		if strings.Contains(query, " FROM "+name) {
			return rows, nil
		}
	}
	return nil, nil
}

func (b *fixtureBackend) Exec(query string, want_key bool) (int64, int64, error) {
	if want_key {
		b.next_key++
		return 1, b.next_key, nil
	}
	return 1, 0, nil
}

func cells(values ...string) [][]byte {
	row := make([][]byte, len(values))
	for i, v := range values {
		if v != "" {
			row[i] = []byte(v)
		}
	}
	return row
}

// fakeSearcher replays a fixed candidate list through the co-filter.
type fakeSearcher struct {
	candidates []int
	err        error

	got_spec    *StructureSpec
	got_max_sss int
}

func (s *fakeSearcher) Search(spec *StructureSpec, row_qualifies func(int) bool, max_sss, max_non_sss int) ([]int, error) {
	s.got_spec = spec
	s.got_max_sss = max_sss
	if s.err != nil {
		return nil, s.err
	}
	hits := []int{}
	for _, i := range s.candidates {
		if row_qualifies(i) {
			hits = append(hits, i)
		}
	}
	return hits, nil
}

func fixtureSet(t *testing.T) *table.TableSet {
	backend := &fixtureBackend{
		next_key: 99,
		tables: map[string][][][]byte{
			"inventory.supplier": {
				cells("1", "Acme", "4.5", "ok"),
				cells("2", "Zeta", "2.0", ""),
				cells("3", "Orbit", "3.0", "ABC inside"),
			},
			"inventory.item": {
				cells("1", "ITM-00001", "180.16", "C9H8O4", "code-a", "coords-a", "fp-a"),
				cells("2", "ITM-00002", "", "", "", "", ""),
			},
			// item fk, supplier fk, pk, amount
			"inventory.bottle": {
				cells("1", "1", "1", "150"),
				cells("1", "2", "2", "200"),
				cells("2", "3", "3", "250"),
				cells("2", "1", "4", ""),
				cells("2", "", "5", "300"),
			},
		},
	}
	set, err := table.BuildTableSet(
		[]string{supplier_def, item_def, bottle_def}, backend, "i", "", false)
	assert.NilError(t, err)
	_, err = set.LoadAll()
	assert.NilError(t, err)
	assert.NilError(t, set.Link())
	return set
}

func fixtureEngine(t *testing.T, searcher StructureSearcher, max_sss, max_non_sss int) *Engine {
	set := fixtureSet(t)
	bottles := set.ByAlias("b")
	builder, err := NewResultBuilder(set, bottles, "b.bottle_id, s.comment, i.formula")
	assert.NilError(t, err)
	return NewEngine(set, bottles, searcher, builder, max_sss, max_non_sss)
}

func plainQuery(criteria map[string]string) *Query {
	return &Query{Criteria: criteria, Structure: &StructureSpec{Type: StructureNone}}
}

func bottleIDs(t *testing.T, e *Engine, q *Query) []string {
	hits, tbl, err := e.Search(q)
	assert.NilError(t, err)
	ids := []string{}
	for _, hit := range hits {
		ids = append(ids, string(tbl.RowAt(hit).Cell(tbl.Meta.PKColumn)))
	}
	return ids
}

func TestNumericCriteria(t *testing.T) {
	e := fixtureEngine(t, nil, 0, 0)

	cases := []struct {
		criterion string
		want      string
	}{
		{"150-250", "1 2 3"},
		{"<200", "1"},
		{"<=200", "1 2"},
		{">200", "3 5"},
		{">=250", "3 5"},
		{"200", "2"},
		{"abc", "1 2 3 5"}, // unparseable bound is a no-op filter, NaN still never matches
	}
	for _, tc := range cases {
		t.Run(tc.criterion, func(t *testing.T) {
			ids := bottleIDs(t, e, plainQuery(map[string]string{"b.amount": tc.criterion}))
			assert.Equal(t, strings.Join(ids, " "), tc.want)
		})
	}
}

func TestTextCriteria(t *testing.T) {
	e := fixtureEngine(t, nil, 0, 0)

	ids := bottleIDs(t, e, plainQuery(map[string]string{"s.comment": "ABC"}))
	assert.Equal(t, strings.Join(ids, " "), "3")

	// negation also matches NULL cells and unset foreign keys
	ids = bottleIDs(t, e, plainQuery(map[string]string{"s.comment": "!ABC"}))
	assert.Equal(t, strings.Join(ids, " "), "1 2 4 5")

	// a NULL cell never satisfies a positive criterion
	ids = bottleIDs(t, e, plainQuery(map[string]string{"s.comment": "o"}))
	assert.Equal(t, strings.Join(ids, " "), "1 4")
}

func TestForeignKeyJoin(t *testing.T) {
	e := fixtureEngine(t, nil, 0, 0)

	// the criterion must read the supplier row's cell, not the
	// bottle cell at the same ordinal
	ids := bottleIDs(t, e, plainQuery(map[string]string{"s.rating": ">4"}))
	assert.Equal(t, strings.Join(ids, " "), "1 4")

	ids = bottleIDs(t, e, plainQuery(map[string]string{"i.formula": "C9H8O4", "b.amount": ">=200"}))
	assert.Equal(t, strings.Join(ids, " "), "2")
}

func TestQueryErrors(t *testing.T) {
	e := fixtureEngine(t, nil, 0, 0)

	_, _, err := e.Search(&Query{Criteria: map[string]string{"b.amount": "100"}})
	assert.ErrorContains(t, err, "No structure search defined.")

	_, _, err = e.Search(plainQuery(map[string]string{"b.nosuch": "1"}))
	assert.ErrorContains(t, err, "Unknown query column 'b.nosuch'")

	_, _, err = e.Search(&Query{Table: "warehouse"})
	assert.ErrorContains(t, err, "Table 'warehouse' not found")

	_, _, err = e.Search(&Query{
		Table:     "supplier",
		Structure: &StructureSpec{Type: StructureSubstructure},
	})
	assert.ErrorContains(t, err, "Only alphanumerical query criteria")
}

func TestMaxRows(t *testing.T) {
	e := fixtureEngine(t, nil, 0, 0)

	q := plainQuery(map[string]string{"b.amount": "150-250"})
	q.MaxRows = 2
	hits, _, err := e.Search(q)
	assert.NilError(t, err)
	assert.Equal(t, len(hits), 2)
}

func TestHitLimit(t *testing.T) {
	e := fixtureEngine(t, nil, 0, 2)
	_, _, err := e.Search(plainQuery(nil))
	assert.ErrorContains(t, err, "Structure search hit limit exceeded")
}

func TestStructureSearch(t *testing.T) {
	searcher := &fakeSearcher{candidates: []int{0, 1, 2, 3, 4}}
	e := fixtureEngine(t, searcher, 0, 0)

	q := &Query{
		Criteria:  map[string]string{"b.amount": "150-250"},
		Structure: &StructureSpec{Type: StructureSubstructure, IDCode: []byte("code-a")},
	}
	hits, _, err := e.Search(q)
	assert.NilError(t, err)
	assert.Equal(t, len(hits), 3, "co-filter must prune structural candidates")
	assert.Equal(t, string(searcher.got_spec.IDCode), "code-a")
}

func TestStructureSearchLimits(t *testing.T) {
	searcher := &fakeSearcher{candidates: []int{0, 1, 2, 3, 4}}
	e := fixtureEngine(t, searcher, 2, 0)

	q := &Query{
		Criteria:  map[string]string{"b.amount": "150-250"},
		Structure: &StructureSpec{Type: StructureSubstructure},
	}
	_, _, err := e.Search(q)
	assert.ErrorContains(t, err, "Sub-structure search hit limit exceeded")

	e = fixtureEngine(t, searcher, 0, 2)
	q.Structure.Type = StructureSimilarity
	_, _, err = e.Search(q)
	assert.ErrorContains(t, err, "Structure search hit limit exceeded")
}

func TestSingleTableSearch(t *testing.T) {
	e := fixtureEngine(t, nil, 0, 0)

	q := &Query{Table: "supplier", Criteria: map[string]string{"comment": "ok"}}
	matrix, err := e.SearchMatrix(q)
	assert.NilError(t, err)
	assert.Equal(t, len(matrix), 2, "header plus one hit")
	assert.Equal(t, string(matrix[0][0]), "No")
	assert.Equal(t, string(matrix[0][3]), "Comment")
	assert.Equal(t, string(matrix[1][1]), "Acme")
}

func TestResultMatrix(t *testing.T) {
	e := fixtureEngine(t, nil, 0, 0)

	matrix, err := e.SearchMatrix(plainQuery(map[string]string{"b.amount": "150"}))
	assert.NilError(t, err)
	assert.Equal(t, len(matrix), 2)

	// structure payload cells prefix the configured projection
	assert.Equal(t, string(matrix[0][0]), "idcode")
	assert.Equal(t, string(matrix[0][3]), "Bottle No")
	assert.Equal(t, string(matrix[0][4]), "Comment")
	assert.Equal(t, string(matrix[1][0]), "code-a")
	assert.Equal(t, string(matrix[1][3]), "1")
	assert.Equal(t, string(matrix[1][4]), "ok")
	assert.Equal(t, string(matrix[1][5]), "C9H8O4")
}

func TestResultStream(t *testing.T) {
	e := fixtureEngine(t, nil, 0, 0)

	var buf bytes.Buffer
	count, err := e.SearchStream(plainQuery(map[string]string{"b.amount": "<=200"}), &buf)
	assert.NilError(t, err)
	assert.Equal(t, count, 2)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, len(lines), 3)
	assert.Equal(t, lines[0], "Bottle No\tComment\tFormula")
	assert.Equal(t, lines[1], "1\tok\tC9H8O4")
	assert.Equal(t, lines[2], "2\t\tC9H8O4")
}

func TestResultBuilderErrors(t *testing.T) {
	set := fixtureSet(t)
	bottles := set.ByAlias("b")

	_, err := NewResultBuilder(set, bottles, "bottle_id")
	assert.ErrorContains(t, err, "comma separated list")

	_, err = NewResultBuilder(set, bottles, "x.bottle_id")
	assert.ErrorContains(t, err, "Could not find table alias 'x'")

	_, err = NewResultBuilder(set, bottles, "b.nosuch")
	assert.ErrorContains(t, err, "Could not find table column 'b.nosuch'")
}

func TestSearcherError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("descriptor mismatch")}
	e := fixtureEngine(t, searcher, 0, 0)

	_, _, err := e.Search(&Query{Structure: &StructureSpec{Type: StructureSubstructure}})
	assert.ErrorContains(t, err, "descriptor mismatch")
}

// A query pins the whole row graph, so a reader must never observe a
// row with half-applied cells while writers churn the walked table and
// a joined one. Run with -race.
func TestSearchDuringMutation(t *testing.T) {
	set := fixtureSet(t)
	bottles := set.ByAlias("b")
	suppliers := set.ByAlias("s")
	builder, err := NewResultBuilder(set, bottles, "b.bottle_id, s.comment, i.formula")
	assert.NilError(t, err)
	e := NewEngine(set, bottles, nil, builder, 0, 0)

	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		amounts := []string{"160", "240"}
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if err := bottles.Update(map[string]string{"amount": amounts[i%2]}, []byte("1"), false); err != nil {
				t.Error(err)
				return
			}
			key, err := bottles.Insert(map[string]string{"item_id": "1", "amount": "500"})
			if err != nil {
				t.Error(err)
				return
			}
			if err := bottles.Delete(key); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		comments := []string{"ok", "fine"}
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if err := suppliers.Update(map[string]string{"comment": comments[i%2]}, []byte("1"), false); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	multi := plainQuery(map[string]string{"b.amount": "150-250", "s.comment": "!ABC"})
	single := &Query{Table: "bottle", Criteria: map[string]string{"amount": ">100"}}
	for i := 0; i < 300; i++ {
		var buf bytes.Buffer
		if _, err := e.SearchStream(multi, &buf); err != nil {
			t.Error(err)
			break
		}
		if _, err := e.SearchMatrix(single); err != nil {
			t.Error(err)
			break
		}
	}
	close(done)
	wg.Wait()
}

func TestSummaryAndSpecification(t *testing.T) {
	e := fixtureEngine(t, nil, 0, 0)

	summary := e.Summary()
	assert.Assert(t, strings.Contains(summary, "bottle: 5 rows"))
	assert.Assert(t, strings.Contains(summary, "supplier: 3 rows"))

	spec := e.TableSpecification()
	assert.Assert(t, strings.Contains(spec, supplier_def))
	assert.Assert(t, strings.Contains(spec, bottle_def))

	names := e.QueryColumnNames()
	assert.DeepEqual(t, names, []string{"b.amount", "i.formula", "i.weight", "s.comment", "s.rating"})
}
