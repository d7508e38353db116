package table

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/pkg"
	sorted "github.com/tobshub/go-sortedmap"
)

// Backend is the slice of the persistence adapter the engine needs.
type Backend interface {
	Select(query string) ([][][]byte, error)
	Exec(query string, want_key bool) (int64, int64, error)
}

// Structure payload column names in the backing store.
const (
	PayloadIDCode      = "idcode"
	PayloadCoords      = "idcoords"
	PayloadFingerprint = "fingerprint"
)

var payload_columns = []string{PayloadIDCode, PayloadCoords, PayloadFingerprint}

// Table is the in-memory mirror of one backing table. Mutations go to
// the backing store first and touch memory only after it confirmed.
type Table struct {
	Meta *schema.Table

	// structure-bearing tables only
	Structured bool
	Dedup      bool
	IDFormat   string

	backend Backend

	locker   sync.RWMutex
	rows     []*Row
	pk_index *sorted.SortedMap[string, *Row]
	id_to_pk pkg.Map[string, []byte]
	fp_to_pk pkg.Map[string, []byte]
}

func rowOrderFunc(meta *schema.Table) func(a, b *Row) bool {
	pk := meta.PKColumn
	return func(a, b *Row) bool {
		return bytes.Compare(a.Data[pk], b.Data[pk]) < 0
	}
}

func NewTable(meta *schema.Table, backend Backend) *Table {
	t := &Table{
		Meta:     meta,
		backend:  backend,
		pk_index: sorted.New[string, *Row](0, rowOrderFunc(meta)),
	}
	if meta.IDColumn >= 0 {
		t.id_to_pk = pkg.Map[string, []byte]{}
	}
	return t
}

// NewStructureTable creates the table variant that carries a structure
// payload per row. id_format, when not empty, is the template for ids
// derived from the primary key. dedup enables content-addressed
// inserts keyed on the structure code.
func NewStructureTable(meta *schema.Table, backend Backend, id_format string, dedup bool) *Table {
	t := NewTable(meta, backend)
	t.Structured = true
	t.IDFormat = strings.TrimSpace(id_format)
	t.Dedup = dedup
	if dedup {
		t.fp_to_pk = pkg.Map[string, []byte]{}
	}
	return t
}

func (t *Table) selectSQL() string {
	var sql strings.Builder
	sql.WriteString("SELECT ")
	for i, col := range t.Meta.Columns {
		if i > 0 {
			sql.WriteByte(',')
		}
		sql.WriteString(col.Name)
	}
	if t.Structured {
		for _, name := range payload_columns {
			sql.WriteByte(',')
			sql.WriteString(name)
		}
	}
	sql.WriteString(" FROM ")
	sql.WriteString(t.Meta.LongName)
	return sql.String()
}

// Load reads the whole backing table and (re)builds every index.
func (t *Table) Load() (int, error) {
	data, err := t.backend.Select(t.selectSQL())
	if err != nil {
		return 0, err
	}

	t.locker.Lock()
	defer t.locker.Unlock()

	column_count := t.Meta.ColumnCount()
	t.rows = make([]*Row, 0, len(data))
	t.pk_index = sorted.New[string, *Row](len(data), rowOrderFunc(t.Meta))
	if t.Meta.IDColumn >= 0 {
		t.id_to_pk = pkg.Map[string, []byte]{}
	}
	if t.Dedup {
		t.fp_to_pk = pkg.Map[string, []byte]{}
	}

	for _, cells := range data {
		row := NewRow(column_count)
		for column := 0; column < column_count && column < len(cells); column++ {
			row.SetCell(column, t.Meta.Columns[column].Kind, cells[column])
		}
		if t.Structured && len(cells) >= column_count+len(payload_columns) {
			row.Extra = &StructurePayload{
				IDCode:      cells[column_count],
				Coords:      cells[column_count+1],
				Fingerprint: cells[column_count+2],
			}
		}
		t.rows = append(t.rows, row)

		pk := row.Data[t.Meta.PKColumn]
		t.pk_index.Replace(string(pk), row)
		if t.Meta.IDColumn >= 0 && row.Data[t.Meta.IDColumn] != nil {
			t.id_to_pk.Set(string(row.Data[t.Meta.IDColumn]), pk)
		}
		if t.Dedup && row.Extra != nil && row.Extra.IDCode != nil {
			t.fp_to_pk.Set(string(row.Extra.IDCode), pk)
		}
	}

	pkg.InfoLog("loaded", len(t.rows), "rows from", t.Meta.Name())
	return len(t.rows), nil
}

func (t *Table) RowByKey(primary_key []byte) *Row {
	t.locker.RLock()
	defer t.locker.RUnlock()
	row, ok := t.pk_index.Get(string(primary_key))
	if !ok {
		return nil
	}
	return row
}

func (t *Table) RowAt(i int) *Row {
	t.locker.RLock()
	defer t.locker.RUnlock()
	if i < 0 || i >= len(t.rows) {
		return nil
	}
	return t.rows[i]
}

// Rows returns the live row slice. Mutations swap cells and compact
// the slice in place, so the result is only stable while the table's
// read lock (or the owning set's) is held.
func (t *Table) Rows() []*Row {
	return t.rows
}

func (t *Table) Len() int {
	t.locker.RLock()
	defer t.locker.RUnlock()
	return len(t.rows)
}

func (t *Table) PKFromID(id []byte) []byte {
	if t.id_to_pk == nil {
		return nil
	}
	t.locker.RLock()
	defer t.locker.RUnlock()
	return t.id_to_pk.Get(string(id))
}

// RLock excludes writers while a reader walks or renders rows. Update
// swaps cells in place, so any read spanning more than one cell must
// hold the lock. Do not call the locked accessors while holding it.
func (t *Table) RLock() { t.locker.RLock() }

func (t *Table) RUnlock() { t.locker.RUnlock() }

func (t *Table) checkValue(value string, column int) error {
	col := t.Meta.Columns[column]
	if column == t.Meta.IDColumn && value == "" {
		return NewError(http.StatusBadRequest, col.Name+" must not be empty.")
	}
	if col.Kind == schema.KindNum && value != "" {
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return NewError(http.StatusBadRequest, col.Name+" '"+value+"' is not numerical.")
		}
	}
	if col.Kind == schema.KindDate && value != "" {
		if !dateValue(value) {
			return NewError(http.StatusBadRequest, col.Name+" '"+value+"' must be given as 'YYYY-MM-DD'.")
		}
	}
	return nil
}

func dateValue(value string) bool {
	if len(value) != 10 || value[4] != '-' || value[7] != '-' {
		return false
	}
	for i, c := range []byte(value) {
		if i == 4 || i == 7 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
