package search

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/shelfdb/shelfdb/internal/table"
	"github.com/shelfdb/shelfdb/pkg"
)

var structure_titles = []string{"idcode", "idcoordinates2D", "fingerprint"}

// ResultBuilder projects hits of the primary table through a
// configured '<alias>.<column>' list spanning joined tables. When the
// graph carries a structure table reachable from the primary table,
// its payload cells prefix every result row.
type ResultBuilder struct {
	primary *table.Table
	tables  []*table.Table
	columns []int
	fks     []int

	struct_table *table.Table
	struct_fk    int
}

func NewResultBuilder(set *table.TableSet, primary *table.Table, def string) (*ResultBuilder, error) {
	if strings.TrimSpace(def) == "" {
		return nil, fmt.Errorf("Missing result column definition")
	}

	b := &ResultBuilder{primary: primary, struct_fk: -1}
	for _, entry := range pkg.TrimAll(strings.Split(def, ","), strings.TrimSpace) {
		idx := strings.IndexByte(entry, '.')
		if idx == -1 {
			return nil, fmt.Errorf("Invalid result column definition. Must be a comma separated list of '<table_alias>.<column_name>'")
		}
		alias := entry[:idx]
		name := entry[idx+1:]

		t := set.ByAlias(alias)
		if t == nil {
			return nil, fmt.Errorf("Invalid result column definition. Could not find table alias '%s'", alias)
		}
		column := t.Meta.ColumnIndex(name)
		if column == -1 {
			return nil, fmt.Errorf("Invalid result column definition. Could not find table column '%s'", entry)
		}
		fk := -1
		if t != primary {
			fk = set.FKIndex(primary, alias)
			if fk == -1 {
				return nil, fmt.Errorf("Invalid result column definition. No foreign key from table '%s' to alias '%s'", primary.Meta.Name(), alias)
			}
		}
		b.tables = append(b.tables, t)
		b.columns = append(b.columns, column)
		b.fks = append(b.fks, fk)
	}

	if primary.Structured {
		b.struct_table = primary
	} else {
		for fk := 0; fk < primary.Meta.FKCount; fk++ {
			if target := set.RefTable(primary, fk); target != nil && target.Structured {
				b.struct_table = target
				b.struct_fk = fk
				break
			}
		}
	}
	return b, nil
}

func (b *ResultBuilder) payload(row *table.Row) *table.StructurePayload {
	if b.struct_table == nil {
		return nil
	}
	src := row
	if b.struct_fk != -1 {
		if src = row.Ref(b.struct_fk); src == nil {
			return nil
		}
	}
	return src.Extra
}

func (b *ResultBuilder) structureColumns() int {
	if b.struct_table == nil {
		return 0
	}
	return len(structure_titles)
}

// Build assembles the row-major byte matrix, header row first.
func (b *ResultBuilder) Build(hits []int) [][][]byte {
	rows := b.primary.Rows()
	struct_cols := b.structureColumns()

	result := make([][][]byte, len(hits)+1)
	header := make([][]byte, struct_cols+len(b.columns))
	for i := 0; i < struct_cols; i++ {
		header[i] = []byte(structure_titles[i])
	}
	for i, t := range b.tables {
		header[struct_cols+i] = []byte(t.Meta.Columns[b.columns[i]].Title)
	}
	result[0] = header

	for n, hit := range hits {
		result[n+1] = b.resultRow(rows[hit], struct_cols)
	}
	return result
}

func (b *ResultBuilder) resultRow(row *table.Row, struct_cols int) [][]byte {
	cells := make([][]byte, struct_cols+len(b.columns))
	if struct_cols > 0 {
		if p := b.payload(row); p != nil {
			cells[0] = p.IDCode
			cells[1] = p.Coords
			cells[2] = p.Fingerprint
		}
	}
	for i := range b.columns {
		src := row
		if b.fks[i] != -1 {
			if src = row.Ref(b.fks[i]); src == nil {
				continue
			}
		}
		cells[struct_cols+i] = src.Cell(b.columns[i])
	}
	return cells
}

// Stream writes the tab-delimited text result. Structure payload
// columns are included only on request.
func (b *ResultBuilder) Stream(hits []int, w io.Writer, with_structure bool) error {
	struct_cols := 0
	if with_structure {
		struct_cols = b.structureColumns()
	}

	bw := bufio.NewWriter(w)
	for i := 0; i < struct_cols; i++ {
		bw.WriteString(structure_titles[i])
		bw.WriteByte('\t')
	}
	for i, t := range b.tables {
		bw.WriteString(t.Meta.Columns[b.columns[i]].Title)
		writeSep(bw, i == len(b.columns)-1)
	}

	rows := b.primary.Rows()
	for _, hit := range hits {
		row := rows[hit]
		if struct_cols > 0 {
			p := b.payload(row)
			for i := 0; i < struct_cols; i++ {
				if p != nil {
					bw.Write(payloadCell(p, i))
				}
				bw.WriteByte('\t')
			}
		}
		for i := range b.columns {
			src := row
			if b.fks[i] != -1 {
				src = row.Ref(b.fks[i])
			}
			if src != nil {
				bw.Write(src.Cell(b.columns[i]))
			}
			writeSep(bw, i == len(b.columns)-1)
		}
	}
	return bw.Flush()
}

func payloadCell(p *table.StructurePayload, i int) []byte {
	switch i {
	case 0:
		return p.IDCode
	case 1:
		return p.Coords
	}
	return p.Fingerprint
}

func writeSep(bw *bufio.Writer, last bool) {
	if last {
		bw.WriteByte('\n')
	} else {
		bw.WriteByte('\t')
	}
}

// SingleTableResultBuilder returns a named table's full native column
// set instead of the configured projection.
type SingleTableResultBuilder struct {
	table *table.Table
}

func NewSingleTableResultBuilder(t *table.Table) *SingleTableResultBuilder {
	return &SingleTableResultBuilder{table: t}
}

func (b *SingleTableResultBuilder) structureColumns(with_structure bool) int {
	if !with_structure || !b.table.Structured {
		return 0
	}
	return len(structure_titles)
}

func (b *SingleTableResultBuilder) Build(hits []int, with_structure bool) [][][]byte {
	rows := b.table.Rows()
	struct_cols := b.structureColumns(with_structure)
	column_count := b.table.Meta.ColumnCount()

	result := make([][][]byte, len(hits)+1)
	header := make([][]byte, struct_cols+column_count)
	for i := 0; i < struct_cols; i++ {
		header[i] = []byte(structure_titles[i])
	}
	for column, col := range b.table.Meta.Columns {
		header[struct_cols+column] = []byte(col.Title)
	}
	result[0] = header

	for n, hit := range hits {
		row := rows[hit]
		cells := make([][]byte, struct_cols+column_count)
		if struct_cols > 0 && row.Extra != nil {
			cells[0] = row.Extra.IDCode
			cells[1] = row.Extra.Coords
			cells[2] = row.Extra.Fingerprint
		}
		copy(cells[struct_cols:], row.Data)
		result[n+1] = cells
	}
	return result
}

func (b *SingleTableResultBuilder) Stream(hits []int, w io.Writer, with_structure bool) error {
	rows := b.table.Rows()
	struct_cols := b.structureColumns(with_structure)
	column_count := b.table.Meta.ColumnCount()

	bw := bufio.NewWriter(w)
	for i := 0; i < struct_cols; i++ {
		bw.WriteString(structure_titles[i])
		bw.WriteByte('\t')
	}
	for column, col := range b.table.Meta.Columns {
		bw.WriteString(col.Title)
		writeSep(bw, column == column_count-1)
	}

	for _, hit := range hits {
		row := rows[hit]
		if struct_cols > 0 {
			for i := 0; i < struct_cols; i++ {
				if row.Extra != nil {
					bw.Write(payloadCell(row.Extra, i))
				}
				bw.WriteByte('\t')
			}
		}
		for column := range row.Data {
			bw.Write(row.Data[column])
			writeSep(bw, column == column_count-1)
		}
	}
	return bw.Flush()
}
