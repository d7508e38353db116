package schema

import (
	"fmt"
	"strings"

	"github.com/shelfdb/shelfdb/pkg"
)

type Kind int

const (
	KindText Kind = iota
	KindID
	KindNum
	KindDate
	KindPK
	KindFK
)

// Bracketed type tags as they appear in a table definition string.
// KindFK is open-ended: "[fk:<alias>.<column>]".
var kind_tags = []string{"[text]", "[id]", "[num]", "[date]", "[pk]", "[fk:"}

// SQL column types per kind, used by the table creation script.
var sql_types = []string{"varchar(255)", "varchar(255) NOT NULL UNIQUE", "float", "date", "int NOT NULL AUTO_INCREMENT", "int"}

func (k Kind) Tag() string     { return kind_tags[k] }
func (k Kind) SQLType() string { return sql_types[k] }

type Column struct {
	Name  string // backing-store column name
	Title string // display title, used in result headers
	Kind  Kind

	// foreign key target, parsed from "[fk:<alias>.<column>]"
	RefAlias  string
	RefColumn string
}

type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func newError(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

type Table struct {
	Spec        string // the unparsed definition, round-tripped for erm output
	DisplayName string
	LongName    string // '<database>.<table>'
	Alias       string

	// Foreign key columns always occupy the lowest ordinals so that a row's
	// back-reference slots align with its first FKCount cells.
	Columns  []Column
	FKCount  int
	PKColumn int
	IDColumn int // -1 when the table has no unique id column

	// Computed columns marked with the [mw]/[mf] tag aliases, -1 when
	// absent. The engine itself treats them as plain [num]/[text]
	// cells; the ordinals are recorded for the external
	// structure-property calculator, which refreshes both cells
	// whenever a row's structure changes.
	WeightColumn  int
	FormulaColumn int
}

// Parse turns a table definition string into column metadata. The expected
// form is a comma separated list:
//
//	<display name>, <database.table> <alias>, [tag]Title, column, [tag]Title, column, ...
func Parse(tableDef string) (*Table, error) {
	if strings.TrimSpace(tableDef) == "" {
		return nil, newError("Empty table definition")
	}

	entries := pkg.TrimAll(strings.Split(tableDef, ","), strings.TrimSpace)
	if len(entries) < 4 || len(entries)%2 != 0 {
		return nil, newError("Table definition needs name, alias and column pairs: %s", tableDef)
	}

	t := &Table{
		Spec:          tableDef,
		DisplayName:   entries[0],
		PKColumn:      -1,
		IDColumn:      -1,
		WeightColumn:  -1,
		FormulaColumn: -1,
	}

	name_end := strings.IndexByte(entries[1], ' ')
	if name_end == -1 {
		return nil, newError("Missing table alias in: %s", entries[1])
	}
	t.LongName = entries[1][:name_end]
	t.Alias = strings.TrimSpace(entries[1][name_end+1:])
	if !strings.ContainsRune(t.LongName, '.') {
		return nil, newError("Missing database name as part of table name: %s", t.LongName)
	}

	column_count := len(entries)/2 - 1
	t.Columns = make([]Column, column_count)

	for i := 2; i < len(entries); i += 2 {
		if !strings.HasPrefix(entries[i], "[") {
			return nil, newError("No column type defined: %s", entries[i])
		}
		if !strings.ContainsRune(entries[i], ']') {
			return nil, newError("Invalid column type: %s", entries[i])
		}
	}

	// Foreign key columns come first: their ordinal doubles as the row's
	// back-reference slot index.
	for i := 2; i < len(entries); i += 2 {
		if strings.HasPrefix(entries[i], kind_tags[KindFK]) {
			t.FKCount++
		}
	}

	fk_index := 0
	column_index := t.FKCount
	for i := 2; i < len(entries); i += 2 {
		end := strings.IndexByte(entries[i], ']')
		tag := entries[i][:end+1]
		title := strings.TrimSpace(entries[i][end+1:])
		name := entries[i+1]

		// computed-column aliases of the compound table
		computed := tag
		switch tag {
		case "[mw]":
			tag = kind_tags[KindNum]
		case "[mf]":
			tag = kind_tags[KindText]
		}

		col, err := parseTag(tag)
		if err != nil {
			return nil, err
		}
		col.Title = title
		col.Name = name

		idx := column_index
		if col.Kind == KindFK {
			idx = fk_index
			fk_index++
		} else {
			column_index++
		}

		switch computed {
		case "[mw]":
			t.WeightColumn = idx
		case "[mf]":
			t.FormulaColumn = idx
		}

		switch col.Kind {
		case KindPK:
			if t.PKColumn != -1 {
				return nil, newError("More than one primary key in table: %s", t.LongName)
			}
			t.PKColumn = idx
		case KindID:
			if t.IDColumn != -1 {
				return nil, newError("More than one id column in table: %s", t.LongName)
			}
			t.IDColumn = idx
		}

		t.Columns[idx] = col
	}

	if t.PKColumn == -1 {
		return nil, newError("No primary key found in table: %s", t.LongName)
	}

	return t, nil
}

func parseTag(tag string) (Column, error) {
	for kind, code := range kind_tags {
		if !strings.HasPrefix(tag, code) {
			continue
		}
		col := Column{Kind: Kind(kind)}
		if col.Kind == KindFK {
			ref := tag[len(code) : len(tag)-1]
			dot := strings.IndexByte(ref, '.')
			if dot == -1 {
				return Column{}, newError(`Invalid foreign key specification. Needed: "[fk:<tableAlias>.<columnName>]" Found: %s`, tag)
			}
			col.RefAlias = ref[:dot]
			col.RefColumn = ref[dot+1:]
		}
		return col, nil
	}
	return Column{}, newError("Incorrect column type: %s", tag)
}

// Name returns the undecorated database table name.
func (t *Table) Name() string {
	return t.LongName[strings.IndexByte(t.LongName, '.')+1:]
}

func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (t *Table) ColumnCount() int { return len(t.Columns) }
