package table

import (
	"fmt"
	"strings"

	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/pkg"
)

// TableSet owns every table of the process and resolves their foreign
// key declarations against each other. After Link the row graph is
// read-only for the process lifetime.
type TableSet struct {
	by_alias pkg.Map[string, *Table]
	order    []*Table

	// per table, per fk ordinal, the referenced table
	ref_tables pkg.Map[string, []*Table]
}

func NewTableSet() *TableSet {
	return &TableSet{
		by_alias:   pkg.Map[string, *Table]{},
		ref_tables: pkg.Map[string, []*Table]{},
	}
}

func (s *TableSet) Add(t *Table) error {
	alias := t.Meta.Alias
	if s.by_alias.Has(alias) {
		return fmt.Errorf("Duplicate table alias '%s'", alias)
	}
	s.by_alias.Set(alias, t)
	s.order = append(s.order, t)
	return nil
}

func (s *TableSet) ByAlias(alias string) *Table { return s.by_alias.Get(alias) }

func (s *TableSet) ByName(name string) *Table {
	for _, t := range s.order {
		if t.Meta.Name() == name {
			return t
		}
	}
	return nil
}

func (s *TableSet) Tables() []*Table { return s.order }

// RLock takes every table's read lock in definition order. Query
// evaluation pins the whole row graph this way, since criteria and
// result columns reach joined rows in other tables. Writers lock a
// single table, so the fixed order cannot deadlock against them.
func (s *TableSet) RLock() {
	for _, t := range s.order {
		t.locker.RLock()
	}
}

func (s *TableSet) RUnlock() {
	for i := len(s.order) - 1; i >= 0; i-- {
		s.order[i].locker.RUnlock()
	}
}

// RefTable returns the table referenced by the fk ordinal of t.
// Valid after Validate.
func (s *TableSet) RefTable(t *Table, fk int) *Table {
	refs := s.ref_tables.Get(t.Meta.Alias)
	if refs == nil || fk >= len(refs) {
		return nil
	}
	return refs[fk]
}

// FKIndex returns the fk ordinal of t that references the table with
// the given alias, or -1.
func (s *TableSet) FKIndex(t *Table, alias string) int {
	refs := s.ref_tables.Get(t.Meta.Alias)
	for i, ref := range refs {
		if ref != nil && ref.Meta.Alias == alias {
			return i
		}
	}
	return -1
}

// Validate resolves every foreign key declaration once against the
// whole set. Unknown aliases and references to anything but the target
// table's primary key column are configuration errors.
func (s *TableSet) Validate() error {
	for _, t := range s.order {
		refs := make([]*Table, t.Meta.FKCount)
		for fk := 0; fk < t.Meta.FKCount; fk++ {
			col := t.Meta.Columns[fk]
			target := s.by_alias.Get(col.RefAlias)
			if target == nil {
				return fmt.Errorf("Unknown table alias '%s' in foreign key of table '%s'",
					col.RefAlias, t.Meta.Name())
			}
			pk_name := target.Meta.Columns[target.Meta.PKColumn].Name
			if col.RefColumn != pk_name {
				return fmt.Errorf("Foreign key '%s.%s' must reference primary key column '%s' of table '%s'",
					t.Meta.Alias, col.Name, pk_name, target.Meta.Name())
			}
			refs[fk] = target
		}
		s.ref_tables.Set(t.Meta.Alias, refs)
	}
	return nil
}

// LoadAll bulk-loads every table and returns the total row count.
func (s *TableSet) LoadAll() (int, error) {
	total := 0
	for _, t := range s.order {
		count, err := t.Load()
		if err != nil {
			return total, fmt.Errorf("loading table '%s': %w", t.Meta.Name(), err)
		}
		total += count
	}
	return total, nil
}

// Link resolves every foreign key cell of every row into a direct row
// reference. A key that cannot be resolved aborts with an
// IntegrityError; the server must not serve an inconsistent graph.
func (s *TableSet) Link() error {
	for _, t := range s.order {
		refs := s.ref_tables.Get(t.Meta.Alias)
		for _, row := range t.rows {
			row.Refs = make([]*Row, t.Meta.FKCount)
			for fk := 0; fk < t.Meta.FKCount; fk++ {
				key := row.Data[fk]
				if key == nil {
					continue
				}
				target := refs[fk].RowByKey(key)
				if target == nil {
					return &IntegrityError{Key: string(key), Table: refs[fk].Meta.Name()}
				}
				row.Refs[fk] = target
			}
		}
	}
	return nil
}

// CreationSQL renders the CREATE TABLE script implied by the parsed
// table definitions, structure payload columns included.
func (s *TableSet) CreationSQL() string {
	var script strings.Builder
	for _, t := range s.order {
		script.WriteString("CREATE TABLE ")
		script.WriteString(t.Meta.Name())
		script.WriteString(" (\n")
		for _, col := range t.Meta.Columns {
			script.WriteString("    ")
			script.WriteString(col.Name)
			script.WriteByte(' ')
			script.WriteString(col.Kind.SQLType())
			script.WriteString(",\n")
		}
		if t.Structured {
			for _, name := range payload_columns {
				script.WriteString("    ")
				script.WriteString(name)
				script.WriteString(" ")
				script.WriteString(payloadSQLType(name))
				script.WriteString(",\n")
			}
		}
		script.WriteString("    PRIMARY KEY (")
		script.WriteString(t.Meta.Columns[t.Meta.PKColumn].Name)
		script.WriteString("),\n")
		for fk := 0; fk < t.Meta.FKCount; fk++ {
			target := s.RefTable(t, fk)
			script.WriteString("    FOREIGN KEY (")
			script.WriteString(t.Meta.Columns[fk].Name)
			script.WriteString(") REFERENCES ")
			script.WriteString(target.Meta.Name())
			script.WriteByte('(')
			script.WriteString(target.Meta.Columns[target.Meta.PKColumn].Name)
			script.WriteString("),\n")
		}
		sql := strings.TrimSuffix(script.String(), ",\n")
		script.Reset()
		script.WriteString(sql)
		script.WriteString("\n);\n")
	}
	return script.String()
}

func payloadSQLType(name string) string {
	if name == PayloadFingerprint {
		return "varchar(1023)"
	}
	return "varchar(255)"
}

// BuildTableSet parses the given table definitions, wiring the table
// named structure_alias (when not empty) as the structure-bearing
// table. Definition or foreign key problems are fatal.
func BuildTableSet(defs []string, backend Backend, structure_alias, id_format string, dedup bool) (*TableSet, error) {
	set := NewTableSet()
	for _, def := range defs {
		meta, err := schema.Parse(def)
		if err != nil {
			return nil, err
		}
		var t *Table
		if meta.Alias == structure_alias {
			t = NewStructureTable(meta, backend, id_format, dedup)
		} else {
			t = NewTable(meta, backend)
		}
		if err := set.Add(t); err != nil {
			return nil, err
		}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}
