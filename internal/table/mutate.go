package table

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shelfdb/shelfdb/internal/schema"
	"github.com/shelfdb/shelfdb/pkg"
)

func appendSQLValue(sql *strings.Builder, kind schema.Kind, value string) {
	if value == "" {
		sql.WriteString("NULL")
		return
	}
	switch kind {
	case schema.KindText, schema.KindID, schema.KindDate:
		sql.WriteByte('\'')
		sql.WriteString(strings.ReplaceAll(value, "'", "''"))
		sql.WriteByte('\'')
	default:
		sql.WriteString(value)
	}
}

func sameCell(current []byte, value string) bool {
	if current == nil {
		return value == ""
	}
	return string(current) == value
}

func payloadCell(extra *StructurePayload, name string) []byte {
	if extra == nil {
		return nil
	}
	switch name {
	case PayloadIDCode:
		return extra.IDCode
	case PayloadCoords:
		return extra.Coords
	case PayloadFingerprint:
		return extra.Fingerprint
	}
	return nil
}

func cellBytes(value string) []byte {
	if value == "" {
		return nil
	}
	return []byte(value)
}

// FormatID writes the primary key's digits right to left into the
// rightmost '0' placeholders of the template. Running out of
// placeholders is a TemplateOverflowError.
func FormatID(format string, primary_key []byte) ([]byte, error) {
	id := []byte(format)
	idx := len(id) - 1
	for pk_idx := len(primary_key) - 1; pk_idx >= 0; pk_idx-- {
		for idx >= 0 && id[idx] != '0' {
			idx--
		}
		if idx < 0 {
			return nil, &TemplateOverflowError{}
		}
		id[idx] = primary_key[pk_idx]
		idx--
	}
	return id, nil
}

// Insert validates the supplied values, writes the row through to the
// backing store, then mirrors it into memory. A backing failure leaves
// memory untouched. On a dedup table an already known structure code
// short-circuits to the existing primary key.
func (t *Table) Insert(values map[string]string) ([]byte, error) {
	t.locker.Lock()
	defer t.locker.Unlock()

	if t.Dedup {
		if idcode := values[PayloadIDCode]; idcode != "" && t.fp_to_pk.Has(idcode) {
			return t.fp_to_pk.Get(idcode), nil
		}
	}

	var names, vals strings.Builder
	count := 0
	add := func(name string, kind schema.Kind, value string) {
		if count > 0 {
			names.WriteByte(',')
			vals.WriteByte(',')
		}
		names.WriteString(name)
		appendSQLValue(&vals, kind, value)
		count++
	}

	for column, col := range t.Meta.Columns {
		value, ok := values[col.Name]
		if !ok {
			continue
		}
		if err := t.checkValue(value, column); err != nil {
			return nil, err
		}
		if column == t.Meta.IDColumn && t.id_to_pk.Has(value) {
			return nil, NewError(http.StatusConflict, col.Name+" '"+value+"' does already exist.")
		}
		add(col.Name, col.Kind, value)
	}
	if t.Structured {
		for _, name := range payload_columns {
			if value, ok := values[name]; ok {
				add(name, schema.KindText, value)
			}
		}
	}
	if count == 0 {
		return nil, NewError(http.StatusBadRequest, "No column data found.")
	}

	sql := "INSERT INTO " + t.Meta.LongName + " (" + names.String() + ") VALUES (" + vals.String() + ")"
	_, key, err := t.backend.Exec(sql, true)
	if err != nil {
		return nil, err
	}
	primary_key := []byte(strconv.FormatInt(key, 10))

	row := NewRow(t.Meta.ColumnCount())
	row.SetCell(t.Meta.PKColumn, schema.KindPK, primary_key)
	for column, col := range t.Meta.Columns {
		if value, ok := values[col.Name]; ok && column != t.Meta.PKColumn {
			row.SetCell(column, col.Kind, []byte(value))
		}
	}
	if t.Structured {
		row.Extra = &StructurePayload{
			IDCode:      cellBytes(values[PayloadIDCode]),
			Coords:      cellBytes(values[PayloadCoords]),
			Fingerprint: cellBytes(values[PayloadFingerprint]),
		}
	}

	t.rows = append(t.rows, row)
	t.pk_index.Insert(string(primary_key), row)
	if t.Meta.IDColumn >= 0 && row.Data[t.Meta.IDColumn] != nil {
		t.id_to_pk.Set(string(row.Data[t.Meta.IDColumn]), primary_key)
	}
	if t.Dedup && row.Extra.IDCode != nil {
		t.fp_to_pk.Set(string(row.Extra.IDCode), primary_key)
	}

	if t.IDFormat != "" && t.Meta.IDColumn >= 0 {
		if err := t.writeAutoID(row, primary_key); err != nil {
			return primary_key, err
		}
	}
	return primary_key, nil
}

func (t *Table) writeAutoID(row *Row, primary_key []byte) error {
	auto_id, err := FormatID(t.IDFormat, primary_key)
	if err != nil {
		return err
	}

	id_col := t.Meta.Columns[t.Meta.IDColumn]
	var sql strings.Builder
	sql.WriteString("UPDATE ")
	sql.WriteString(t.Meta.LongName)
	sql.WriteString(" SET ")
	sql.WriteString(id_col.Name)
	sql.WriteByte('=')
	appendSQLValue(&sql, schema.KindID, string(auto_id))
	sql.WriteString(" WHERE ")
	sql.WriteString(t.Meta.Columns[t.Meta.PKColumn].Name)
	sql.WriteByte('=')
	sql.Write(primary_key)
	if _, _, err := t.backend.Exec(sql.String(), false); err != nil {
		return err
	}

	if old := row.Data[t.Meta.IDColumn]; old != nil {
		t.id_to_pk.Delete(string(old))
	}
	row.SetCell(t.Meta.IDColumn, schema.KindID, auto_id)
	t.id_to_pk.Set(string(auto_id), primary_key)
	return nil
}

// Update diffs the supplied values against the current row and writes
// only the differing columns through. With no differing column it
// succeeds silently unless fail_if_no_change asks for a NoChangeError.
func (t *Table) Update(values map[string]string, primary_key []byte, fail_if_no_change bool) error {
	if _, err := strconv.Atoi(string(primary_key)); err != nil {
		return NewError(http.StatusBadRequest, "Invalid primary key '"+string(primary_key)+"'.")
	}

	t.locker.Lock()
	defer t.locker.Unlock()

	row, ok := t.pk_index.Get(string(primary_key))
	if !ok {
		return NewError(http.StatusNotFound,
			"No row found for primary key '"+string(primary_key)+"' in table '"+t.Meta.DisplayName+"'.")
	}

	var set strings.Builder
	count := 0
	add := func(name string, kind schema.Kind, value string) {
		if count > 0 {
			set.WriteByte(',')
		}
		set.WriteString(name)
		set.WriteByte('=')
		appendSQLValue(&set, kind, value)
		count++
	}

	for column, col := range t.Meta.Columns {
		value, ok := values[col.Name]
		if !ok {
			continue
		}
		if err := t.checkValue(value, column); err != nil {
			return err
		}
		if sameCell(row.Data[column], value) {
			continue
		}
		if column == t.Meta.IDColumn && t.id_to_pk.Has(value) {
			return NewError(http.StatusConflict, col.Name+" '"+value+"' does already exist.")
		}
		add(col.Name, col.Kind, value)
	}
	if t.Structured {
		for _, name := range payload_columns {
			if value, ok := values[name]; ok && !sameCell(payloadCell(row.Extra, name), value) {
				add(name, schema.KindText, value)
			}
		}
	}

	if count == 0 {
		if fail_if_no_change {
			return &NoChangeError{Table: t.Meta.DisplayName}
		}
		return nil
	}

	sql := "UPDATE " + t.Meta.LongName + " SET " + set.String() +
		" WHERE " + t.Meta.Columns[t.Meta.PKColumn].Name + "=" + string(primary_key)
	if _, _, err := t.backend.Exec(sql, false); err != nil {
		return err
	}

	for column, col := range t.Meta.Columns {
		value, ok := values[col.Name]
		if !ok {
			continue
		}
		if column == t.Meta.IDColumn {
			if old := row.Data[column]; old != nil {
				t.id_to_pk.Delete(string(old))
			}
			if value != "" {
				t.id_to_pk.Set(value, primary_key)
			}
		}
		row.SetCell(column, col.Kind, []byte(value))
	}
	if t.Structured {
		if row.Extra == nil {
			row.Extra = &StructurePayload{}
		}
		if value, ok := values[PayloadIDCode]; ok {
			if t.Dedup {
				if old := row.Extra.IDCode; old != nil {
					t.fp_to_pk.Delete(string(old))
				}
				if value != "" {
					t.fp_to_pk.Set(value, primary_key)
				}
			}
			row.Extra.IDCode = cellBytes(value)
		}
		if value, ok := values[PayloadCoords]; ok {
			row.Extra.Coords = cellBytes(value)
		}
		if value, ok := values[PayloadFingerprint]; ok {
			row.Extra.Fingerprint = cellBytes(value)
		}
	}
	return nil
}

// Delete removes the row from the backing store first, then from
// every in-memory index.
func (t *Table) Delete(primary_key []byte) error {
	if _, err := strconv.Atoi(string(primary_key)); err != nil {
		return NewError(http.StatusBadRequest, "Invalid primary key '"+string(primary_key)+"'.")
	}

	t.locker.Lock()
	defer t.locker.Unlock()

	row, ok := t.pk_index.Get(string(primary_key))
	if !ok {
		return NewError(http.StatusNotFound,
			"No row found for primary key '"+string(primary_key)+"' in table '"+t.Meta.DisplayName+"'.")
	}

	sql := "DELETE FROM " + t.Meta.LongName +
		" WHERE " + t.Meta.Columns[t.Meta.PKColumn].Name + "=" + string(primary_key)
	if _, _, err := t.backend.Exec(sql, false); err != nil {
		return err
	}

	t.pk_index.Delete(string(primary_key))
	t.rows = pkg.Filter(t.rows, func(r *Row) bool { return r != row })
	if t.Meta.IDColumn >= 0 && row.Data[t.Meta.IDColumn] != nil {
		t.id_to_pk.Delete(string(row.Data[t.Meta.IDColumn]))
	}
	if t.Dedup && row.Extra != nil && row.Extra.IDCode != nil {
		t.fp_to_pk.Delete(string(row.Extra.IDCode))
	}
	return nil
}
