package table

import (
	"math"
	"strconv"

	"github.com/shelfdb/shelfdb/internal/schema"
)

// StructurePayload carries the extra cells of a structure-bearing
// table: the canonical structure code, its 2D coordinates and the
// search fingerprint. Plain tables leave the slot nil.
type StructurePayload struct {
	IDCode      []byte
	Coords      []byte
	Fingerprint []byte
}

// Row holds one record as raw cells. A nil cell is NULL. Num mirrors
// Numeric cells as float64 with NaN on absence or parse failure. Refs
// is aligned with the foreign key ordinals and filled by TableSet.Link.
type Row struct {
	Data  [][]byte
	Num   []float64
	Refs  []*Row
	Extra *StructurePayload
}

func NewRow(column_count int) *Row {
	num := make([]float64, column_count)
	for i := range num {
		num[i] = math.NaN()
	}
	return &Row{Data: make([][]byte, column_count), Num: num}
}

// SetCell stores value in the given column, keeping the numeric mirror
// in sync. Empty values are normalized to NULL.
func (r *Row) SetCell(column int, kind schema.Kind, value []byte) {
	if len(value) == 0 {
		value = nil
	}
	r.Data[column] = value
	if kind == schema.KindNum {
		r.Num[column] = parseNum(value)
	}
}

func (r *Row) Cell(column int) []byte { return r.Data[column] }

func (r *Row) Float(column int) float64 { return r.Num[column] }

func (r *Row) Ref(fk int) *Row {
	if r.Refs == nil {
		return nil
	}
	return r.Refs[fk]
}

func parseNum(value []byte) float64 {
	if value == nil {
		return math.NaN()
	}
	num, err := strconv.ParseFloat(string(value), 64)
	if err != nil {
		return math.NaN()
	}
	return num
}
