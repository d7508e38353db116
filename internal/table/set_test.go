package table_test

import (
	"errors"
	"strings"
	"testing"

	. "github.com/shelfdb/shelfdb/internal/table"
	"gotest.tools/assert"
)

const item_def = "Items, inventory.item i, [pk]No, item_id, [id]Item ID, item_no, " +
	"[mw]Weight, weight, [mf]Formula, formula"

const bottle_def = "Bottles, inventory.bottle b, [fk:i.item_id]Item, item_id, " +
	"[fk:s.supplier_id]Supplier, supplier_id, [pk]Bottle No, bottle_id, " +
	"[num]Amount, amount"

func inventoryBackend() *fakeBackend {
	return &fakeBackend{
		next_key: 10,
		tables: map[string][][][]byte{
			"inventory.supplier": {
				cells("1", "Acme", "4.5", "2020-01-02", "ok"),
				cells("2", "Zeta", "", "", ""),
			},
			"inventory.item": {
				cells("1", "ITM-00001", "180.16", "C9H8O4", "code-a", "coords-a", "fp-a"),
				cells("2", "ITM-00002", "", "", "", "", ""),
			},
			"inventory.bottle": {
				cells("1", "1", "1", "25.0"),
				cells("2", "2", "2", ""),
			},
		},
	}
}

func loadedSet(t *testing.T, backend *fakeBackend) *TableSet {
	set, err := BuildTableSet(
		[]string{supplier_def, item_def, bottle_def},
		backend, "i", "ITM-00000", true)
	assert.NilError(t, err)
	count, err := set.LoadAll()
	assert.NilError(t, err)
	assert.Equal(t, count, 6)
	assert.NilError(t, set.Link())
	return set
}

func TestBuildTableSet(t *testing.T) {
	set := loadedSet(t, inventoryBackend())

	bottles := set.ByAlias("b")
	assert.Assert(t, bottles != nil)
	assert.Equal(t, bottles.Meta.DisplayName, "Bottles")
	assert.Equal(t, set.ByName("supplier").Meta.Alias, "s")
	assert.Equal(t, len(set.Tables()), 3)

	items := set.ByAlias("i")
	assert.Assert(t, items.Structured)
	assert.Equal(t, set.FKIndex(bottles, "i"), 0)
	assert.Equal(t, set.FKIndex(bottles, "s"), 1)
	assert.Equal(t, set.FKIndex(bottles, "x"), -1)
	assert.Assert(t, set.RefTable(bottles, 1) == set.ByAlias("s"))
}

func TestLink(t *testing.T) {
	set := loadedSet(t, inventoryBackend())

	bottles := set.ByAlias("b")
	items := set.ByAlias("i")
	suppliers := set.ByAlias("s")

	row := bottles.RowByKey([]byte("1"))
	assert.Assert(t, row.Ref(0) == items.RowByKey([]byte("1")))
	assert.Assert(t, row.Ref(1) == suppliers.RowByKey([]byte("1")))

	// the joined cell is read from the target row, not the local ordinal
	assert.Equal(t, string(row.Ref(1).Cell(1)), "Acme")
}

func TestLinkDanglingKey(t *testing.T) {
	backend := inventoryBackend()
	backend.tables["inventory.bottle"] = append(backend.tables["inventory.bottle"],
		cells("1", "99", "3", ""))

	set, err := BuildTableSet(
		[]string{supplier_def, item_def, bottle_def},
		backend, "i", "", false)
	assert.NilError(t, err)
	_, err = set.LoadAll()
	assert.NilError(t, err)

	err = set.Link()
	var integrity *IntegrityError
	assert.Assert(t, errors.As(err, &integrity))
	assert.ErrorContains(t, err, "Could not find primary key '99' in table 'supplier'")
}

func TestValidateErrors(t *testing.T) {
	t.Run("unknown alias", func(t *testing.T) {
		_, err := BuildTableSet([]string{supplier_def, bottle_def}, &fakeBackend{}, "", "", false)
		assert.ErrorContains(t, err, "Unknown table alias 'i'")
	})

	t.Run("non primary key target", func(t *testing.T) {
		bad := "Bottles, inventory.bottle b, [fk:s.name]Supplier, supplier_id, [pk]No, bottle_id"
		_, err := BuildTableSet([]string{supplier_def, bad}, &fakeBackend{}, "", "", false)
		assert.ErrorContains(t, err, "must reference primary key column")
	})

	t.Run("duplicate alias", func(t *testing.T) {
		_, err := BuildTableSet([]string{supplier_def, supplier_def}, &fakeBackend{}, "", "", false)
		assert.ErrorContains(t, err, "Duplicate table alias 's'")
	})
}

func TestStructureTableLoad(t *testing.T) {
	set := loadedSet(t, inventoryBackend())
	items := set.ByAlias("i")

	row := items.RowByKey([]byte("1"))
	assert.Assert(t, row.Extra != nil)
	assert.Equal(t, string(row.Extra.IDCode), "code-a")
	assert.Equal(t, string(row.Extra.Coords), "coords-a")
	assert.Equal(t, string(row.Extra.Fingerprint), "fp-a")
	assert.Equal(t, row.Float(items.Meta.WeightColumn), 180.16)
}

func TestContentAddressedInsert(t *testing.T) {
	backend := inventoryBackend()
	set := loadedSet(t, backend)
	items := set.ByAlias("i")

	// a known structure code resolves to the existing key without a write
	before := len(backend.execs)
	pk, err := items.Insert(map[string]string{"idcode": "code-a"})
	assert.NilError(t, err)
	assert.Equal(t, string(pk), "1")
	assert.Equal(t, len(backend.execs), before)

	pk, err = items.Insert(map[string]string{"idcode": "code-b", "fingerprint": "fp-b"})
	assert.NilError(t, err)
	assert.Equal(t, string(pk), "11")
	assert.Equal(t, items.Len(), 3)

	row := items.RowByKey(pk)
	assert.Equal(t, string(row.Extra.IDCode), "code-b")

	// same code again dedups to the new key
	pk, err = items.Insert(map[string]string{"idcode": "code-b"})
	assert.NilError(t, err)
	assert.Equal(t, string(pk), "11")
	assert.Equal(t, items.Len(), 3)
}

func TestAutoID(t *testing.T) {
	backend := inventoryBackend()
	set := loadedSet(t, backend)
	items := set.ByAlias("i")

	pk, err := items.Insert(map[string]string{"idcode": "code-c"})
	assert.NilError(t, err)
	assert.Equal(t, string(pk), "11")

	row := items.RowByKey(pk)
	assert.Equal(t, string(row.Cell(items.Meta.IDColumn)), "ITM-00011")
	assert.Equal(t, string(items.PKFromID([]byte("ITM-00011"))), "11")
	assert.Assert(t, strings.Contains(backend.lastExec(), "item_no='ITM-00011'"))
}

func TestCreationSQL(t *testing.T) {
	set := loadedSet(t, inventoryBackend())
	script := set.CreationSQL()

	assert.Assert(t, strings.Contains(script, "CREATE TABLE bottle"))
	assert.Assert(t, strings.Contains(script, "bottle_id int NOT NULL AUTO_INCREMENT"))
	assert.Assert(t, strings.Contains(script, "PRIMARY KEY (bottle_id)"))
	assert.Assert(t, strings.Contains(script, "FOREIGN KEY (supplier_id) REFERENCES supplier(supplier_id)"))
	assert.Assert(t, strings.Contains(script, "idcode varchar(255)"))
	assert.Assert(t, strings.Contains(script, "fingerprint varchar(1023)"))
}
