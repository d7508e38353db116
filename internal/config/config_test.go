package config_test

import (
	"testing"
	"time"

	"gotest.tools/assert"

	. "github.com/shelfdb/shelfdb/internal/config"
)

const valid_config = `
database:
  addr: localhost:3306
  database: inventory
  user: shelf
  password: secret
admin_user: admin
admin_hash: $2a$10$abcdefghijklmnopqrstuv
tables:
  - "Compounds, inventory.compound c, [pk]No, compound_id, [id]Compound No, compound_no"
  - "Bottles, inventory.bottle b, [fk:c.compound_id]Compound, compound_id, [pk]No, bottle_id, [num]Amount, amount"
structure_table: c
id_format: CPD-00000
dedup: true
primary_table: b
result_columns: "b.bottle_id, c.compound_no"
max_structure_hits: 1000
max_non_structure_hits: 10000
throttle_ceiling: 20
throttle_window: 5s
port: 9000
workers: 8
`

func TestParse(t *testing.T) {
	conf, err := Parse([]byte(valid_config))
	assert.NilError(t, err)

	assert.Equal(t, conf.Store.Addr, "localhost:3306")
	assert.Equal(t, conf.Store.Database, "inventory")
	assert.Equal(t, conf.Store.User, "shelf")
	assert.Equal(t, conf.Store.Password, "secret")
	assert.Equal(t, conf.AdminUser, "admin")
	assert.Equal(t, len(conf.Tables), 2)
	assert.Equal(t, conf.StructureTable, "c")
	assert.Equal(t, conf.IDFormat, "CPD-00000")
	assert.Equal(t, conf.Dedup, true)
	assert.Equal(t, conf.PrimaryTable, "b")
	assert.Equal(t, conf.MaxStructureHits, 1000)
	assert.Equal(t, conf.MaxNonStructureHits, 10000)
	assert.Equal(t, conf.ThrottleCeiling, 20)
	assert.Equal(t, conf.ThrottleWindow, 5*time.Second)
	assert.Equal(t, conf.Port, 9000)
	assert.Equal(t, conf.Workers, 8)
}

func TestParseDefaults(t *testing.T) {
	minimal := `
database:
  addr: localhost:3306
  database: inventory
  user: shelf
tables:
  - "Compounds, inventory.compound c, [pk]No, compound_id"
primary_table: c
result_columns: "c.compound_id"
`
	conf, err := Parse([]byte(minimal))
	assert.NilError(t, err)

	assert.Equal(t, conf.Port, 8092)
	assert.Equal(t, conf.Workers, 4)
	assert.Equal(t, conf.ThrottleCeiling, 100)
	assert.Equal(t, conf.ThrottleWindow, 10*time.Second)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", ":::", "failed to parse config"},
		{"no addr", "database: {database: d, user: u}\ntables: [x]\nprimary_table: c\nresult_columns: c.x", "database.addr is required"},
		{"no tables", "database: {addr: a, database: d, user: u}\nprimary_table: c\nresult_columns: c.x", "at least one table definition is required"},
		{"no primary", "database: {addr: a, database: d, user: u}\ntables: [x]\nresult_columns: c.x", "primary_table is required"},
		{"bad port", "database: {addr: a, database: d, user: u}\ntables: [x]\nprimary_table: c\nresult_columns: c.x\nport: 99999", "port must be between 1 and 65535"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse([]byte(c.yaml))
			assert.ErrorContains(t, err, c.want)
		})
	}
}
