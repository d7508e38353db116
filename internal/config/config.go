package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shelfdb/shelfdb/internal/store"
)

// Config is the full server configuration loaded from a YAML file.
type Config struct {
	Store store.Config `yaml:"database"`

	AdminUser string `yaml:"admin_user"`
	AdminHash string `yaml:"admin_hash"`

	// Table definition strings, one per table. The table named by
	// StructureTable carries structure payload columns.
	Tables         []string `yaml:"tables"`
	StructureTable string   `yaml:"structure_table"`
	IDFormat       string   `yaml:"id_format"`
	Dedup          bool     `yaml:"dedup"`

	// Primary table alias and the comma separated "alias.column" list
	// the result builder projects hits through.
	PrimaryTable  string `yaml:"primary_table"`
	ResultColumns string `yaml:"result_columns"`

	MaxStructureHits    int `yaml:"max_structure_hits"`
	MaxNonStructureHits int `yaml:"max_non_structure_hits"`

	ThrottleCeiling int           `yaml:"throttle_ceiling"`
	ThrottleWindow  time.Duration `yaml:"throttle_window"`

	Port    int `yaml:"port"`
	Workers int `yaml:"workers"`
}

func Default() *Config {
	return &Config{
		ThrottleCeiling: 100,
		ThrottleWindow:  10 * time.Second,
		Port:            8092,
		Workers:         4,
	}
}

// Load reads and validates the YAML file at path, applying defaults for
// absent keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	conf := Default()
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	if c.Store.Addr == "" {
		return fmt.Errorf("database.addr is required")
	}
	if c.Store.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if c.Store.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table definition is required")
	}
	if c.PrimaryTable == "" {
		return fmt.Errorf("primary_table is required")
	}
	if c.ResultColumns == "" {
		return fmt.Errorf("result_columns is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0")
	}
	if c.ThrottleCeiling < 0 {
		return fmt.Errorf("throttle_ceiling must be non-negative")
	}
	return nil
}
