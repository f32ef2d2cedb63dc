// Package executor runs generated SQL against configured data sources.
package executor

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"duck-ask/internal/domain"
)

// Supported data source drivers.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DemoSourceName is the source seeded when no configuration file exists.
const DemoSourceName = "demo"

// SourceConfig is one entry of the data source file.
type SourceConfig struct {
	domain.DataSource `yaml:",inline"`
	// Setup statements run once right after the connection opens.
	Setup []string `yaml:"setup"`
}

// Config is the data source file layout:
//
//	data_sources:
//	  - name: warehouse
//	    driver: postgres
//	    dsn: postgres://reader@db:5432/warehouse
//	    description: orders(id, region, amount, created_at)
type Config struct {
	DataSources []SourceConfig `yaml:"data_sources"`
}

// LoadConfig reads the data source file at path. It returns (nil, false, nil)
// when the file does not exist so callers can fall back to DemoConfig.
func LoadConfig(path string) (*Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, true, nil
}

// Validate checks names and drivers.
func (c *Config) Validate() error {
	if len(c.DataSources) == 0 {
		return domain.ErrValidation("at least one data source is required")
	}
	seen := make(map[string]struct{}, len(c.DataSources))
	for i, ds := range c.DataSources {
		name := strings.TrimSpace(ds.Name)
		if name == "" {
			return domain.ErrValidation("data_sources[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return domain.ErrValidation("data_sources[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}

		if _, err := sqlDriverName(ds.Driver); err != nil {
			return domain.ErrValidation("data_sources[%d] %q: %s", i, name, err.Error())
		}
		if ds.Driver != DriverDuckDB && strings.TrimSpace(ds.DSN) == "" {
			return domain.ErrValidation("data_sources[%d] %q: dsn is required for %s", i, name, ds.Driver)
		}
	}
	return nil
}

// DemoConfig describes an in-memory DuckDB source with a small sales table.
func DemoConfig() *Config {
	return &Config{DataSources: []SourceConfig{{
		DataSource: domain.DataSource{
			Name:        DemoSourceName,
			Driver:      DriverDuckDB,
			Description: "DuckDB table sales(region VARCHAR, product VARCHAR, amount DOUBLE, sold_at DATE) with one row per sale.",
		},
		Setup: demoSetup,
	}}}
}

var demoSetup = []string{
	`CREATE TABLE sales (region VARCHAR, product VARCHAR, amount DOUBLE, sold_at DATE)`,
	`INSERT INTO sales VALUES
		('North', 'Widget', 120.0, DATE '2026-01-14'),
		('North', 'Gadget', 310.5, DATE '2026-02-03'),
		('North', 'Widget', 95.0,  DATE '2025-11-20'),
		('South', 'Widget', 95.0,  DATE '2026-01-21'),
		('South', 'Gizmo',  420.0, DATE '2026-03-02'),
		('South', 'Gadget', 150.0, DATE '2025-12-11'),
		('East',  'Gizmo',  260.0, DATE '2026-02-17'),
		('East',  'Widget', 80.0,  DATE '2025-10-05'),
		('West',  'Gadget', 510.0, DATE '2026-03-09'),
		('West',  'Gizmo',  175.0, DATE '2026-01-28')`,
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case DriverDuckDB:
		return "duckdb", nil
	case DriverPostgres:
		return "pgx", nil
	case DriverSQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("unsupported driver %q (want duckdb, postgres or sqlite)", driver)
}
