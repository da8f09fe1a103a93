// Package source holds the catalog of configured registry feeds and the
// connectors that turn their exports into ingestable rows.
package source

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/medreg-data/regsync/internal/ingest"
	"github.com/medreg-data/regsync/internal/registry"
)

// Connector kinds understood by the factory.
const (
	KindCSVFile  = "csv_file"
	KindXLSXFile = "xlsx_file"
	KindHTTPCSV  = "http_csv"
	KindHTTPJSON = "http_json"
	KindFTPCSV   = "ftp_csv"
)

// Config describes one configured feed.
type Config struct {
	Key       string `yaml:"key"`
	Name      string `yaml:"name"`
	Connector string `yaml:"connector"`

	// Evidence grading used by the field merge policy.
	Grade    string `yaml:"grade"`
	Priority int    `yaml:"priority"`

	// Transport details; which are used depends on the connector kind.
	URL       string `yaml:"url,omitempty"`
	Path      string `yaml:"path,omitempty"`
	Sheet     string `yaml:"sheet,omitempty"`
	HeaderRow int    `yaml:"header_row,omitempty"`
	Delimiter string `yaml:"delimiter,omitempty"`

	// UDI feeds carry device identifiers without registry numbers and get
	// the stricter gate treatment.
	UDI bool `yaml:"udi,omitempty"`

	// PendingPolicy controls backlog capture for gate-rejected rows:
	// "document_only" or "record_and_document". Empty means document_only.
	PendingPolicy string `yaml:"pending_policy,omitempty"`

	BatchSize         int `yaml:"batch_size,omitempty"`
	RecencyCutoffDays int `yaml:"recency_cutoff_days,omitempty"`

	// FieldMap renames source-specific column headers to the canonical
	// aliases the gate understands.
	FieldMap map[string]string `yaml:"field_map,omitempty"`
}

// Catalog is the full set of configured feeds.
type Catalog struct {
	Sources []Config `yaml:"sources"`
}

// LoadCatalog reads and validates a catalog YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read catalog %s", path)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrapf(err, "source: parse catalog %s", path)
	}

	seen := make(map[string]bool, len(cat.Sources))
	for i := range cat.Sources {
		cfg := &cat.Sources[i]
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if seen[cfg.Key] {
			return nil, eris.Errorf("source: duplicate key %q in catalog", cfg.Key)
		}
		seen[cfg.Key] = true
	}

	return &cat, nil
}

// Get returns the config for a key, or nil.
func (c *Catalog) Get(key string) *Config {
	for i := range c.Sources {
		if c.Sources[i].Key == key {
			return &c.Sources[i]
		}
	}
	return nil
}

// Validate checks a single feed config.
func (c *Config) Validate() error {
	if c.Key == "" {
		return eris.New("source: config missing key")
	}
	switch c.Connector {
	case KindCSVFile, KindXLSXFile:
		if c.Path == "" {
			return eris.Errorf("source %s: %s connector requires path", c.Key, c.Connector)
		}
	case KindHTTPCSV, KindHTTPJSON, KindFTPCSV:
		if c.URL == "" {
			return eris.Errorf("source %s: %s connector requires url", c.Key, c.Connector)
		}
	default:
		return eris.Errorf("source %s: unknown connector %q", c.Key, c.Connector)
	}
	switch registry.Grade(c.Grade) {
	case registry.GradeA, registry.GradeB, registry.GradeC, registry.GradeD:
	default:
		return eris.Errorf("source %s: invalid grade %q", c.Key, c.Grade)
	}
	switch ingest.PendingPolicy(c.PendingPolicy) {
	case "", ingest.PendingDocumentOnly, ingest.PendingRecordAndDocument:
	default:
		return eris.Errorf("source %s: invalid pending_policy %q", c.Key, c.PendingPolicy)
	}
	return nil
}

// Params converts the feed config into run parameters.
func (c *Config) Params() ingest.RunParams {
	policy := ingest.PendingPolicy(c.PendingPolicy)
	if policy == "" {
		policy = ingest.PendingDocumentOnly
	}

	var since *time.Time
	if c.RecencyCutoffDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, -c.RecencyCutoffDays)
		since = &t
	}

	return ingest.RunParams{
		SourceKey:     c.Key,
		Grade:         registry.Grade(c.Grade),
		Priority:      c.Priority,
		UDI:           c.UDI,
		PendingPolicy: policy,
		BatchSize:     c.BatchSize,
		Since:         since,
	}
}

// delimiterRune returns the configured CSV delimiter, defaulting to comma.
func (c *Config) delimiterRune() rune {
	if c.Delimiter == "" {
		return ','
	}
	return []rune(c.Delimiter)[0]
}
