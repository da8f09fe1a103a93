package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/medreg-data/regsync/internal/fetcher"
	"github.com/medreg-data/regsync/internal/ingest"
)

// Deps carries the shared transport clients connectors draw on.
type Deps struct {
	HTTP    *fetcher.HTTPFetcher
	FTP     *fetcher.FTPFetcher
	TempDir string
}

// New builds the connector for a feed config.
func New(cfg *Config, deps Deps) (ingest.Connector, error) {
	switch cfg.Connector {
	case KindCSVFile:
		return &csvFileConnector{cfg: cfg}, nil
	case KindXLSXFile:
		return &xlsxFileConnector{cfg: cfg}, nil
	case KindHTTPCSV:
		return &httpCSVConnector{cfg: cfg, http: deps.HTTP}, nil
	case KindHTTPJSON:
		return &httpJSONConnector{cfg: cfg, http: deps.HTTP}, nil
	case KindFTPCSV:
		return &ftpCSVConnector{cfg: cfg, ftp: deps.FTP, tempDir: deps.TempDir}, nil
	default:
		return nil, eris.Errorf("source %s: unknown connector %q", cfg.Key, cfg.Connector)
	}
}

// toRows applies the feed's field map, recency cutoff, and batch limit to
// raw records. Rows stamped before opts.Since are dropped; rows that carry
// no source timestamp always pass, so the cutoff never hides records from
// feeds that do not date their exports.
func toRows(records []map[string]string, cfg *Config, opts ingest.FetchOptions) []ingest.Row {
	rows := make([]ingest.Row, 0, len(records))
	for _, rec := range records {
		if opts.BatchSize > 0 && len(rows) >= opts.BatchSize {
			break
		}
		row := make(ingest.Row, len(rec))
		for k, v := range rec {
			if mapped, ok := cfg.FieldMap[k]; ok {
				k = mapped
			}
			row[k] = v
		}
		if opts.Since != nil {
			if ts, ok := row.ObservedAt(); ok && ts.Before(*opts.Since) {
				continue
			}
		}
		rows = append(rows, row)
	}
	return rows
}

type csvFileConnector struct {
	cfg *Config
}

func (c *csvFileConnector) Fetch(ctx context.Context, opts ingest.FetchOptions) ([]ingest.Row, error) {
	f, err := os.Open(c.cfg.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: open csv", c.cfg.Key)
	}
	defer f.Close() //nolint:errcheck

	records, err := fetcher.ReadCSVRecords(f, fetcher.CSVOptions{Delimiter: c.cfg.delimiterRune()})
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse csv", c.cfg.Key)
	}
	return toRows(records, c.cfg, opts), nil
}

type xlsxFileConnector struct {
	cfg *Config
}

func (c *xlsxFileConnector) Fetch(ctx context.Context, opts ingest.FetchOptions) ([]ingest.Row, error) {
	records, err := fetcher.ReadXLSXRecords(c.cfg.Path, fetcher.XLSXOptions{
		SheetName: c.cfg.Sheet,
		HeaderRow: c.cfg.HeaderRow,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse xlsx", c.cfg.Key)
	}
	return toRows(records, c.cfg, opts), nil
}

type httpCSVConnector struct {
	cfg  *Config
	http *fetcher.HTTPFetcher
}

func (c *httpCSVConnector) Fetch(ctx context.Context, opts ingest.FetchOptions) ([]ingest.Row, error) {
	body, err := c.http.Download(ctx, c.cfg.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: download", c.cfg.Key)
	}
	defer body.Close() //nolint:errcheck

	records, err := fetcher.ReadCSVRecords(body, fetcher.CSVOptions{Delimiter: c.cfg.delimiterRune()})
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse csv", c.cfg.Key)
	}
	return toRows(records, c.cfg, opts), nil
}

type httpJSONConnector struct {
	cfg  *Config
	http *fetcher.HTTPFetcher
}

func (c *httpJSONConnector) Fetch(ctx context.Context, opts ingest.FetchOptions) ([]ingest.Row, error) {
	body, err := c.http.Download(ctx, c.cfg.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: download", c.cfg.Key)
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: read body", c.cfg.Key)
	}

	records, err := decodeJSONRecords(data)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse json", c.cfg.Key)
	}
	return toRows(records, c.cfg, opts), nil
}

// decodeJSONRecords accepts either a top-level array of objects or an
// envelope with a "data" array, and stringifies scalar values. Nested
// objects and arrays are dropped.
func decodeJSONRecords(data []byte) ([]map[string]string, error) {
	var objs []map[string]any
	if err := json.Unmarshal(data, &objs); err != nil {
		var envelope struct {
			Data []map[string]any `json:"data"`
		}
		if err2 := json.Unmarshal(data, &envelope); err2 != nil {
			return nil, eris.Wrap(err, "decode json records")
		}
		objs = envelope.Data
	}

	records := make([]map[string]string, 0, len(objs))
	for _, obj := range objs {
		rec := make(map[string]string, len(obj))
		for k, v := range obj {
			switch val := v.(type) {
			case nil:
				continue
			case string:
				rec[k] = val
			case float64:
				rec[k] = trimFloat(val)
			case bool:
				rec[k] = fmt.Sprintf("%t", val)
			default:
				// nested structure, not a tracked scalar
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

type ftpCSVConnector struct {
	cfg     *Config
	ftp     *fetcher.FTPFetcher
	tempDir string
}

func (c *ftpCSVConnector) Fetch(ctx context.Context, opts ingest.FetchOptions) ([]ingest.Row, error) {
	rc, err := c.ftp.Download(ctx, c.cfg.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: ftp download", c.cfg.Key)
	}
	defer rc.Close() //nolint:errcheck

	// Spool to disk first: registry FTP servers drop idle data connections
	// while the row loop is busy.
	tmp, err := os.CreateTemp(c.tempDir, "regsync-ftp-*.csv")
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: create temp file", c.cfg.Key)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	defer tmp.Close()           //nolint:errcheck

	if _, err := io.Copy(tmp, rc); err != nil {
		return nil, eris.Wrapf(err, "source %s: spool ftp payload", c.cfg.Key)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, eris.Wrapf(err, "source %s: rewind temp file", c.cfg.Key)
	}

	records, err := fetcher.ReadCSVRecords(tmp, fetcher.CSVOptions{Delimiter: c.cfg.delimiterRune()})
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse csv %s", c.cfg.Key, filepath.Base(tmp.Name()))
	}
	return toRows(records, c.cfg, opts), nil
}
