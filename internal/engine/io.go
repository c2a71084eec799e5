package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/rocketlaunchr/dataframe-go/exports"
	"github.com/rocketlaunchr/dataframe-go/imports"
)

// format returns the logical file format, looking through a trailing .gz.
func format(path string) (ext string, gzipped bool) {
	ext = strings.ToLower(filepath.Ext(path))
	if ext == ".gz" {
		gzipped = true
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(path, filepath.Ext(path))))
	}
	return ext, gzipped
}

// Load reads a whole file into a table. CSV is the default format; .json
// holds an array of records. Both may carry a .gz suffix.
func Load(ctx context.Context, path string) (*Table, error) {
	ext, gzipped := format(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if gzipped {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "decompress '%s'", path)
		}
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, errors.Wrapf(err, "decompress '%s'", path)
		}
	}

	switch ext {
	case ".json":
		return loadJSON(raw)
	case ".parquet":
		return nil, errors.Wrapf(ErrUnknownFormat, "'%s': columnar files are not supported", path)
	default:
		df, err := imports.LoadFromCSV(ctx, bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "read '%s'", path)
		}
		return &Table{df: df}, nil
	}
}

func loadJSON(raw []byte) (*Table, error) {
	var records []map[string]interface{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, errors.Wrap(err, "read json")
	}
	var names []string
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				names = append(names, k)
			}
		}
	}
	// Map iteration order is random; keep the columns stable.
	sort.Strings(names)
	rows := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		row := make(map[string]interface{}, len(rec))
		for k, v := range rec {
			switch x := v.(type) {
			case nil:
				row[k] = nil
			case float64:
				row[k] = x
			default:
				row[k] = valueString(x)
			}
		}
		rows[i] = row
	}
	return FromRows(names, rows), nil
}

// LoadChunks streams a CSV file in batches of at most size rows, invoking fn
// for each batch in file order. Only CSV (plain or gzipped) can be chunked.
func LoadChunks(ctx context.Context, path string, size int, fn func(*Table) error) error {
	ext, gzipped := format(path)
	if ext == ".json" || ext == ".parquet" {
		return errors.Wrapf(ErrUnknownFormat, "'%s': only CSV files can be read in chunks", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "decompress '%s'", path)
		}
		defer zr.Close()
		r = zr
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return errors.Errorf("read '%s': file is empty", path)
	}
	if err != nil {
		return errors.Wrapf(err, "read '%s'", path)
	}

	batch := make([]map[string]interface{}, 0, size)
	delivered := false
	flush := func() error {
		// a header-only file still yields one empty chunk
		if len(batch) == 0 && delivered {
			return nil
		}
		t := FromRows(header, batch)
		batch = batch[:0]
		delivered = true
		return fn(t)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "read '%s'", path)
		}
		row := make(map[string]interface{}, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			}
		}
		batch = append(batch, row)
		if len(batch) == size {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// Save writes the table to path, creating parent directories as needed. The
// extension picks the format: .json writes an array of records, anything
// else CSV; a .gz suffix compresses the output.
func Save(ctx context.Context, t *Table, path string) error {
	ext, gzipped := format(path)
	if ext == ".parquet" {
		return errors.Wrapf(ErrUnknownFormat, "'%s': columnar files are not supported", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create '%s'", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var zw *gzip.Writer
	if gzipped {
		zw = gzip.NewWriter(f)
		w = zw
	}

	switch ext {
	case ".json":
		if err := saveJSON(w, t); err != nil {
			return errors.Wrapf(err, "write '%s'", path)
		}
	default:
		if err := exports.ExportToCSV(ctx, w, t.df); err != nil {
			return errors.Wrapf(err, "write '%s'", path)
		}
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return errors.Wrapf(err, "write '%s'", path)
		}
	}
	// the deferred Close only covers early returns; report flush errors here
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "write '%s'", path)
	}
	return nil
}

func saveJSON(w io.Writer, t *Table) error {
	records := make([]map[string]interface{}, t.NRows())
	for i := range records {
		records[i] = t.Row(i)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
