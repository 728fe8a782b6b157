package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// LoadOptions configures how a tab-separated cell table is read.
type LoadOptions struct {
	// IndexColumn marks the first column as the row label (adata.obs_names).
	IndexColumn bool
	Schema      Schema
}

// LoadFile reads a TSV file. Files ending in .zst or .gz are decompressed on
// the fly.
func LoadFile(path string, opts LoadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	t, err := Load(r, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return t, nil
}

// Load reads a TSV stream: header row first, '#' lines are comments. The
// decompressed bytes are hashed so the table carries a content fingerprint.
func Load(r io.Reader, opts LoadOptions) (*Table, error) {
	h := xxh3.New()
	cr := csv.NewReader(io.TeeReader(r, h))
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("dataset: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var (
		records [][]string
		ragged  int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: failed to read row %d: %w", len(records)+1, err)
		}
		if len(rec) != len(header) {
			ragged++
		}
		records = append(records, rec)
	}
	if ragged > 0 {
		log.Printf("[Dataset] %d row(s) with a field count different from the header were padded or truncated", ragged)
	}

	t, err := FromRecords(header, records, opts.IndexColumn, opts.Schema)
	if err != nil {
		return nil, err
	}
	t.fingerprint = strconv.FormatUint(h.Sum64(), 16)
	return t, nil
}
