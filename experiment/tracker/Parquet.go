package tracker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// Parquet caches tracked Rows in memory and saves them as a zstd
// compressed Parquet file, one row per iteration
type Parquet struct {
	filename string
	rows     []Row
}

// NewParquet returns a new Parquet Tracker which saves to filename
func NewParquet(filename string) *Parquet {
	return &Parquet{filename: filename}
}

// Track caches r
func (p *Parquet) Track(r Row) error {
	p.rows = append(p.rows, r)
	return nil
}

// Resume replaces the cached rows with the rows of iterations up to
// and including iteration saved in the Tracker's file, so that a
// resumed run extends the metrics of the run it continues. If the file
// does not exist, no rows are cached.
func (p *Parquet) Resume(iteration int) error {
	p.rows = nil
	if _, err := os.Stat(p.filename); os.IsNotExist(err) {
		return nil
	}

	saved, err := LoadParquet(p.filename)
	if err != nil {
		return fmt.Errorf("resume: %v", err)
	}
	for _, r := range saved {
		if r.Iteration <= int64(iteration) {
			p.rows = append(p.rows, r)
		}
	}
	return nil
}

// Save writes all cached rows to disk, replacing any previous file.
// The file is first written to a temporary file and then renamed, so
// that a partially written file is never left behind.
func (p *Parquet) Save() error {
	if err := os.MkdirAll(filepath.Dir(p.filename), 0o755); err != nil {
		return fmt.Errorf("save: %v", err)
	}

	tmp := p.filename + ".tmp"
	_ = os.Remove(tmp)
	if err := parquet.WriteFile(tmp, p.rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "ippo_iteration_v1"),
	); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save: %v", err)
	}

	if err := os.Rename(tmp, p.filename); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}

// LoadParquet loads the rows saved by a Parquet Tracker
func LoadParquet(filename string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](filename)
	if err != nil {
		return nil, fmt.Errorf("loadParquet: %v", err)
	}
	return rows, nil
}
