package frame

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Load reads a frame from a .csv or .fits file.  CSV frames carry no
// metadata beyond their path
func Load(path string) (*mat.Dense, Metadata, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".fits" && ext != ".fit" {
		return nil, Metadata{}, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, Metadata{}, err
	}
	defer f.Close()
	if ext == ".csv" {
		m, err := ReadCSV(f)
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("%s: %w", path, err)
		}
		meta := Metadata{Source: path}
		if st, err := f.Stat(); err == nil {
			meta.Taken = st.ModTime()
		}
		return m, meta, nil
	}
	m, meta, err := ReadFITS(f)
	if err != nil {
		return nil, meta, fmt.Errorf("%s: %w", path, err)
	}
	if meta.Source == "" {
		meta.Source = path
	}
	return m, meta, nil
}

// Stem is the file name of path without directory or extension,
// e.g. /data/run12/stave3.csv => stave3
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
