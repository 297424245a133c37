// Package convert rewrites exported spreadsheets as delimited text.
package convert

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/xuri/excelize/v2"

	"github.com/jmylchreest/senave-registros/internal/logger"
)

// Error types for distinguishing conversion failures.
// Check with errors.Is(err, convert.ErrParse).
var (
	// ErrParse indicates the source workbook could not be read.
	ErrParse = errors.New("spreadsheet parse error")
	// ErrWrite indicates the destination could not be written.
	ErrWrite = errors.New("output write error")
)

// Result describes a completed conversion.
type Result struct {
	Source        string `json:"source" yaml:"source"`
	Destination   string `json:"destination" yaml:"destination"`
	Sheet         string `json:"sheet" yaml:"sheet"`
	Rows          int    `json:"rows" yaml:"rows"` // data rows, header excluded
	Columns       int    `json:"columns" yaml:"columns"`
	Bytes         int64  `json:"bytes" yaml:"bytes"`
	SourceRemoved bool   `json:"source_removed" yaml:"source_removed"`
}

// Converter turns the first sheet of an xlsx workbook into CSV.
type Converter struct {
	// Delimiter separates fields; zero means ','.
	Delimiter rune
}

// New returns a converter that writes comma-separated output.
func New() *Converter {
	return &Converter{Delimiter: ','}
}

// Convert writes the first sheet of src to dst, header row first, without
// an index column. If removeSource is true, src is deleted only after dst
// has been written and renamed into place.
func (c *Converter) Convert(src, dst string, removeSource bool) (Result, error) {
	result := Result{Source: src, Destination: dst}

	same, err := sameFile(src, dst)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if same {
		return result, fmt.Errorf("%w: destination %s is the source spreadsheet", ErrWrite, dst)
	}

	sheet, records, err := readFirstSheet(src)
	if err != nil {
		return result, err
	}
	result.Sheet = sheet
	result.Rows = len(records) - 1
	result.Columns = len(records[0])

	size, err := c.writeAtomic(dst, records)
	if err != nil {
		return result, err
	}
	result.Bytes = size

	logger.Debug("spreadsheet converted",
		"source", src,
		"destination", dst,
		"sheet", sheet,
		"rows", result.Rows,
		"columns", result.Columns,
		"size", humanize.Bytes(uint64(size)))

	if removeSource {
		if err := os.Remove(src); err != nil {
			return result, fmt.Errorf("converted %s but failed to remove source: %w", dst, err)
		}
		result.SourceRemoved = true
		logger.Debug("source spreadsheet removed", "path", src)
	}

	return result, nil
}

// sameFile reports whether src and dst name the same file, either by path
// or, when both exist, by identity (hard links, symlinks).
func sameFile(src, dst string) (bool, error) {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return false, err
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return false, err
	}
	if absSrc == absDst {
		return true, nil
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, nil
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return false, nil
	}
	return os.SameFile(srcInfo, dstInfo), nil
}

// readFirstSheet returns the first sheet as rectangular records: rows
// shorter than the widest row are padded with empty cells.
func readFirstSheet(path string) (string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to open %s: %v", ErrParse, path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, fmt.Errorf("%w: %s has no sheets", ErrParse, path)
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to read sheet %q: %v", ErrParse, sheet, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", nil, fmt.Errorf("%w: sheet %q has no header row", ErrParse, sheet)
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	for i, row := range rows {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			rows[i] = padded
		}
	}

	return sheet, rows, nil
}

// writeAtomic writes records to a temporary file next to dst and renames it
// onto dst. On failure the temporary file is removed and dst is untouched.
func (c *Converter) writeAtomic(dst string, records [][]string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	if c.Delimiter != 0 {
		w.Comma = c.Delimiter
	}
	if err := w.WriteAll(records); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	committed = true

	info, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("%w: %s missing after rename: %v", ErrWrite, dst, err)
	}
	return info.Size(), nil
}
