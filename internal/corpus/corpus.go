// Package corpus loads the clinical reference corpus (symptom description to
// ICD-10 code) that the similarity index is built from.
package corpus

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

//go:embed data/icd10_symptoms.csv
var defaultCSV []byte

// Entry is one (description, code) row of the corpus.
type Entry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

var (
	// ErrNoHeader is returned when a CSV corpus lacks a header row.
	ErrNoHeader = errors.New("corpus: missing header row")

	// ErrMissingColumn is returned when the code or description column cannot be found.
	ErrMissingColumn = errors.New("corpus: missing column")
)

var (
	codeColumns        = []string{"icd10code", "code", "icd10"}
	descriptionColumns = []string{"symptoms", "description", "display"}
)

// Default returns the corpus bundled with the binary.
func Default() ([]Entry, error) {
	return ReadCSV(bytes.NewReader(defaultCSV))
}

// LoadFile reads a CSV or TSV corpus from disk.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		return read(f, '\t')
	}
	return read(f, ',')
}

// ReadCSV parses a comma separated corpus. The header must name a code column
// (icd10code, code or icd10) and a description column (symptoms, description
// or display). Rows with an empty code are rejected; an empty description is
// kept and simply never matches.
func ReadCSV(r io.Reader) ([]Entry, error) {
	return read(r, ',')
}

func read(r io.Reader, comma rune) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus header: %w", err)
	}

	codeIdx := findColumn(header, codeColumns)
	if codeIdx < 0 {
		return nil, fmt.Errorf("%w: code (want one of %v)", ErrMissingColumn, codeColumns)
	}
	descIdx := findColumn(header, descriptionColumns)
	if descIdx < 0 {
		return nil, fmt.Errorf("%w: description (want one of %v)", ErrMissingColumn, descriptionColumns)
	}

	var entries []Entry
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read corpus line %d: %w", line, err)
		}

		code := cell(rec, codeIdx)
		if code == "" {
			return nil, fmt.Errorf("corpus line %d: empty code", line)
		}
		entries = append(entries, Entry{
			Code:        code,
			Description: cell(rec, descIdx),
		})
	}
	return entries, nil
}

func cell(rec []string, idx int) string {
	if idx >= len(rec) {
		return ""
	}
	return cleanCell(rec[idx])
}

func cleanCell(v string) string {
	v = strings.TrimPrefix(v, "\ufeff")
	return strings.TrimSpace(v)
}

func findColumn(header []string, candidates []string) int {
	for i, h := range header {
		h = strings.ToLower(cleanCell(h))
		for _, c := range candidates {
			if h == c {
				return i
			}
		}
	}
	return -1
}
