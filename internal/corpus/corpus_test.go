package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	entries, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("Default returned no entries")
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		if e.Code == "" {
			t.Errorf("entry with empty code: %+v", e)
		}
		if seen[e.Code] {
			t.Errorf("duplicate code %q", e.Code)
		}
		seen[e.Code] = true
	}
	for _, code := range []string{"R07.9", "I21.9", "J18.9"} {
		if !seen[code] {
			t.Errorf("default corpus missing %s", code)
		}
	}
}

func TestReadCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    []Entry
		wantErr error
	}{
		{
			name: "original column names",
			in:   "icd10code,symptoms\nR05.9,cough\nI10,\"high blood pressure, hypertension\"\n",
			want: []Entry{{Code: "R05.9", Description: "cough"}, {Code: "I10", Description: "high blood pressure, hypertension"}},
		},
		{
			name: "reversed and renamed columns with BOM",
			in:   "\ufeffDisplay,Code\nfever,R50.9\n",
			want: []Entry{{Code: "R50.9", Description: "fever"}},
		},
		{
			name: "empty description kept",
			in:   "code,description\nR52,\n",
			want: []Entry{{Code: "R52", Description: ""}},
		},
		{
			name:    "no header",
			in:      "",
			wantErr: ErrNoHeader,
		},
		{
			name:    "no code column",
			in:      "name,symptoms\nx,y\n",
			wantErr: ErrMissingColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ReadCSV(strings.NewReader(tt.in))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadCSV: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d (%v)", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entry[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReadCSV_EmptyCode(t *testing.T) {
	t.Parallel()

	_, err := ReadCSV(strings.NewReader("code,description\nR05.9,cough\n,orphan\n"))
	if err == nil {
		t.Fatal("expected error for empty code")
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("error = %q, want line number 3", err)
	}
}

func TestLoadFile_TSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corpus.tsv")
	if err := os.WriteFile(path, []byte("code\tdescription\nJ18.9\tpneumonia, cough\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(got) != 1 || got[0].Description != "pneumonia, cough" {
		t.Errorf("got %+v", got)
	}
}
