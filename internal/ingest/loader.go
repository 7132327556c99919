package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// docPart is extracted source text with its provenance label. Plain text
// yields one part; PDFs yield one per page; tabular sources one per record.
type docPart struct {
	position string
	text     string
	tabular  bool // tabular parts are indexed whole, never re-chunked
}

// loadFile extracts text parts from a single source file, dispatching on
// extension.
func loadFile(path string) ([]docPart, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		return loadText(path)
	case ".csv":
		return loadCSV(path)
	case ".pdf":
		return loadPDF(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

func loadText(path string) ([]docPart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := normalizeText(string(data))
	if text == "" {
		return nil, fmt.Errorf("file is empty")
	}
	return []docPart{{text: text}}, nil
}

// loadCSV emits one part per record, with each field labelled by its column
// header. A row is the natural retrieval unit for tabular sources, so these
// parts bypass the character chunker.
func loadCSV(path string) ([]docPart, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv has no data rows")
	}

	header := records[0]
	// Strip a UTF-8 BOM if the file carries one.
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	parts := make([]docPart, 0, len(records)-1)
	for i, record := range records[1:] {
		var sb strings.Builder
		for j, field := range record {
			if strings.TrimSpace(field) == "" {
				continue
			}
			name := fmt.Sprintf("column %d", j+1)
			if j < len(header) && strings.TrimSpace(header[j]) != "" {
				name = strings.TrimSpace(header[j])
			}
			fmt.Fprintf(&sb, "%s: %s\n", name, strings.TrimSpace(field))
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		parts = append(parts, docPart{
			position: fmt.Sprintf("row %d", i+1),
			text:     text,
			tabular:  true,
		})
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("csv has no usable rows")
	}
	return parts, nil
}

func loadPDF(path string) ([]docPart, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var parts []docPart
	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not discard the rest.
			continue
		}
		text = normalizeText(text)
		if text == "" {
			continue
		}
		parts = append(parts, docPart{
			position: fmt.Sprintf("page %d", pageNum),
			text:     text,
		})
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no extractable text")
	}
	return parts, nil
}
