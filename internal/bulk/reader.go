// Package bulk reads document lists for bulk reconciliation passes.
package bulk

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/wilfranr/control-id-miid/internal/errors"
)

// documentColumns are the header titles recognized as the document column
var documentColumns = []string{"documento", "document", "documento_identidad"}

// ReadDocuments returns the documents listed in path, trimmed and without
// duplicates, in file order. Supported formats are .xlsx, .csv and .txt.
func ReadDocuments(path string) ([]string, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(path)
	case ".csv", ".txt":
		rows, err = readDelimited(path)
	default:
		return nil, errors.Newf("unsupported document list format %q", ext).
			Component("bulk").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	if err != nil {
		return nil, err
	}
	return extract(rows), nil
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fileError(err, path, errors.CategoryFileIO)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.Newf("workbook has no sheets").
			Component("bulk").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fileError(err, path, errors.CategoryFileParsing)
	}
	return rows, nil
}

func readDelimited(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fileError(err, path, errors.CategoryFileIO)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		r.Comma = sniffComma(file)
	}

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fileError(err, path, errors.CategoryFileParsing)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// sniffComma picks ';' for spreadsheets exported with a semicolon
// separator and rewinds file.
func sniffComma(file *os.File) rune {
	defer file.Seek(0, io.SeekStart) //nolint:errcheck // reader fails on the next read anyway
	buf := make([]byte, 512)
	n, _ := file.Read(buf)
	line, _, _ := strings.Cut(string(buf[:n]), "\n")
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}

// extract selects the document column, drops a header row and
// normalizes the values.
func extract(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}

	col := 0
	header := false
	for i, title := range rows[0] {
		if isDocumentColumn(title) {
			col, header = i, true
			break
		}
	}
	if !header && len(rows[0]) > 0 && !isNumeric(normalize(rows[0][0])) {
		header = true
	}
	if header {
		rows = rows[1:]
	}

	seen := make(map[string]struct{}, len(rows))
	documents := make([]string, 0, len(rows))
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		doc := normalize(row[col])
		if doc == "" {
			continue
		}
		if _, dup := seen[doc]; dup {
			continue
		}
		seen[doc] = struct{}{}
		documents = append(documents, doc)
	}
	return documents
}

func isDocumentColumn(title string) bool {
	return slices.Contains(documentColumns, strings.ToLower(normalize(title)))
}

// normalize trims a cell and removes the ".0" suffix spreadsheets add to
// numbers stored as floats.
func normalize(v string) string {
	v = strings.TrimSpace(strings.TrimPrefix(v, "\ufeff"))
	if trimmed, ok := strings.CutSuffix(v, ".0"); ok && isNumeric(trimmed) {
		return trimmed
	}
	return v
}

func isNumeric(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func fileError(err error, path string, category errors.ErrorCategory) error {
	return errors.New(err).
		Component("bulk").
		Category(category).
		Context("path", path).
		Build()
}
