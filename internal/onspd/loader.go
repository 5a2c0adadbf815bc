// Package onspd loads ONS Postcode Directory extracts into the
// postcode to output-area lookup table. Generation and execution are
// separate: the loader reads, filters and builds idempotent upsert
// statements; issuing them is left to the store.
package onspd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// BatchSize is the number of rows per generated insert statement.
const BatchSize = 2000

// ONSPD column positions (Nov 2025 layout):
// col 2 pcds (formatted postcode), col 16 ctry25cd (country code),
// col 49 oa21cd (2021 Output Area code).
const (
	pcdsColumn    = 2
	countryColumn = 16
	oa21Column    = 49
)

// englandWales is the admitted country-code set. Scotland (S92000003)
// and Northern Ireland (N92000002) are excluded.
var englandWales = map[string]struct{}{
	"E92000001": {}, // England
	"W92000004": {}, // Wales
}

// deniedOutcodes are Scotland, Northern Ireland, Channel Islands and
// Isle of Man areas. The country-code column is the authoritative
// filter; this denylist fails fast before reading anything.
var deniedOutcodes = map[string]struct{}{
	"AB": {}, "DD": {}, "DG": {}, "EH": {}, "FK": {}, "G": {}, "HS": {},
	"IV": {}, "KA": {}, "KW": {}, "KY": {}, "ML": {}, "PA": {}, "PH": {},
	"TD": {}, "BT": {}, "GY": {}, "JE": {}, "IM": {}, "ZE": {},
}

const csvFilePattern = "ONSPD_NOV_2025_UK_%s.csv"

// Row is one admitted lookup row. Postcode has single quotes escaped so
// it is safe to embed in a generated insert statement.
type Row struct {
	Postcode string
	OA21Code string
}

// Loader reads ONSPD extracts from a directory.
type Loader struct {
	csvDir string
}

// NewLoader creates a loader reading extracts from csvDir.
func NewLoader(csvDir string) *Loader {
	return &Loader{csvDir: csvDir}
}

// ValidateOutcode normalizes an outcode and rejects non-target
// jurisdictions before any work is done.
func ValidateOutcode(outcode string) (string, error) {
	outcode = strings.ToUpper(strings.TrimSpace(outcode))
	if outcode == "" {
		return "", fmt.Errorf("outcode is empty")
	}
	if _, denied := deniedOutcodes[outcode]; denied {
		return "", fmt.Errorf("outcode %s is Scotland/NI/CI — do not load", outcode)
	}
	return outcode, nil
}

// Load streams the extract for an outcode and returns the admitted rows.
// The file is decoded from Windows-1252 and read in a single pass, one
// row at a time. Rows outside England and Wales, and rows with a blank
// postcode or OA code, are dropped.
func (l *Loader) Load(outcode string) ([]Row, error) {
	outcode, err := ValidateOutcode(outcode)
	if err != nil {
		return nil, err
	}

	csvPath := filepath.Join(l.csvDir, fmt.Sprintf(csvFilePattern, outcode))
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ONSPD CSV: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(transform.NewReader(file, charmap.Windows1252.NewDecoder()))
	reader.FieldsPerRecord = -1

	// Skip header row.
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if len(record) <= oa21Column {
			continue
		}

		if _, ok := englandWales[record[countryColumn]]; !ok {
			continue
		}

		postcode := strings.TrimSpace(record[pcdsColumn])
		oa21 := strings.TrimSpace(record[oa21Column])
		if postcode == "" || oa21 == "" {
			continue
		}

		// Standard postcodes never contain apostrophes; escaping is a
		// safety net for the generated SQL.
		postcode = strings.ReplaceAll(postcode, "'", "''")

		rows = append(rows, Row{Postcode: postcode, OA21Code: oa21})
	}

	return rows, nil
}

// Batches partitions rows into slices of at most size, preserving order
// and covering every row exactly once.
func Batches(rows []Row, size int) [][]Row {
	if size <= 0 {
		size = BatchSize
	}
	var batches [][]Row
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[i:end])
	}
	return batches
}

// BuildUpsert generates one idempotent insert statement for a batch.
// Conflicts on the postcode primary key are ignored, so re-running a
// load is safe.
func BuildUpsert(batch []Row) string {
	values := make([]string, 0, len(batch))
	for _, row := range batch {
		values = append(values, fmt.Sprintf("('%s','%s')", row.Postcode, row.OA21Code))
	}
	return fmt.Sprintf(
		"INSERT INTO postcode_oa_lookup (postcode, oa21_code) VALUES\n  %s\nON CONFLICT (postcode) DO NOTHING;",
		strings.Join(values, ",\n  "))
}

// Statements generates the full batch of upsert statements for a load.
func Statements(rows []Row) []string {
	batches := Batches(rows, BatchSize)
	statements := make([]string, 0, len(batches))
	for _, batch := range batches {
		statements = append(statements, BuildUpsert(batch))
	}
	return statements
}

// VerifySQL returns the count query to run after all batches execute.
func VerifySQL(outcode string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM postcode_oa_lookup WHERE postcode LIKE '%s%%'", outcode)
}
