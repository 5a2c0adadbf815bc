package onspd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// onspdRow builds a full-width ONSPD record with the three columns we
// care about populated.
func onspdRow(postcode, country, oa21 string) string {
	fields := make([]string, 50)
	fields[pcdsColumn] = postcode
	fields[countryColumn] = country
	fields[oa21Column] = oa21
	return strings.Join(fields, ",")
}

func writeExtract(t *testing.T, outcode string, rows ...string) *Loader {
	t.Helper()
	dir := t.TempDir()

	header := strings.Join(make([]string, 50), ",")
	content := header + "\n" + strings.Join(rows, "\n") + "\n"

	path := filepath.Join(dir, fmt.Sprintf(csvFilePattern, outcode))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write extract: %v", err)
	}
	return NewLoader(dir)
}

func TestLoadFiltersJurisdiction(t *testing.T) {
	loader := writeExtract(t, "WF",
		onspdRow("WF12 7DX", "E92000001", "E00123456"), // England
		onspdRow("CF10 1AA", "W92000004", "W00001234"), // Wales
		onspdRow("EH1 1AA", "S92000003", "S00001234"),  // Scotland
		onspdRow("BT1 1AA", "N92000002", "N00001234"),  // Northern Ireland
	)

	rows, err := loader.Load("WF")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("expected 2 admitted rows, got %d", len(rows))
	}
	for _, row := range rows {
		if strings.HasPrefix(row.Postcode, "EH") || strings.HasPrefix(row.Postcode, "BT") {
			t.Errorf("non-England/Wales row admitted: %+v", row)
		}
	}
}

func TestLoadDropsBlankFields(t *testing.T) {
	loader := writeExtract(t, "WF",
		onspdRow("WF12 7DX", "E92000001", "E00123456"),
		onspdRow("  ", "E92000001", "E00123457"),
		onspdRow("WF12 7DY", "E92000001", "   "),
		onspdRow("", "E92000001", ""),
	)

	rows, err := loader.Load("WF")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 row, got %d: %+v", len(rows), rows)
	}
}

func TestLoadEscapesQuotes(t *testing.T) {
	loader := writeExtract(t, "WF",
		onspdRow("WF1' 1AA", "E92000001", "E00123456"),
	)

	rows, err := loader.Load("WF")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rows[0].Postcode != "WF1'' 1AA" {
		t.Errorf("expected escaped quote, got %q", rows[0].Postcode)
	}
}

func TestValidateOutcodeDenylist(t *testing.T) {
	tests := []struct {
		outcode string
		wantErr bool
	}{
		{"WF", false},
		{"CH", false},
		{"LS", false},
		{"wf", false}, // normalized
		{"AB", true},  // Scotland
		{"G", true},   // Glasgow
		{"BT", true},  // Northern Ireland
		{"JE", true},  // Jersey
		{"IM", true},  // Isle of Man
		{" eh ", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.outcode, func(t *testing.T) {
			_, err := ValidateOutcode(tt.outcode)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOutcode(%q) error = %v, wantErr %v", tt.outcode, err, tt.wantErr)
			}
		})
	}
}

func TestLoadDeniedOutcodeReadsNothing(t *testing.T) {
	// No file is written for AB; a denied outcode must fail before the
	// loader ever looks for one.
	loader := NewLoader(t.TempDir())

	if _, err := loader.Load("AB"); err == nil {
		t.Fatal("expected error for denied outcode")
	}
}

func TestBatchesPartitioning(t *testing.T) {
	tests := []struct {
		n           int
		size        int
		wantBatches int
	}{
		{0, 2000, 0},
		{1, 2000, 1},
		{2000, 2000, 1},
		{2001, 2000, 2},
		{5000, 2000, 3},
		{7, 3, 3},
	}

	for _, tt := range tests {
		rows := make([]Row, tt.n)
		for i := range rows {
			rows[i] = Row{Postcode: fmt.Sprintf("WF%d", i), OA21Code: "E00000001"}
		}

		batches := Batches(rows, tt.size)
		if len(batches) != tt.wantBatches {
			t.Errorf("n=%d size=%d: expected %d batches, got %d", tt.n, tt.size, tt.wantBatches, len(batches))
			continue
		}

		total := 0
		for _, batch := range batches {
			if len(batch) > tt.size {
				t.Errorf("n=%d size=%d: batch has %d rows", tt.n, tt.size, len(batch))
			}
			total += len(batch)
		}
		if total != tt.n {
			t.Errorf("n=%d size=%d: batches cover %d rows", tt.n, tt.size, total)
		}
	}
}

func TestBuildUpsert(t *testing.T) {
	sql := BuildUpsert([]Row{
		{Postcode: "WF12 7DX", OA21Code: "E00123456"},
		{Postcode: "WF12 7DY", OA21Code: "E00123457"},
	})

	if !strings.HasPrefix(sql, "INSERT INTO postcode_oa_lookup (postcode, oa21_code) VALUES") {
		t.Errorf("unexpected statement prefix: %s", sql)
	}
	if !strings.Contains(sql, "('WF12 7DX','E00123456')") {
		t.Errorf("missing first row values: %s", sql)
	}
	if !strings.Contains(sql, "ON CONFLICT (postcode) DO NOTHING") {
		t.Errorf("statement is not idempotent: %s", sql)
	}
}

func TestStatementsRowCoverage(t *testing.T) {
	rows := make([]Row, 4100)
	for i := range rows {
		rows[i] = Row{Postcode: fmt.Sprintf("WF%04d", i), OA21Code: "E00000001"}
	}

	statements := Statements(rows)
	if len(statements) != 3 {
		t.Fatalf("expected ceil(4100/2000)=3 statements, got %d", len(statements))
	}

	total := 0
	for _, s := range statements {
		total += strings.Count(s, "('WF")
	}
	if total != 4100 {
		t.Errorf("statements cover %d rows, want 4100", total)
	}
}

func TestVerifySQL(t *testing.T) {
	got := VerifySQL("WF")
	want := "SELECT COUNT(*) FROM postcode_oa_lookup WHERE postcode LIKE 'WF%'"
	if got != want {
		t.Errorf("VerifySQL = %q, want %q", got, want)
	}
}
