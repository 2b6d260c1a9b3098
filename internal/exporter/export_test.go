package exporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"keyprobe/internal/core/validator"
	"keyprobe/internal/keystore"
)

func sampleRecords() []keystore.Record {
	return []keystore.Record{
		{
			Key:    "sk-valid",
			Status: keystore.StatusDone,
			Outcome: &validator.Outcome{
				Kind: validator.KindConfirmed, Key: "sk-valid", Proxy: "http://p:1",
				Phase: validator.PhaseSucceeded, Verdict: validator.VerdictValid,
				Account: &validator.Account{
					AccessUntil:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
					HardLimitUSD: 120,
					UsageUSD:     2.5,
					PlanTitle:    "Pay-as-you-go",
					PlanID:       "payg",
					Models:       validator.ModelTiers{Top: []string{"gpt-4"}, Mid: []string{"gpt-3.5-turbo", "text-davinci-003"}},
				},
			},
		},
		{Key: "sk-new", Status: keystore.StatusNew},
	}
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF}) {
		t.Error("CSV export must start with a UTF-8 BOM")
	}
	rows, err := csv.NewReader(bytes.NewReader(buf.Bytes()[3:])).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	valid := rows[1]
	if valid[0] != "sk-valid" || valid[5] != "valid" || valid[8] != "2.5" || valid[9] != "Pay-as-you-go: payg" {
		t.Errorf("unexpected row: %v", valid)
	}
	if valid[11] != "gpt-3.5-turbo text-davinci-003" {
		t.Errorf("unexpected mid tier column: %q", valid[11])
	}
	if rows[2][1] != "new" || rows[2][3] != "" {
		t.Errorf("unexpected row for unqueried key: %v", rows[2])
	}
}

func TestWrite_JSONAndYAML(t *testing.T) {
	var jbuf bytes.Buffer
	if err := Write(&jbuf, FormatJSON, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(jbuf.Bytes(), &decoded); err != nil || len(decoded) != 2 {
		t.Fatalf("invalid JSON export: %v", err)
	}

	var ybuf bytes.Buffer
	if err := Write(&ybuf, FormatYAML, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	var ydecoded []map[string]interface{}
	if err := yaml.Unmarshal(ybuf.Bytes(), &ydecoded); err != nil || len(ydecoded) != 2 {
		t.Fatalf("invalid YAML export: %v", err)
	}
	if !strings.Contains(ybuf.String(), "usage_usd: 2.5") {
		t.Errorf("YAML export is missing usage:\n%s", ybuf.String())
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": FormatCSV, ".JSON": FormatJSON, "yml": FormatYAML} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xlsx"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestExportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := ExportFile(path, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), "sk-valid") {
		t.Errorf("export file content unexpected: %v", err)
	}
}
