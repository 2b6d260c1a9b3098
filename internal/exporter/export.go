package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"keyprobe/internal/keystore"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatYAML:
		return "application/yaml"
	default:
		return "application/json"
	}
}

var csvHeader = []string{
	"Key", "Status", "Proxy", "QueryPhase", "Error", "Verdict",
	"AccessUntil", "HardLimitUSD", "UsageUSD", "Plan", "TopModels", "MidModels", "LegacyModels", "CheckedAt",
}

// Write renders records in the given format.
func Write(w io.Writer, format Format, records []keystore.Record) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, records)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportFile writes records to path, picking the format from its extension.
func ExportFile(path string, records []keystore.Record) error {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := Write(file, format, records); err != nil {
		return err
	}
	return file.Close()
}

func writeCSV(w io.Writer, records []keystore.Record) error {
	// 写入UTF-8 BOM，确保Excel等软件能正确识别
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range records {
		row := make([]string, len(csvHeader))
		row[0] = r.Key
		row[1] = string(r.Status)
		if out := r.Outcome; out != nil {
			row[2] = out.Proxy
			row[3] = string(out.Phase)
			row[4] = out.Error
			row[5] = string(out.Verdict)
			if acc := out.Account; acc != nil {
				row[6] = acc.AccessUntil.Format(time.RFC3339)
				row[7] = strconv.FormatFloat(acc.HardLimitUSD, 'f', -1, 64)
				row[8] = strconv.FormatFloat(acc.UsageUSD, 'f', -1, 64)
				row[9] = acc.Plan()
				row[10] = strings.Join(acc.Models.Top, " ")
				row[11] = strings.Join(acc.Models.Mid, " ")
				row[12] = strings.Join(acc.Models.Legacy, " ")
			}
			if !out.CheckedAt.IsZero() {
				row[13] = out.CheckedAt.Format(time.RFC3339)
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
