package histdb

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/johnayoung/go-history-intelligence/internal/models"
)

// Export formats accepted by ExportCutoffs.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// csvHeader fixes the CSV column order.
var csvHeader = []string{
	"market_tag",
	"cutoff_date",
	"discovery_date",
	"precision_hours",
	"exchange",
	"primary_asset",
	"secondary_asset",
}

// exportRecords renders a snapshot in the requested format. Both store
// implementations share this so exports stay byte-identical across
// backends.
func exportRecords(records map[string]*models.CutoffRecord, format string) (string, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return "", NewStorageError("export", "", err)
		}
		return string(data), nil

	case FormatCSV:
		var buf strings.Builder
		w := csv.NewWriter(&buf)
		if err := w.Write(csvHeader); err != nil {
			return "", NewStorageError("export", "", err)
		}
		for _, tag := range sortedTags(records) {
			r := records[tag]
			row := []string{
				r.MarketTag,
				r.CutoffDate.UTC().Format(time.RFC3339),
				r.DiscoveryDate.UTC().Format(time.RFC3339),
				strconv.Itoa(r.PrecisionHours),
				r.Exchange,
				r.PrimaryAsset,
				r.SecondaryAsset,
			}
			if err := w.Write(row); err != nil {
				return "", NewStorageError("export", "", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", NewStorageError("export", "", err)
		}
		return buf.String(), nil

	default:
		return "", NewStorageError("export", "", fmt.Errorf("unsupported export format %q", format))
	}
}

// checkIntegrity scans a snapshot for invariant violations. A record may
// contribute more than one issue.
func checkIntegrity(records map[string]*models.CutoffRecord) *IntegrityReport {
	report := &IntegrityReport{IsValid: true}

	for _, tag := range sortedTags(records) {
		r := records[tag]

		if !models.IsValidMarketTag(r.MarketTag) {
			report.Issues = append(report.Issues, IntegrityIssue{
				MarketTag: tag,
				Field:     "market_tag",
				Message:   fmt.Sprintf("malformed market tag %q", r.MarketTag),
			})
		}
		if r.CutoffDate.After(r.DiscoveryDate) {
			report.Issues = append(report.Issues, IntegrityIssue{
				MarketTag: tag,
				Field:     "cutoff_date",
				Message: fmt.Sprintf("cutoff date %s is after discovery date %s",
					r.CutoffDate.UTC().Format(time.RFC3339), r.DiscoveryDate.UTC().Format(time.RFC3339)),
			})
		}
		if r.PrecisionHours <= 0 {
			report.Issues = append(report.Issues, IntegrityIssue{
				MarketTag: tag,
				Field:     "precision_hours",
				Message:   fmt.Sprintf("precision must be positive, got %d", r.PrecisionHours),
			})
		}
	}

	report.IsValid = len(report.Issues) == 0
	return report
}

// computeStats derives the record-level portion of DatabaseStats from a
// snapshot; file size and backup counts are filled in by the store.
func computeStats(records map[string]*models.CutoffRecord) *DatabaseStats {
	stats := &DatabaseStats{
		TotalCutoffs: len(records),
		Exchanges:    make(map[string]int),
	}
	for _, r := range records {
		stats.Exchanges[r.Exchange]++
	}
	return stats
}

// sortedTags returns the snapshot's keys in lexical order for
// deterministic exports and reports.
func sortedTags(records map[string]*models.CutoffRecord) []string {
	tags := make([]string, 0, len(records))
	for tag := range records {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// cloneRecords deep-copies a snapshot so readers can never mutate store
// state through returned maps.
func cloneRecords(records map[string]*models.CutoffRecord) map[string]*models.CutoffRecord {
	out := make(map[string]*models.CutoffRecord, len(records))
	for tag, r := range records {
		out[tag] = r.Clone()
	}
	return out
}
