package valuation

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionRecord is one (symbol, signed quantity) pair from the position
// source. Positive quantity is long, negative short, zero permitted.
type PositionRecord struct {
	Symbol   string
	Quantity decimal.Decimal
}

// LoadPositionsFile reads the startup position set from a delimited text
// file: one "symbol,quantity" record per line, '#' lines are comments.
// Unparseable records are skipped with a warning and collected; the load only
// fails when the file itself is unreadable.
func LoadPositionsFile(path string, logger *zap.Logger) ([]PositionRecord, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open positions file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse positions file %s: %w", path, err)
	}

	var records []PositionRecord
	var warnings []string
	for i, row := range rows {
		if len(row) != 2 {
			warnings = append(warnings, fmt.Sprintf("line %d: expected symbol,quantity", i+1))
			continue
		}
		symbol := strings.TrimSpace(row[0])
		if symbol == "" {
			warnings = append(warnings, fmt.Sprintf("line %d: empty symbol", i+1))
			continue
		}
		qty, err := decimal.NewFromString(strings.TrimSpace(row[1]))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("line %d: bad quantity %q", i+1, row[1]))
			continue
		}
		records = append(records, PositionRecord{Symbol: symbol, Quantity: qty})
	}

	for _, w := range warnings {
		logger.Warn("skipping position record", zap.String("reason", w), zap.String("file", path))
	}
	return records, warnings, nil
}
