// Package portfolio builds and validates analysis requests before they are
// submitted to the remote service.
package portfolio

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mzoughi/stockpulse/internal/protocol"
)

// ValidTimeFrequencies are the horizons the service accepts.
var ValidTimeFrequencies = []string{"1D", "1W", "1M", "3M", "6M", "1Y"}

// DefaultTimeFrequency is applied when the caller leaves the horizon empty.
const DefaultTimeFrequency = "1M"

// requestSchema mirrors the service's own request validation so obviously
// bad payloads are rejected before a connection is opened. Cross-field
// rules (allocation sum, duplicate symbols) are checked in Go below.
const requestSchema = `{
	"type": "object",
	"required": ["user_id", "portfolio_data", "time_frequency"],
	"properties": {
		"user_id": {"type": "integer", "minimum": 1},
		"time_frequency": {"type": "string", "enum": ["1D", "1W", "1M", "3M", "6M", "1Y"]},
		"analysis_type": {"type": "string"},
		"portfolio_data": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["symbol", "allocation"],
				"properties": {
					"symbol": {"type": "string", "minLength": 1, "maxLength": 10},
					"allocation": {"type": "number", "minimum": 0, "maximum": 100}
				}
			}
		}
	}
}`

// ValidationError reports why a request payload was rejected locally.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid analysis request: %s", strings.Join(e.Errors, "; "))
}

// NewRequest normalizes and validates an analysis request. Symbols are
// upper-cased the way the service stores them.
func NewRequest(userID int, positions []protocol.Position, timeFrequency string) (protocol.AnalysisRequest, error) {
	if timeFrequency == "" {
		timeFrequency = DefaultTimeFrequency
	}

	normalized := make([]protocol.Position, len(positions))
	for i, p := range positions {
		normalized[i] = protocol.Position{
			Symbol:     strings.ToUpper(strings.TrimSpace(p.Symbol)),
			Allocation: p.Allocation,
		}
	}

	req := protocol.AnalysisRequest{
		UserID:        userID,
		PortfolioData: normalized,
		TimeFrequency: timeFrequency,
		AnalysisType:  "portfolio",
	}

	if err := Validate(req); err != nil {
		return protocol.AnalysisRequest{}, err
	}
	return req, nil
}

// Validate checks a request against the service's rules: schema shape,
// allocations summing to ~100%, and no duplicate symbols.
func Validate(req protocol.AnalysisRequest) error {
	schemaLoader := gojsonschema.NewStringLoader(requestSchema)
	documentLoader := gojsonschema.NewGoLoader(req)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	var msgs []string
	if !result.Valid() {
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
	}

	var total float64
	seen := make(map[string]bool, len(req.PortfolioData))
	for _, p := range req.PortfolioData {
		total += p.Allocation
		if seen[p.Symbol] {
			msgs = append(msgs, fmt.Sprintf("duplicate symbol: %s", p.Symbol))
		}
		seen[p.Symbol] = true
	}
	// The service tolerates rounding: the sum must land within 99-101.
	if len(req.PortfolioData) > 0 && (total < 99.0 || total > 101.0) {
		msgs = append(msgs, fmt.Sprintf("allocations must sum to ~100%%, got %.1f%%", total))
	}

	if len(msgs) > 0 {
		return &ValidationError{Errors: msgs}
	}
	return nil
}

// ParseHolding parses a "SYMBOL=ALLOCATION" argument as accepted by the CLI.
func ParseHolding(arg string) (protocol.Position, error) {
	sym, alloc, ok := strings.Cut(arg, "=")
	if !ok {
		return protocol.Position{}, fmt.Errorf("holding %q: want SYMBOL=ALLOCATION", arg)
	}
	var pct float64
	if _, err := fmt.Sscanf(strings.TrimSpace(alloc), "%f", &pct); err != nil {
		return protocol.Position{}, fmt.Errorf("holding %q: bad allocation: %w", arg, err)
	}
	return protocol.Position{Symbol: strings.TrimSpace(sym), Allocation: pct}, nil
}
