package contract

import (
	"fmt"
	"strings"
	"time"
)

// Scale is the fixed-point scale applied to strike, limit and tick
// thresholds. A value of 12.5 index points is stored as 125000.
const Scale = 10_000

// OptionType enumerates the supported payout directions.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Location identifies one observation site, either by weather station
// identifier or by coordinates.
type Location struct {
	StationID string  `json:"station_id,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Terms captures the parametric payoff definition of one contract. Terms are
// immutable after initialization.
type Terms struct {
	DatasetID     string     `json:"dataset_id"`
	Option        OptionType `json:"option"`
	Locations     []Location `json:"locations"`
	CoverageStart time.Time  `json:"coverage_start"`
	CoverageEnd   time.Time  `json:"coverage_end"`
	Strike        int64      `json:"strike"`
	Limit         int64      `json:"limit"`
	Tick          int64      `json:"tick"`
}

// Validate checks the terms for structural soundness.
func (t Terms) Validate() error {
	if strings.TrimSpace(t.DatasetID) == "" {
		return fmt.Errorf("dataset_id is required")
	}
	switch t.Option {
	case OptionCall, OptionPut:
	default:
		return fmt.Errorf("option must be CALL or PUT, got %q", t.Option)
	}
	if len(t.Locations) == 0 {
		return fmt.Errorf("at least one location is required")
	}
	for i, loc := range t.Locations {
		if loc.StationID == "" && loc.Latitude == 0 && loc.Longitude == 0 {
			return fmt.Errorf("location %d is empty", i)
		}
	}
	if t.CoverageStart.IsZero() || t.CoverageEnd.IsZero() {
		return fmt.Errorf("coverage window is required")
	}
	if !t.CoverageEnd.After(t.CoverageStart) {
		return fmt.Errorf("coverage_end must follow coverage_start")
	}
	if t.Strike < 0 || t.Limit < 0 || t.Tick < 0 {
		return fmt.Errorf("strike, limit and tick must be non-negative")
	}
	return nil
}

func cloneTerms(t Terms) Terms {
	t.Locations = append([]Location(nil), t.Locations...)
	return t
}
