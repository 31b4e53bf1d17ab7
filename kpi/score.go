package kpi

import (
	"math"
	"strconv"
	"strings"
)

// OpportunityScore is round(100 * flagged / enabled) over the enabled
// indicators, halves to even. It reports false when nothing is enabled.
func OpportunityScore(results []Result) (int, bool) {
	enabled, flagged := 0, 0
	for _, r := range results {
		if !r.Enabled {
			continue
		}
		enabled++
		if r.Flag {
			flagged++
		}
	}
	if enabled == 0 {
		return 0, false
	}
	return int(math.RoundToEven(100 * float64(flagged) / float64(enabled))), true
}

// =============================================================================
// DISCUSSION TARGETS
// =============================================================================

// DefaultTarget is used when a submitted target is missing or not a number.
const DefaultTarget = 50

// Targets are the scores an adviser wants to reach with a client.
type Targets struct {
	Suitability int `json:"suitability"`
	Opportunity int `json:"opportunity"`
	Readiness   int `json:"readiness"`
}

// DefaultTargets returns every target at DefaultTarget.
func DefaultTargets() Targets {
	return Targets{Suitability: DefaultTarget, Opportunity: DefaultTarget, Readiness: DefaultTarget}
}

// ClampTarget parses a submitted target, clamps it to 0..100 and rounds
// it to the nearest ten, halves to even (25 gives 20, 35 gives 40).
func ClampTarget(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		n = DefaultTarget
	}
	n = min(max(n, 0), 100)
	return int(math.RoundToEven(float64(n)/10) * 10)
}
