// Package advisor computes the deterministic domain output of the flow: the
// default allocation synthesized on request and the gap analysis produced by
// the analyze stage. Pure functions; no I/O, no randomness.
package advisor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/advisr-io/advisr/internal/session"
)

// Canonical risk bands. Free-text risk tolerance is folded onto these.
const (
	RiskConservative = "conservative"
	RiskBalanced     = "balanced"
	RiskAggressive   = "aggressive"
)

// expectedReturns holds assumed annual returns per risk band, in percent.
// Deliberately coarse; the analysis is illustrative, not a projection.
var expectedReturns = map[string]float64{
	RiskConservative: 3.5,
	RiskBalanced:     5.5,
	RiskAggressive:   7.5,
}

// RiskBand folds a free-text risk tolerance onto a canonical band.
// Unknown or empty input maps to balanced.
func RiskBand(tolerance string) string {
	t := strings.ToLower(tolerance)
	switch {
	case strings.Contains(t, "conserv"), strings.Contains(t, "low"), strings.Contains(t, "cautious"):
		return RiskConservative
	case strings.Contains(t, "aggress"), strings.Contains(t, "high"), strings.Contains(t, "growth"):
		return RiskAggressive
	default:
		return RiskBalanced
	}
}

// DefaultAllocation synthesizes an allocation from risk band and horizon.
// Used when the user asks for a recommendation instead of describing their
// own holdings. The result always sums to exactly 100.
func DefaultAllocation(riskTolerance string, horizonYears int) map[string]float64 {
	var stocks, bonds, cash float64
	switch RiskBand(riskTolerance) {
	case RiskConservative:
		stocks, bonds, cash = 30, 50, 20
	case RiskAggressive:
		stocks, bonds, cash = 80, 15, 5
	default:
		stocks, bonds, cash = 60, 30, 10
	}

	// Long horizons can carry more equity risk; short ones less.
	switch {
	case horizonYears >= 15:
		shift := math.Min(10, bonds)
		stocks += shift
		bonds -= shift
	case horizonYears > 0 && horizonYears <= 3:
		shift := math.Min(10, stocks)
		stocks -= shift
		cash += shift
	}

	return map[string]float64{"stocks": stocks, "bonds": bonds, "cash": cash}
}

// Analyze produces the gap analysis for the analyze stage: target
// allocation for the user's risk/horizon, drift of the current allocation
// against it, and the lump sum needed today to reach the target amount.
func Analyze(goals session.Goals, portfolio session.Portfolio) *session.Analysis {
	band := RiskBand(goals.RiskTolerance)
	ret := expectedReturns[band]
	target := DefaultAllocation(goals.RiskTolerance, goals.HorizonYears)

	drift := make(map[string]float64)
	for class, want := range target {
		drift[class] = round1(portfolio.Allocation[class] - want)
	}
	for class, have := range portfolio.Allocation {
		if _, seen := target[class]; !seen {
			drift[class] = round1(have)
		}
	}

	a := &session.Analysis{
		RiskBand:         band,
		ExpectedReturn:   ret,
		TargetAllocation: target,
		Drift:            drift,
	}

	if goals.TargetAmount > 0 && goals.HorizonYears > 0 {
		a.RequiredToday = math.Round(goals.TargetAmount / math.Pow(1+ret/100, float64(goals.HorizonYears)))
		a.Notes = append(a.Notes, fmt.Sprintf(
			"A lump sum of about %.0f %s today at ~%.1f%% a year could reach %.0f in %d years.",
			a.RequiredToday, currencyOr(portfolio.Currency, "USD"), ret,
			goals.TargetAmount, goals.HorizonYears))
	}

	for _, class := range sortedKeys(drift) {
		d := drift[class]
		switch {
		case d <= -10:
			a.Notes = append(a.Notes, fmt.Sprintf("%s is %.0f points below the %s target.", class, -d, band))
		case d >= 10:
			a.Notes = append(a.Notes, fmt.Sprintf("%s is %.0f points above the %s target.", class, d, band))
		}
	}

	return a
}

func currencyOr(currency, fallback string) string {
	if currency == "" {
		return fallback
	}
	return currency
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
