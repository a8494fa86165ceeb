package stage

import (
	"slices"
	"strings"

	"github.com/advisr-io/advisr/internal/session"
)

// Merge semantics: field-level last-write-wins, applied explicitly per
// field so the rules stay enforceable and testable. An extraction that
// omits a field never erases what an earlier turn collected; merging an
// empty result is a no-op.
//
// Allocations are the one exception to plain last-write-wins: a complete
// allocation (summing to 100 within tolerance) always replaces whatever
// came before, while a partial one merges additively and never overwrites
// an already-complete allocation.

// MergeProfile applies qualify-stage facts. Returns the slots that received
// a value this turn.
func MergeProfile(s *session.Session, f ProfileFacts) []Slot {
	var changed []Slot
	if v := normalize(f.InvestorType); v != "" {
		s.Profile.InvestorType = v
		changed = append(changed, SlotInvestorType)
	}
	if v := normalize(f.ExperienceLevel); v != "" {
		s.Profile.ExperienceLevel = v
		changed = append(changed, SlotExperienceLevel)
	}
	return changed
}

// MergeGoals applies goals-stage facts.
func MergeGoals(s *session.Session, f GoalFacts) []Slot {
	var changed []Slot
	if v := normalize(f.GoalType); v != "" {
		s.Goals.GoalType = v
		changed = append(changed, SlotGoalType)
	}
	if v := normalize(f.RiskTolerance); v != "" {
		s.Goals.RiskTolerance = v
		changed = append(changed, SlotRiskTolerance)
	}
	if v := normalize(f.LiquidityNeed); v != "" {
		s.Goals.LiquidityNeed = v
		changed = append(changed, SlotLiquidityNeed)
	}
	return changed
}

// MergeAmount applies amount_timeline-stage facts. Non-positive values are
// rejected rather than merged; a "target of 0" is extraction noise, not data.
func MergeAmount(s *session.Session, f AmountFacts) []Slot {
	var changed []Slot
	if f.TargetAmount != nil && *f.TargetAmount > 0 {
		s.Goals.TargetAmount = *f.TargetAmount
		changed = append(changed, SlotTargetAmount)
	}
	if f.HorizonYears != nil && *f.HorizonYears > 0 {
		s.Goals.HorizonYears = *f.HorizonYears
		changed = append(changed, SlotHorizonYears)
	}
	return changed
}

// MergePortfolio applies portfolio-stage facts. Branch signals (NoHoldings,
// WantsDefault) are not merged here; the handler interprets them first.
func MergePortfolio(s *session.Session, f PortfolioFacts) []Slot {
	var changed []Slot

	if len(f.Allocation) > 0 {
		merged := MergeAllocation(s.Portfolio.Allocation, f.Allocation)
		if !allocEqual(merged, s.Portfolio.Allocation) {
			s.Portfolio.Allocation = merged
			changed = append(changed, SlotAllocation)
		}
	}

	if ValidCurrency(f.Currency) {
		s.Portfolio.Currency = strings.ToUpper(f.Currency)
		changed = append(changed, SlotCurrency)
	}

	if len(f.Holdings) > 0 {
		added := false
		for _, h := range f.Holdings {
			h = strings.TrimSpace(h)
			if h == "" || slices.Contains(s.Portfolio.Holdings, h) {
				continue
			}
			s.Portfolio.Holdings = append(s.Portfolio.Holdings, h)
			added = true
		}
		if added {
			changed = append(changed, SlotHoldings)
		}
	}

	if len(f.Sectors) > 0 {
		if s.Portfolio.Sectors == nil {
			s.Portfolio.Sectors = make(map[string]float64, len(f.Sectors))
		}
		for k, v := range f.Sectors {
			if k = normalize(k); k != "" {
				s.Portfolio.Sectors[k] = v
			}
		}
		changed = append(changed, SlotSectors)
	}

	return changed
}

// MergeContact applies a validated email. Invalid candidates are the
// handler's concern (corrective prompt); this merge only accepts valid ones.
func MergeContact(s *session.Session, f ContactFacts) []Slot {
	email := strings.TrimSpace(f.Email)
	if !ValidEmail(email) {
		return nil
	}
	s.Contact.Email = email
	return []Slot{SlotEmail}
}

// MergeAllocation resolves an incoming allocation against the current one:
//
//   - incoming complete: replaces current, whatever its state
//   - current complete, incoming partial: current is kept
//   - both partial: union merge, incoming wins on shared keys
//
// Keys are normalized (trimmed, lowercased); inputs are not mutated.
func MergeAllocation(cur, inc map[string]float64) map[string]float64 {
	inc = normalizeAlloc(inc)
	if len(inc) == 0 {
		return cur
	}
	if AllocationComplete(inc) {
		return inc
	}
	if AllocationComplete(cur) {
		return cur
	}

	merged := make(map[string]float64, len(cur)+len(inc))
	for k, v := range cur {
		merged[k] = v
	}
	for k, v := range inc {
		merged[k] = v
	}
	return merged
}

func normalizeAlloc(m map[string]float64) map[string]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if k = normalize(k); k != "" && v >= 0 {
			out[k] = v
		}
	}
	return out
}

func allocEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// ZeroAllocation is the payload for the "no holdings yet" shortcut: a
// self-consistent all-cash allocation that satisfies completeness without
// inventing positions the user does not have.
func ZeroAllocation() map[string]float64 {
	return map[string]float64{"cash": 100}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
