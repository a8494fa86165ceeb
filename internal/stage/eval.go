package stage

import (
	"math"
	"regexp"

	"github.com/advisr-io/advisr/internal/session"
)

// AllocationTolerance is how far an allocation sum may drift from 100
// percent, in points, and still count as complete. Absorbs rounding in
// user-stated percentages.
const AllocationTolerance = 2.0

var (
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	currencyRe = regexp.MustCompile(`^[A-Za-z]{3}$`)
)

// ValidEmail reports whether s looks like a deliverable email address.
func ValidEmail(s string) bool {
	return emailRe.MatchString(s)
}

// ValidCurrency reports whether s is a 3-letter currency code.
func ValidCurrency(s string) bool {
	return currencyRe.MatchString(s)
}

// AllocationComplete reports whether the allocation is present and sums to
// 100 within AllocationTolerance.
func AllocationComplete(alloc map[string]float64) bool {
	if len(alloc) == 0 {
		return false
	}
	var sum float64
	for _, v := range alloc {
		sum += v
	}
	return math.Abs(sum-100) <= AllocationTolerance
}

// filled maps each slot to its presence check against session data. A slot
// is "filled" only by a valid value: a 90-percent allocation or a malformed
// email does not count.
var filled = map[Slot]func(*session.Session) bool{
	SlotInvestorType:    func(s *session.Session) bool { return s.Profile.InvestorType != "" },
	SlotExperienceLevel: func(s *session.Session) bool { return s.Profile.ExperienceLevel != "" },
	SlotGoalType:        func(s *session.Session) bool { return s.Goals.GoalType != "" },
	SlotTargetAmount:    func(s *session.Session) bool { return s.Goals.TargetAmount > 0 },
	SlotHorizonYears:    func(s *session.Session) bool { return s.Goals.HorizonYears > 0 },
	SlotRiskTolerance:   func(s *session.Session) bool { return s.Goals.RiskTolerance != "" },
	SlotLiquidityNeed:   func(s *session.Session) bool { return s.Goals.LiquidityNeed != "" },
	SlotAllocation:      func(s *session.Session) bool { return AllocationComplete(s.Portfolio.Allocation) },
	SlotCurrency:        func(s *session.Session) bool { return ValidCurrency(s.Portfolio.Currency) },
	SlotHoldings:        func(s *session.Session) bool { return len(s.Portfolio.Holdings) > 0 },
	SlotSectors:         func(s *session.Session) bool { return len(s.Portfolio.Sectors) > 0 },
	SlotEmail:           func(s *session.Session) bool { return ValidEmail(s.Contact.Email) },
	SlotAnalysis:        func(s *session.Session) bool { return s.Analysis != nil },
}

// Filled reports whether a single slot holds a valid value.
func Filled(slot Slot, s *session.Session) bool {
	check, ok := filled[slot]
	return ok && check(s)
}

// Missing returns the required slots of the stage that are not yet filled,
// in descriptor order. Unknown stages have nothing missing.
func Missing(t Table, id session.Stage, s *session.Session) []Slot {
	d, ok := t.Lookup(id)
	if !ok {
		return nil
	}
	var out []Slot
	for _, slot := range d.Required {
		if !Filled(slot, s) {
			out = append(out, slot)
		}
	}
	return out
}

// Completed returns the filled slots of the stage: every satisfied required
// slot plus any optional slot that happens to be filled. Optional slots
// never gate advancement but are reported in progress summaries.
func Completed(t Table, id session.Stage, s *session.Session) []Slot {
	d, ok := t.Lookup(id)
	if !ok {
		return nil
	}
	var out []Slot
	for _, slot := range d.Required {
		if Filled(slot, s) {
			out = append(out, slot)
		}
	}
	for _, slot := range d.Optional {
		if Filled(slot, s) {
			out = append(out, slot)
		}
	}
	return out
}

// IsComplete reports whether every required slot of the stage is filled.
func IsComplete(t Table, id session.Stage, s *session.Session) bool {
	d, ok := t.Lookup(id)
	if !ok {
		return false
	}
	for _, slot := range d.Required {
		if !Filled(slot, s) {
			return false
		}
	}
	return true
}

// SlotStrings converts slots to plain strings for session bookkeeping.
func SlotStrings(slots []Slot) []string {
	if len(slots) == 0 {
		return nil
	}
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = string(s)
	}
	return out
}
