// Package stage defines the conversation's stage table and the pure logic
// that drives advancement: which slots each stage requires, when a stage is
// complete, and how extracted facts merge into session data.
//
// Everything here is a pure function over session values; nothing in this
// package touches storage, the network, or the extractor. Variant flows
// (for example a collapsed goal-collection sequence) are alternative Table
// values, not alternative code paths.
package stage

import (
	"errors"
	"fmt"

	"github.com/advisr-io/advisr/internal/session"
)

// Slot names a unit of structured data a stage must collect.
type Slot string

// All slots collected across the default flow.
const (
	SlotInvestorType    Slot = "investor_type"
	SlotExperienceLevel Slot = "experience_level"
	SlotGoalType        Slot = "goal_type"
	SlotTargetAmount    Slot = "target_amount"
	SlotHorizonYears    Slot = "horizon_years"
	SlotRiskTolerance   Slot = "risk_tolerance"
	SlotLiquidityNeed   Slot = "liquidity_need"
	SlotAllocation      Slot = "allocation"
	SlotCurrency        Slot = "currency"
	SlotHoldings        Slot = "holdings"
	SlotSectors         Slot = "sectors"
	SlotEmail           Slot = "email"
	SlotAnalysis        Slot = "analysis"
)

var (
	// ErrEmptyTable indicates a table with no stages.
	ErrEmptyTable = errors.New("stage table is empty")

	// ErrDuplicateStage indicates a stage id appearing twice in a table.
	ErrDuplicateStage = errors.New("duplicate stage in table")
)

// Descriptor declares one stage: its identity, the slots that gate
// advancement, and the slots reported but never blocking.
type Descriptor struct {
	ID       session.Stage
	Required []Slot
	Optional []Slot

	// OfferOptional forces one extra prompt for optional slots before the
	// stage is declared complete, tracked via the session's OptionalOffered
	// flag. Ask once; never block on the answer.
	OfferOptional bool
}

// Table is an ordered, immutable stage sequence. Advancement walks the
// table forward one stage at a time; it is configuration, not code.
type Table struct {
	stages []Descriptor
	index  map[session.Stage]int
}

// NewTable builds a Table from descriptors in order.
func NewTable(stages ...Descriptor) (Table, error) {
	if len(stages) == 0 {
		return Table{}, ErrEmptyTable
	}
	index := make(map[session.Stage]int, len(stages))
	for i, d := range stages {
		if d.ID == "" {
			return Table{}, fmt.Errorf("stage %d has empty id", i)
		}
		if _, dup := index[d.ID]; dup {
			return Table{}, fmt.Errorf("%w: %s", ErrDuplicateStage, d.ID)
		}
		index[d.ID] = i
	}
	return Table{stages: stages, index: index}, nil
}

// MustTable is NewTable that panics on error, for package-level tables.
func MustTable(stages ...Descriptor) Table {
	t, err := NewTable(stages...)
	if err != nil {
		panic(err)
	}
	return t
}

// Initial returns the first stage in the table.
func (t Table) Initial() session.Stage {
	return t.stages[0].ID
}

// Terminal returns the last stage in the table.
func (t Table) Terminal() session.Stage {
	return t.stages[len(t.stages)-1].ID
}

// Lookup returns the descriptor for a stage.
func (t Table) Lookup(id session.Stage) (Descriptor, bool) {
	i, ok := t.index[id]
	if !ok {
		return Descriptor{}, false
	}
	return t.stages[i], true
}

// Contains reports whether the stage is part of this table.
func (t Table) Contains(id session.Stage) bool {
	_, ok := t.index[id]
	return ok
}

// Next returns the stage following id. The second return is false when id
// is terminal or unknown; advancement never wraps or skips.
func (t Table) Next(id session.Stage) (session.Stage, bool) {
	i, ok := t.index[id]
	if !ok || i == len(t.stages)-1 {
		return "", false
	}
	return t.stages[i+1].ID, true
}

// Stages returns the stage ids in table order.
func (t Table) Stages() []session.Stage {
	ids := make([]session.Stage, len(t.stages))
	for i, d := range t.stages {
		ids[i] = d.ID
	}
	return ids
}

// DefaultTable returns the full nine-stage advisory flow.
func DefaultTable() Table {
	return MustTable(
		Descriptor{
			ID:       session.StageQualify,
			Required: []Slot{SlotInvestorType},
			Optional: []Slot{SlotExperienceLevel},
		},
		Descriptor{
			ID:       session.StageGoals,
			Required: []Slot{SlotGoalType, SlotRiskTolerance, SlotLiquidityNeed},
		},
		Descriptor{
			ID:       session.StageAmountTimeline,
			Required: []Slot{SlotTargetAmount, SlotHorizonYears},
		},
		Descriptor{
			ID:            session.StagePortfolio,
			Required:      []Slot{SlotAllocation, SlotCurrency},
			Optional:      []Slot{SlotHoldings, SlotSectors},
			OfferOptional: true,
		},
		Descriptor{
			ID:       session.StageEmailCapture,
			Required: []Slot{SlotEmail},
		},
		Descriptor{
			ID:       session.StageAnalyze,
			Required: []Slot{SlotAnalysis},
		},
		Descriptor{ID: session.StageExplain},
		Descriptor{ID: session.StageCTA},
		Descriptor{ID: session.StageEnd},
	)
}
