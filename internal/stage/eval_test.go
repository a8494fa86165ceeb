package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/advisr-io/advisr/internal/session"
)

func TestAllocationComplete(t *testing.T) {
	tests := []struct {
		name  string
		alloc map[string]float64
		want  bool
	}{
		{"nil", nil, false},
		{"empty", map[string]float64{}, false},
		{"exact 100", map[string]float64{"stocks": 60, "bonds": 30, "cash": 10}, true},
		{"within tolerance low", map[string]float64{"stocks": 58, "bonds": 40}, true},
		{"within tolerance high", map[string]float64{"stocks": 62, "bonds": 40}, true},
		{"sum 90", map[string]float64{"stocks": 50, "bonds": 40}, false},
		{"sum 110", map[string]float64{"stocks": 70, "bonds": 40}, false},
		{"single class", map[string]float64{"cash": 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AllocationComplete(tt.alloc))
		})
	}
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("user@example.com"))
	assert.True(t, ValidEmail("first.last+tag@sub.domain.co"))
	assert.False(t, ValidEmail(""))
	assert.False(t, ValidEmail("not-an-email"))
	assert.False(t, ValidEmail("user@"))
	assert.False(t, ValidEmail("@example.com"))
	assert.False(t, ValidEmail("user@example"))
}

func TestValidCurrency(t *testing.T) {
	assert.True(t, ValidCurrency("USD"))
	assert.True(t, ValidCurrency("eur"))
	assert.False(t, ValidCurrency(""))
	assert.False(t, ValidCurrency("US"))
	assert.False(t, ValidCurrency("DOLLARS"))
	assert.False(t, ValidCurrency("US1"))
}

func TestMissingAndCompleted_GoalsStage(t *testing.T) {
	table := DefaultTable()
	s := &session.Session{}

	assert.Equal(t,
		[]Slot{SlotGoalType, SlotRiskTolerance, SlotLiquidityNeed},
		Missing(table, session.StageGoals, s))
	assert.Empty(t, Completed(table, session.StageGoals, s))
	assert.False(t, IsComplete(table, session.StageGoals, s))

	s.Goals.GoalType = "retirement"
	assert.Equal(t,
		[]Slot{SlotRiskTolerance, SlotLiquidityNeed},
		Missing(table, session.StageGoals, s))
	assert.Equal(t, []Slot{SlotGoalType}, Completed(table, session.StageGoals, s))

	s.Goals.RiskTolerance = "balanced"
	s.Goals.LiquidityNeed = "low"
	assert.Empty(t, Missing(table, session.StageGoals, s))
	assert.True(t, IsComplete(table, session.StageGoals, s))
}

func TestPortfolioStage_ScenarioFullStatement(t *testing.T) {
	// "60% stocks, 30% bonds, 10% cash, USD" starting from an empty
	// portfolio yields allocation and currency complete.
	table := DefaultTable()
	s := &session.Session{}

	MergePortfolio(s, PortfolioFacts{
		Allocation: map[string]float64{"stocks": 60, "bonds": 30, "cash": 10},
		Currency:   "USD",
	})

	completed := Completed(table, session.StagePortfolio, s)
	assert.Contains(t, completed, SlotAllocation)
	assert.Contains(t, completed, SlotCurrency)
	assert.True(t, IsComplete(table, session.StagePortfolio, s))
}

func TestPortfolioStage_OptionalSlotsNeverBlock(t *testing.T) {
	table := DefaultTable()
	s := &session.Session{
		Portfolio: session.Portfolio{
			Allocation: map[string]float64{"stocks": 100},
			Currency:   "USD",
		},
	}

	// No holdings, no sectors: still complete.
	assert.True(t, IsComplete(table, session.StagePortfolio, s))

	// Filled optional slots show up in the completed list.
	s.Portfolio.Holdings = []string{"AAPL"}
	assert.Contains(t, Completed(table, session.StagePortfolio, s), SlotHoldings)
}

func TestIncompleteAllocation_NotCounted(t *testing.T) {
	table := DefaultTable()
	s := &session.Session{
		Portfolio: session.Portfolio{
			Allocation: map[string]float64{"stocks": 50, "bonds": 40},
			Currency:   "USD",
		},
	}

	assert.False(t, IsComplete(table, session.StagePortfolio, s))
	assert.Equal(t, []Slot{SlotAllocation}, Missing(table, session.StagePortfolio, s))
}

func TestEmailStage_InvalidValueNotFilled(t *testing.T) {
	table := DefaultTable()
	s := &session.Session{Contact: session.Contact{Email: "not-an-email"}}

	assert.False(t, IsComplete(table, session.StageEmailCapture, s))

	s.Contact.Email = "user@example.com"
	assert.True(t, IsComplete(table, session.StageEmailCapture, s))
}

func TestUnknownStage(t *testing.T) {
	table := DefaultTable()
	s := &session.Session{}

	assert.Nil(t, Missing(table, "bogus", s))
	assert.Nil(t, Completed(table, "bogus", s))
	assert.False(t, IsComplete(table, "bogus", s))
}

func TestStagesWithoutRequiredSlots_AlwaysComplete(t *testing.T) {
	table := DefaultTable()
	s := &session.Session{}

	assert.True(t, IsComplete(table, session.StageExplain, s))
	assert.True(t, IsComplete(table, session.StageCTA, s))
	assert.True(t, IsComplete(table, session.StageEnd, s))
}

func TestSlotStrings(t *testing.T) {
	assert.Nil(t, SlotStrings(nil))
	assert.Equal(t, []string{"allocation", "email"}, SlotStrings([]Slot{SlotAllocation, SlotEmail}))
}
