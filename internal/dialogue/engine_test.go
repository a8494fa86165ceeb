package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisr-io/advisr/internal/display"
	"github.com/advisr-io/advisr/internal/log"
	"github.com/advisr-io/advisr/internal/session"
	"github.com/advisr-io/advisr/internal/stage"
)

// mockExtractor returns whatever its fields hold. Tests mutate the fields
// between turns to script a conversation.
type mockExtractor struct {
	profile   stage.ProfileFacts
	goals     stage.GoalFacts
	amount    stage.AmountFacts
	portfolio stage.PortfolioFacts
	contact   stage.ContactFacts
	err       error
	calls     int
}

func (m *mockExtractor) ProfileFacts(context.Context, string, []string) (stage.ProfileFacts, error) {
	m.calls++
	return m.profile, m.err
}

func (m *mockExtractor) GoalFacts(context.Context, string, []string) (stage.GoalFacts, error) {
	m.calls++
	return m.goals, m.err
}

func (m *mockExtractor) AmountFacts(context.Context, string, []string) (stage.AmountFacts, error) {
	m.calls++
	return m.amount, m.err
}

func (m *mockExtractor) PortfolioFacts(context.Context, string, []string) (stage.PortfolioFacts, error) {
	m.calls++
	return m.portfolio, m.err
}

func (m *mockExtractor) ContactFacts(context.Context, string, []string) (stage.ContactFacts, error) {
	m.calls++
	return m.contact, m.err
}

type mockNotifier struct {
	mu    sync.Mutex
	turns []Turn
}

func (m *mockNotifier) Notify(turn Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
}

func (m *mockNotifier) recorded() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Turn(nil), m.turns...)
}

func newTestEngine(t *testing.T) (*Engine, *mockExtractor, *session.Store) {
	t.Helper()
	store := session.NewStore(session.StoreConfig{}, log.NewNop())
	t.Cleanup(store.Close)

	ext := &mockExtractor{}
	e, err := New(Config{Store: store, Extractor: ext, Logger: log.NewNop()})
	require.NoError(t, err)
	return e, ext, store
}

func converse(t *testing.T, e *Engine, id, message string) *Result {
	t.Helper()
	res, err := e.Converse(context.Background(), id, message)
	require.NoError(t, err)
	require.NotEmpty(t, res.DisplaySpec.Blocks)
	return res
}

func TestNewValidation(t *testing.T) {
	store := session.NewStore(session.StoreConfig{}, log.NewNop())
	t.Cleanup(store.Close)

	_, err := New(Config{Extractor: &mockExtractor{}})
	assert.ErrorIs(t, err, ErrNilStore)

	_, err = New(Config{Store: store})
	assert.ErrorIs(t, err, ErrNilExtractor)
}

func TestConverseCreatesSession(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := converse(t, e, "", "hello")

	assert.Equal(t, session.StageQualify, res.Session.Stage)
	assert.NotEmpty(t, res.Session.ID)
	assert.Equal(t, display.BlockProgress, res.DisplaySpec.Blocks[0].Type)
	assert.Equal(t, 1, res.Usage.ExtractorCalls)
}

func TestConverseFullFlow(t *testing.T) {
	e, ext, _ := newTestEngine(t)
	id := "flow-session"

	ext.profile = stage.ProfileFacts{InvestorType: "individual"}
	res := converse(t, e, id, "just me")
	assert.Equal(t, session.StageGoals, res.Session.Stage)
	assert.Contains(t, res.Session.CompletedSlots, "investor_type")

	ext.goals = stage.GoalFacts{GoalType: "retirement", RiskTolerance: "balanced", LiquidityNeed: "low"}
	res = converse(t, e, id, "retirement, balanced risk, won't need it soon")
	assert.Equal(t, session.StageAmountTimeline, res.Session.Stage)

	amount, years := 500000.0, 10
	ext.amount = stage.AmountFacts{TargetAmount: &amount, HorizonYears: &years}
	res = converse(t, e, id, "500k in 10 years")
	assert.Equal(t, session.StagePortfolio, res.Session.Stage)

	// Required slots complete, but the one-time optional prompt holds the
	// stage for exactly one more turn.
	ext.portfolio = stage.PortfolioFacts{
		Allocation: map[string]float64{"stocks": 60, "bonds": 30, "cash": 10},
		Currency:   "USD",
	}
	res = converse(t, e, id, "60% stocks, 30% bonds, 10% cash, USD")
	assert.Equal(t, session.StagePortfolio, res.Session.Stage)
	assert.Empty(t, res.Session.MissingSlots)

	ext.portfolio.Holdings = []string{"AAPL"}
	res = converse(t, e, id, "I hold some AAPL")
	assert.Equal(t, session.StageEmailCapture, res.Session.Stage)
	assert.Contains(t, res.Session.Portfolio.Holdings, "AAPL")

	ext.contact = stage.ContactFacts{Email: "jane@example.com"}
	res = converse(t, e, id, "jane@example.com")
	assert.Equal(t, session.StageAnalyze, res.Session.Stage)

	res = converse(t, e, id, "go ahead")
	assert.Equal(t, session.StageExplain, res.Session.Stage)
	require.NotNil(t, res.Session.Analysis)
	assert.Equal(t, "balanced", res.Session.Analysis.RiskBand)
	assert.InDelta(t, 58543, res.Session.Analysis.RequiredToday, 1)

	res = converse(t, e, id, "ok")
	assert.Equal(t, session.StageCTA, res.Session.Stage)

	res = converse(t, e, id, "ok")
	assert.Equal(t, session.StageEnd, res.Session.Stage)
	var sawActions bool
	for _, b := range res.DisplaySpec.Blocks {
		if b.Type == display.BlockActions {
			sawActions = true
		}
	}
	assert.True(t, sawActions)

	// Terminal stage never advances or regresses.
	res = converse(t, e, id, "anything")
	assert.Equal(t, session.StageEnd, res.Session.Stage)
}

func TestConverseAdvancesOneStageAtATime(t *testing.T) {
	e, ext, _ := newTestEngine(t)
	id := "one-step"

	order := e.Table().Stages()
	pos := func(s session.Stage) int {
		for i, v := range order {
			if v == s {
				return i
			}
		}
		return -1
	}

	// Even with every fact available at once, each turn moves at most one
	// stage forward.
	amount, years := 100000.0, 5
	ext.profile = stage.ProfileFacts{InvestorType: "individual"}
	ext.goals = stage.GoalFacts{GoalType: "house", RiskTolerance: "aggressive", LiquidityNeed: "medium"}
	ext.amount = stage.AmountFacts{TargetAmount: &amount, HorizonYears: &years}
	ext.portfolio = stage.PortfolioFacts{NoHoldings: true}
	ext.contact = stage.ContactFacts{Email: "a@b.co"}

	prev := 0
	for range 12 {
		res := converse(t, e, id, "everything at once")
		cur := pos(res.Session.Stage)
		require.GreaterOrEqual(t, cur, 0)
		assert.LessOrEqual(t, cur-prev, 1)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
	assert.Equal(t, session.StageEnd, order[prev])
}

func TestConversePortfolioNoHoldingsShortcut(t *testing.T) {
	e, ext, store := newTestEngine(t)
	id := seedPortfolioStage(t, store)

	ext.portfolio = stage.PortfolioFacts{NoHoldings: true}
	res := converse(t, e, id, "I haven't invested yet")

	assert.Equal(t, session.StageEmailCapture, res.Session.Stage)
	assert.Equal(t, map[string]float64{"cash": 100}, res.Session.Portfolio.Allocation)
	assert.Equal(t, "USD", res.Session.Portfolio.Currency)
}

func TestConversePortfolioNoHoldingsKeywordFallback(t *testing.T) {
	e, ext, store := newTestEngine(t)
	id := seedPortfolioStage(t, store)

	// Extractor outage: the keyword fallback still catches the shortcut.
	ext.err = errors.New("model unavailable")
	res := converse(t, e, id, "I haven't invested yet")

	assert.Equal(t, session.StageEmailCapture, res.Session.Stage)
	assert.Equal(t, map[string]float64{"cash": 100}, res.Session.Portfolio.Allocation)
}

func TestConversePortfolioDefaultRequest(t *testing.T) {
	e, ext, store := newTestEngine(t)
	id := seedPortfolioStage(t, store)

	ext.portfolio = stage.PortfolioFacts{WantsDefault: true}
	res := converse(t, e, id, "suggest an allocation for me")

	assert.Equal(t, session.StageEmailCapture, res.Session.Stage)
	var sum float64
	for _, v := range res.Session.Portfolio.Allocation {
		sum += v
	}
	assert.InDelta(t, 100, sum, 0.001)

	var sawTable bool
	for _, b := range res.DisplaySpec.Blocks {
		if b.Type == display.BlockTable {
			sawTable = true
		}
	}
	assert.True(t, sawTable)
}

func TestConversePartialAllocationAcrossTurns(t *testing.T) {
	e, ext, store := newTestEngine(t)
	id := seedPortfolioStage(t, store)

	ext.portfolio = stage.PortfolioFacts{
		Allocation: map[string]float64{"stocks": 50, "bonds": 40},
		Currency:   "USD",
	}
	res := converse(t, e, id, "50% stocks and 40% bonds, USD")
	assert.Equal(t, session.StagePortfolio, res.Session.Stage)
	assert.Contains(t, res.Session.MissingSlots, "allocation")

	ext.portfolio = stage.PortfolioFacts{Allocation: map[string]float64{"cash": 10}}
	res = converse(t, e, id, "and 10% cash")
	assert.NotContains(t, res.Session.MissingSlots, "allocation")
	assert.Equal(t, map[string]float64{"stocks": 50, "bonds": 40, "cash": 10}, res.Session.Portfolio.Allocation)
}

func TestConverseInvalidEmailCorrectivePrompt(t *testing.T) {
	e, ext, store := newTestEngine(t)
	id := seedEmailStage(t, store)

	ext.contact = stage.ContactFacts{Email: "not-an-email"}
	res := converse(t, e, id, "not-an-email")

	assert.Equal(t, session.StageEmailCapture, res.Session.Stage)
	assert.Empty(t, res.Session.Contact.Email)

	var sawQuote bool
	for _, b := range res.DisplaySpec.Blocks {
		if b.Type == display.BlockText && strings.Contains(b.Text, `"not-an-email"`) {
			sawQuote = true
		}
	}
	assert.True(t, sawQuote, "corrective prompt should quote the invalid value")
}

func TestConverseEmailFoundInMessageWhenExtractionFails(t *testing.T) {
	e, ext, store := newTestEngine(t)
	id := seedEmailStage(t, store)

	ext.err = errors.New("timeout")
	res := converse(t, e, id, "you can reach me at jo@example.org, thanks")

	assert.Equal(t, session.StageAnalyze, res.Session.Stage)
	assert.Equal(t, "jo@example.org", res.Session.Contact.Email)
}

func TestConverseExtractionFailureDegrades(t *testing.T) {
	e, ext, _ := newTestEngine(t)

	ext.err = errors.New("nlu exploded")
	res, err := e.Converse(context.Background(), "degrade", "hello there")

	require.NoError(t, err)
	require.NotEmpty(t, res.DisplaySpec.Blocks)
	assert.Equal(t, session.StageQualify, res.Session.Stage)
}

func TestConverseIdempotentEmptyExtraction(t *testing.T) {
	e, ext, _ := newTestEngine(t)
	id := "idempotent"

	ext.profile = stage.ProfileFacts{InvestorType: "individual"}
	first := converse(t, e, id, "individual investor")

	ext.profile = stage.ProfileFacts{}
	ext.goals = stage.GoalFacts{}
	second := converse(t, e, id, "hmm")

	assert.Equal(t, first.Session.Stage, second.Session.Stage)
	assert.Equal(t, first.Session.CompletedSlots, second.Session.CompletedSlots)
	assert.Equal(t, first.Session.MissingSlots, second.Session.MissingSlots)
}

func TestConverseContaminatedSessionReset(t *testing.T) {
	e, ext, store := newTestEngine(t)
	id := "contaminated"

	ext.profile = stage.ProfileFacts{InvestorType: "individual"}
	converse(t, e, id, "individual")
	ext.profile = stage.ProfileFacts{}

	// Simulate crossed wires: advanced stage with no recorded progress.
	_, err := store.Update(id, func(s *session.Session) {
		s.Stage = session.StagePortfolio
		s.CompletedSlots = nil
		s.Profile = session.Profile{}
	})
	require.NoError(t, err)

	res := converse(t, e, id, "hello again")
	assert.Equal(t, session.StageQualify, res.Session.Stage)
	assert.Empty(t, res.Session.KeyFacts)
}

func TestConverseUnknownStage(t *testing.T) {
	e, _, store := newTestEngine(t)
	id := "bogus-stage"

	converse(t, e, id, "hi")
	_, err := store.Update(id, func(s *session.Session) {
		s.Stage = "definitely-not-a-stage"
		s.CompletedSlots = []string{"investor_type"}
	})
	require.NoError(t, err)

	_, err = e.Converse(context.Background(), id, "hi")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestConverseNotifierReceivesEveryTurn(t *testing.T) {
	store := session.NewStore(session.StoreConfig{}, log.NewNop())
	t.Cleanup(store.Close)

	ext := &mockExtractor{profile: stage.ProfileFacts{InvestorType: "individual"}}
	notifier := &mockNotifier{}
	e, err := New(Config{Store: store, Extractor: ext, Notifier: notifier, Logger: log.NewNop()})
	require.NoError(t, err)

	converse(t, e, "notified", "hello")
	converse(t, e, "notified", "again")

	turns := notifier.recorded()
	require.Len(t, turns, 2)
	assert.Equal(t, "notified", turns[0].SessionID)
	assert.Equal(t, "hello", turns[0].UserMessage)
	assert.NotEmpty(t, turns[0].Response.Blocks)
	assert.Equal(t, turns[1].Session.Stage, turns[1].Stage)
}

// seedPortfolioStage walks a session legitimately up to the portfolio
// stage so portfolio tests start from realistic state.
func TestConverseAmountKeyFactWaitsForHorizon(t *testing.T) {
	e, ext, store := newTestEngine(t)
	id := seedAmountStage(t, store)

	// Only the target arrives on the first turn; no half-empty fact line.
	amount := 500000.0
	ext.amount = stage.AmountFacts{TargetAmount: &amount}
	res := converse(t, e, id, "I want to reach 500k")
	for _, fact := range res.Session.KeyFacts {
		assert.NotContains(t, fact, "over 0 years")
	}

	years := 10
	ext.amount = stage.AmountFacts{HorizonYears: &years}
	res = converse(t, e, id, "in about ten years")
	assert.Contains(t, res.Session.KeyFacts, "target: 500000 over 10 years")
}

func seedAmountStage(t *testing.T, store *session.Store) string {
	t.Helper()
	id := t.Name()
	_, err := store.Create(id)
	require.NoError(t, err)
	_, err = store.Update(id, func(s *session.Session) {
		s.Stage = session.StageAmountTimeline
		s.Profile = session.Profile{InvestorType: "individual"}
		s.Goals = session.Goals{
			GoalType:      "retirement",
			RiskTolerance: "balanced",
			LiquidityNeed: "low",
		}
		s.CompletedSlots = []string{
			"investor_type", "goal_type", "risk_tolerance", "liquidity_need",
		}
	})
	require.NoError(t, err)
	return id
}

func seedPortfolioStage(t *testing.T, store *session.Store) string {
	t.Helper()
	id := t.Name()
	_, err := store.Create(id)
	require.NoError(t, err)
	_, err = store.Update(id, func(s *session.Session) {
		s.Stage = session.StagePortfolio
		s.Profile = session.Profile{InvestorType: "individual"}
		s.Goals = session.Goals{
			GoalType:      "retirement",
			TargetAmount:  500000,
			HorizonYears:  10,
			RiskTolerance: "balanced",
			LiquidityNeed: "low",
		}
		s.CompletedSlots = []string{
			"investor_type", "goal_type", "risk_tolerance", "liquidity_need",
			"target_amount", "horizon_years",
		}
	})
	require.NoError(t, err)
	return id
}

func seedEmailStage(t *testing.T, store *session.Store) string {
	t.Helper()
	id := seedPortfolioStage(t, store)
	_, err := store.Update(id, func(s *session.Session) {
		s.Stage = session.StageEmailCapture
		s.Portfolio = session.Portfolio{
			Allocation: map[string]float64{"stocks": 60, "bonds": 30, "cash": 10},
			Currency:   "USD",
		}
		s.CompletedSlots = append(s.CompletedSlots, "allocation", "currency")
	})
	require.NoError(t, err)
	return id
}

