// Package session owns the lifecycle of per-conversation state records.
//
// A Session carries the dialogue position (stage), the structured data
// collected so far, and lifecycle timestamps. The Store keeps sessions in
// memory with TTL-based expiry and per-id serialization; durable copies are
// written by the persistence bridge, never read back on the hot path.
//
// The package has no knowledge of stage semantics: which slots a stage
// requires, and when a stage is complete, is decided by the stage package.
package session

import (
	"time"
)

// Stage identifies a step in the fixed conversation sequence.
// Stage values are only ever written by the dialogue engine after the
// completion evaluator confirms the current stage; an unrecognized value
// is a programming error, not user input.
type Stage string

// The full stage sequence. StageQualify is the initial stage; StageEnd is
// terminal. Advancement is one step at a time in table order.
const (
	StageQualify        Stage = "qualify"
	StageGoals          Stage = "goals"
	StageAmountTimeline Stage = "amount_timeline"
	StagePortfolio      Stage = "portfolio"
	StageEmailCapture   Stage = "email_capture"
	StageAnalyze        Stage = "analyze"
	StageExplain        Stage = "explain"
	StageCTA            Stage = "cta"
	StageEnd            Stage = "end"
)

const (
	// MaxKeyFacts bounds the human-readable fact log per session.
	MaxKeyFacts = 20

	// MaxKeyFactLength bounds a single fact line in bytes.
	MaxKeyFactLength = 160
)

// Profile holds the qualification payload collected by the qualify stage.
type Profile struct {
	InvestorType    string `json:"investor_type,omitempty"`
	ExperienceLevel string `json:"experience_level,omitempty"`
}

// Goals holds the investment-objective payload collected by the goals and
// amount_timeline stages.
type Goals struct {
	GoalType      string  `json:"goal_type,omitempty"`
	TargetAmount  float64 `json:"target_amount,omitempty"`
	HorizonYears  int     `json:"horizon_years,omitempty"`
	RiskTolerance string  `json:"risk_tolerance,omitempty"`
	LiquidityNeed string  `json:"liquidity_need,omitempty"`
}

// Portfolio holds the current-holdings payload collected by the portfolio
// stage. Allocation maps asset class to percentage and must sum to 100
// (within tolerance) before it counts as complete.
type Portfolio struct {
	Allocation map[string]float64 `json:"allocation,omitempty"`
	Currency   string             `json:"currency,omitempty"`
	Holdings   []string           `json:"holdings,omitempty"`
	Sectors    map[string]float64 `json:"sectors,omitempty"`
}

// Contact holds the captured contact identifier.
type Contact struct {
	Email string `json:"email,omitempty"`
}

// Analysis is the computed output of the analyze stage.
type Analysis struct {
	RiskBand         string             `json:"risk_band"`
	ExpectedReturn   float64            `json:"expected_return"` // annual, percent
	RequiredToday    float64            `json:"required_today"`  // lump sum reaching the target at horizon
	TargetAllocation map[string]float64 `json:"target_allocation"`
	Drift            map[string]float64 `json:"drift"` // current minus target, points
	Notes            []string           `json:"notes,omitempty"`
}

// Session is the unit of conversation state. It is mutated in place by the
// dialogue engine while the Store's per-id lock is held.
type Session struct {
	ID string

	Stage Stage

	// Derived, stage-scoped slot sets. Recomputed by the dialogue engine
	// after every merge; never mutated independently.
	CompletedSlots []string
	MissingSlots   []string

	Profile   Profile
	Goals     Goals
	Portfolio Portfolio
	Contact   Contact
	Analysis  *Analysis

	// KeyFacts is a short human-readable log of what the conversation has
	// established, used for progress display and as extractor context.
	KeyFacts []string

	// OptionalOffered records that the one-time prompt for optional slots
	// has been made on the current stage.
	OptionalOffered bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the session has outlived ttl. Expiry is measured
// from creation, not last update.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// Contaminated reports whether the session state is internally inconsistent:
// a non-initial stage with zero completed slots means the stage value cannot
// have been produced by normal advancement. Such sessions are discarded and
// recreated rather than routed.
func (s *Session) Contaminated(initial Stage) bool {
	return s.Stage != initial && len(s.CompletedSlots) == 0
}

// Reset returns the session to a fresh state under the same id.
// Used for contamination recovery.
func (s *Session) Reset(initial Stage, now time.Time) {
	*s = Session{
		ID:        s.ID,
		Stage:     initial,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddKeyFact appends a fact line to the session's key-facts log, truncating
// over-long lines and dropping the oldest entries beyond MaxKeyFacts.
func (s *Session) AddKeyFact(fact string) {
	if fact == "" {
		return
	}
	if len(fact) > MaxKeyFactLength {
		fact = fact[:MaxKeyFactLength]
	}
	s.KeyFacts = append(s.KeyFacts, fact)
	if len(s.KeyFacts) > MaxKeyFacts {
		s.KeyFacts = s.KeyFacts[len(s.KeyFacts)-MaxKeyFacts:]
	}
}

// View is the public, caller-facing projection of a Session.
type View struct {
	ID             string    `json:"id"`
	Stage          Stage     `json:"stage"`
	CompletedSlots []string  `json:"completed_slots"`
	MissingSlots   []string  `json:"missing_slots"`
	Profile        Profile   `json:"profile"`
	Goals          Goals     `json:"goals"`
	Portfolio      Portfolio `json:"portfolio"`
	Contact        Contact   `json:"contact"`
	Analysis       *Analysis `json:"analysis,omitempty"`
	KeyFacts       []string  `json:"key_facts,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// View returns a deep copy safe to hand out after the per-id lock is
// released.
func (s *Session) View() View {
	v := View{
		ID:             s.ID,
		Stage:          s.Stage,
		CompletedSlots: append([]string(nil), s.CompletedSlots...),
		MissingSlots:   append([]string(nil), s.MissingSlots...),
		Profile:        s.Profile,
		Goals:          s.Goals,
		Contact:        s.Contact,
		KeyFacts:       append([]string(nil), s.KeyFacts...),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	v.Portfolio = Portfolio{
		Allocation: copyMap(s.Portfolio.Allocation),
		Currency:   s.Portfolio.Currency,
		Holdings:   append([]string(nil), s.Portfolio.Holdings...),
		Sectors:    copyMap(s.Portfolio.Sectors),
	}
	if s.Analysis != nil {
		a := *s.Analysis
		a.TargetAllocation = copyMap(s.Analysis.TargetAllocation)
		a.Drift = copyMap(s.Analysis.Drift)
		a.Notes = append([]string(nil), s.Analysis.Notes...)
		v.Analysis = &a
	}
	return v
}

func copyMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, val := range m {
		out[k] = val
	}
	return out
}
