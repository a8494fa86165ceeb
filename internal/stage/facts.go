package stage

// Extraction result schemas, one per data-collection stage. The extractor
// asks the model for a single JSON object matching one of these shapes; a
// field the model is not confident about is simply omitted, so every field
// must be distinguishable from its zero value or optional in meaning.

// ProfileFacts is the qualify-stage extraction target.
type ProfileFacts struct {
	InvestorType    string `json:"investor_type,omitempty"`
	ExperienceLevel string `json:"experience_level,omitempty"`
}

// GoalFacts is the goals-stage extraction target.
type GoalFacts struct {
	GoalType      string `json:"goal_type,omitempty"`
	RiskTolerance string `json:"risk_tolerance,omitempty"`
	LiquidityNeed string `json:"liquidity_need,omitempty"`
}

// AmountFacts is the amount_timeline-stage extraction target. Pointer
// fields distinguish "not mentioned" from explicit zeros.
type AmountFacts struct {
	TargetAmount *float64 `json:"target_amount,omitempty"`
	HorizonYears *int     `json:"horizon_years,omitempty"`
}

// PortfolioFacts is the portfolio-stage extraction target. NoHoldings and
// WantsDefault are branch signals, not data: the handler interprets them
// instead of merging them.
type PortfolioFacts struct {
	Allocation   map[string]float64 `json:"allocation,omitempty"`
	Currency     string             `json:"currency,omitempty"`
	Holdings     []string           `json:"holdings,omitempty"`
	Sectors      map[string]float64 `json:"sectors,omitempty"`
	NoHoldings   bool               `json:"no_holdings,omitempty"`
	WantsDefault bool               `json:"wants_default,omitempty"`
}

// ContactFacts is the email_capture-stage extraction target.
type ContactFacts struct {
	Email string `json:"email,omitempty"`
}

// Field guides shown to the model alongside the JSON schema. Kept next to
// the schemas so prompt text and struct shape evolve together.
const (
	ProfileGuide = `investor_type: "individual", "joint", "advisor" or "institution".
experience_level: "beginner", "intermediate" or "experienced".`

	GoalGuide = `goal_type: what the user is investing for, e.g. "retirement", "house", "education", "wealth_growth".
risk_tolerance: "conservative", "balanced" or "aggressive".
liquidity_need: "low", "medium" or "high" - how soon the user may need the money back.`

	AmountGuide = `target_amount: the amount the user wants to reach, as a plain number in their currency (e.g. "500k" -> 500000).
horizon_years: investment horizon in whole years.`

	PortfolioGuide = `allocation: asset class -> percentage of the portfolio, e.g. {"stocks": 60, "bonds": 30, "cash": 10}. Include only classes the user actually stated.
currency: 3-letter ISO code, e.g. "USD".
holdings: named positions the user mentions, e.g. ["AAPL", "Vanguard S&P 500"].
sectors: sector -> percentage, only if the user gives a sector breakdown.
no_holdings: true ONLY if the user says they have no investments yet.
wants_default: true ONLY if the user asks for a suggested or recommended allocation instead of describing their own.`

	ContactGuide = `email: the user's email address, exactly as written.`
)
