package dialogue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/advisr-io/advisr/internal/advisor"
	"github.com/advisr-io/advisr/internal/display"
	"github.com/advisr-io/advisr/internal/stage"
)

const greeting = "Hi! I'm your investment assistant. A few quick questions and I'll put together a personalized portfolio analysis."

// slotPrompts is the deterministic fallback prompt for every collectable
// slot. Handlers prompt for exactly the first missing slot, so coverage
// here must be total for the data-collection stages.
var slotPrompts = map[stage.Slot]string{
	stage.SlotInvestorType:    "Are you investing as an individual, jointly with someone, or on behalf of an organization?",
	stage.SlotExperienceLevel: "How would you describe your investing experience: beginner, intermediate, or experienced?",
	stage.SlotGoalType:        "What are you investing for? Retirement, a house, education, or general wealth growth?",
	stage.SlotRiskTolerance:   "How much risk are you comfortable with: conservative, balanced, or aggressive?",
	stage.SlotLiquidityNeed:   "How soon might you need to access this money? Say low, medium, or high.",
	stage.SlotTargetAmount:    "What amount are you aiming to reach?",
	stage.SlotHorizonYears:    "Over how many years do you plan to invest?",
	stage.SlotAllocation:      "How is your portfolio split across asset classes right now? For example: 60% stocks, 30% bonds, 10% cash. If you haven't invested yet, just say so, or ask me to suggest an allocation.",
	stage.SlotCurrency:        "Which currency is your portfolio in? A 3-letter code like USD or EUR works.",
	stage.SlotEmail:           "Where should I send the full analysis? Please share your email address.",
}

func (e *Engine) handleQualify(ctx context.Context, t *turn) {
	facts, err := extractFacts(ctx, e, t, e.ext.ProfileFacts)
	if err == nil {
		if changed := stage.MergeProfile(t.sess, facts); len(changed) > 0 && t.sess.Profile.InvestorType != "" {
			t.sess.AddKeyFact("investor type: " + t.sess.Profile.InvestorType)
		}
	}
	if e.stageComplete(t) {
		t.b.Text("Great, that gives me a picture of who's investing. Now let's talk about what you're aiming for.")
		e.advance(t)
		return
	}
	e.promptNextMissing(t)
}

func (e *Engine) handleGoals(ctx context.Context, t *turn) {
	facts, err := extractFacts(ctx, e, t, e.ext.GoalFacts)
	if err == nil {
		if changed := stage.MergeGoals(t.sess, facts); len(changed) > 0 && t.sess.Goals.GoalType != "" {
			t.sess.AddKeyFact("goal: " + t.sess.Goals.GoalType)
		}
	}
	if e.stageComplete(t) {
		t.b.Text(fmt.Sprintf("Got it: %s, with a %s risk profile. Next, the numbers.",
			t.sess.Goals.GoalType, advisor.RiskBand(t.sess.Goals.RiskTolerance)))
		e.advance(t)
		return
	}
	e.promptNextMissing(t)
}

func (e *Engine) handleAmountTimeline(ctx context.Context, t *turn) {
	facts, err := extractFacts(ctx, e, t, e.ext.AmountFacts)
	if err == nil {
		// Record the fact only once both figures are in; a lone target
		// would read as "over 0 years".
		if changed := stage.MergeAmount(t.sess, facts); len(changed) > 0 &&
			t.sess.Goals.TargetAmount > 0 && t.sess.Goals.HorizonYears > 0 {
			t.sess.AddKeyFact(fmt.Sprintf("target: %.0f over %d years",
				t.sess.Goals.TargetAmount, t.sess.Goals.HorizonYears))
		}
	}
	if e.stageComplete(t) {
		t.b.Text(fmt.Sprintf("Aiming for %.0f in %d years. Now tell me about your current portfolio.",
			t.sess.Goals.TargetAmount, t.sess.Goals.HorizonYears))
		e.advance(t)
		return
	}
	e.promptNextMissing(t)
}

func (e *Engine) handlePortfolio(ctx context.Context, t *turn) {
	facts, err := extractFacts(ctx, e, t, e.ext.PortfolioFacts)
	if err != nil {
		facts = stage.PortfolioFacts{}
	}

	// When extraction yielded nothing, fall back to keyword matching for
	// the two branch signals so the escape hatches survive NLU outages.
	if emptyPortfolioFacts(facts) {
		facts.NoHoldings = mentionsNoHoldings(t.message)
		facts.WantsDefault = mentionsDefaultRequest(t.message)
	}

	switch {
	case facts.NoHoldings:
		t.sess.Portfolio.Allocation = stage.ZeroAllocation()
		if t.sess.Portfolio.Currency == "" {
			t.sess.Portfolio.Currency = "USD"
		}
		t.sess.AddKeyFact("no current holdings, starting from cash")
		t.b.Text("No problem, plenty of people start from zero. We'll treat your portfolio as all cash for now.")
		e.advance(t)
		return

	case facts.WantsDefault:
		alloc := advisor.DefaultAllocation(t.sess.Goals.RiskTolerance, t.sess.Goals.HorizonYears)
		t.sess.Portfolio.Allocation = alloc
		if t.sess.Portfolio.Currency == "" {
			t.sess.Portfolio.Currency = "USD"
		}
		band := advisor.RiskBand(t.sess.Goals.RiskTolerance)
		t.sess.AddKeyFact("using suggested " + band + " allocation")
		t.b.Text(fmt.Sprintf("Here's a starting allocation matched to a %s profile and your horizon.", band))
		t.b.Table(allocationTable("Suggested allocation", alloc))
		e.advance(t)
		return
	}

	stage.MergePortfolio(t.sess, facts)

	if e.stageComplete(t) {
		d, _ := e.table.Lookup(t.sess.Stage)
		if d.OfferOptional && !t.sess.OptionalOffered {
			t.sess.OptionalOffered = true
			t.b.Text("Thanks, that's a complete picture. If you'd like, you can also name specific holdings or a sector breakdown; otherwise just say continue.")
			return
		}
		t.b.Text("Your portfolio is in. One last thing before the analysis.")
		t.b.Table(allocationTable("Current allocation", t.sess.Portfolio.Allocation))
		e.advance(t)
		return
	}
	e.promptNextMissing(t)
}

func (e *Engine) handleEmailCapture(ctx context.Context, t *turn) {
	facts, err := extractFacts(ctx, e, t, e.ext.ContactFacts)
	if err != nil {
		facts = stage.ContactFacts{}
	}
	if facts.Email == "" {
		// The address may be sitting verbatim in the message even when the
		// extractor saw nothing.
		facts.Email = findEmail(t.message)
	}

	if facts.Email != "" && !stage.ValidEmail(facts.Email) {
		t.b.Text(fmt.Sprintf("%q doesn't look like a valid email address. Could you double-check it?", facts.Email))
		return
	}

	stage.MergeContact(t.sess, facts)

	if e.stageComplete(t) {
		t.sess.AddKeyFact("contact email captured")
		t.b.Text(fmt.Sprintf("Thanks! I'll send the full report to %s. Say anything to run the analysis.", t.sess.Contact.Email))
		e.advance(t)
		return
	}
	e.promptNextMissing(t)
}

// handleAnalyze computes the analysis from collected data. It needs no
// user input; any message advances it.
func (e *Engine) handleAnalyze(_ context.Context, t *turn) {
	a := advisor.Analyze(t.sess.Goals, t.sess.Portfolio)
	t.sess.Analysis = a
	t.sess.AddKeyFact("risk band: " + a.RiskBand)

	t.b.Text(fmt.Sprintf("Here's your analysis. Your answers map to a %s risk band with an expected return of about %.1f%% a year.",
		a.RiskBand, a.ExpectedReturn))
	t.b.Table(allocationTable("Target allocation", a.TargetAllocation))
	t.b.Table(driftTable(a.Drift))
	for _, note := range a.Notes {
		t.b.Text(note)
	}
	e.advance(t)
}

func (e *Engine) handleExplain(_ context.Context, t *turn) {
	a := t.sess.Analysis
	if a == nil {
		// A table variant may route here without an analyze stage.
		a = advisor.Analyze(t.sess.Goals, t.sess.Portfolio)
		t.sess.Analysis = a
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "What this means: a %s portfolio balances growth against the chance of losses along the way. ", a.RiskBand)
	if a.RequiredToday > 0 {
		fmt.Fprintf(&sb, "Investing about %.0f today and holding the target mix would put your goal within reach. ", a.RequiredToday)
	}
	sb.WriteString("The drift table shows where your current mix differs from the target; closing the biggest gaps first usually has the most impact.")
	t.b.Text(sb.String())
	e.advance(t)
}

func (e *Engine) handleCTA(_ context.Context, t *turn) {
	t.b.Text("Want to go deeper? An advisor can walk you through rebalancing step by step.")
	t.b.Actions(
		display.Action{Label: "Book a call", Kind: "link", URL: "https://advisr.io/book"},
		display.Action{Label: "Email me the report", Kind: "continue"},
	)
	e.advance(t)
}

func (e *Engine) handleEnd(_ context.Context, t *turn) {
	t.b.Text("We're all set. Your analysis has been saved; come back any time to update your numbers.")
}

// extractFacts runs one extraction call with the stage's missing slots as
// hints, counting it in usage. On failure it logs a warning and returns
// the zero fact set; extraction is never fatal to a turn.
func extractFacts[T any](ctx context.Context, e *Engine, t *turn, fn func(context.Context, string, []string) (T, error)) (T, error) {
	hints := stage.SlotStrings(stage.Missing(e.table, t.sess.Stage, t.sess))
	facts, err := fn(ctx, t.message, hints)
	t.usage.ExtractorCalls++
	if err != nil {
		e.logger.Warn("extraction degraded to empty",
			"session_id", t.sess.ID,
			"stage", t.sess.Stage,
			"error", err)
		var zero T
		return zero, err
	}
	return facts, nil
}

func (e *Engine) stageComplete(t *turn) bool {
	return stage.IsComplete(e.table, t.sess.Stage, t.sess)
}

// promptNextMissing emits the fallback prompt for the first missing slot.
func (e *Engine) promptNextMissing(t *turn) {
	missing := stage.Missing(e.table, t.sess.Stage, t.sess)
	if len(missing) == 0 {
		return
	}
	if prompt, ok := slotPrompts[missing[0]]; ok {
		t.b.Text(prompt)
		return
	}
	t.b.Text("Could you tell me a bit more?")
}

func emptyPortfolioFacts(f stage.PortfolioFacts) bool {
	return len(f.Allocation) == 0 && f.Currency == "" && len(f.Holdings) == 0 &&
		len(f.Sectors) == 0 && !f.NoHoldings && !f.WantsDefault
}

// mentionsNoHoldings is the deterministic fallback for the no-holdings
// shortcut when extraction yields nothing.
func mentionsNoHoldings(message string) bool {
	m := strings.ToLower(message)
	for _, phrase := range []string{
		"no investments", "no portfolio", "haven't invested", "havent invested",
		"not invested", "nothing yet", "starting from scratch", "don't have any investments",
	} {
		if strings.Contains(m, phrase) {
			return true
		}
	}
	return false
}

// mentionsDefaultRequest is the deterministic fallback for the
// default-allocation request.
func mentionsDefaultRequest(message string) bool {
	m := strings.ToLower(message)
	for _, phrase := range []string{
		"suggest", "recommend", "what should i", "you decide", "default allocation",
	} {
		if strings.Contains(m, phrase) {
			return true
		}
	}
	return false
}

// findEmail scans a message for a token that parses as an email address.
func findEmail(message string) string {
	for _, tok := range strings.Fields(message) {
		tok = strings.Trim(tok, ".,;:!?()<>\"'")
		if stage.ValidEmail(tok) {
			return tok
		}
	}
	return ""
}

func allocationTable(title string, alloc map[string]float64) *display.Table {
	tbl := &display.Table{Title: title, Headers: []string{"Asset class", "Percent"}}
	for _, class := range sortedKeys(alloc) {
		tbl.Rows = append(tbl.Rows, []string{class, formatPct(alloc[class])})
	}
	return tbl
}

func driftTable(drift map[string]float64) *display.Table {
	tbl := &display.Table{Title: "Drift from target", Headers: []string{"Asset class", "Points"}}
	for _, class := range sortedKeys(drift) {
		v := drift[class]
		sign := ""
		if v > 0 {
			sign = "+"
		}
		tbl.Rows = append(tbl.Rows, []string{class, sign + formatPct(v)})
	}
	return tbl
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
