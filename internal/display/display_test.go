package display

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderOrdersBlocks(t *testing.T) {
	spec := NewBuilder().
		Progress("goals", 2, 9, []string{"risk_tolerance"}).
		Text("What level of risk are you comfortable with?").
		Actions(Action{Label: "Book a call", Kind: "link", URL: "https://example.com/call"}).
		Build()

	require.Len(t, spec.Blocks, 3)
	assert.Equal(t, BlockProgress, spec.Blocks[0].Type)
	assert.Equal(t, BlockText, spec.Blocks[1].Type)
	assert.Equal(t, BlockActions, spec.Blocks[2].Type)

	p := spec.Blocks[0].Progress
	require.NotNil(t, p)
	assert.Equal(t, 22, p.Percent)
	assert.Equal(t, []string{"risk_tolerance"}, p.Missing)
}

func TestBuilderSkipsEmptyPayloads(t *testing.T) {
	spec := NewBuilder().
		Text("").
		Table(nil).
		Table(&Table{Title: "empty"}).
		Actions().
		Text("kept").
		Build()

	require.Len(t, spec.Blocks, 1)
	assert.Equal(t, "kept", spec.Blocks[0].Text)
}

func TestBuildNeverEmpty(t *testing.T) {
	spec := NewBuilder().Build()
	require.NotEmpty(t, spec.Blocks)
	assert.Equal(t, BlockText, spec.Blocks[0].Type)
	assert.NotEmpty(t, spec.Blocks[0].Text)
}

func TestErrorSpec(t *testing.T) {
	spec := ErrorSpec()
	require.Len(t, spec.Blocks, 1)
	assert.Equal(t, BlockText, spec.Blocks[0].Type)
	assert.NotEmpty(t, spec.Blocks[0].Text)
}

func TestProgressZeroTotal(t *testing.T) {
	spec := NewBuilder().Progress("end", 9, 0, nil).Build()
	assert.Equal(t, 100, spec.Blocks[0].Progress.Percent)
}

func TestSpecJSONShape(t *testing.T) {
	spec := NewBuilder().
		Table(&Table{
			Title:   "Current allocation",
			Headers: []string{"Asset class", "Percent"},
			Rows:    [][]string{{"stocks", "60"}, {"bonds", "40"}},
		}).
		Build()

	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"blocks":[{"type":"table","table":{"title":"Current allocation","headers":["Asset class","Percent"],"rows":[["stocks","60"],["bonds","40"]]}}]}`, string(raw))
}
