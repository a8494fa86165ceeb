// Package display defines the structured response rendered by clients.
// Every turn produces a Spec; a Spec is never empty, even on failure.
package display

// BlockType discriminates the payload carried by a Block.
type BlockType string

const (
	BlockProgress BlockType = "progress"
	BlockText     BlockType = "text"
	BlockTable    BlockType = "table"
	BlockActions  BlockType = "actions"
)

// Spec is the complete renderable response for one turn.
type Spec struct {
	Blocks []Block `json:"blocks"`
}

// Block is a single renderable unit. Exactly one payload field is set,
// matching Type.
type Block struct {
	Type     BlockType `json:"type"`
	Progress *Progress `json:"progress,omitempty"`
	Text     string    `json:"text,omitempty"`
	Table    *Table    `json:"table,omitempty"`
	Actions  []Action  `json:"actions,omitempty"`
}

// Progress reports where the conversation stands in the stage order.
type Progress struct {
	Stage   string   `json:"stage"`
	Step    int      `json:"step"`
	Total   int      `json:"total"`
	Percent int      `json:"percent"`
	Missing []string `json:"missing,omitempty"`
}

// Table is a labeled grid, used for allocations and analysis output.
type Table struct {
	Title   string     `json:"title,omitempty"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Action is a call-to-action button or link.
type Action struct {
	Label string `json:"label"`
	Kind  string `json:"kind"`
	URL   string `json:"url,omitempty"`
}

// Builder accumulates blocks for one turn's Spec.
type Builder struct {
	blocks []Block
}

func NewBuilder() *Builder {
	return &Builder{}
}

// ProgressBlock builds a progress block. Percent is derived from
// step/total; total of zero renders as 100% to keep terminal stages
// sensible.
func ProgressBlock(stage string, step, total int, missing []string) Block {
	percent := 100
	if total > 0 {
		percent = step * 100 / total
	}
	return Block{
		Type: BlockProgress,
		Progress: &Progress{
			Stage:   stage,
			Step:    step,
			Total:   total,
			Percent: percent,
			Missing: missing,
		},
	}
}

// Progress appends a progress block.
func (b *Builder) Progress(stage string, step, total int, missing []string) *Builder {
	b.blocks = append(b.blocks, ProgressBlock(stage, step, total, missing))
	return b
}

// Prepend inserts a block before everything collected so far.
func (b *Builder) Prepend(block Block) *Builder {
	b.blocks = append([]Block{block}, b.blocks...)
	return b
}

// Text appends a text block. Empty strings are skipped.
func (b *Builder) Text(text string) *Builder {
	if text == "" {
		return b
	}
	b.blocks = append(b.blocks, Block{Type: BlockText, Text: text})
	return b
}

// Table appends a table block. Tables with no rows are skipped.
func (b *Builder) Table(t *Table) *Builder {
	if t == nil || len(t.Rows) == 0 {
		return b
	}
	b.blocks = append(b.blocks, Block{Type: BlockTable, Table: t})
	return b
}

// Actions appends an actions block. Empty action lists are skipped.
func (b *Builder) Actions(actions ...Action) *Builder {
	if len(actions) == 0 {
		return b
	}
	b.blocks = append(b.blocks, Block{Type: BlockActions, Actions: actions})
	return b
}

// Build returns the accumulated Spec. A builder that collected nothing
// yields a generic text block so clients always have something to render.
func (b *Builder) Build() Spec {
	if len(b.blocks) == 0 {
		return Spec{Blocks: []Block{{Type: BlockText, Text: "Let's continue. Could you tell me a bit more?"}}}
	}
	return Spec{Blocks: b.blocks}
}

// ErrorSpec is the well-formed fallback returned when a turn fails
// internally. It never exposes error detail to the client.
func ErrorSpec() Spec {
	return Spec{Blocks: []Block{{
		Type: BlockText,
		Text: "Sorry, something went wrong on our side. Please try again.",
	}}}
}
