package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/skillmatch/internal/source"
	"github.com/efebarandurmaz/skillmatch/internal/vector"
)

// Expansion decides what text gets embedded once the LLM has expanded an
// item's text.
type Expansion int

const (
	// ExpandReplace embeds the completion alone.
	ExpandReplace Expansion = iota
	// ExpandAppend embeds the original text immediately followed by the
	// completion.
	ExpandAppend
)

func (e Expansion) String() string {
	switch e {
	case ExpandAppend:
		return "append"
	case ExpandReplace:
		return "replace"
	default:
		return fmt.Sprintf("Expansion(%d)", int(e))
	}
}

func (e Expansion) apply(original, completion string) string {
	if e == ExpandAppend {
		return original + completion
	}
	return completion
}

// ErrNoTemplate is returned when a completion provider has no template.
var ErrNoTemplate = errors.New("embedding: completion template is empty")

// Completion asks the LLM to expand every item's TextToMatch with a role
// specific template, then embeds the expansions.
type Completion struct {
	gw        Gateway
	template  string
	expansion Expansion
	batchSize int
	role      string
	logger    *slog.Logger
}

// NewCompletion creates a completion-augmented provider. role only labels
// log lines.
func NewCompletion(gw Gateway, template string, expansion Expansion, batchSize int, role string, logger *slog.Logger) (*Completion, error) {
	if template == "" {
		return nil, ErrNoTemplate
	}
	if batchSize <= 0 {
		return nil, ErrBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Completion{
		gw:        gw,
		template:  template,
		expansion: expansion,
		batchSize: batchSize,
		role:      role,
		logger:    logger,
	}, nil
}

// NewSkillCompletion builds the skill side provider: the expansion is
// appended to the skill path.
func NewSkillCompletion(gw Gateway, template string, batchSize int, logger *slog.Logger) (*Completion, error) {
	return NewCompletion(gw, template, ExpandAppend, batchSize, "skill", logger)
}

// NewPackageCompletion builds the package side provider: the expansion
// replaces the package text.
func NewPackageCompletion(gw Gateway, template string, batchSize int, logger *slog.Logger) (*Completion, error) {
	return NewCompletion(gw, template, ExpandReplace, batchSize, "package", logger)
}

// Embeddings implements Provider.
func (c *Completion) Embeddings(ctx context.Context, items []source.Item) (vector.Matrix, error) {
	if err := ValidateItems(items); err != nil {
		return vector.Matrix{}, err
	}
	c.logger.Info("computing completion embeddings", "role", c.role, "items", len(items), "expansion", c.expansion)
	m, err := embedBatches(ctx, textsToMatch(items), c.batchSize, c.expandAndEmbed)
	if err != nil {
		return vector.Matrix{}, fmt.Errorf("%s completion: %w", c.role, err)
	}
	c.logger.Debug("completion embeddings ready", "role", c.role, "rows", m.Rows())
	return m, nil
}

// Expand returns the text that would be embedded for each input text.
func (c *Completion) Expand(ctx context.Context, texts []string) ([]string, error) {
	args := make([][]string, len(texts))
	for i, t := range texts {
		args[i] = []string{t}
	}
	completed, err := c.gw.Complete(ctx, c.template, args)
	if err != nil {
		return nil, err
	}
	if len(completed) != len(texts) {
		return nil, fmt.Errorf("got %d completions for %d texts", len(completed), len(texts))
	}
	out := make([]string, len(texts))
	for i := range texts {
		out[i] = c.expansion.apply(texts[i], completed[i])
	}
	return out, nil
}

func (c *Completion) expandAndEmbed(ctx context.Context, texts []string) (vector.Matrix, error) {
	expanded, err := c.Expand(ctx, texts)
	if err != nil {
		return vector.Matrix{}, err
	}
	return c.gw.EmbedNormalize(ctx, expanded)
}

var _ Provider = (*Completion)(nil)
