package embedding

import (
	"context"
	"log/slog"

	"github.com/efebarandurmaz/skillmatch/internal/source"
	"github.com/efebarandurmaz/skillmatch/internal/vector"
)

// Raw embeds each item's TextToMatch unchanged.
type Raw struct {
	gw        Gateway
	batchSize int
	logger    *slog.Logger
}

// NewRaw creates a raw provider. A nil logger uses slog.Default().
func NewRaw(gw Gateway, batchSize int, logger *slog.Logger) (*Raw, error) {
	if batchSize <= 0 {
		return nil, ErrBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Raw{gw: gw, batchSize: batchSize, logger: logger}, nil
}

// Embeddings implements Provider.
func (r *Raw) Embeddings(ctx context.Context, items []source.Item) (vector.Matrix, error) {
	if err := ValidateItems(items); err != nil {
		return vector.Matrix{}, err
	}
	r.logger.Info("computing raw embeddings", "items", len(items))
	m, err := embedBatches(ctx, textsToMatch(items), r.batchSize, r.gw.EmbedNormalize)
	if err != nil {
		return vector.Matrix{}, err
	}
	r.logger.Debug("raw embeddings ready", "rows", m.Rows(), "dim", m.Dim())
	return m, nil
}

var _ Provider = (*Raw)(nil)
