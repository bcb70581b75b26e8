package embedding

import (
	"context"

	"github.com/docvault/docvault/internal/errors"
)

// Info describes an embedder's identity and limits, as returned by info().
type Info struct {
	Service    string
	Model      string
	Dimensions int
	MaxTokens  int
}

// Port is the core's narrow view of an embedder: embedQuery, embedDocuments,
// and info(), per spec. It is implemented by adapting any Embedder.
type Port interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Info() Info
	Close() error
}

// portAdapter narrows an Embedder (the teacher's richer interface, kept for
// its thermal/retry/batch-index machinery) down to the core's Port contract.
type portAdapter struct {
	embedder  Embedder
	service   string
	maxTokens int
}

// NewPort wraps embedder as a Port. service names the backend ("ollama",
// "mlx", "static") for Info(); maxTokens is the embedder's declared context
// window, used by the context synthesizer's token budget.
func NewPort(embedder Embedder, service string, maxTokens int) Port {
	return &portAdapter{embedder: embedder, service: service, maxTokens: maxTokens}
}

func (p *portAdapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.EmbeddingFailure("embedQuery failed", err)
	}
	return v, nil
}

func (p *portAdapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, errors.EmbeddingFailure("embedDocuments failed", err)
	}
	return vs, nil
}

func (p *portAdapter) Info() Info {
	return Info{
		Service:    p.service,
		Model:      p.embedder.ModelName(),
		Dimensions: p.embedder.Dimensions(),
		MaxTokens:  p.maxTokens,
	}
}

func (p *portAdapter) Close() error {
	return p.embedder.Close()
}

// Warm performs the startup warm-up call the core requires: one single
// embed and one 3-element batch embed, discarding the results.
func Warm(ctx context.Context, p Port) error {
	if _, err := p.EmbedQuery(ctx, "warmup"); err != nil {
		return err
	}
	if _, err := p.EmbedDocuments(ctx, []string{"warmup a", "warmup b", "warmup c"}); err != nil {
		return err
	}
	return nil
}
