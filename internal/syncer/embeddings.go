package syncer

import (
	"context"

	"github.com/leeksaver/leeksaver/internal/embedding"
)

// embedBacklogPerRun bounds how much of the embedding backlog one run
// drains; the rest waits for the next interval.
const embedBacklogPerRun = 512

// EmbeddingSyncer vectorizes news articles that have no embedding yet.
type EmbeddingSyncer struct {
	deps   *Deps
	client *embedding.Client
}

func NewEmbeddingSyncer(d *Deps, client *embedding.Client) *EmbeddingSyncer {
	return &EmbeddingSyncer{deps: d, client: client}
}

func (s *EmbeddingSyncer) Name() string { return "news_embeddings" }

func (s *EmbeddingSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps
	log := d.logger(s.Name())
	var res Result

	if !s.client.Enabled() {
		log.Debug().Msg("embedding endpoint not configured, skipping")
		return res, nil
	}

	pending, err := d.News.WithoutEmbedding(ctx, embedBacklogPerRun)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		return res, nil
	}
	res.Targets = len(pending)

	batch := s.client.MaxBatchSize()
	for start := 0; start < len(pending); start += batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + batch
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		texts := make([]string, len(chunk))
		for i, a := range chunk {
			texts[i] = a.Title
			if a.Body != "" {
				texts[i] = a.Title + "\n" + a.Body
			}
		}

		vectors, err := s.client.Embed(ctx, texts)
		if err != nil {
			res.Failed += len(chunk)
			return res, err
		}

		for i, a := range chunk {
			if err := d.News.SetEmbedding(ctx, a.ID, vectors[i]); err != nil {
				res.Failed++
				log.Error().Err(err).Int64("news_id", a.ID).Msg("failed to store vector")
				continue
			}
			res.Succeeded++
			res.RowsWritten++
		}
	}

	log.Info().Int("embedded", res.Succeeded).Msg("backlog drained")
	return res, nil
}
