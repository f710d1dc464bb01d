package recovery

import (
	"context"
	"errors"
	"fmt"

	"source_recovery/internal/extract"
	"source_recovery/internal/fetch"
	"source_recovery/internal/models"
	"source_recovery/internal/sourceurl"
	"source_recovery/internal/transcript"
)

var (
	// ErrRateLimited is the provider throttling signal. Retried with a
	// doubled delay.
	ErrRateLimited = fetch.ErrRateLimited
	// ErrPermanent marks failures a retry cannot fix, such as an
	// identifier with no video id in it.
	ErrPermanent = errors.New("permanent failure")
	// ErrNoContent means the provider answered but had nothing usable.
	// Retried like a transient failure.
	ErrNoContent = errors.New("no content")
)

// Strategy recovers source text for one kind of SourceRef.
type Strategy interface {
	Name() string
	Provider() string
	Recover(ctx context.Context, ref models.SourceRef) (string, error)
}

type TranscriptSource interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

type ArticleSource interface {
	Fetch(ctx context.Context, articleID string) (string, error)
}

// Strategies builds the per-source-type dispatch table.
func Strategies(videos TranscriptSource, articles ArticleSource) map[models.SourceType]Strategy {
	t := &transcriptStrategy{src: videos}
	return map[models.SourceType]Strategy{
		models.SourceVideo:   t,
		models.SourceTED:     t,
		models.SourceArticle: &articleStrategy{src: articles},
	}
}

type transcriptStrategy struct {
	src TranscriptSource
}

func (*transcriptStrategy) Name() string     { return "transcript" }
func (*transcriptStrategy) Provider() string { return models.ProviderTranscript }

func (s *transcriptStrategy) Recover(ctx context.Context, ref models.SourceRef) (string, error) {
	var id string
	switch r := ref.(type) {
	case models.VideoRef:
		id = r.ID
	case models.LinkRef:
		if id = sourceurl.VideoID(r.URL); id == "" {
			return "", fmt.Errorf("%w: no video id in %q", ErrPermanent, r.URL)
		}
	default:
		return "", fmt.Errorf("%w: transcript strategy cannot handle %T", ErrPermanent, ref)
	}
	text, err := s.src.Fetch(ctx, id)
	if errors.Is(err, transcript.ErrNotFound) {
		return "", fmt.Errorf("%w: %v", ErrNoContent, err)
	}
	return text, err
}

type articleStrategy struct {
	src ArticleSource
}

func (*articleStrategy) Name() string     { return "article" }
func (*articleStrategy) Provider() string { return models.ProviderArticle }

func (s *articleStrategy) Recover(ctx context.Context, ref models.SourceRef) (string, error) {
	r, ok := ref.(models.ArticleRef)
	if !ok {
		return "", fmt.Errorf("%w: article strategy cannot handle %T", ErrPermanent, ref)
	}
	text, err := s.src.Fetch(ctx, r.ID)
	if errors.Is(err, extract.ErrNoContent) {
		return "", fmt.Errorf("%w: %v", ErrNoContent, err)
	}
	return text, err
}
