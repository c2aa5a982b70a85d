package generation

import (
	"context"
	"errors"

	"github.com/wolfman30/leadqual/pkg/logging"
)

// FallbackGenerator tries the primary provider and, on failure, the
// fallback. A nil fallback makes it a passthrough.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
	logger   *logging.Logger
}

var _ Generator = (*FallbackGenerator)(nil)

// NewFallbackGenerator wraps primary with an optional fallback.
func NewFallbackGenerator(primary, fallback Generator, logger *logging.Logger) *FallbackGenerator {
	if primary == nil {
		panic("generation: primary generator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackGenerator{primary: primary, fallback: fallback, logger: logger}
}

func (g *FallbackGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	reply, err := g.primary.Generate(ctx, req)
	if err == nil {
		return reply, nil
	}
	// A cancelled caller gets nothing from a second provider.
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return Reply{}, err
	}

	g.logger.Warn("primary generator failed, attempting fallback",
		"error", err,
		"fallback_available", g.fallback != nil,
	)
	if g.fallback == nil {
		return Reply{}, err
	}

	reply, fallbackErr := g.fallback.Generate(ctx, req)
	if fallbackErr != nil {
		g.logger.Error("fallback generator also failed",
			"primary_error", err,
			"fallback_error", fallbackErr,
		)
		return Reply{}, fallbackErr
	}
	g.logger.Info("fallback generator succeeded after primary failure", "provider", reply.Provider)
	return reply, nil
}
