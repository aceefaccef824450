package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
	"github.com/Strob0t/QueryWarden/internal/port/cache"
	"github.com/Strob0t/QueryWarden/internal/port/reasoning"
)

// RouteClassifier picks the resolution path for a ticket.
type RouteClassifier interface {
	Classify(ctx context.Context, text string) (flow.RouteTag, error)
}

// Classifier maps ticket text to a route tag through the reasoning service.
// Known tags are cached per normalized text; unknown tags are returned as-is
// and never cached.
type Classifier struct {
	reasoner reasoning.Reasoner
	cache    cache.Cache
	ttl      time.Duration
	log      *slog.Logger
}

// NewClassifier creates a Classifier. routeCache may be nil.
func NewClassifier(r reasoning.Reasoner, routeCache cache.Cache, ttl time.Duration, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{reasoner: r, cache: routeCache, ttl: ttl, log: log}
}

// Classify returns the route tag for text.
func (c *Classifier) Classify(ctx context.Context, text string) (flow.RouteTag, error) {
	key := routeKey(text)

	if c.cache != nil {
		if v, ok, err := c.cache.Get(ctx, key); err != nil {
			c.log.WarnContext(ctx, "route cache get failed", "error", err)
		} else if ok {
			return flow.RouteTag(v), nil
		}
	}

	raw, err := c.reasoner.Classify(ctx, text)
	if err != nil {
		if errors.Is(err, domain.ErrReasoning) {
			return "", err
		}
		return "", fmt.Errorf("classify: %w: %w", domain.ErrReasoning, err)
	}

	tag := flow.ParseRouteTag(raw)
	if c.cache != nil && (tag == flow.RouteSimple || tag == flow.RouteComplex) {
		if err := c.cache.Set(ctx, key, []byte(tag), c.ttl); err != nil {
			c.log.WarnContext(ctx, "route cache set failed", "error", err)
		}
	}
	return tag, nil
}

// routeKey hashes the case- and whitespace-normalized text.
func routeKey(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(norm))
	return "route." + hex.EncodeToString(sum[:])
}
