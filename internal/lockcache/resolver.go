// Package lockcache implements dependency resolution with single-flight
// collapsing and negative caching (spec §4.F): two callers resolving the
// same (language, fingerprint) pair block on one Postgres advisory lock
// rather than both invoking the (expensive) resolver.
package lockcache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/store"
)

// Resolve runs a language's dependency resolution step (compute a
// lockfile and manifest from a raw dependency spec), outside of any cache
// concern. Concrete implementations shell out to the language's package
// manager in its own scratch directory.
type Resolve func(ctx context.Context, fingerprint string, spec []byte) (lockfile, manifest []byte, err error)

// Resolver wraps one language's Resolve func with the shared cache, lock,
// and rate-limit policy (spec §4.F).
type Resolver struct {
	language string
	resolve  Resolve

	pool    *store.Pool
	cache   store.LockCacheStore
	limiter *rate.Limiter
	logger  *log.Logger

	// ttl is how long a successful resolution is trusted before a caller
	// must re-resolve, even on a cache hit (spec §4.F "content-addressed,
	// with optional expiry").
	ttl time.Duration
}

// NewResolver creates a Resolver for one language. burst and perSecond
// bound how often this process will invoke resolve, protecting the
// upstream package registry from a thundering herd of distinct
// fingerprints (spec §4.F "negative caching" companion: positive-path rate
// limiting).
func NewResolver(language string, resolve Resolve, pool *store.Pool, cache store.LockCacheStore, perSecond float64, burst int, ttl time.Duration, logger *log.Logger) *Resolver {
	return &Resolver{
		language: language,
		resolve:  resolve,
		pool:     pool,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		ttl:      ttl,
		logger:   logger,
	}
}

// Resolve returns a ResolvedArtifact for (language, fingerprint),
// resolving it via the single-flight path on a cache miss or stale error.
func (r *Resolver) Resolve(ctx context.Context, fingerprint string, spec []byte) (*model.ResolvedArtifact, error) {
	if artifact, cachedErr, hit := r.freshHit(ctx, fingerprint); hit {
		if cachedErr != nil {
			return nil, cachedErr
		}
		return artifact, nil
	}

	lockKey := store.AdvisoryKey(fmt.Sprintf("lockcache:%s:%s", r.language, fingerprint))
	release, err := store.AdvisoryLock(ctx, r.pool, lockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire resolver lock for %s/%s: %w", r.language, fingerprint, err)
	}
	defer release()

	// Re-check after acquiring the lock: another process may have resolved
	// this fingerprint while we were waiting (spec §4.F "collapse
	// concurrent resolutions").
	if artifact, cachedErr, hit := r.freshHit(ctx, fingerprint); hit {
		if cachedErr != nil {
			return nil, cachedErr
		}
		return artifact, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait canceled for %s/%s: %w", r.language, fingerprint, err)
	}

	lockfile, manifest, resolveErr := r.resolve(ctx, fingerprint, spec)
	if resolveErr != nil {
		if err := r.cache.PutError(ctx, r.language, fingerprint, resolveErr.Error()); err != nil {
			r.logger.Warn().Err(err).Str("language", r.language).Str("fingerprint", fingerprint).
				Msg("failed to negative-cache resolve error")
		}
		return nil, fmt.Errorf("failed to resolve dependencies for %s/%s: %w", r.language, fingerprint, resolveErr)
	}

	var expiresAt *time.Time
	if r.ttl > 0 {
		t := time.Now().Add(r.ttl)
		expiresAt = &t
	}
	artifact := &model.ResolvedArtifact{
		Language:    r.language,
		Fingerprint: fingerprint,
		Lockfile:    lockfile,
		Manifest:    manifest,
		ExpiresAt:   expiresAt,
	}
	if err := r.cache.Put(ctx, artifact); err != nil {
		r.logger.Warn().Err(err).Str("language", r.language).Str("fingerprint", fingerprint).
			Msg("failed to persist resolved artifact")
	}
	return artifact, nil
}

// freshHit reports whether fingerprint has a not-yet-expired cache entry,
// positive or negative. hit is false on a cache miss or an expired entry,
// in which case the caller must re-resolve. hit is true on a negative
// entry too (spec §4.F "awaiters observe it and fail fast"): the caller
// gets cachedErr back and must not re-invoke the resolver.
func (r *Resolver) freshHit(ctx context.Context, fingerprint string) (artifact *model.ResolvedArtifact, cachedErr error, hit bool) {
	artifact, err := r.cache.Get(ctx, r.language, fingerprint)
	if err != nil {
		return nil, nil, false
	}
	if artifact.ExpiresAt != nil && artifact.ExpiresAt.Before(time.Now()) {
		return nil, nil, false
	}
	if artifact.ResolveError != "" {
		return nil, fmt.Errorf("cached resolve failure for %s/%s: %s", r.language, fingerprint, artifact.ResolveError), true
	}
	return artifact, nil, true
}
