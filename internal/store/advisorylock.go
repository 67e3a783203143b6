package store

import (
	"context"
	"fmt"
	"hash/fnv"
)

// AdvisoryKey derives a stable int64 advisory-lock key from a string, so
// callers can lock on a logical name (a resolver fingerprint, a monitor
// pass name) instead of juggling raw integers.
func AdvisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// TryAdvisoryLock attempts a non-blocking session-level advisory lock on a
// dedicated connection checked out of the pool, returning a release func.
// Used by the liveness monitor to elect a single runner per sweep (spec
// §4.G).
func TryAdvisoryLock(ctx context.Context, pool *Pool, key int64) (acquired bool, release func(), err error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to acquire connection for advisory lock: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return false, nil, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil, nil
	}

	release = func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	return true, release, nil
}

// AdvisoryLock blocks until the session-level advisory lock on key is held,
// returning a release func. Used by the lock/cache resolver for
// single-flight resolution (spec §4.F).
func AdvisoryLock(ctx context.Context, pool *Pool, key int64) (release func(), err error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for advisory lock: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}

	release = func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	return release, nil
}
