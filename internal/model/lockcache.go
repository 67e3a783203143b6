package model

import "time"

// ResolvedArtifact is the cached output of a dependency resolution run
// (spec §3, §4.F): a lockfile plus a resolved manifest, keyed by language and
// content fingerprint.
type ResolvedArtifact struct {
	Language    string
	Fingerprint string
	Lockfile    []byte
	Manifest    []byte
	ExpiresAt   *time.Time
	// ResolveError is set when the last resolve attempt failed; queued
	// awaiters observe it and fail fast instead of re-running the resolver
	// (spec §4.F "On failure the error is stored transiently").
	ResolveError string
}
