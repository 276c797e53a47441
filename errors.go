package rulecache

import "errors"

var (
	// Not found outcomes from the data source. These are first-class
	// results, not panics: a transient data-layer glitch can masquerade
	// as "not found", so jobs hitting them still follow the normal
	// retry policy.
	ErrRuleNotFound    = errors.New("rulecache: rule not found")
	ErrTriggerNotFound = errors.New("rulecache: trigger not found")
	ErrTenantNotFound  = errors.New("rulecache: tenant not found")

	// Artifact cache.
	ErrArtifactNotFound = errors.New("rulecache: compiled artifact not found")

	// Engine lifecycle.
	ErrEngineStopped = errors.New("rulecache: engine stopped")

	// Retry policy.
	ErrMaxAttemptsExceeded = errors.New("rulecache: max attempts exceeded")
)
