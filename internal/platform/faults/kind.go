// Package faults defines the error taxonomy used across the service and a
// deterministic classifier that maps raw failures into it.
package faults

import "net/http"

// Kind is a closed category a failure is classified into.
// The set is fixed at process start; each kind carries a default severity,
// a default HTTP status for surfacing to callers, and an ordered list of
// recovery strategy names.
type Kind string

const (
	// KindNetwork covers connectivity failures: refused connections, DNS
	// failures, timeouts, unreachable hosts.
	KindNetwork Kind = "NETWORK"

	// KindData covers malformed or unparseable payloads from otherwise
	// healthy sources.
	KindData Kind = "DATA"

	// KindExternalService covers upstream API failures: 5xx responses,
	// rate limiting, missing remote resources.
	KindExternalService Kind = "EXTERNAL_SERVICE"

	// KindValidation covers malformed caller input.
	KindValidation Kind = "VALIDATION"

	// KindPermission covers authentication and authorization failures.
	KindPermission Kind = "PERMISSION"

	// KindStorage covers local disk failures: full disk, denied writes.
	KindStorage Kind = "STORAGE"

	// KindSystem covers process-level failures: out of memory, panics
	// recovered at a boundary.
	KindSystem Kind = "SYSTEM"

	// KindUnknown is the fallback when no rule matches.
	KindUnknown Kind = "UNKNOWN"
)

// Severity indicates how urgently a failure should be surfaced.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// KindInfo holds the static metadata attached to a Kind.
type KindInfo struct {
	Severity   Severity
	HTTPStatus int
	// Strategies is the ordered list of recovery strategy names tried for
	// this kind. Order matters: the engine stops at the first success.
	Strategies []string
}

// kindTable is the process-wide taxonomy. Immutable after init.
var kindTable = map[Kind]KindInfo{
	KindNetwork: {
		Severity:   SeverityMedium,
		HTTPStatus: http.StatusServiceUnavailable,
		Strategies: []string{"retry", "offline-mode", "cached-fallback"},
	},
	KindData: {
		Severity:   SeverityLow,
		HTTPStatus: http.StatusUnprocessableEntity,
		Strategies: []string{"cached-fallback", "static-defaults"},
	},
	KindExternalService: {
		Severity:   SeverityMedium,
		HTTPStatus: http.StatusBadGateway,
		Strategies: []string{"retry", "cached-fallback", "static-defaults"},
	},
	KindValidation: {
		Severity:   SeverityLow,
		HTTPStatus: http.StatusBadRequest,
		Strategies: nil, // caller input problems are not recoverable here
	},
	KindPermission: {
		Severity:   SeverityHigh,
		HTTPStatus: http.StatusForbidden,
		Strategies: nil,
	},
	KindStorage: {
		Severity:   SeverityHigh,
		HTTPStatus: http.StatusInternalServerError,
		Strategies: []string{"cached-fallback"},
	},
	KindSystem: {
		Severity:   SeverityHigh,
		HTTPStatus: http.StatusInternalServerError,
		Strategies: []string{"cached-fallback"},
	},
	KindUnknown: {
		Severity:   SeverityMedium,
		HTTPStatus: http.StatusInternalServerError,
		Strategies: []string{"cached-fallback"},
	},
}

// Info returns the static metadata for a kind. Unregistered kinds fall back
// to the UNKNOWN entry.
func (k Kind) Info() KindInfo {
	if info, ok := kindTable[k]; ok {
		return info
	}
	return kindTable[KindUnknown]
}

// Severity returns the default severity for the kind.
func (k Kind) DefaultSeverity() Severity { return k.Info().Severity }

// DefaultHTTPStatus returns the HTTP status used when surfacing the kind.
func (k Kind) DefaultHTTPStatus() int { return k.Info().HTTPStatus }

// RecoveryStrategies returns a copy of the ordered strategy names for the kind.
func (k Kind) RecoveryStrategies() []string {
	src := k.Info().Strategies
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Kinds returns every registered kind. Useful for stats initialization.
func Kinds() []Kind {
	return []Kind{
		KindNetwork, KindData, KindExternalService, KindValidation,
		KindPermission, KindStorage, KindSystem, KindUnknown,
	}
}

// Valid reports whether k is one of the registered kinds.
func (k Kind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}
