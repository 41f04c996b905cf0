// Package apperrors defines the error-kind taxonomy shared across the control
// plane (spec §7). Components return wrapped instances of these sentinel
// kinds so callers can branch with errors.Is/errors.As instead of string
// matching, and the CLI can render a stable {status, error, context,
// suggestions} envelope per kind.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind identifies a category of failure, not a specific error type.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindConfigurationMissing   Kind = "configuration_missing"
	KindCircularDependency     Kind = "circular_dependency"
	KindCollection             Kind = "collection"
	KindStorageConnection      Kind = "storage_connection"
	KindStorage                Kind = "storage"
	KindBackupCorrupted        Kind = "backup_corrupted"
	KindDeploymentValidation   Kind = "deployment_validation"
	KindProductionDeployment   Kind = "production_deployment"
	KindSecurityAudit          Kind = "security_audit"
	KindServerStartup          Kind = "server_startup"
)

// Error is the common wrapper for every taxonomy kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Context carries structured detail (e.g. missing variable names,
	// a cycle path, a retry count) rendered verbatim in --format json output.
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, apperrors.New(KindValidation, "")) works as a kind check.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithContext attaches structured context and returns e for chaining.
func (e *Error) WithContext(ctx map[string]any) *Error {
	e.Context = ctx
	return e
}

// KindOf extracts the Kind of err, if it (or something it wraps) is an
// *Error. The zero Kind is returned otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Suggestions returns a stable list of operator-facing hints for a kind,
// used to populate --format json's "suggestions" field.
func Suggestions(kind Kind) []string {
	switch kind {
	case KindValidation:
		return []string{"check the request fields against the documented schema"}
	case KindConfigurationMissing:
		return []string{"set the required environment variables", "see `platformctl config validate`"}
	case KindCircularDependency:
		return []string{"break the reported cycle in the service dependency list"}
	case KindCollection:
		return []string{"check that the service's /health and /metrics endpoints are reachable"}
	case KindStorageConnection, KindStorage:
		return []string{"verify the time-series backend (Redis) is reachable", "retry after backoff"}
	case KindBackupCorrupted:
		return []string{"restore from an earlier backup", "re-run the backup for the affected component"}
	case KindDeploymentValidation:
		return []string{"fix the reported preflight failures and re-run `platformctl prod validate`"}
	case KindProductionDeployment:
		return []string{"inspect the automatic rollback result", "check green environment logs"}
	case KindSecurityAudit:
		return []string{"re-run `platformctl prod audit` once the environment stabilizes"}
	case KindServerStartup:
		return []string{"free the bound port or change `--port`"}
	default:
		return nil
	}
}
