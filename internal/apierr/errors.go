// Package apierr defines the typed error values that every core
// operation (Get/Update/Watch/Trace/RunGC, §6) returns, and maps them to
// the wire status codes named in spec.md §6/§7.
package apierr

import (
	"errors"
	"fmt"

	"github.com/vitaliisemenov/mhconf/internal/merge"
)

// Status is the wire-level status code a request resolves to.
type Status string

const (
	StatusOK                Status = "OK"
	StatusError              Status = "ERROR"
	StatusInvalidVersion     Status = "INVALID_VERSION"
	StatusRefGraphNotDAG     Status = "REF_GRAPH_IS_NOT_DAG"
	StatusPermissionDenied   Status = "PERMISSION_DENIED"
	StatusInvalidArgument    Status = "INVALID_ARGUMENT"
	StatusUnauthenticated    Status = "UNAUTHENTICATED"
	StatusUIDInUse           Status = "UID_IN_USE"
	StatusUnknownUID         Status = "UNKNOWN_UID"
	StatusRemoved            Status = "REMOVED"
)

// InvalidArgument is returned for malformed root paths, labels, document
// names, or relative paths (§6 Input validation).
type InvalidArgument struct {
	Field  string
	Reason string
}

func (e *InvalidArgument) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

// InvalidVersion is returned when a request names a version at or below
// a namespace's oldest_version (§8 Boundary behaviors).
type InvalidVersion struct {
	Requested uint64
	Oldest    uint64
}

func (e *InvalidVersion) Error() string {
	return fmt.Sprintf("version %d is at or below oldest retained version %d", e.Requested, e.Oldest)
}

// RefGraphNotDAG is returned when the cross-document reference DFS
// (§4.D.5) revisits a document still on its stack.
type RefGraphNotDAG struct {
	Cycle []string
}

func (e *RefGraphNotDAG) Error() string {
	return fmt.Sprintf("reference graph is not a DAG: %v", e.Cycle)
}

// NamespaceDeleted is returned for any operation against a namespace in
// the terminal DELETED state (§3 invariant, §7 "Namespace" error kind).
type NamespaceDeleted struct {
	RootPath string
	Reason   string
}

func (e *NamespaceDeleted) Error() string {
	return fmt.Sprintf("namespace %q is deleted (%s)", e.RootPath, e.Reason)
}

// PermissionDenied wraps an authz.Decision rejection.
type PermissionDenied struct {
	Reason string
}

func (e *PermissionDenied) Error() string { return "permission denied: " + e.Reason }

// Unauthenticated is returned when no/invalid credentials were presented.
type Unauthenticated struct {
	Reason string
}

func (e *Unauthenticated) Error() string { return "unauthenticated: " + e.Reason }

// BuildFailed wraps a parse/merge/I-O failure from the resolve engine
// (§7 "Build" error kind). The offending cache entry is never filled.
type BuildFailed struct {
	Document string
	Cause    error
}

func (e *BuildFailed) Error() string { return fmt.Sprintf("build failed for %q: %v", e.Document, e.Cause) }
func (e *BuildFailed) Unwrap() error { return e.Cause }

// UnknownUID is returned by Watch's Remove(uid) for an unregistered uid.
type UnknownUID struct{ UID string }

func (e *UnknownUID) Error() string { return fmt.Sprintf("unknown watcher uid %q", e.UID) }

// UIDInUse is returned by Watch's Register(uid, ...) when uid is already
// registered on the same stream.
type UIDInUse struct{ UID string }

func (e *UIDInUse) Error() string { return fmt.Sprintf("watcher uid %q already in use", e.UID) }

// ToStatus maps a typed error to its wire status code. A nil error maps
// to StatusOK.
func ToStatus(err error) Status {
	if err == nil {
		return StatusOK
	}
	var (
		invalidArg  *InvalidArgument
		invalidVer  *InvalidVersion
		notDAG      *RefGraphNotDAG
		nsDeleted   *NamespaceDeleted
		permDenied  *PermissionDenied
		unauth      *Unauthenticated
		uidInUse    *UIDInUse
		unknownUID  *UnknownUID
		buildFailed *BuildFailed
		docNotFound *merge.ErrDocumentNotFound
		cycle       *merge.CycleError
	)
	switch {
	case errors.As(err, &invalidArg):
		return StatusInvalidArgument
	case errors.As(err, &invalidVer):
		return StatusInvalidVersion
	case errors.As(err, &notDAG):
		return StatusRefGraphNotDAG
	case errors.As(err, &cycle):
		return StatusRefGraphNotDAG
	case errors.As(err, &nsDeleted):
		return StatusError
	case errors.As(err, &permDenied):
		return StatusPermissionDenied
	case errors.As(err, &unauth):
		return StatusUnauthenticated
	case errors.As(err, &uidInUse):
		return StatusUIDInUse
	case errors.As(err, &unknownUID):
		return StatusUnknownUID
	case errors.As(err, &buildFailed):
		return StatusError
	case errors.As(err, &docNotFound):
		return StatusError
	default:
		return StatusError
	}
}
