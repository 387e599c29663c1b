// Package defrag implements the partition defragmentation engine's
// coordinator (C9), partition pipeline (C6), index rebuild hook (C8), and
// the external interfaces the engine consumes from its surrounding node
// (C1/C2's concrete implementations live in package page; C3 in package
// checkpoint; C4 in package tree; C5 in package linkmap; C7 in package
// layout).
package defrag

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a defragmentation failure (spec §7).
type Kind int

const (
	// KindPageIOError covers any read/write/sync/rename failure. Fatal for
	// the current group; partial .tmp files are left for the next run.
	KindPageIOError Kind = iota
	// KindUnsupportedMetaVersion means the old partition meta's version is
	// outside {1,2,3}. Fatal; no file is renamed.
	KindUnsupportedMetaVersion
	// KindIndexDefragmentationFailed is surfaced from the Index Rebuilder
	// (C8); the group's completion marker is not written.
	KindIndexDefragmentationFailed
	// KindCheckpointFailed means a checkpoint future resolved with an
	// error; treated as fatal for the run.
	KindCheckpointFailed
	// KindAlreadyDefragmented is not a failure; it is a skip signal
	// surfaced so callers can log/count it distinctly from a real error.
	KindAlreadyDefragmented
)

func (k Kind) String() string {
	switch k {
	case KindPageIOError:
		return "PageIOError"
	case KindUnsupportedMetaVersion:
		return "UnsupportedMetaVersion"
	case KindIndexDefragmentationFailed:
		return "IndexDefragmentationFailed"
	case KindCheckpointFailed:
		return "CheckpointFailed"
	case KindAlreadyDefragmented:
		return "AlreadyDefragmented"
	default:
		return "Unknown"
	}
}

// Error is the error type every defragmentation failure surfaces as, the
// Go analogue of the Java DefragmentationException hierarchy collapsed to
// one struct plus a Kind discriminator.
type Error struct {
	Kind      Kind
	Group     uint32
	Partition uint32
	// HasPartition distinguishes a group-level failure from a
	// partition-level one; Partition is meaningless when false.
	HasPartition bool
	Err          error
}

func (e *Error) Error() string {
	if e.HasPartition {
		return fmt.Sprintf("defrag: %s (group=%d partition=%d): %v", e.Kind, e.Group, e.Partition, e.Err)
	}
	return fmt.Sprintf("defrag: %s (group=%d): %v", e.Kind, e.Group, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func groupErr(kind Kind, group uint32, err error) error {
	return &Error{Kind: kind, Group: group, Err: err}
}

func partitionErr(kind Kind, group, partition uint32, err error) error {
	return &Error{Kind: kind, Group: group, Partition: partition, HasPartition: true, Err: err}
}

// IsKind reports whether err is a *Error of the given kind, unwrapping
// through any github.com/pkg/errors wrapping along the way.
func IsKind(err error, kind Kind) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Kind == kind
}
