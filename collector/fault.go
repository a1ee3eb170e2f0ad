// ABOUTME: Fault taxonomy for algorithm invariant violations and sentinel errors
// ABOUTME: Invariant faults permanently disable the collector instead of risking the heap

package collector

import (
	"errors"
	"fmt"

	"github.com/prateek/cyclecollector/graph"
)

var (
	// ErrCollectionInProgress is returned when Collect is re-entered
	ErrCollectionInProgress = errors.New("collection already in progress")

	// ErrDisabled is returned once the collector has faulted or shut down
	ErrDisabled = errors.New("cycle collector is disabled")
)

// FaultKind classifies an invariant violation
type FaultKind int

const (
	// FaultZeroRefCount means a runtime described a live object with refcount 0
	FaultZeroRefCount FaultKind = iota + 1
	// FaultInternalExceedsRefCount means more internal references were found
	// than the object's refcount allows
	FaultInternalExceedsRefCount
	// FaultScanNotGrey means the scan visitor reached a node that was not grey
	FaultScanNotGrey
	// FaultGreyAfterScan means a node was still grey after scanning finished
	FaultGreyAfterScan
	// FaultTraverse means a runtime failed to traverse an object
	FaultTraverse
	// FaultUnknownRuntime means a graph node has no registered runtime
	FaultUnknownRuntime
)

func (k FaultKind) String() string {
	switch k {
	case FaultZeroRefCount:
		return "zero-refcount"
	case FaultInternalExceedsRefCount:
		return "internal-exceeds-refcount"
	case FaultScanNotGrey:
		return "scan-not-grey"
	case FaultGreyAfterScan:
		return "grey-after-scan"
	case FaultTraverse:
		return "traverse-failed"
	case FaultUnknownRuntime:
		return "unknown-runtime"
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// Fault is an algorithm invariant violation detected during a pass
type Fault struct {
	Kind   FaultKind
	Ref    graph.ObjRef
	Detail string
	Err    error
}

func newFault(kind FaultKind, n *graph.Node, format string, args ...interface{}) *Fault {
	f := &Fault{Kind: kind, Detail: fmt.Sprintf(format, args...)}
	if n != nil {
		f.Ref = n.Ref
	}
	return f
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("cycle collector fault %s at %s: %s", f.Kind, f.Ref, f.Detail)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// IsFault reports whether err carries an invariant fault
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}
