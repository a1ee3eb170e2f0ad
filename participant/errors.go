// ABOUTME: Per-object failure reporting for runtime adapter batch operations
// ABOUTME: Adapters aggregate ObjectErrors into a multierror for the collector

package participant

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/prateek/cyclecollector/graph"
)

// Op names an adapter operation
type Op string

const (
	OpTraverse Op = "traverse"
	OpRoot     Op = "root"
	OpUnlink   Op = "unlink"
	OpUnroot   Op = "unroot"
)

// ObjectError reports that an operation failed for a single object
type ObjectError struct {
	Op  Op
	ID  graph.ObjID
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %#x: %v", e.Op, uint64(e.ID), e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// BatchErrors accumulates per-object failures for one batch call
type BatchErrors struct {
	op     Op
	result *multierror.Error
}

// NewBatchErrors starts collecting failures for op
func NewBatchErrors(op Op) *BatchErrors {
	return &BatchErrors{op: op}
}

// Fail records a failure for id
func (b *BatchErrors) Fail(id graph.ObjID, err error) {
	b.result = multierror.Append(b.result, &ObjectError{Op: b.op, ID: id, Err: err})
}

// ErrorOrNil returns the accumulated error, or nil if every object succeeded
func (b *BatchErrors) ErrorOrNil() error {
	return b.result.ErrorOrNil()
}

// FailedIDs splits err into the identities that failed individually.
// whole is true when err is not made of ObjectErrors, meaning the entire
// batch must be treated as failed.
func FailedIDs(err error) (ids []graph.ObjID, whole bool) {
	if err == nil {
		return nil, false
	}

	var errs []error
	var merr *multierror.Error
	if errors.As(err, &merr) {
		errs = merr.WrappedErrors()
	} else {
		errs = []error{err}
	}

	for _, e := range errs {
		var oe *ObjectError
		if !errors.As(e, &oe) {
			return nil, true
		}
		ids = append(ids, oe.ID)
	}
	return ids, false
}
