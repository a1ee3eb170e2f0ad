// ABOUTME: Tests for the runtime adapter registry and batch error helpers
// ABOUTME: Validates balanced registration, sealing and per-object failure extraction

package participant

import (
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/cyclecollector/graph"
)

// nopRuntime is a test runtime implementation
type nopRuntime struct{}

func (nopRuntime) Canonical(id graph.ObjID) graph.ObjID { return id }
func (nopRuntime) Traverse(graph.ObjID, TraversalCallback) error { return nil }
func (nopRuntime) Root([]graph.ObjID) error { return nil }
func (nopRuntime) Unlink([]graph.ObjID) error { return nil }
func (nopRuntime) Unroot([]graph.ObjID) error { return nil }
func (nopRuntime) BeginCollection() {}
func (nopRuntime) EndCollection() {}

func TestRegister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(2, nopRuntime{}))
	require.NoError(t, r.Register(1, nopRuntime{}))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []graph.RuntimeTag{1, 2}, r.Tags())

	err := r.Register(1, nopRuntime{})
	require.Error(t, err)
	assert.True(t, errdefs.IsAlreadyExists(err), "unexpected error class: %v", err)

	err = r.Register(3, nil)
	assert.True(t, errdefs.IsInvalidArgument(err), "unexpected error class: %v", err)
}

func TestDeregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(1, nopRuntime{}))
	require.NoError(t, r.Deregister(1))

	_, ok := r.Lookup(1)
	assert.False(t, ok)

	err := r.Deregister(1)
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err), "unexpected error class: %v", err)

	// The tag can be reused once released
	require.NoError(t, r.Register(1, nopRuntime{}))
}

func TestSealedRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(1, nopRuntime{}))

	r.Seal()
	assert.True(t, errdefs.IsFailedPrecondition(r.Register(2, nopRuntime{})))
	assert.True(t, errdefs.IsFailedPrecondition(r.Deregister(1)))

	_, ok := r.Lookup(1)
	assert.True(t, ok, "lookups must keep working while sealed")

	r.Unseal()
	assert.NoError(t, r.Register(2, nopRuntime{}))
}

func TestFailedIDs(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		wantIDs   []graph.ObjID
		wantWhole bool
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "batch of object errors",
			err: func() error {
				b := NewBatchErrors(OpUnlink)
				b.Fail(3, boom)
				b.Fail(5, boom)
				return b.ErrorOrNil()
			}(),
			wantIDs: []graph.ObjID{3, 5},
		},
		{
			name:    "single object error",
			err:     &ObjectError{Op: OpRoot, ID: 9, Err: boom},
			wantIDs: []graph.ObjID{9},
		},
		{
			name:      "plain error fails the whole batch",
			err:       boom,
			wantWhole: true,
		},
		{
			name:      "mixed multierror fails the whole batch",
			err:       multierror.Append(&ObjectError{Op: OpRoot, ID: 1, Err: boom}, boom),
			wantWhole: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, whole := FailedIDs(tt.err)
			assert.Equal(t, tt.wantWhole, whole)
			if !tt.wantWhole {
				assert.Equal(t, tt.wantIDs, ids)
			}
		})
	}
}

func TestBatchErrorsEmpty(t *testing.T) {
	assert.NoError(t, NewBatchErrors(OpRoot).ErrorOrNil())
}

func TestObjectErrorUnwraps(t *testing.T) {
	boom := errors.New("boom")
	b := NewBatchErrors(OpUnroot)
	b.Fail(1, boom)

	err := b.ErrorOrNil()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "unroot 0x1: boom")
}
