package cancel

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCancelUnregister(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	c := r.Register(context.Background(), id)
	require.NotNil(t, c)
	assert.Equal(t, id, c.ID())
	assert.False(t, c.Cancelled())
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Cancel(id))
	assert.True(t, c.Cancelled())
	<-c.Context().Done()

	// Cancelling does not remove the controller.
	_, ok := r.Lookup(id)
	assert.True(t, ok)

	r.Unregister(id)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Cancel(id), "late cancel must be a no-op")

	// Second unregister is harmless.
	r.Unregister(id)
}

func TestCancelUnknownID(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Cancel(uuid.New()))
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	first := r.Register(context.Background(), id)
	second := r.Register(context.Background(), id)

	assert.Equal(t, 1, r.Len())
	assert.Error(t, first.Context().Err(), "replaced controller should be released")
	assert.False(t, first.Cancelled(), "release is not a cancellation")
	assert.NoError(t, second.Context().Err())

	// The stale owner must not evict the replacement.
	r.UnregisterController(first)
	got, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Same(t, second, got)

	r.UnregisterController(second)
	assert.Equal(t, 0, r.Len())
}

func TestParentCancellationPropagates(t *testing.T) {
	r := NewRegistry()
	parent, cancel := context.WithCancel(context.Background())
	c := r.Register(parent, uuid.New())

	cancel()
	<-c.Context().Done()
	assert.False(t, c.Cancelled())
}

func TestConcurrentDistinctIDs(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			c := r.Register(context.Background(), id)
			if !r.Cancel(id) {
				t.Errorf("cancel of live controller %s returned false", id)
			}
			if !c.Cancelled() {
				t.Errorf("controller %s not cancelled", id)
			}
			r.Unregister(id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
