package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireAndRelease(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	release, acquired, err := locker.Acquire(ctx, "enrollment-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NotNil(t, release)

	// Second contender loses while the lease is held.
	_, acquired, err = locker.Acquire(ctx, "enrollment-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// Other keys are independent.
	_, acquired, err = locker.Acquire(ctx, "enrollment-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	release()

	_, acquired, err = locker.Acquire(ctx, "enrollment-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestMemoryLocker_ExpiredLeaseIsReacquirable(t *testing.T) {
	locker := NewMemoryLocker()

	current := time.Now()
	locker.now = func() time.Time { return current }

	_, acquired, err := locker.Acquire(context.Background(), "enrollment-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	current = current.Add(2 * time.Minute)

	_, acquired, err = locker.Acquire(context.Background(), "enrollment-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}
