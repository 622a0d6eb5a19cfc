package batch

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCollectsOutcomes(t *testing.T) {
	boom := errors.New("boom")
	r := New("sweep")

	r.OK("a")
	r.Record("b", boom)
	r.Record("c", nil)
	r.Skip("d", "disabled")

	assert.Equal(t, 4, r.Len())
	assert.Equal(t, 2, r.Count(StatusOK))
	assert.Equal(t, 1, r.Count(StatusFailed))
	assert.Equal(t, 1, r.Count(StatusSkipped))
	assert.Equal(t, "sweep: ok=2 failed=1 skipped=1", r.String())

	err := r.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "b: boom")

	items := r.Items()
	assert.Equal(t, "boom", items[1].Error)
	assert.Equal(t, "disabled", items[3].Error)
}

func TestResultEmptyHasNoError(t *testing.T) {
	assert.NoError(t, New("noop").Err())
}

func TestResultConcurrentRecord(t *testing.T) {
	r := New("parallel")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.OK("k")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.Count(StatusOK))
}
