package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdleTracker_QuietImmediately(t *testing.T) {
	tr := newIdleTracker()
	start := time.Now()
	require.NoError(t, tr.wait(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestIdleTracker_WaitsForInflight(t *testing.T) {
	tr := newIdleTracker()
	tr.start("doc")
	tr.start("font")

	go func() {
		time.Sleep(30 * time.Millisecond)
		tr.finish("doc")
		time.Sleep(30 * time.Millisecond)
		tr.finish("font")
	}()

	start := time.Now()
	require.NoError(t, tr.wait(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Zero(t, tr.pending())
}

func TestIdleTracker_DuplicateStart(t *testing.T) {
	tr := newIdleTracker()
	// redirects reuse the request id
	tr.start("doc")
	tr.start("doc")
	assert.Equal(t, 1, tr.pending())
	tr.finish("doc")
	assert.Zero(t, tr.pending())
}

func TestIdleTracker_ContextEnds(t *testing.T) {
	tr := newIdleTracker()
	tr.start("stalled")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := tr.wait(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine("chromedp", Options{})
	require.NoError(t, err)
	assert.Equal(t, "chromedp", e.Name())

	e, err = NewEngine("rod", Options{})
	require.NoError(t, err)
	assert.Equal(t, "rod", e.Name())

	_, err = NewEngine("webkit", Options{})
	assert.Error(t, err)
}
