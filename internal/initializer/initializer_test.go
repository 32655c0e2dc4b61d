package initializer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/talentdesk/internal/logging"
)

func counter(n *int) Step {
	return Step{Name: "count", Run: func(context.Context) error {
		*n++
		return nil
	}}
}

func TestInit_RunsOnce(t *testing.T) {
	runs := 0
	s := New([]Step{counter(&runs)}, WithLogger(logging.Discard()))

	res := s.Init(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Initialized)
	assert.Equal(t, 1, res.Attempt)

	again := s.Init(context.Background())
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, again.Attempt)
	assert.True(t, s.Initialized())
}

func TestReinit_RunsAgain(t *testing.T) {
	runs := 0
	s := New([]Step{counter(&runs)}, WithLogger(logging.Discard()))

	s.Init(context.Background())
	res := s.Reinit(context.Background())
	assert.Equal(t, 2, runs)
	assert.Equal(t, 2, res.Attempt)
	assert.True(t, res.Initialized)
}

func TestInit_FailureStopsAndRetries(t *testing.T) {
	boom := errors.New("seed file missing")
	fail := true
	after := 0
	s := New([]Step{
		{Name: "seed", Run: func(context.Context) error {
			if fail {
				return boom
			}
			return nil
		}},
		counter(&after),
	}, WithLogger(logging.Discard()))

	res := s.Init(context.Background())
	assert.False(t, res.Initialized)
	assert.ErrorIs(t, res.Err, boom)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "seed file missing", res.Steps[0].Error)
	assert.True(t, res.Steps[1].Skipped)
	assert.Zero(t, after)
	assert.False(t, s.Initialized())

	fail = false
	res = s.Init(context.Background())
	assert.True(t, res.Initialized)
	assert.Equal(t, 1, after)
}

func TestInit_NoSteps(t *testing.T) {
	res := New(nil, WithLogger(logging.Discard())).Init(context.Background())
	assert.ErrorIs(t, res.Err, ErrNoSteps)
	assert.False(t, res.Initialized)
}

func TestInit_PanicBecomesError(t *testing.T) {
	s := New([]Step{{Name: "bad", Run: func(context.Context) error { panic("nil catalog") }}},
		WithLogger(logging.Discard()))

	res := s.Init(context.Background())
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "nil catalog")
}

func TestStepTimeout(t *testing.T) {
	s := New([]Step{{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}}, WithLogger(logging.Discard()), WithStepTimeout(10*time.Millisecond))

	res := s.Init(context.Background())
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestChecker(t *testing.T) {
	runs := 0
	s := New([]Step{counter(&runs)}, WithLogger(logging.Discard()))
	check := s.Checker()

	assert.False(t, check(context.Background()).Healthy)
	s.Init(context.Background())
	status := check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "initializer", status.Name)
}
