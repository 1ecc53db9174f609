package intent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConstraints(t *testing.T) {
	c := DefaultConstraints()
	require.NotNil(t, c.MaxSteps)
	require.NotNil(t, c.MaxRuntimeMs)
	assert.Equal(t, uint32(10_000), *c.MaxSteps)
	assert.Equal(t, uint64(10_000), *c.MaxRuntimeMs)
	assert.True(t, c.RequireLogs)
	assert.Equal(t, PrivacyProtected, c.Privacy)
}

func TestAssertStepAllowed(t *testing.T) {
	c := Unbounded().WithMaxSteps(2)

	require.NoError(t, c.AssertStepAllowed(0))
	require.NoError(t, c.AssertStepAllowed(1))

	err := c.AssertStepAllowed(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepLimitExceeded))

	var stepErr *StepLimitExceededError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, uint32(2), stepErr.MaxSteps)
	assert.Equal(t, 2, stepErr.AttemptedStepIndex)
	assert.Equal(t, CodeStepLimitExceeded, stepErr.Code())
}

func TestAssertStepAllowed_ZeroAllowsNothing(t *testing.T) {
	err := Unbounded().WithMaxSteps(0).AssertStepAllowed(0)
	assert.ErrorIs(t, err, ErrStepLimitExceeded)
}

func TestAssertRuntimeAllowed(t *testing.T) {
	c := Unbounded().WithMaxRuntimeMs(10)

	require.NoError(t, c.AssertRuntimeAllowed(10), "equal to the limit is allowed")

	err := c.AssertRuntimeAllowed(11)
	var rtErr *RuntimeLimitExceededError
	require.True(t, errors.As(err, &rtErr))
	assert.Equal(t, uint64(10), rtErr.MaxRuntimeMs)
	assert.Equal(t, uint64(11), rtErr.ElapsedMs)
	assert.ErrorIs(t, err, ErrRuntimeLimitExceeded)
}

func TestUnbounded_NoCeilings(t *testing.T) {
	c := Unbounded()
	assert.NoError(t, c.AssertStepAllowed(1<<30))
	assert.NoError(t, c.AssertRuntimeAllowed(^uint64(0)))
}

func TestWithHelpers_DoNotAlias(t *testing.T) {
	base := DefaultConstraints()
	tight := base.WithMaxSteps(1)
	assert.Equal(t, uint32(10_000), *base.MaxSteps)
	assert.Equal(t, uint32(1), *tight.MaxSteps)
}
