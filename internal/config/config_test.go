package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild_Defaults(t *testing.T) {
	c, err := Build()
	require.NoError(t, err)
	require.Equal(t, uint64(16384), c.BufferSize)
	require.False(t, c.BlockWhenFull)
	require.Equal(t, int64(128), c.WakeBatchSize)
	require.Equal(t, int64(32), c.SpinBatchSize)
	require.Equal(t, int64(25), c.WakeupMs)
	require.Equal(t, int64(10000), c.ShutdownTimeoutMs)
	require.NotNil(t, c.Logger)
}

func TestBuild_RoundsBufferSizeUpToPowerOfTwo(t *testing.T) {
	c, err := Build(WithBufferSize(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(1024), c.BufferSize)
}

func TestBuild_AcceptsExactMinimum(t *testing.T) {
	c, err := Build(WithBufferSize(512))
	require.NoError(t, err)
	require.Equal(t, uint64(512), c.BufferSize)
}

func TestBuild_RejectsBelowMinimum(t *testing.T) {
	_, err := Build(WithBufferSize(511))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBuild_RejectsBelowMinimumEvenWhenRoundingWouldReachIt(t *testing.T) {
	// 300 rounds up to 512 (>= minBufferSize), but the raw request is below
	// the minimum and must still be rejected rather than rounded into
	// validity.
	_, err := Build(WithBufferSize(300))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBuild_EnvironmentOverridesDefaultButNotExplicitOption(t *testing.T) {
	t.Setenv(envWakeupMs, "99")
	t.Setenv(envShutdownTimeoutMs, "5000")

	c, err := Build()
	require.NoError(t, err)
	require.Equal(t, int64(99), c.WakeupMs)
	require.Equal(t, int64(5000), c.ShutdownTimeoutMs)

	c, err = Build(WithWakeupMs(7))
	require.NoError(t, err)
	require.Equal(t, int64(7), c.WakeupMs, "explicit option must win over the environment override")
}

func TestBuild_InvalidEnvironmentValueFallsBackSilently(t *testing.T) {
	t.Setenv(envWakeupMs, "not-a-number")
	c, err := Build()
	require.NoError(t, err)
	require.Equal(t, int64(25), c.WakeupMs)

	t.Setenv(envWakeupMs, "-1")
	c, err = Build()
	require.NoError(t, err)
	require.Equal(t, int64(25), c.WakeupMs)

	t.Setenv(envWakeupMs, "")
	c, err = Build()
	require.NoError(t, err)
	require.Equal(t, int64(25), c.WakeupMs)
}

func TestRoundUpToPowerOfTwo(t *testing.T) {
	cases := map[uint64]uint64{
		1:    1,
		2:    2,
		3:    4,
		511:  512,
		512:  512,
		513:  1024,
		1024: 1024,
	}
	for in, want := range cases {
		require.Equal(t, want, RoundUpToPowerOfTwo(in), "in=%d", in)
	}
}
