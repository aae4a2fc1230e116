package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	r := New()
	result, err := r.Run(context.Background(), "test-echo", []string{"/bin/echo", "hello"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunNonZeroExit(t *testing.T) {
	r := New()
	result, err := r.Run(context.Background(), "test-false", []string{"/bin/false"}, time.Second)
	require.Error(t, err)
	assert.Equal(t, 1, result.ExitCode)
}

func TestRunTimeout(t *testing.T) {
	r := New()
	_, err := r.Run(context.Background(), "test-sleep", []string{"/bin/sleep", "5"}, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRunEmptyArgv(t *testing.T) {
	r := New()
	_, err := r.Run(context.Background(), "test-empty", nil, time.Second)
	assert.Error(t, err)
}
