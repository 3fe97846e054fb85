package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/book-expert/align-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "invalid input", err: fmt.Errorf("%w: empty buffer", core.ErrInvalidInput), want: core.KindInvalidInput},
		{name: "configuration", err: fmt.Errorf("%w: bad key", core.ErrConfiguration), want: core.KindConfiguration},
		{name: "alignment", err: fmt.Errorf("task t1: %w", core.ErrAlignment), want: core.KindAlignment},
		{name: "limit", err: core.ErrResourceLimitExceeded, want: core.KindResourceLimit},
		{name: "invariant", err: fmt.Errorf("%w: overlap", core.ErrInternalInvariant), want: core.KindInternalInvariant},
		{name: "canceled", err: fmt.Errorf("task t1: %w", context.Canceled), want: core.KindCanceled},
		{name: "unclassified", err: errors.New("boom"), want: core.KindInternal},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, testCase.want, core.Kind(testCase.err))
		})
	}
}

func TestSynthesisError(t *testing.T) {
	t.Parallel()

	cause := context.DeadlineExceeded
	err := fmt.Errorf("session: %w", core.NewSynthesisError(core.ErrSynthesisTimeout, "f000002", cause))

	require.ErrorIs(t, err, core.ErrSynthesisTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, core.ErrSynthesisFailure)
	assert.Equal(t, core.KindSynthesisTimeout, core.Kind(err))
	assert.Contains(t, err.Error(), "f000002")

	var synthErr *core.SynthesisError

	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, "f000002", synthErr.FragmentID)
}
