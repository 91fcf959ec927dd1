package link

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinkErrors(t *testing.T) {
	notFound := fmt.Errorf("attempt 3: %w", &LinkNotFoundError{Name: "NervousECG-1", Timeout: 10 * time.Second})
	assert.ErrorIs(t, notFound, ErrLinkNotFound)
	assert.NotErrorIs(t, notFound, ErrLinkFailure)
	assert.Contains(t, notFound.Error(), `sensor "NervousECG-1" not found within 10s`)

	failure := &LinkFailureError{Name: "NervousEDA-2", Op: "dial", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, failure, ErrLinkFailure)
	assert.ErrorIs(t, failure, context.DeadlineExceeded, "cause MUST stay reachable through Unwrap")
	assert.Equal(t, `sensor "NervousEDA-2": dial failed: context deadline exceeded`, failure.Error())

	var target *LinkFailureError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", failure), &target))
	assert.Equal(t, "dial", target.Op)

	var nilFailure *LinkFailureError
	assert.Equal(t, "<nil>", nilFailure.Error())
	assert.NoError(t, nilFailure.Unwrap())
	assert.Equal(t, `sensor "x": read failed`, (&LinkFailureError{Name: "x", Op: "read"}).Error())
}
