package jobs_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	jobs "github.com/MickLesk/syncspace-sub002"
)

func TestFatal(t *testing.T) {
	assert.NoError(t, jobs.Fatal(nil))

	cause := errors.New("corrupt archive")
	err := fmt.Errorf("extract: %w", jobs.Fatal(cause))
	assert.True(t, jobs.IsFatal(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, jobs.IsFatal(cause))
	assert.False(t, jobs.IsFatal(nil))
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	assert.ErrorIs(t, &jobs.ValidationError{Field: "job_type", Reason: "empty"}, jobs.ErrValidation)
	assert.ErrorIs(t, &jobs.InvalidStateError{JobID: "job_x", From: "completed", To: "cancelled"}, jobs.ErrInvalidState)
	assert.ErrorIs(t, &jobs.TimeoutError{JobType: "scan", Timeout: time.Second}, jobs.ErrTimeout)
	assert.ErrorIs(t, &jobs.LeaseExpiredError{JobID: "job_x"}, jobs.ErrLeaseExpired)

	assert.NotErrorIs(t, &jobs.TimeoutError{}, jobs.ErrValidation)
}

func TestHandlerError_Unwraps(t *testing.T) {
	cause := errors.New("upstream 503")
	err := &jobs.HandlerError{JobType: "webhook", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "handler webhook: upstream 503", err.Error())
}

func TestInvalidStateError_Message(t *testing.T) {
	err := &jobs.InvalidStateError{JobID: "job_x", From: "completed", To: "cancelled"}
	assert.Equal(t, "jobs: job job_x cannot move from completed to cancelled", err.Error())
}
