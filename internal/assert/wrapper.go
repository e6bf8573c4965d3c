package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/pkg/api"
)

// Wrapper wraps testify assertions with engine-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *assert.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus engine-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    assert.New(t),
	}
}

// ExecutionStatus asserts the status of an execution
func (w *Wrapper) ExecutionStatus(x *api.Execution, expected api.ExecutionStatus) {
	w.Helper()
	w.Equal(expected, x.Status)
}

// ExecutionConsistent asserts the record's internal invariants: a
// completion timestamp exists exactly when the status is terminal, and a
// failed execution carries an error naming its step
func (w *Wrapper) ExecutionConsistent(x *api.Execution) {
	w.Helper()
	if x.Status.Terminal() {
		w.NotNil(x.CompletedAt, "terminal execution should be timestamped")
	} else {
		w.Nil(x.CompletedAt, "live execution should not be timestamped")
	}
	if x.Status == api.ExecutionFailed {
		w.NotNil(x.Error, "failed execution should carry an error")
	}
	if x.Flow != nil {
		w.LessOrEqual(len(x.Steps), x.Flow.StepCount())
	}
}

// StepSucceeded asserts that a step with the given ID was recorded
// without an error
func (w *Wrapper) StepSucceeded(x *api.Execution, id string) {
	w.Helper()
	step := findStep(x, id)
	if w.NotNil(step, "step %s should be recorded", id) {
		w.Nil(step.Error, "step %s should not carry an error", id)
	}
}

// StepFailed asserts that a step with the given ID was recorded with an
// error of the given kind
func (w *Wrapper) StepFailed(x *api.Execution, id string, kind api.ErrorKind) {
	w.Helper()
	step := findStep(x, id)
	if w.NotNil(step, "step %s should be recorded", id) &&
		w.NotNil(step.Error, "step %s should carry an error", id) {
		w.Equal(kind, step.Error.Kind)
	}
}

// StepAbsent asserts that no step with the given ID was recorded
func (w *Wrapper) StepAbsent(x *api.Execution, id string) {
	w.Helper()
	w.Nil(findStep(x, id), "step %s should not be recorded", id)
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= 65535)
	w.True(cfg.ParallelLimit > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

func findStep(x *api.Execution, id string) *api.StepResult {
	for _, s := range x.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}
