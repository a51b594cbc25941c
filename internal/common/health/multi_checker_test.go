package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticChecker struct {
	err error
}

func (c *staticChecker) Check() error {
	return c.err
}

func TestMultiCheckerPassesWhenAllCheckersPass(t *testing.T) {
	checker := NewMultiChecker(&staticChecker{}, &staticChecker{})
	assert.NoError(t, checker.Check())
}

func TestMultiCheckerCollectsAllFailures(t *testing.T) {
	checker := NewMultiChecker(
		&staticChecker{err: errors.New("collector not running")},
		&staticChecker{},
		&staticChecker{err: errors.New("critical alert active")},
	)

	err := checker.Check()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "collector not running")
	assert.Contains(t, err.Error(), "critical alert active")
}

func TestMultiCheckerAdd(t *testing.T) {
	checker := NewMultiChecker()
	assert.NoError(t, checker.Check())

	checker.Add(&staticChecker{err: errors.New("boom")})
	assert.Error(t, checker.Check())
}
