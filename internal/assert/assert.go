// Package assert reports violated internal invariants.
//
// In builds tagged hwcdebug a failed assertion panics. Otherwise it is logged
// at Error level and execution continues with the caller's fallback.
package assert

import (
	"fmt"

	"github.com/gogpu/hwc/internal/logging"
)

// Failf reports a violated invariant.
func Failf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if fatal {
		panic("hwc: " + msg)
	}
	logging.Logger().Error("hwc: invariant violated", "detail", msg)
}

// That calls Failf when cond is false.
func That(cond bool, format string, args ...any) {
	if !cond {
		Failf(format, args...)
	}
}
