package syncer

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain fails the package when a test leaves the loop, the queue
// consumer or a singleflight waiter running.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}
