package fusecache

import (
	"errors"
	"fmt"
)

// ErrNotSchedulable reports that no scheduling strategy accepts the fusion,
// or one of its segments, for the presented input configuration. It is an
// expected control-flow signal rather than a fault: callers must change the
// inputs or the graph instead of retrying the same call.
var ErrNotSchedulable = errors.New("fusecache: fusion not schedulable for input configuration")

// CompileError wraps a device compilation failure for one unit of a plan.
type CompileError struct {
	Unit      int  // unit index inside the plan
	Segmented bool // whether the plan runs segments or a single kernel
	Err       error
}

func (e *CompileError) Error() string {
	if e.Segmented {
		return fmt.Sprintf("compile segment %d failed: %v", e.Unit, e.Err)
	}
	return fmt.Sprintf("compile fusion kernel failed: %v", e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }
