package sim

import "fmt"

// InvariantError reports a broken kernel contract, such as an agent on
// a node outside the topology. It signals a bug rather than runtime
// variance, so the engine panics with it instead of returning it.
type InvariantError struct {
	Tick   int
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("sim: invariant violated at tick %d (%s): %s", e.Tick, e.Op, e.Detail)
}

func invariant(tick int, op, format string, args ...any) {
	panic(&InvariantError{Tick: tick, Op: op, Detail: fmt.Sprintf(format, args...)})
}
