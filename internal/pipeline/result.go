package pipeline

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/warden/internal/session"
	"github.com/andresmejia3/warden/internal/types"
)

var ErrWorkerPanic = errors.New("worker panicked")

// Task names a worker type. Each type has at most one computation in flight.
type Task int

const (
	MeshTask Task = iota
	DetectTask
	IdentifyTask
	CodeTask
	TransactionTask
	numTasks
)

func (t Task) String() string {
	switch t {
	case MeshTask:
		return "mesh"
	case DetectTask:
		return "detect"
	case IdentifyTask:
		return "identify"
	case CodeTask:
		return "code"
	case TransactionTask:
		return "transaction"
	}
	return "unknown"
}

// Result is the tagged completion every worker posts exactly once.
type Result struct {
	Task Task
	// Gen is the session generation the task was dispatched under.
	Gen uint64
	// Version is the detection version a detect task wrote or an identify task read.
	Version uint64

	Mesh    *types.Mesh
	Faces   int
	Verdict types.Verdict
	Code    string
	Outcome *session.Outcome
	Err     error
}

// run executes fn and always produces a result, converting a panic into ErrWorkerPanic.
func run(task Task, gen uint64, fn func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("%w: %s: %v", ErrWorkerPanic, task, r)}
		}
		res.Task, res.Gen = task, gen
	}()
	return fn()
}
