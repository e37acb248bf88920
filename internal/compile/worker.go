package compile

import (
	"context"

	"github.com/wazerocore/compile/api"
)

// RunWorker is a background worker's entry point. It loops fetching and
// compiling units until the state has failed or no units remain, then
// reports itself stopped along with whatever features it locally
// detected. Workers hold no locks during code generation and must not
// touch host-managed heap objects.
func RunWorker(s *CompilationState) {
	var detected api.CoreFeatures
	for !s.Failed() {
		ok, d := FetchAndRun(s)
		detected = detected.Union(d)
		if !ok {
			break
		}
	}
	s.OnWorkerStopped(detected)
}

// FetchAndRun performs one worker iteration: pop a unit, compile it, and
// schedule it for finishing. It returns false when the pending queue was
// empty (nothing to do), true otherwise. Exported so the Sync Driver's
// parallel flavor can have its calling thread act as an extra worker.
func FetchAndRun(s *CompilationState) (ran bool, detected api.CoreFeatures) {
	unit, ok := s.NextUnit()
	if !ok {
		return false, 0
	}
	tier := unit.Tier
	s.trace(TraceCompiler, "compiling func[%d] at %s tier", unit.FuncIndex, tier)

	result, err := s.Generator().Compile(context.Background(), unit, &detected, NoopMetrics{})
	if err != nil {
		unit.Err = &CompileError{Module: unit.Module, FuncIndex: unit.FuncIndex, Cause: err}
		s.SetError(unit.Err)
	} else {
		unit.Result = result
	}

	s.ScheduleForFinishing(unit, tier)
	return true, detected
}
