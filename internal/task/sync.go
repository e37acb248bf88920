package task

// SyncRunner runs every posted task immediately, on the caller's
// goroutine, in the order posted. It implements both compile.TaskRunner
// and compile.TaskManager. Selecting it is how Config.NumCompilationTasks
// == 0 becomes "foreground only" deterministic compilation: every task,
// worker or foreground, runs inline instead of on a pool, so compilation
// still completes deterministically with no goroutines at all.
type SyncRunner struct{}

func NewSyncRunner() *SyncRunner { return &SyncRunner{} }

func (SyncRunner) PostWorker(fn func())     { fn() }
func (SyncRunner) PostForeground(fn func()) { fn() }
func (SyncRunner) CancelAndWait()           {}
