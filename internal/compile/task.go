package compile

// TaskRunner is the host platform's task-runner primitive, consumed as an
// external collaborator. Both PostForeground and PostWorker accept owned
// tasks and guarantee eventual execution unless the task checks a
// cancellation flag and no-ops itself.
type TaskRunner interface {
	// PostForeground schedules fn to run on the single serialized
	// foreground, in FIFO order relative to other foreground posts.
	PostForeground(fn func())
	// PostWorker schedules fn to run on the worker pool. Order relative to
	// other worker tasks is not guaranteed.
	PostWorker(fn func())
}

// TaskManager tracks a set of outstanding tasks so that CancelAndWait can
// block until every task it spawned has either completed or been
// cancelled.
type TaskManager interface {
	// CancelAndWait blocks until all tasks tracked by this manager have
	// finished or been cancelled. Idempotent.
	CancelAndWait()
}
