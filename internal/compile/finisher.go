package compile

import "time"

// defaultFinisherBudgetNanos is the foreground time budget before the
// finisher yields cooperatively back to the host event loop.
const defaultFinisherBudgetNanos = int64(1_000_000)

// RunFinisher is the foreground finisher loop. At most one finisher body
// ever executes concurrently for a given state, enforced
// by finisher_running; RunFinisher is always invoked already holding that
// flag (ScheduleForFinishing only posts it when acquiring the flag).
func RunFinisher(s *CompilationState, budgetNanos int64) {
	start := nowNanos()
	for {
		s.RestartWorkers(-1)

		unit, ok := s.NextFinished()
		if !ok {
			s.SetFinisherRunning(false)
			// A late ScheduleForFinishing may have pushed a unit between
			// our pop attempt and clearing the flag; re-check once before
			// fully exiting.
			unit, ok = s.NextFinished()
			if !ok {
				return
			}
			s.SetFinisherRunning(true)
		}

		if s.Failed() {
			return
		}

		s.NativeModule().Install(unit)
		s.OnFinishedUnit(unit.Tier)

		if nowNanos()-start > budgetNanos {
			s.runner.PostForeground(func() { RunFinisher(s, budgetNanos) })
			return
		}
	}
}

// nowNanos is a seam so tests can observe the yield path deterministically
// without sleeping for a real millisecond.
var nowNanos = func() int64 { return time.Now().UnixNano() }
