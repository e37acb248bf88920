package compile

import "fmt"

// TraceSink receives trace output for whichever subsystems Config.TraceFlags
// enables. A host implements this to route trace text to its own logging;
// a nil sink (the default) receives no calls regardless of TraceFlags.
type TraceSink interface {
	Trace(flag TraceFlags, msg string)
}

// emitTrace calls sink.Trace(flag, ...) only when sink is non-nil and flag
// is set in flags, so every call site can unconditionally reach for this
// instead of guarding the flag check itself.
func emitTrace(sink TraceSink, flags, flag TraceFlags, format string, args ...interface{}) {
	if sink == nil || flags&flag == 0 {
		return
	}
	sink.Trace(flag, fmt.Sprintf(format, args...))
}
