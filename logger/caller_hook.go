package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// ownPackage is the import path of this package, e.g. "cryptocsv/logger".
var ownPackage = func() string {
	pc, _, _, _ := runtime.Caller(0)
	name := runtime.FuncForPC(pc).Name()
	slash := strings.LastIndex(name, "/")
	if dot := strings.Index(name[slash+1:], "."); dot >= 0 {
		return name[:slash+1+dot]
	}
	return name
}()

// callerHook points entry.Caller at the first frame outside logrus and the
// Log/Entry wrappers, so the file:line field names the adapter or worker that
// logged.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	var pcs [24]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !internalFrame(frame.Function) {
			f := frame
			entry.Caller = &f
			return nil
		}
		if !more {
			return nil
		}
	}
}

func internalFrame(fn string) bool {
	if strings.Contains(fn, "sirupsen/logrus") {
		return true
	}
	// Methods of this package appear as "cryptocsv/logger.(*Entry).Warn".
	return strings.HasPrefix(fn, ownPackage+".")
}
