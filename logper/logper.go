// Package logper provides logger facade for client packages,
// by default records go to the standard logger with debug disabled
package logper

import (
	"bytes"
	"fmt"
	"io"
	stdlog "log"
	"sort"
)

var (
	// Error does struct logging with Error level
	Error,
	// Warn does struct logging with Warning level
	Warn,
	// Info does struct logging with Info level
	Info,
	// Debug does struct logging with Debug level
	Debug = func(flags int) (LogFn, LogFn, LogFn, LogFn) {
		newFn := func(prefix string, enabled func() bool) LogFn {
			logger := stdlog.New(stdlog.Writer(), prefix, flags)
			return func(fields any, format string, a ...any) {
				if enabled == nil || enabled() {
					log2stdlog(logger, fields, format, a...)
				}
			}
		}
		return newFn("ERR ", nil),
			newFn("WRN ", nil),
			newFn("INF ", nil),
			newFn("DBG ", func() bool { return IsDebugEnabled() })
	}(stdlog.Lmsgprefix | stdlog.Lshortfile | stdlog.Ldate | stdlog.Ltime | stdlog.LUTC)

	// IsDebugEnabled defines debugging
	IsDebugEnabled = func() bool { return false }
)

// LogFn defines log function
// fields arg can be of type: map[string]any, []any,
//
//	interface{LogFields()(map[string]any, map[string][]byte)}
type LogFn func(fields any, format string, a ...any)

// FieldsProvider is implemented by values logged with details
type FieldsProvider interface {
	LogFields() (map[string]any, map[string][]byte)
}

// SetLogger sets logging options in one call
func SetLogger(
	logError LogFn,
	logWarn LogFn,
	logInfo LogFn,
	logDebug LogFn,
	isDebugEnabled func() bool,
) {
	Error = logError
	Warn = logWarn
	Info = logInfo
	Debug = logDebug
	IsDebugEnabled = isDebugEnabled
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func log2stdlog(logger *stdlog.Logger, fields any, format string, a ...any) {
	if logger == nil || logger.Writer() == io.Discard {
		return
	}
	buf := &bytes.Buffer{}
	switch ff := fields.(type) {
	case FieldsProvider:
		m1, m2 := ff.LogFields()
		for _, k := range sortedKeys(m1) {
			fmt.Fprintf(buf, "%s:%v ", k, m1[k])
		}
		for _, k := range sortedKeys(m2) {
			fmt.Fprintf(buf, "%s:%s ", k, m2[k])
		}
	case map[string]any:
		for _, k := range sortedKeys(ff) {
			fmt.Fprintf(buf, "%s:%v ", k, ff[k])
		}
	case []any:
		for _, v := range ff {
			fmt.Fprintf(buf, "%v ", v)
		}
	}
	if format != "" {
		fmt.Fprintf(buf, format, a...)
	}
	_ = logger.Output(4, buf.String())
}
