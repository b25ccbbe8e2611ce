// Package logzer provides zerolog writers used by the check process:
// console output on stderr, optional rotating file, secret masking,
// condensing of repeated records and a buffer of last errors.
package logzer

import (
	"container/ring"
	"io"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

var (
	// lastErrors survives writer rebuilds
	lastErrors = &LogBuffer{
		Level: zerolog.ErrorLevel,
		Size:  10,
	}

	secretsRe = map[*regexp.Regexp][]byte{
		regexp.MustCompile(`((?i:password|secret|token)"[^:]*:[^"]*)"(?:[^\\"]*(?:\\")*[\\]*)*"`): []byte(`${1}"***"`),
		regexp.MustCompile(`(Bearer [^\s"]+ )[^\s"]+`): []byte(`${1}***`),
	}
)

type options struct {
	colors       bool
	consoleLevel zerolog.Level
	condense   time.Duration
	lastErrors int
	level      zerolog.Level
	logFile    io.WriteCloser
	out        io.Writer
	timeFormat string
}

// Option defines writer option
type Option func(*options)

// WithColors enables colors on console if it's a terminal
func WithColors(b bool) Option {
	return func(o *options) { o.colors = b }
}

// WithConsoleLevel sets minimal level for console output
func WithConsoleLevel(lvl zerolog.Level) Option {
	return func(o *options) { o.consoleLevel = lvl }
}

// WithCondense enables condensing similar records
func WithCondense(d time.Duration) Option {
	return func(o *options) { o.condense = d }
}

// WithLastErrors sets count of buffered error writes
func WithLastErrors(n int) Option {
	return func(o *options) { o.lastErrors = n }
}

// WithLevel sets global level
func WithLevel(lvl zerolog.Level) Option {
	return func(o *options) { o.level = lvl }
}

// WithLogFile adds file output
func WithLogFile(w io.WriteCloser) Option {
	return func(o *options) { o.logFile = w }
}

// WithOutput replaces console output, stderr by default
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithTimeFormat sets console time format
func WithTimeFormat(s string) Option {
	return func(o *options) {
		if s != "" {
			o.timeFormat = s
		}
	}
}

var (
	mu      sync.Mutex
	logFile io.WriteCloser
)

// NewLoggerWriter builds the writers chain:
// condenser -> filter -> (console [+ file], last errors buffer)
func NewLoggerWriter(opts ...Option) zerolog.LevelWriter {
	o := &options{
		consoleLevel: zerolog.TraceLevel,
		level:        zerolog.InfoLevel,
		out:        os.Stderr,
		timeFormat: time.RFC3339,
	}
	for _, opt := range opts {
		opt(o)
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil && logFile != o.logFile {
		_ = logFile.Close()
	}
	logFile = o.logFile

	zerolog.SetGlobalLevel(o.level)
	if o.lastErrors > 0 && o.lastErrors != lastErrors.Size {
		records := lastErrors.Records()
		lastErrors.Reset(o.lastErrors)
		for _, p := range records {
			_, _ = lastErrors.WriteLevel(p.lvl, p.buf)
		}
	}

	noColor := !o.colors
	if f, ok := o.out.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
		noColor = true
	}
	console := zerolog.ConsoleWriter{
		Out:        o.out,
		NoColor:    noColor,
		TimeFormat: o.timeFormat,
	}
	writers := []io.Writer{&levelWriter{Writer: console, min: o.consoleLevel}, lastErrors}
	if logFile != nil {
		writers = append(writers, logFile)
	}
	filter := &FilterWriter{
		LevelWriter: zerolog.MultiLevelWriter(writers...),
		Re:          secretsRe,
	}
	if o.condense <= 0 {
		return filter
	}
	return &CondenseWriter{
		Condense:    o.condense,
		LevelWriter: filter,
	}
}

// levelWriter drops writes below min level
type levelWriter struct {
	io.Writer
	min zerolog.Level
}

// WriteLevel implements zerolog.LevelWriter interface
func (w *levelWriter) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	if lvl < w.min {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

// CloseLogFile closes the file output if any
func CloseLogFile() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// LastErrors returns last error writes
func LastErrors() []LogRecord {
	return lastErrors.Records()
}

// CondenseWriter handles similar writes by caller field
type CondenseWriter struct {
	zerolog.LevelWriter
	mu       sync.Mutex
	once     sync.Once
	cache    *cache.Cache
	callerRe *regexp.Regexp
	Condense time.Duration
}

// Write implements io.Writer interface
func (w *CondenseWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter interface
func (w *CondenseWriter) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	w.once.Do(func() {
		w.cache = cache.New(w.Condense*2, w.Condense/4)
		w.cache.OnEvicted(w.flush)
		w.callerRe = regexp.MustCompile(`"` + zerolog.CallerFieldName + `":"[^"]*"`)
	})
	w.mu.Lock()
	defer w.mu.Unlock()

	ck := string(append([]byte{byte(lvl), ':'}, w.callerRe.Find(p)...))
	/* go-cache doesn't evict on Get, see patrickmn/go-cache#48 */
	w.cache.DeleteExpired()
	if _, ok := w.cache.Get(ck); ok {
		_ = w.cache.Increment(ck, 1)
		return len(p), nil
	}
	_ = w.cache.Add(ck, uint16(0), w.Condense)
	return w.LevelWriter.WriteLevel(lvl, p)
}

// flush writes a summary record for condensed entries
func (w *CondenseWriter) flush(ck string, i any) {
	v := i.(uint16)
	if v == 0 {
		return
	}
	lvl, caller := zerolog.Level(ck[0]), ck[2:]
	buf := append(make([]byte, 0, 200), `{"`...)
	buf = append(buf, zerolog.LevelFieldName...)
	buf = append(buf, `":"`...)
	buf = append(buf, lvl.String()...)
	buf = append(buf, `","`...)
	buf = append(buf, zerolog.TimestampFieldName...)
	buf = append(buf, `":`...)
	buf = strconv.AppendInt(buf, time.Now().UnixMilli(), 10)
	buf = append(buf, ',')
	buf = append(buf, caller...)
	buf = append(buf, `,"`...)
	buf = append(buf, zerolog.MessageFieldName...)
	buf = append(buf, `":"[condensed `...)
	buf = strconv.AppendInt(buf, int64(v), 10)
	buf = append(buf, ` more entries last `...)
	buf = strconv.AppendInt(buf, int64(w.Condense.Seconds()), 10)
	buf = append(buf, ` seconds]"}`...)
	buf = append(buf, '\n')
	_, _ = w.LevelWriter.WriteLevel(lvl, buf)
}

// FilterWriter implements sanitizing writes by Regexp map
type FilterWriter struct {
	zerolog.LevelWriter
	mu sync.Mutex
	Re map[*regexp.Regexp][]byte
}

// Write implements io.Writer interface
func (w *FilterWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter interface
func (w *FilterWriter) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(p)
	for reg, repl := range w.Re {
		p = reg.ReplaceAll(p, repl)
	}
	if _, err := w.LevelWriter.WriteLevel(lvl, p); err != nil {
		return 0, err
	}
	return n, nil
}

// LogBuffer collects writes if level passed
type LogBuffer struct {
	mu    sync.Mutex
	once  sync.Once
	ring  *ring.Ring
	Level zerolog.Level
	Size  int
}

func (lb *LogBuffer) init() {
	lb.once.Do(func() {
		lb.ring = ring.New(lb.Size)
	})
}

// Reset drops collected writes and resizes the buffer
func (lb *LogBuffer) Reset(size int) {
	lb.init()
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.Size = size
	lb.ring = ring.New(size)
}

// Records returns collected writes
func (lb *LogBuffer) Records() []LogRecord {
	lb.init()
	lb.mu.Lock()
	defer lb.mu.Unlock()
	rec := []LogRecord{}
	lb.ring.Do(func(p any) {
		if p != nil {
			rec = append(rec, p.(LogRecord))
		}
	})
	return rec
}

// Write implements io.Writer interface
func (lb *LogBuffer) Write(p []byte) (int, error) {
	return len(p), nil
}

// WriteLevel implements zerolog.LevelWriter interface
func (lb *LogBuffer) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	lb.init()
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lvl >= lb.Level && lvl < zerolog.NoLevel {
		/* source buffer is reused by zerolog */
		cp := make([]byte, len(p))
		copy(cp, p)
		lb.ring.Value = LogRecord{cp, lvl}
		lb.ring = lb.ring.Next()
	}
	return len(p), nil
}

// LogRecord wraps JSON-like data from logger
type LogRecord struct {
	buf []byte
	lvl zerolog.Level
}

// MarshalJSON implements Marshaller interface
func (p LogRecord) MarshalJSON() ([]byte, error) { return p.buf, nil }

// String returns raw record
func (p LogRecord) String() string { return string(p.buf) }

// WriteLogBuffer replays buffered records passing the global level
func WriteLogBuffer(w zerolog.LevelWriter, lb *LogBuffer) {
	lvl := zerolog.GlobalLevel()
	for _, p := range lb.Records() {
		if p.lvl >= lvl {
			_, _ = w.WriteLevel(p.lvl, p.buf)
		}
	}
}
