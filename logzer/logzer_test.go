package logzer

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestLogger(opts ...Option) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	opts = append([]Option{WithOutput(io.Discard), WithLevel(zerolog.DebugLevel)}, opts...)
	return zerolog.New(NewLoggerWriter(opts...)).With().Timestamp().Logger()
}

func TestLogCondense(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "condense.log")
	defer CloseLogFile()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	logger := zerolog.New(NewLoggerWriter(
		WithOutput(io.Discard),
		WithLevel(zerolog.DebugLevel),
		WithCondense(time.Millisecond*2),
		WithLogFile(&LogFile{FilePath: logPath}),
	)).With().Timestamp().Caller().Logger()
	logfun := func(lvl zerolog.Level, msg string) { logger.WithLevel(lvl).Msg(msg) }
	logfun(zerolog.DebugLevel, "message debug")
	logfun(zerolog.InfoLevel, "message info")
	logfun(zerolog.InfoLevel, "message info") // expect condense
	logfun(zerolog.InfoLevel, "message info") // expect condense

	content, err := os.ReadFile(logPath)
	assert.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(content, []byte("\n")))

	time.Sleep(time.Millisecond * 400) // expect condense output
	content, err = os.ReadFile(logPath)
	assert.NoError(t, err)
	assert.Equal(t, 3, bytes.Count(content, []byte("\n")))
	assert.Contains(t, string(content), `condensed 2 more entries`)
}

func TestLogFilter(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "filter.log")
	defer CloseLogFile()

	logger := newTestLogger(WithLogFile(&LogFile{FilePath: logPath}))
	payload1, _ := json.Marshal(struct{ Password, Secret string }{
		Password: `PASS
		WORD`,
		Secret: `SEC-RET`,
	})
	logger.Info().
		Str("password", "PASSword").
		Dict("dict", zerolog.Dict().Str("token", "TOKen")).
		RawJSON("payload1", payload1).
		RawJSON("payload2", []byte(`{"somePassword":"PASS\"\"\nWORD","Token":"TOK\\EN"}`)).
		Str("header", "Bearer automation SECRETVALUE").
		Msg("message")

	content, err := os.ReadFile(logPath)
	assert.NoError(t, err)
	assert.NotContains(t, string(content), "PASS")
	assert.NotContains(t, string(content), "TOK")
	assert.NotContains(t, string(content), "SEC-RET")
	assert.NotContains(t, string(content), "SECRETVALUE")
	assert.Contains(t, string(content), `"Password":"***"`)
	assert.Contains(t, string(content), `"Secret":"***"`)
	assert.Contains(t, string(content), `"somePassword":"***"`)
	assert.Contains(t, string(content), `"password":"***"`)
	assert.Contains(t, string(content), `"token":"***"`)
	assert.Contains(t, string(content), `Bearer automation ***`)
}

func TestLogRotate(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")
	defer CloseLogFile()

	logger := newTestLogger(WithLogFile(&LogFile{
		FilePath: logPath,
		MaxSize:  150,
		Rotate:   3,
	}))

	logger.Debug().Msg("message debug1")
	logger.Info().Msg("message info1")
	logger.Warn().Msg("message warn1") // expect rotation by maxSize

	log0, err0 := os.ReadFile(logPath)
	log1, err1 := os.ReadFile(logPath + ".1")
	assert.NoError(t, err0)
	assert.NoError(t, err1)
	assert.Contains(t, string(log1), "debug1")
	assert.Contains(t, string(log1), "info1")
	assert.Contains(t, string(log0), "warn1")

	logger.Warn().Msg("message debug2")
	logger.Warn().Msg("message info2") // expect rotation by maxSize
	logger.Warn().Msg("message warn2")
	logger.Warn().Msg("message debug3") // expect rotation by maxSize
	logger.Warn().Msg("message info3")
	logger.Warn().Msg("message warn3") // expect rotation by maxSize

	log0, err0 = os.ReadFile(logPath)
	log1, err1 = os.ReadFile(logPath + ".1")
	log2, err2 := os.ReadFile(logPath + ".2")
	log3, err3 := os.ReadFile(logPath + ".3")

	assert.NoError(t, err0)
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.NoError(t, err3)
	assert.Contains(t, string(log3), "warn1")
	assert.Contains(t, string(log3), "debug2")
	assert.Contains(t, string(log2), "info2")
	assert.Contains(t, string(log2), "warn2")
	assert.Contains(t, string(log1), "debug3")
	assert.Contains(t, string(log1), "info3")
	assert.Contains(t, string(log0), "warn3")
}

func TestLastErrors(t *testing.T) {
	out := &bytes.Buffer{}
	logger := newTestLogger(WithOutput(out), WithLastErrors(3))
	for _, msg := range []string{"err1", "err2", "err3", "err4"} {
		logger.Error().Msg(msg)
	}
	logger.Info().Msg("info")

	records := LastErrors()
	assert.Equal(t, 3, len(records))
	assert.Contains(t, records[0].String(), "err2")
	assert.Contains(t, records[2].String(), "err4")
	assert.Contains(t, out.String(), "info")
	assert.Contains(t, out.String(), "ERR")
}
