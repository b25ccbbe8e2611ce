package config

import (
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/logper"
	"github.com/gwos/autodt/logzer"
	"github.com/hashicorp/go-uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var (
	once sync.Once
	cfg  *Config
)

const (
	OMDRootEnv = "OMD_ROOT"
	OMDSiteEnv = "OMD_SITE"

	SecVerPrefix = "_v1_"
)

// LogLevel defines levels in logrus-style
type LogLevel int

// Enum levels
const (
	Error LogLevel = iota
	Warn
	Info
	Debug
	Trace
)

func (l LogLevel) String() string {
	return [...]string{"Error", "Warn", "Info", "Debug", "Trace"}[l.clamp()]
}

func (l LogLevel) clamp() LogLevel {
	return min(max(l, Error), Trace)
}

// ZerologLevel maps level, out of range values are clamped
func (l LogLevel) ZerologLevel() zerolog.Level {
	return [...]zerolog.Level{3, 2, 1, 0, -1}[l.clamp()]
}

// Connection defines the monitoring site REST API connection
type Connection struct {
	Host string `env:"HOST" yaml:"host"`
	// Port 0 means the site apache port from $OMD_ROOT/etc/omd/site.conf
	Port      int           `env:"PORT" yaml:"port"`
	Site      string        `env:"SITE" yaml:"site"`
	User      string        `env:"USER" yaml:"user"`
	Password  string        `env:"PASSWORD" yaml:"password"`
	VerifySSL bool          `env:"VERIFYSSL" yaml:"verifySSL"`
	NoProxy   bool          `env:"NOPROXY" yaml:"noProxy"`
	Timeout   time.Duration `env:"TIMEOUT" yaml:"timeout"`
}

// UseSSL returns true out of the range of site apache ports
func (c Connection) UseSSL() bool {
	return c.Port < 5000 || c.Port > 5999
}

// BaseURL returns REST API root
func (c Connection) BaseURL() string {
	scheme := "http"
	if c.UseSSL() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/%s/check_mk/api/1.0", scheme, c.Host, c.Port, c.Site)
}

// MarshalYAML implements yaml.Marshaler interface
// overrides the password field
func (c Connection) MarshalYAML() (any, error) {
	type plain Connection
	p := plain(c)
	encrypted, err := EncryptSecret(p.Password)
	if err != nil {
		return nil, err
	}
	p.Password = encrypted
	return p, nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
// overrides the password field
func (c *Connection) UnmarshalYAML(unmarshal func(any) error) error {
	type plain Connection
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	decrypted, err := DecryptSecret(c.Password)
	if err != nil {
		return err
	}
	c.Password = decrypted
	return nil
}

// Paths defines file locations, empty values are derived from OMDRoot
type Paths struct {
	OMDRoot          string `env:"OMDROOT" yaml:"omdRoot"`
	CacheDir         string `env:"CACHEDIR" yaml:"cacheDir"`
	LockFile         string `env:"LOCKFILE" yaml:"lockFile"`
	LivestatusSocket string `env:"LIVESTATUSSOCKET" yaml:"livestatusSocket"`
	MetricsDir       string `env:"METRICSDIR" yaml:"metricsDir"`
}

// Timing defines cache ages and delays
type Timing struct {
	MaxCacheAge time.Duration `env:"MAXCACHEAGE" yaml:"maxCacheAge"`
	// SettleDelay is slept before persisting rebuilt directory
	SettleDelay time.Duration `env:"SETTLEDELAY" yaml:"settleDelay"`
	// ReAddDelay is slept between removal and re-adding of downtimes
	ReAddDelay time.Duration `env:"READDDELAY" yaml:"reAddDelay"`
	BatchSize  int           `env:"BATCHSIZE" yaml:"batchSize"`
}

// Log defines logger configuration
type Log struct {
	// Condense accepts time duration for condensing similar records
	// if 0 turn off condensing
	Condense time.Duration `env:"CONDENSE" yaml:"condense"`
	// File accepts file path used with DebugLog
	File        string   `env:"FILE" yaml:"file"`
	FileMaxSize int64    `env:"FILEMAXSIZE" yaml:"fileMaxSize"`
	FileRotate  int      `env:"FILEROTATE" yaml:"fileRotate"`
	Level       LogLevel `env:"LEVEL" yaml:"level"`
	Colors      bool     `env:"COLORS" yaml:"colors"`
	TimeFormat  string   `env:"TIMEFORMAT" yaml:"timeFormat"`

	Debug    bool `env:"DEBUG" yaml:"debug"`
	DebugLog bool `env:"DEBUGLOG" yaml:"debugLog"`
}

// Config defines check process configuration
type Config struct {
	Connection Connection `envPrefix:"CONNECTION_" yaml:"connection"`
	Paths      Paths      `envPrefix:"PATHS_" yaml:"paths"`
	Timing     Timing     `envPrefix:"TIMING_" yaml:"timing"`
	Log        Log        `envPrefix:"LOG_" yaml:"log"`

	// RunID correlates records of single invocation
	RunID string `yaml:"-"`

	logBuf *logzer.LogBuffer
}

func defaults() Config {
	return Config{
		Connection: Connection{
			Host:    "localhost",
			Port:    0,
			Site:    os.Getenv(OMDSiteEnv),
			User:    "automation",
			Timeout: time.Second * 30,
		},
		Paths: Paths{
			OMDRoot: os.Getenv(OMDRootEnv),
		},
		Timing: Timing{
			MaxCacheAge: time.Minute * 60,
			SettleDelay: time.Second * 5,
			ReAddDelay:  time.Second * 2,
			BatchSize:   50,
		},
		Log: Log{
			Condense:    0,
			FileMaxSize: 1024 * 1024 * 10, // 10MB
			FileRotate:  2,
			Level:       Error,
			TimeFormat:  "2006-01-02 15:04:05.000000",
		},
	}
}

// GetConfig implements Singleton pattern
func GetConfig() *Config {
	once.Do(func() {
		cfg = Load()
	})
	return cfg
}

// Load merges defaults, file, and env
// the logging is buffered until InitLogger
func Load() *Config {
	logBuf := &logzer.LogBuffer{
		Level: zerolog.TraceLevel,
		Size:  16,
	}
	log.Logger = zerolog.New(logBuf).
		With().Timestamp().Caller().Logger()
	log.Debug().Msgf("Build info: %s", GetBuildInfo())

	normalizeEnvNames()
	c := new(Config)
	*c = defaults()
	if data, err := os.ReadFile(c.ConfigPath()); err != nil {
		log.Debug().Err(err).
			Str("configPath", c.ConfigPath()).
			Msg("could not read config")
	} else {
		if err := yaml.Unmarshal(data, c); err != nil {
			log.Err(err).
				Str("configPath", c.ConfigPath()).
				Msg("could not parse config")
		}
	}
	if err := applyEnv(c); err != nil {
		log.Warn().Err(err).
			Msg("could not apply env vars")
	}
	if id, err := uuid.GenerateUUID(); err == nil {
		c.RunID = id
	}
	c.logBuf = logBuf
	return c
}

// ConfigPath returns config file path
func (cfg Config) ConfigPath() string {
	if configPath := os.Getenv(ConfigEnv); configPath != "" {
		return configPath
	}
	if cfg.Paths.OMDRoot != "" {
		return filepath.Join(cfg.Paths.OMDRoot, "etc", "autodt", ConfigName)
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, ConfigName)
	}
	return ConfigName
}

// Prepare completes the configuration after flags are parsed:
// derives paths, site port and automation secret
func (cfg *Config) Prepare() error {
	p := &cfg.Paths
	if p.CacheDir == "" {
		p.CacheDir = filepath.Join(p.OMDRoot, "tmp", "check_mk", "auto_downtimes")
	}
	if p.LockFile == "" {
		p.LockFile = filepath.Join(p.OMDRoot, "tmp", "check_mk", "auto_downtimes_cache.lock")
	}
	if p.LivestatusSocket == "" {
		p.LivestatusSocket = filepath.Join(p.OMDRoot, "tmp", "run", "live")
	}
	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(p.OMDRoot, "tmp", "auto_downtimes.log")
	}
	if cfg.Timing.BatchSize < 1 {
		cfg.Timing.BatchSize = 1
	}

	c := &cfg.Connection
	if c.Port == 0 {
		c.Port = 443
		if port, err := cfg.siteApachePort(); err == nil {
			c.Port = port
		} else {
			log.Debug().Err(err).Msg("could not read site apache port")
		}
	}
	if c.Site == "" {
		return fmt.Errorf("%w: site is not defined", errors.ErrConfig)
	}
	if c.Password == "" {
		secret, err := cfg.readAutomationSecret()
		if err != nil {
			return fmt.Errorf("%w: cannot read automation secret from user %s: %v",
				errors.ErrConfig, c.User, err)
		}
		c.Password = secret
	}
	return nil
}

func (cfg Config) siteApachePort() (int, error) {
	m, err := godotenv.Read(filepath.Join(cfg.Paths.OMDRoot, "etc", "omd", "site.conf"))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(m["CONFIG_APACHE_TCP_PORT"])
}

func (cfg Config) readAutomationSecret() (string, error) {
	data, err := os.ReadFile(filepath.Join(cfg.Paths.OMDRoot,
		"var", "check_mk", "web", cfg.Connection.User, "automation.secret"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// InitLogger sets global loggers and flushes records buffered by Load
func (cfg *Config) InitLogger() {
	level := cfg.Log.Level
	if cfg.Log.Debug || cfg.Log.DebugLog {
		level = max(level, Debug)
	}
	lvl := level.ZerologLevel()
	condense := cfg.Log.Condense
	if lvl <= zerolog.DebugLevel {
		condense = 0
	}
	opts := []logzer.Option{
		logzer.WithColors(cfg.Log.Colors),
		logzer.WithCondense(condense),
		logzer.WithLastErrors(10),
		logzer.WithLevel(lvl),
		logzer.WithTimeFormat(cfg.Log.TimeFormat),
	}
	if cfg.Log.DebugLog && cfg.Log.File != "" {
		opts = append(opts, logzer.WithLogFile(&logzer.LogFile{
			FilePath: cfg.Log.File,
			MaxSize:  cfg.Log.FileMaxSize,
			Rotate:   cfg.Log.FileRotate,
		}))
	}
	if !cfg.Log.Debug && cfg.Log.DebugLog {
		/* keep stderr quiet, debug goes to file only */
		opts = append(opts, logzer.WithConsoleLevel(zerolog.ErrorLevel))
	}

	/* prevent writes in global logger */
	log.Logger = zerolog.Nop()
	/* reset to defaults */
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	/* apply options */
	w := logzer.NewLoggerWriter(opts...)
	/* set global logger */
	log.Logger = zerolog.New(w).
		With().Timestamp().Caller().Int("pid", os.Getpid()).Str("run", cfg.RunID).
		Logger()
	/* adapt client packages logger */
	logper.SetLogger(
		func(fields any, format string, a ...any) {
			log2zerolog(log.Error(), fields, format, a...)
		},
		func(fields any, format string, a ...any) {
			log2zerolog(log.Warn(), fields, format, a...)
		},
		func(fields any, format string, a ...any) {
			log2zerolog(log.Info(), fields, format, a...)
		},
		func(fields any, format string, a ...any) {
			log2zerolog(log.Debug(), fields, format, a...)
		},
		func() bool { return zerolog.GlobalLevel() <= zerolog.DebugLevel },
	)
	/* set as default slog and standard logger output */
	slog.SetDefault(slog.New(&logzer.SLogHandler{CallerSkipFrame: 3}))
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)

	if cfg.logBuf != nil {
		logzer.WriteLogBuffer(w, cfg.logBuf)
		cfg.logBuf = nil
	}
}

func log2zerolog(e *zerolog.Event, fields any, format string, a ...any) {
	if e == nil {
		return
	}
	switch ff := fields.(type) {
	case logper.FieldsProvider:
		m1, m2 := ff.LogFields()
		e.Fields(m1)
		for k, v := range m2 {
			e.Bytes(k, v)
		}
	case map[string]any:
		e.Fields(ff)
	case []any:
		e.Fields(ff)
	}
	e.CallerSkipFrame(2).Msgf(format, a...)
}
