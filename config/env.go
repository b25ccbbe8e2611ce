package config

import (
	"errors"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
)

var (
	// EnvPrefix defines name prefix for environment variables
	// with struct-path selector and value, for example:
	//    AUTODT_CONNECTION_PASSWORD=SECRET
	EnvPrefix = "AUTODT_"
	// ConfigEnv defines environment variable for config file path, overrides the ConfigName
	ConfigEnv = "AUTODT_CONFIG"
	// ConfigName defines default filename for look in $OMD_ROOT/etc/autodt if ConfigEnv is empty
	ConfigName = "autodt_config.yaml"
	// SecKeyEnv defines environment variable for secret to crypt passwords in config file
	SecKeyEnv = "AUTODT_SECKEY"
)

func applyEnv(v ...any) error {
	var ee []error
	for i := range v {
		if err := env.ParseWithOptions(v[i], env.Options{Prefix: EnvPrefix}); err != nil {
			ee = append(ee, err)
		}
	}
	if len(ee) > 0 {
		return errors.Join(ee...)
	}
	return nil
}

// BindFlags registers process level flags bound to config fields,
// current values become flag defaults so flags override file and env
func (cfg *Config) BindFlags(flags *pflag.FlagSet) {
	c := &cfg.Connection
	flags.StringVar(&c.Host, "omd_host", c.Host, "host of the monitoring site")
	flags.IntVar(&c.Port, "omd_port", c.Port, "port of the monitoring site, https is used out of 5000-5999")
	flags.StringVar(&c.Site, "omd_site", c.Site, "name of the monitoring site")
	flags.StringVar(&c.User, "automation_user", c.User, "automation user")
	flags.StringVar(&c.Password, "automation_password", c.Password,
		"automation secret, read from the site if empty")
	flags.BoolVar(&c.VerifySSL, "verify_ssl", c.VerifySSL, "verify certificate of the site")
	flags.BoolVar(&c.NoProxy, "no_proxy", c.NoProxy, "ignore proxies")
	flags.DurationVar(&c.Timeout, "timeout", c.Timeout, "timeout of single request")

	l := &cfg.Log
	flags.BoolVar(&l.Debug, "debug", l.Debug, "enable debug output to stderr")
	flags.BoolVar(&l.DebugLog, "debug_log", l.DebugLog, "enable debug output to log file")

	p := &cfg.Paths
	flags.StringVar(&p.MetricsDir, "metrics_dir", p.MetricsDir, "directory for textfile metrics, disabled if empty")
}

func normalizeEnvNames() {
	for _, s := range []*string{&ConfigEnv, &SecKeyEnv} {
		*s = strings.TrimPrefix(*s, "AUTODT_")
		*s = strings.TrimPrefix(*s, EnvPrefix)
		*s = EnvPrefix + *s
	}
}
