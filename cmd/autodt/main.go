package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/gwos/autodt/config"
	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/logzer"
	"github.com/gwos/autodt/result"
	"github.com/gwos/autodt/rule"
	"github.com/gwos/autodt/transit"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	cancel()
	os.Exit(code)
}

// run is the single place converting failures into check result
func run(ctx context.Context, args []string, stdout io.Writer) (code int) {
	res := result.New()
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("crashed")
			res.Crash(p, debug.Stack())
		}
		if err := res.Render(stdout); err != nil {
			log.Error().Err(err).Msg("could not write result")
		}
		_ = logzer.CloseLogFile()
		code = res.ExitCode()
	}()

	cfg := config.GetConfig()
	flags := pflag.NewFlagSet("autodt", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.SetOutput(io.Discard)
	cfg.BindFlags(flags)
	var (
		ruleFlags    rule.Flags
		addTarget    string
		removeTarget string
		version      bool
		dumpRule     bool
	)
	ruleFlags.BindFlags(flags)
	flags.StringVar(&addTarget, "add_target", "", "only put host[,service] in downtime of this rule and exit")
	flags.StringVar(&removeTarget, "remove_target", "", "only remove downtimes of this rule from host[,service] and exit")
	flags.BoolVar(&version, "version", false, "print version and exit")
	flags.BoolVar(&dumpRule, "dump_rule", false, "print effective rule as rule file and exit")

	if err := flags.Parse(args); err != nil {
		cfg.InitLogger()
		if errors.Is(err, pflag.ErrHelp) {
			res.Summary("Usage of autodt:").Detail(strings.Split(strings.TrimRight(flags.FlagUsages(), "\n"), "\n")...)
			return
		}
		handle(res, errors.Config("Config error: %v", err))
		return
	}
	if version {
		cfg.InitLogger()
		res.Summary("autodt %s", config.GetBuildInfo())
		return
	}

	r, err := ruleFlags.Rule(flags)
	if err == nil && dumpRule {
		cfg.InitLogger()
		dump(res, r)
		return
	}
	if err == nil {
		r.ConnectTo.Apply(&cfg.Connection)
		if r.AutomationUser != "" && !flags.Changed("automation_user") {
			cfg.Connection.User = r.AutomationUser
		}
		err = cfg.Prepare()
	}
	/* log file path is derived by Prepare */
	cfg.InitLogger()
	if err != nil {
		handle(res, err)
		return
	}
	log.Debug().Str("rule", r.Key()).Str("site", cfg.Connection.Site).
		Str("baseURL", cfg.Connection.BaseURL()).Msg("starting")

	a := newApp(cfg, r, res)
	switch {
	case addTarget != "":
		err = a.addOne(ctx, parseTarget(addTarget))
	case removeTarget != "":
		err = a.removeOne(ctx, parseTarget(removeTarget))
	default:
		err = a.run(ctx)
	}
	handle(res, err)
	return
}

// handle sets result of failed run
func handle(res *result.Builder, err error) {
	var ce *errors.ConfigError
	switch {
	case err == nil:
	case errors.As(err, &ce):
		res.Summary("%s", ce.Msg).Code(result.Critical)
	case errors.Is(err, errors.ErrConfig):
		res.Summary("Config error: %s", strings.TrimPrefix(err.Error(), errors.ErrConfig.Error()+": ")).
			Code(result.Critical)
	case errors.Is(err, errors.ErrCacheUnavailable):
		log.Info().Err(err).Msg("cache unavailable")
		res.Summary("Can't load cache, being updated elsewhere?").
			Detail(err.Error()).Code(result.OK)
	default:
		records := logzer.LastErrors()
		log.Error().Err(err).Msg("run failed")
		res.Crash(err, debug.Stack())
		if len(records) > 0 {
			res.Detail("Last errors:")
			for _, rec := range records {
				res.Detail(strings.TrimSpace(rec.String()))
			}
		}
	}
}

// dump renders the effective rule, macros are expanded
func dump(res *result.Builder, r rule.Rule) {
	data, err := rule.Marshal(r)
	if err != nil {
		handle(res, err)
		return
	}
	res.Summary("Effective rule %s", r.Key()).
		Detail(strings.Split(strings.TrimRight(string(data), "\n"), "\n")...)
}

func parseTarget(s string) transit.Target {
	host, svc, _ := strings.Cut(s, ",")
	return transit.Target{Label: "manual", HostName: host, ServiceName: svc}
}
