// Package metrics exports run results of a rule instance
// as textfile for the node exporter textfile collector
package metrics

import (
	"bufio"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog/log"
)

const namespace = "autodt"

// Sample holds results of a run
type Sample struct {
	Targets      int
	Added        int
	ReAdded      int
	Removed      int
	Maintenance  bool
	DirectoryAge time.Duration
	StateAge     time.Duration
	Duration     time.Duration
}

// Run collects metrics of a rule instance run
type Run struct {
	registry *prometheus.Registry
	ruleKey  string

	targets     prometheus.Gauge
	downtimes   *prometheus.GaugeVec
	maintenance prometheus.Gauge
	cacheAge    *prometheus.GaugeVec
	duration    prometheus.Gauge
	lastRun     prometheus.Gauge
}

// New returns collector labeled with the rule instance key
func New(ruleKey string) *Run {
	labels := prometheus.Labels{"rule": ruleKey}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: labels,
		})
	}
	r := &Run{
		registry:    prometheus.NewRegistry(),
		ruleKey:     ruleKey,
		targets:     gauge("targets", "Number of resolved targets."),
		maintenance: gauge("maintenance_active", "Maintenance of the reference is active."),
		duration:    gauge("run_duration_seconds", "Duration of the last run."),
		lastRun:     gauge("last_run_timestamp_seconds", "Time of the last run."),
		downtimes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "downtimes", Help: "Downtime operations of the last run.", ConstLabels: labels,
		}, []string{"op"}),
		cacheAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cache_age_seconds", Help: "Age of caches used by the last run.", ConstLabels: labels,
		}, []string{"cache"}),
	}
	r.registry.MustRegister(r.targets, r.downtimes, r.maintenance, r.cacheAge, r.duration, r.lastRun)
	return r
}

// Observe sets metrics
func (r *Run) Observe(s Sample) {
	r.targets.Set(float64(s.Targets))
	r.downtimes.WithLabelValues("added").Set(float64(s.Added))
	r.downtimes.WithLabelValues("readded").Set(float64(s.ReAdded))
	r.downtimes.WithLabelValues("removed").Set(float64(s.Removed))
	if s.Maintenance {
		r.maintenance.Set(1)
	} else {
		r.maintenance.Set(0)
	}
	r.cacheAge.WithLabelValues("directory").Set(s.DirectoryAge.Seconds())
	r.cacheAge.WithLabelValues("instance").Set(s.StateAge.Seconds())
	r.duration.Set(s.Duration.Seconds())
	r.lastRun.SetToCurrentTime()
}

// Gather returns metric families
func (r *Run) Gather() ([]*dto.MetricFamily, error) {
	return r.registry.Gather()
}

// Path returns textfile of the rule instance in dir
func (r *Run) Path(dir string) string {
	return filepath.Join(dir, namespace+"_"+url.PathEscape(r.ruleKey)+".prom")
}

// WriteTextfile writes metrics to dir, the file is replaced atomically
func (r *Run) WriteTextfile(dir string) error {
	mfs, err := r.Gather()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := r.Path(dir)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	log.Debug().Str("path", path).Int("families", len(mfs)).Msg("metrics written")
	return os.Rename(tmp.Name(), path)
}
