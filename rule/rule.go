// Package rule defines the configuration of a rule instance.
// Rule files are versioned: version 1 is the legacy flat shape,
// version 2 is the current nested shape which is also the in-memory model.
package rule

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gwos/autodt/config"
	"github.com/gwos/autodt/errors"
)

// HashID is mixed into the identity hash of every rule instance
const HashID = "check_auto_downtimes"

// DetectionMode defines the way to find targets
type DetectionMode string

// Detection modes
const (
	FullyAutomated    DetectionMode = "fully_automated"
	SearchParentChild DetectionMode = "search_parent_child"
	SearchChild       DetectionMode = "search_child"
	SpecifyTargets    DetectionMode = "specify_targets"
)

// MaintenanceBy defines the kind of monitored reference
type MaintenanceBy string

// Reference kinds
const (
	ByHost    MaintenanceBy = "host"
	ByService MaintenanceBy = "service"
)

// UsePerfdata names perfdata values of the monitored service
// which carry the maintenance window as unix timestamps
type UsePerfdata struct {
	TimerangeStart string `yaml:"timerange_start,omitempty"`
	TimerangeEnd   string `yaml:"timerange_end,omitempty"`
	SetDTFlag      string `yaml:"set_dt_flag,omitempty"`
}

// IsSet checks if the time range is configured
func (p UsePerfdata) IsSet() bool {
	return p.TimerangeStart != "" && p.TimerangeEnd != ""
}

// Monitor defines the reference host or service
type Monitor struct {
	HostName    string      `yaml:"host_name" validate:"required"`
	ServiceName string      `yaml:"service_name,omitempty"`
	OutputRegex string      `yaml:"service_output_regex,omitempty" validate:"omitempty,regex"`
	UsePerfdata UsePerfdata `yaml:"use_perfdata,omitempty"`
}

// ReactOn defines conditions of the reference that require maintenance
type ReactOn struct {
	Downtimes bool  `yaml:"monitor_dts"`
	States    []int `yaml:"monitor_states,omitempty" validate:"dive,oneof=1 2 3"`
}

// ManualTarget defines a target specification for SpecifyTargets mode
type ManualTarget struct {
	ID           string `yaml:"target_id"`
	HostRegex    string `yaml:"host_name_regex"`
	ServiceRegex string `yaml:"service_name_regex,omitempty"`
}

// Detection defines the dependency detection mode with its options
type Detection struct {
	Mode               DetectionMode  `yaml:"mode" validate:"required,oneof=fully_automated search_parent_child search_child specify_targets"`
	OptionalIdentifier string         `yaml:"optional_identifier,omitempty" validate:"omitempty,regex"`
	Targets            []ManualTarget `yaml:"targets,omitempty"`
}

// SearchOpts defines name matching options
type SearchOpts struct {
	CaseInsensitive       bool `yaml:"case_insensitive"`
	HostnameBoundaryMatch bool `yaml:"hostname_boundary_match"`
	StripFQDN             bool `yaml:"strip_fqdn"`
}

// ConnectTo overrides the site connection
type ConnectTo struct {
	Host           string `yaml:"host,omitempty"`
	Port           int    `yaml:"port,omitempty"`
	Site           string `yaml:"site,omitempty"`
	SSLVerify      bool   `yaml:"ssl_verify,omitempty"`
	DisableProxies bool   `yaml:"disable_proxies,omitempty"`
}

// Apply overrides connection fields set in rule
func (p *ConnectTo) Apply(c *config.Connection) {
	if p == nil {
		return
	}
	if p.Host != "" {
		c.Host = p.Host
	}
	if p.Port != 0 {
		c.Port = p.Port
	}
	if p.Site != "" {
		c.Site = p.Site
	}
	c.VerifySSL = c.VerifySSL || p.SSLVerify
	c.NoProxy = c.NoProxy || p.DisableProxies
}

// Rule defines the effective configuration of a rule instance
type Rule struct {
	// HostName is the host the rule instance runs on
	HostName    string `yaml:"-" validate:"required"`
	DisplayName string `yaml:"display_service_name" validate:"required"`

	Monitor    Monitor    `yaml:"monitor"`
	ReactOn    ReactOn    `yaml:"react_on"`
	Detection  Detection  `yaml:"dependency_detection"`
	SearchOpts SearchOpts `yaml:"search_opts"`
	ConnectTo  *ConnectTo `yaml:"connect_to,omitempty"`

	AutomationUser string `yaml:"automation_user,omitempty"`
	// DefaultDowntime in minutes
	DefaultDowntime int `yaml:"default_downtime" validate:"min=3,max=1440"`
	// GraceTime in seconds before removal of downtimes
	GraceTime int `yaml:"dt_end_gracetime_s" validate:"min=0,max=3600"`
}

// Defaults returns rule with defaults of omitted fields
func Defaults() Rule {
	return Rule{
		ReactOn:         ReactOn{Downtimes: true},
		SearchOpts:      SearchOpts{HostnameBoundaryMatch: true},
		DefaultDowntime: 30,
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("regex", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
}

// Validate checks rule, returns errors.ConfigError with operator facing message
func (r Rule) Validate() error {
	if _, err := r.MaintenanceBy(); err != nil {
		return err
	}
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return errors.Config("Config error: %v", err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.StructNamespace() {
		case "Rule.Detection.Mode":
			return errors.Config("! Invalid mode for --dependency_detection")
		case "Rule.Monitor.HostName":
			return errors.Config("Config error: 'Monitor host' and/or 'Monitor service' undefined!")
		}
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s' (%v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return errors.Config("Config error: %s", strings.Join(msgs, "; "))
}

// MaintenanceBy returns the kind of monitored reference
func (r Rule) MaintenanceBy() (MaintenanceBy, error) {
	m := r.Monitor
	switch {
	case m.HostName != "" && m.ServiceName == "" && m.OutputRegex == "":
		return ByHost, nil
	case m.HostName != "" && m.ServiceName != "":
		return ByService, nil
	}
	return "", errors.Config("Config error: 'Monitor host' and/or 'Monitor service' undefined!")
}

// Key returns the rule instance identity
func (r Rule) Key() string {
	return r.HostName + "--" + r.DisplayName
}

// IdentityHash returns the digest embedded in comments of all downtimes of the rule instance
func (r Rule) IdentityHash() string {
	sum := sha1.Sum([]byte(HashID + r.HostName + r.DisplayName))
	return hex.EncodeToString(sum[:])[:12]
}

// Fingerprint returns the digest of effective configuration
func (r Rule) Fingerprint() (string, error) {
	return config.HashsumHex(r)
}

// MonitorsItself checks if the reference host is the host of the rule instance
func (r Rule) MonitorsItself() bool {
	return r.Monitor.HostName == r.HostName
}
