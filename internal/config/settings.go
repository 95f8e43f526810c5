package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Settings is a profile's crmsync.toml.
type Settings struct {
	CRM      CRM      `toml:"crm"`
	Device   Device   `toml:"device"`
	Sync     Sync     `toml:"sync"`
	Schedule Schedule `toml:"schedule"`
	Metrics  Metrics  `toml:"metrics"`
	Log      Log      `toml:"log"`
}

// CRM holds the remote endpoint and its credentials. Either APIKey or the
// client-credentials triple authenticates requests.
type CRM struct {
	BaseURL      string        `toml:"base_url" env:"CRMSYNC_CRM_BASE_URL"`
	ContactsPath string        `toml:"contacts_path" env:"CRMSYNC_CRM_CONTACTS_PATH"`
	CallsPath    string        `toml:"calls_path" env:"CRMSYNC_CRM_CALLS_PATH"`
	Timeout      time.Duration `toml:"timeout" env:"CRMSYNC_CRM_TIMEOUT"`
	APIKey       string        `toml:"api_key" env:"CRMSYNC_CRM_API_KEY"`
	APIKeyHeader string        `toml:"api_key_header" env:"CRMSYNC_CRM_API_KEY_HEADER"`
	ClientID     string        `toml:"client_id" env:"CRMSYNC_CRM_CLIENT_ID"`
	ClientSecret string        `toml:"client_secret" env:"CRMSYNC_CRM_CLIENT_SECRET"`
	TokenURL     string        `toml:"token_url" env:"CRMSYNC_CRM_TOKEN_URL"`
	Scopes       []string      `toml:"scopes" env:"CRMSYNC_CRM_SCOPES" envSeparator:","`
}

// Device locates the device data and the grants the profile holds on it.
// Unmetered and Charging report the device conditions scheduled runs are
// checked against.
type Device struct {
	Path      string `toml:"path" env:"CRMSYNC_DEVICE_PATH"`
	Contacts  bool   `toml:"contacts" env:"CRMSYNC_DEVICE_CONTACTS"`
	CallLog   bool   `toml:"call_log" env:"CRMSYNC_DEVICE_CALL_LOG"`
	Unmetered bool   `toml:"unmetered" env:"CRMSYNC_DEVICE_UNMETERED"`
	Charging  bool   `toml:"charging" env:"CRMSYNC_DEVICE_CHARGING"`
}

type Sync struct {
	IncludeCalls bool `toml:"include_calls" env:"CRMSYNC_SYNC_INCLUDE_CALLS"`
}

// Schedule is the periodic job registered at daemon start.
type Schedule struct {
	Enabled          bool          `toml:"enabled" env:"CRMSYNC_SCHEDULE_ENABLED"`
	Job              string        `toml:"job" env:"CRMSYNC_SCHEDULE_JOB"`
	Interval         time.Duration `toml:"interval" env:"CRMSYNC_SCHEDULE_INTERVAL"`
	Policy           string        `toml:"policy" env:"CRMSYNC_SCHEDULE_POLICY"`
	RequireUnmetered bool          `toml:"require_unmetered" env:"CRMSYNC_SCHEDULE_REQUIRE_UNMETERED"`
	RequireCharging  bool          `toml:"require_charging" env:"CRMSYNC_SCHEDULE_REQUIRE_CHARGING"`
}

// Metrics enables the Prometheus endpoint when ListenAddr is set.
type Metrics struct {
	ListenAddr string `toml:"listen_addr" env:"CRMSYNC_METRICS_ADDR"`
}

type Log struct {
	Level      string `toml:"level" env:"CRMSYNC_LOG_LEVEL"`
	MaxSizeMB  int    `toml:"max_size_mb" env:"CRMSYNC_LOG_MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" env:"CRMSYNC_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" env:"CRMSYNC_LOG_MAX_AGE_DAYS"`
}

// Defaults returns the settings used for any key the file leaves out.
func Defaults() Settings {
	return Settings{
		CRM: CRM{
			ContactsPath: "/contacts/sync",
			CallsPath:    "/calls/sync",
			Timeout:      30 * time.Second,
		},
		Device: Device{Contacts: true, CallLog: true, Unmetered: true, Charging: true},
		Sync:   Sync{IncludeCalls: true},
		Schedule: Schedule{
			Enabled:  true,
			Job:      "crm-sync",
			Interval: 2 * time.Hour,
			Policy:   "KEEP",
		},
		Log: Log{Level: "info", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 28},
	}
}

// LoadSettings reads a profile's settings over Defaults, applies environment
// overrides and validates the result. A missing file yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := Defaults()
	if _, err := toml.DecodeFile(path, &s); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings for values the daemon cannot run with. A
// missing CRM base URL is allowed; the daemon then refuses to sync.
func (s *Settings) Validate() error {
	var errs []error
	if s.CRM.BaseURL != "" {
		u, err := url.Parse(s.CRM.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("crm.base_url %q is not an absolute URL", s.CRM.BaseURL))
		}
	}
	if s.CRM.Timeout <= 0 {
		errs = append(errs, errors.New("crm.timeout must be positive"))
	}
	if (s.CRM.ClientID != "") != (s.CRM.TokenURL != "") {
		errs = append(errs, errors.New("crm.client_id and crm.token_url must be set together"))
	}
	if s.Schedule.Interval <= 0 {
		errs = append(errs, errors.New("schedule.interval must be positive"))
	}
	if s.Schedule.Job == "" {
		errs = append(errs, errors.New("schedule.job is required"))
	}
	switch strings.ToUpper(s.Schedule.Policy) {
	case "KEEP", "UPDATE":
	default:
		errs = append(errs, fmt.Errorf("schedule.policy %q must be KEEP or UPDATE", s.Schedule.Policy))
	}
	return errors.Join(errs...)
}

// Configured reports whether the CRM endpoint and credentials are present.
func (c CRM) Configured() bool {
	return c.BaseURL != "" && (c.APIKey != "" || c.ClientID != "")
}
