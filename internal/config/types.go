package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"paced/pkg/pacer"
)

type Config struct {
	Pacing   PacingConfig    `json:"pacing"`
	Logging  LoggingConfig   `json:"logging"`
	History  *HistoryConfig  `json:"history,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Probes   []ProbeConfig   `json:"probes"`
}

// PacingConfig controls the shared pacer.Scheduler.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2m").
//
// AwaitLast is a pointer so an omitted field keeps the engine default (true)
// while an explicit false disables the wait.
type PacingConfig struct {
	Interval   string `json:"interval,omitempty"`
	AwaitLast  *bool  `json:"await_last,omitempty"`
	StartTimer string `json:"start_timer,omitempty"` // "before" (default) or "after"
	DelayFirst bool   `json:"delay_first,omitempty"`

	HistorySize int `json:"history_size,omitempty"`

	// FailureLogEvery throttles the engine's failure log. "0s" logs every
	// failure.
	FailureLogEvery string `json:"failure_log_every,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console,omitempty"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// HistoryConfig enables the probe outcome store. Driver "file" is always
// available; "sqlite" requires the sqlite build tag.
type HistoryConfig struct {
	Driver      string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Keep        int    `json:"keep,omitempty"` // rows retained per prune, 0 = keep all
}

type NotifierConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`

	// MinGap throttles failure notifications, e.g. "1m".
	MinGap string `json:"min_gap,omitempty"`
}

type ProbeConfig struct {
	Name string `json:"name"`
	Type string `json:"type"` // "http" or "speedtest"

	// URL is required for http probes.
	URL string `json:"url,omitempty"`

	// Schedule is a cron spec or "@every <duration>"; each firing submits
	// the probe to the pacer.
	Schedule string `json:"schedule"`

	Timeout string `json:"timeout,omitempty"`
}

// ParseDurationField parses an optional duration string such as "250ms" or
// "2m"; path names the field in error messages. Empty means zero, negative
// is refused.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// EngineInterval resolves the pacing interval with the engine default.
// An explicit "0s" is honored (back-to-back dispatching); only an omitted
// field falls back to the default.
func (c *Config) EngineInterval() (time.Duration, error) {
	if strings.TrimSpace(c.Pacing.Interval) == "" {
		return pacer.DefaultInterval, nil
	}
	return ParseDurationField("pacing.interval", c.Pacing.Interval)
}

// EngineOptions maps the pacing block onto pacer.Options (logger and clock
// are wired by the caller).
func (c *Config) EngineOptions() (pacer.Options, error) {
	var opts pacer.Options
	if c.Pacing.AwaitLast != nil && !*c.Pacing.AwaitLast {
		opts.DisableAwaitLast = true
	}
	switch strings.ToLower(strings.TrimSpace(c.Pacing.StartTimer)) {
	case "", "before":
		opts.StartTimer = pacer.TimerStartBefore
	case "after":
		opts.StartTimer = pacer.TimerStartAfter
	default:
		return opts, fmt.Errorf("pacing.start_timer: unknown value %q", c.Pacing.StartTimer)
	}
	opts.DelayFirst = c.Pacing.DelayFirst
	opts.HistorySize = c.Pacing.HistorySize

	every, err := ParseDurationField("pacing.failure_log_every", c.Pacing.FailureLogEvery)
	if err != nil {
		return opts, err
	}
	opts.FailureLogEvery = every
	return opts, nil
}

// Validate rejects configs the daemon cannot run with. It parses every
// duration field so a bad config is refused before it is committed.
func (c *Config) Validate() error {
	if _, err := c.EngineInterval(); err != nil {
		return err
	}
	if _, err := c.EngineOptions(); err != nil {
		return err
	}

	if c.History != nil {
		if strings.TrimSpace(c.History.Path) == "" {
			return errors.New("history.path is required when history is configured")
		}
		switch strings.ToLower(strings.TrimSpace(c.History.Driver)) {
		case "", "file", "jsonl", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("history.driver: unknown value %q", c.History.Driver)
		}
		if _, err := ParseDurationField("history.busy_timeout", c.History.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Notifier != nil {
		if strings.TrimSpace(c.Notifier.Token) == "" {
			return errors.New("notifier.token is required when notifier is configured")
		}
		if c.Notifier.ChatID == 0 {
			return errors.New("notifier.chat_id is required when notifier is configured")
		}
		if _, err := ParseDurationField("notifier.min_gap", c.Notifier.MinGap); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for i, p := range c.Probes {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("probes[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("probes[%d]: duplicate name %q", i, name)
		}
		seen[name] = true

		switch strings.ToLower(strings.TrimSpace(p.Type)) {
		case "http":
			if strings.TrimSpace(p.URL) == "" {
				return fmt.Errorf("probes[%d] (%s): url is required for http probes", i, name)
			}
		case "speedtest":
		default:
			return fmt.Errorf("probes[%d] (%s): unknown type %q", i, name, p.Type)
		}

		if strings.TrimSpace(p.Schedule) == "" {
			return fmt.Errorf("probes[%d] (%s): schedule is required", i, name)
		}
		if _, err := ParseDurationField(fmt.Sprintf("probes[%d].timeout", i), p.Timeout); err != nil {
			return err
		}
	}
	return nil
}
