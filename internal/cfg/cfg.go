package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DebounceQuietMS        int
	DebounceCeilingMS      int
	DetectorTimeoutSeconds int
	SessionTTLMinutes      int
	SweepIntervalSeconds   int

	ClaudeAPIKey     string
	ClaudeModel      string
	DatabaseURL      string
	SlackWebhookURL  string
	SlackMinSeverity string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no auth)")
	fs.IntVar(&c.DebounceQuietMS, "debounce-quiet-ms", 800, "quiet window before a scheduled evaluation fires (1..60000)")
	fs.IntVar(&c.DebounceCeilingMS, "debounce-ceiling-ms", 3000, "max delay before continuous dictation forces an evaluation (1..60000)")
	fs.IntVar(&c.DetectorTimeoutSeconds, "detector-timeout-seconds", 5, "per-detector evaluation timeout (1..60)")
	fs.IntVar(&c.SessionTTLMinutes, "session-ttl-minutes", 30, "idle minutes before a session is expired (1..1440)")
	fs.IntVar(&c.SweepIntervalSeconds, "sweep-interval-seconds", 60, "seconds between idle-session sweeps (1..3600)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude screening detector (empty = detector disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the alert sink (empty = sink disabled)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications (empty = notifier disabled)")
	fs.StringVar(&c.SlackMinSeverity, "slack-min-severity", "CRITICAL", "minimum alert severity posted to Slack (INFO, WARNING, CRITICAL)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DebounceQuietMS <= 0 || c.DebounceQuietMS > 60000 {
		errs = append(errs, fmt.Errorf("invalid DEBOUNCE_QUIET_MS %d (must be 1..60000)", c.DebounceQuietMS))
	}
	if c.DebounceCeilingMS <= 0 || c.DebounceCeilingMS > 60000 {
		errs = append(errs, fmt.Errorf("invalid DEBOUNCE_CEILING_MS %d (must be 1..60000)", c.DebounceCeilingMS))
	}

	// A ceiling at or below the quiet window would force every evaluation
	if c.DebounceCeilingMS <= c.DebounceQuietMS {
		errs = append(errs, fmt.Errorf("DEBOUNCE_CEILING_MS %d must be greater than DEBOUNCE_QUIET_MS %d", c.DebounceCeilingMS, c.DebounceQuietMS))
	}

	if c.DetectorTimeoutSeconds <= 0 || c.DetectorTimeoutSeconds > 60 {
		errs = append(errs, fmt.Errorf("invalid DETECTOR_TIMEOUT_SECONDS %d (must be 1..60)", c.DetectorTimeoutSeconds))
	}
	if c.SessionTTLMinutes <= 0 || c.SessionTTLMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid SESSION_TTL_MINUTES %d (must be 1..1440)", c.SessionTTLMinutes))
	}
	if c.SweepIntervalSeconds <= 0 || c.SweepIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid SWEEP_INTERVAL_SECONDS %d (must be 1..3600)", c.SweepIntervalSeconds))
	}

	// Claude model only matters when the screening detector is enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	switch c.SlackMinSeverity {
	case "INFO", "WARNING", "CRITICAL":
	default:
		errs = append(errs, fmt.Errorf("invalid SLACK_MIN_SEVERITY %q (must be INFO, WARNING, or CRITICAL)", c.SlackMinSeverity))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
