// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every automatically bound environment variable,
// e.g. ERPFILL_RUN_DRY_RUN for run.dry_run.
const EnvPrefix = "ERPFILL"

// Screenshot policies accepted by run.screenshot_policy.
const (
	ScreenshotOff     = "off"
	ScreenshotFailure = "failure"
	ScreenshotAlways  = "always"
)

// legacyEnv maps configuration keys to the short environment variable names
// the operators already export in their shells and .env files.
var legacyEnv = map[string]string{
	"run.login_url":         "LOGIN_URL",
	"browser.headless":      "HEADLESS",
	"run.input_path":        "INPUT_PATH",
	"run.captcha_wait_ms":   "CAPTCHA_WAIT_MS",
	"run.screenshot_policy": "SCREENSHOT_POLICY",
	"run.login_attempts":    "LOGIN_ATTEMPTS",
	"run.post_save_wait_ms": "POST_SAVE_WAIT_MS",
	"run.dry_run":           "DRY_RUN",
	"run.max_rows":          "MAX_ROWS",
	"selectors.path":        "SELECTORS_PATH",
	"output.database_url":   "DATABASE_URL",
}

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Run       RunConfig       `mapstructure:"run" yaml:"run"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Selectors SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driving the ERP.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	Persona           PersonaConfig `mapstructure:"persona" yaml:"persona"`
}

// PersonaConfig is the browser identity presented to the ERP.
type PersonaConfig struct {
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	Locale    string   `mapstructure:"locale" yaml:"locale"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
}

// RunConfig controls a single pass over the input spreadsheet.
type RunConfig struct {
	InputPath        string `mapstructure:"input_path" yaml:"input_path"`
	Sheet            string `mapstructure:"sheet" yaml:"sheet"`
	LoginURL         string `mapstructure:"login_url" yaml:"login_url"`
	Form             string `mapstructure:"form" yaml:"form"`
	DryRun           bool   `mapstructure:"dry_run" yaml:"dry_run"`
	MaxRows          int    `mapstructure:"max_rows" yaml:"max_rows"`
	LoginAttempts    int    `mapstructure:"login_attempts" yaml:"login_attempts"`
	CaptchaWaitMs    int    `mapstructure:"captcha_wait_ms" yaml:"captcha_wait_ms"`
	PostSaveWaitMs   int    `mapstructure:"post_save_wait_ms" yaml:"post_save_wait_ms"`
	ScreenshotPolicy string `mapstructure:"screenshot_policy" yaml:"screenshot_policy"`
	RowsPerMinute    int    `mapstructure:"rows_per_minute" yaml:"rows_per_minute"`
}

// CaptchaWait is the upper bound for a manual captcha pause.
func (r RunConfig) CaptchaWait() time.Duration {
	return time.Duration(r.CaptchaWaitMs) * time.Millisecond
}

// PostSaveWait is the upper bound for waiting on a save confirmation.
func (r RunConfig) PostSaveWait() time.Duration {
	return time.Duration(r.PostSaveWaitMs) * time.Millisecond
}

// OutputConfig locates every artifact a run produces.
type OutputConfig struct {
	Dir            string `mapstructure:"dir" yaml:"dir"`
	ResultsCSV     string `mapstructure:"results_csv" yaml:"results_csv"`
	ScreenshotsDir string `mapstructure:"screenshots_dir" yaml:"screenshots_dir"`
	StateDir       string `mapstructure:"state_dir" yaml:"state_dir"`
	LogsDir        string `mapstructure:"logs_dir" yaml:"logs_dir"`
	DatabaseURL    string `mapstructure:"database_url" yaml:"database_url"`
}

// SelectorsConfig points at an optional selector override file.
type SelectorsConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "erpfill")
	v.SetDefault("logger.log_file", "erpfill.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.persona.user_agent", "")
	v.SetDefault("browser.persona.timezone", "")
	v.SetDefault("browser.persona.locale", "en-US")
	v.SetDefault("browser.persona.languages", []string{"en-US", "en"})

	// -- Run --
	v.SetDefault("run.input_path", "input.xlsx")
	v.SetDefault("run.sheet", "")
	v.SetDefault("run.login_url", "")
	v.SetDefault("run.form", "")
	v.SetDefault("run.dry_run", false)
	v.SetDefault("run.max_rows", 0)
	v.SetDefault("run.login_attempts", 2)
	v.SetDefault("run.captcha_wait_ms", 45000)
	v.SetDefault("run.post_save_wait_ms", 5000)
	v.SetDefault("run.screenshot_policy", ScreenshotFailure)
	v.SetDefault("run.rows_per_minute", 0)

	// -- Output --
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.results_csv", "results.csv")
	v.SetDefault("output.screenshots_dir", "screenshots")
	v.SetDefault("output.state_dir", "state")
	v.SetDefault("output.logs_dir", "logs")
	v.SetDefault("output.database_url", "")

	// -- Selectors --
	v.SetDefault("selectors.path", "")
}

// BindEnvironment wires the ERPFILL_* automatic environment lookup and the
// legacy short names. Explicit ERPFILL_* variables win over the short ones.
func BindEnvironment(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	if err := BindEnvironment(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every user supplied path.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.Run.InputPath,
		&c.Output.Dir,
		&c.Selectors.Path,
		&c.Logger.LogFile,
		&c.Browser.ExecPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Run.Validate(); err != nil {
		return fmt.Errorf("run configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if b.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be a positive duration")
	}
	if b.WindowWidth < 0 || b.WindowHeight < 0 {
		return fmt.Errorf("window dimensions must not be negative")
	}
	return nil
}

// Validate checks the run settings.
func (r *RunConfig) Validate() error {
	if r.LoginAttempts <= 0 {
		return fmt.Errorf("login_attempts must be a positive integer")
	}
	if r.MaxRows < 0 {
		return fmt.Errorf("max_rows must not be negative (0 means no limit)")
	}
	if r.CaptchaWaitMs < 0 || r.PostSaveWaitMs < 0 {
		return fmt.Errorf("captcha_wait_ms and post_save_wait_ms must not be negative")
	}
	if r.RowsPerMinute < 0 {
		return fmt.Errorf("rows_per_minute must not be negative")
	}
	switch r.ScreenshotPolicy {
	case ScreenshotOff, ScreenshotFailure, ScreenshotAlways:
	default:
		return fmt.Errorf("screenshot_policy must be one of off, failure, always (got %q)", r.ScreenshotPolicy)
	}
	return nil
}

// ResultsCSVPath returns the results CSV location inside the output directory
// unless an absolute path was configured.
func (o OutputConfig) ResultsCSVPath() string { return o.join(o.ResultsCSV) }

// ScreenshotsPath returns the screenshot directory.
func (o OutputConfig) ScreenshotsPath() string { return o.join(o.ScreenshotsDir) }

// StatePath returns the session state directory.
func (o OutputConfig) StatePath() string { return o.join(o.StateDir) }

// LogsPath returns the per-run log directory.
func (o OutputConfig) LogsPath() string { return o.join(o.LogsDir) }

func (o OutputConfig) join(p string) string {
	if p == "" || filepath.IsAbs(p) || o.Dir == "" {
		return p
	}
	return filepath.Join(o.Dir, p)
}
