// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // cron hosts often ship without zoneinfo

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Portal() PortalConfig
	Network() NetworkConfig
	Recognition() RecognitionConfig
	Captcha() CaptchaConfig
	Notify() NotifyConfig
	Schedule() ScheduleConfig
	Policy() PolicyConfig

	// Setters used by CLI flag overrides.
	SetNetworkInsecureSkipVerify(bool)
	SetRecognitionProvider(string)
	SetPolicyProceedOnUnavailableModule(bool)
}

// Config holds the entire application configuration.
// Sections are exported so viper can populate them; callers should prefer the getters.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	PortalCfg      PortalConfig      `mapstructure:"portal" yaml:"portal"`
	NetworkCfg     NetworkConfig     `mapstructure:"network" yaml:"network"`
	RecognitionCfg RecognitionConfig `mapstructure:"recognition" yaml:"recognition"`
	CaptchaCfg     CaptchaConfig     `mapstructure:"captcha" yaml:"captcha"`
	NotifyCfg      NotifyConfig      `mapstructure:"notify" yaml:"notify"`
	ScheduleCfg    ScheduleConfig    `mapstructure:"schedule" yaml:"schedule"`
	PolicyCfg      PolicyConfig      `mapstructure:"policy" yaml:"policy"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Portal() PortalConfig           { return c.PortalCfg }
func (c *Config) Network() NetworkConfig         { return c.NetworkCfg }
func (c *Config) Recognition() RecognitionConfig { return c.RecognitionCfg }
func (c *Config) Captcha() CaptchaConfig         { return c.CaptchaCfg }
func (c *Config) Notify() NotifyConfig           { return c.NotifyCfg }
func (c *Config) Schedule() ScheduleConfig       { return c.ScheduleCfg }
func (c *Config) Policy() PolicyConfig           { return c.PolicyCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetNetworkInsecureSkipVerify(b bool) { c.NetworkCfg.InsecureSkipVerify = b }
func (c *Config) SetRecognitionProvider(p string)     { c.RecognitionCfg.Provider = p }
func (c *Config) SetPolicyProceedOnUnavailableModule(b bool) {
	c.PolicyCfg.ProceedOnUnavailableModule = b
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

// PortalConfig describes the single account and portal a run works against.
type PortalConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"-"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	// ModuleMarker is the text the post-login probe page must contain.
	ModuleMarker string        `mapstructure:"module_marker" yaml:"module_marker"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Latitude     float64       `mapstructure:"latitude" yaml:"latitude"`
	Longitude    float64       `mapstructure:"longitude" yaml:"longitude"`
	// CoordinatesSet records whether both coordinates were supplied by any source.
	CoordinatesSet bool `mapstructure:"-" yaml:"-"`
	// CookieJar is the optional file used to persist cookies across runs. Empty keeps them in memory.
	CookieJar string `mapstructure:"cookie_jar" yaml:"cookie_jar"`
	// CookieMaxAge is how long a saved jar is trusted before the next run logs in fresh.
	CookieMaxAge time.Duration `mapstructure:"cookie_max_age" yaml:"cookie_max_age"`
}

// NetworkConfig tunes the HTTP client used against the portal.
type NetworkConfig struct {
	Timeout               time.Duration `mapstructure:"timeout" yaml:"timeout"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `mapstructure:"tls_handshake_timeout" yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout" yaml:"response_header_timeout"`
	// InsecureSkipVerify disables certificate validation. Opt-in only.
	InsecureSkipVerify bool    `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	ProxyURL           string  `mapstructure:"proxy_url" yaml:"proxy_url"`
	RequestsPerSecond  float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst              int     `mapstructure:"burst" yaml:"burst"`
}

// Recognition providers.
const (
	ProviderOCRSpace = "ocrspace"
	ProviderGemini   = "gemini"
	ProviderManual   = "manual"
)

// RecognitionConfig selects and configures the captcha recognition service.
type RecognitionConfig struct {
	Provider string        `mapstructure:"provider" yaml:"provider"`
	APIKey   string        `mapstructure:"api_key" yaml:"-"`
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Gemini   GeminiConfig  `mapstructure:"gemini" yaml:"gemini"`
}

// GeminiConfig configures the Gemini vision recognizer.
type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"-"`
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// CaptchaConfig holds debugging knobs for challenge images.
type CaptchaConfig struct {
	// SaveDir, when set, receives a copy of every challenge image.
	SaveDir string `mapstructure:"save_dir" yaml:"save_dir"`
}

// NotifyConfig configures outcome notifications.
type NotifyConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	OnAuthFailure bool          `mapstructure:"on_auth_failure" yaml:"on_auth_failure"`
	Email         EmailConfig   `mapstructure:"email" yaml:"email"`
	Webhook       WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

// EmailConfig holds SMTP delivery settings. An empty From or To disables email.
type EmailConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
	From     string `mapstructure:"from" yaml:"from"`
	To       string `mapstructure:"to" yaml:"to"`
}

// Enabled reports whether enough is configured to attempt delivery.
func (e EmailConfig) Enabled() bool {
	return e.From != "" && e.To != "" && e.Host != ""
}

// WebhookConfig holds settings for the JSON webhook notifier. Empty URL disables it.
type WebhookConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ScheduleConfig controls how wall-clock time is interpreted.
type ScheduleConfig struct {
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// Location resolves the configured timezone, defaulting to the host's local zone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// PolicyConfig holds run-level policy switches.
type PolicyConfig struct {
	// ProceedOnUnavailableModule submits the report even when the module probe fails.
	ProceedOnUnavailableModule bool `mapstructure:"proceed_on_unavailable_module" yaml:"proceed_on_unavailable_module"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
// Every key gets one, even if empty, so AutomaticEnv can see it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "attendant")
	v.SetDefault("logger.log_file", "attendant.log")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 90)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "magenta")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "red")
	v.SetDefault("logger.colors.panic", "red")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Portal --
	v.SetDefault("portal.base_url", "https://star-asn.kemenimipas.go.id")
	v.SetDefault("portal.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("portal.module_marker", "PRESENSI MASUK")
	v.SetDefault("portal.max_attempts", 5)
	v.SetDefault("portal.retry_delay", "2s")
	v.SetDefault("portal.cookie_jar", "")
	v.SetDefault("portal.cookie_max_age", "12h")

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.dial_timeout", "10s")
	v.SetDefault("network.tls_handshake_timeout", "10s")
	v.SetDefault("network.response_header_timeout", "20s")
	v.SetDefault("network.insecure_skip_verify", false)
	v.SetDefault("network.proxy_url", "")
	v.SetDefault("network.requests_per_second", 2.0)
	v.SetDefault("network.burst", 2)

	// -- Recognition --
	v.SetDefault("recognition.provider", ProviderOCRSpace)
	v.SetDefault("recognition.endpoint", "https://api.ocr.space/parse/image")
	v.SetDefault("recognition.timeout", "30s")
	v.SetDefault("recognition.gemini.model", "gemini-2.5-flash")
	v.SetDefault("recognition.gemini.base_url", "")

	// -- Captcha --
	v.SetDefault("captcha.save_dir", "")

	// -- Notify --
	v.SetDefault("notify.timeout", "30s")
	v.SetDefault("notify.on_auth_failure", true)
	v.SetDefault("notify.email.host", "smtp.gmail.com")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.timeout", "10s")

	// -- Schedule & Policy --
	v.SetDefault("schedule.timezone", "Local")
	v.SetDefault("policy.proceed_on_unavailable_module", true)
}

// BindLegacyEnv maps the environment variable names used by the older scripts
// onto config keys so existing .env files keep working.
func BindLegacyEnv(v *viper.Viper) {
	v.BindEnv("portal.username", "ATTENDANT_PORTAL_USERNAME", "STARASN_USERNAME")
	v.BindEnv("portal.password", "ATTENDANT_PORTAL_PASSWORD", "STARASN_PASSWORD")
	v.BindEnv("recognition.api_key", "ATTENDANT_RECOGNITION_API_KEY", "OCR_SPACE_API_KEY")
	v.BindEnv("recognition.gemini.api_key", "ATTENDANT_RECOGNITION_GEMINI_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("notify.email.from", "ATTENDANT_NOTIFY_EMAIL_FROM", "EMAIL_FROM")
	v.BindEnv("notify.email.to", "ATTENDANT_NOTIFY_EMAIL_TO", "EMAIL_TO", "NOTIFY_EMAIL")
	v.BindEnv("notify.email.password", "ATTENDANT_NOTIFY_EMAIL_PASSWORD", "EMAIL_APP_PASSWORD")
	v.BindEnv("portal.latitude", "ATTENDANT_PORTAL_LATITUDE", "LATITUDE")
	v.BindEnv("portal.longitude", "ATTENDANT_PORTAL_LONGITUDE", "LONGITUDE")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	BindLegacyEnv(v)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.PortalCfg.CoordinatesSet = v.IsSet("portal.latitude") && v.IsSet("portal.longitude")

	// Gmail-style setups authenticate as the sender.
	if cfg.NotifyCfg.Email.Username == "" {
		cfg.NotifyCfg.Email.Username = cfg.NotifyCfg.Email.From
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in every file system path the config carries.
func (c *Config) expandPaths() error {
	paths := []*string{&c.LoggerCfg.LogFile, &c.PortalCfg.CookieJar, &c.CaptchaCfg.SaveDir}
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
	if err := c.PortalCfg.Validate(); err != nil {
		return fmt.Errorf("portal configuration invalid: %w", err)
	}
	if c.NetworkCfg.Timeout <= 0 {
		return fmt.Errorf("network.timeout must be a positive duration")
	}
	if c.NetworkCfg.ProxyURL != "" {
		if _, err := url.Parse(c.NetworkCfg.ProxyURL); err != nil {
			return fmt.Errorf("network.proxy_url is not a valid URL: %w", err)
		}
	}
	if c.NetworkCfg.RequestsPerSecond < 0 {
		return fmt.Errorf("network.requests_per_second must not be negative")
	}
	if err := c.RecognitionCfg.Validate(); err != nil {
		return fmt.Errorf("recognition configuration invalid: %w", err)
	}
	if _, err := c.ScheduleCfg.Location(); err != nil {
		return fmt.Errorf("schedule.timezone is invalid: %w", err)
	}
	return nil
}

// Validate checks the portal section. Credentials are checked at run time, not here,
// so read-only commands work without them.
func (p PortalConfig) Validate() error {
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", p.BaseURL)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if p.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative")
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude must be within [-90, 90]")
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude must be within [-180, 180]")
	}
	return nil
}

// RequireCredentials reports whether the account credentials are present.
func (p PortalConfig) RequireCredentials() error {
	if p.Username == "" || p.Password == "" {
		return fmt.Errorf("portal credentials are required; set STARASN_USERNAME and STARASN_PASSWORD")
	}
	return nil
}

// RequireCoordinates reports whether the report location was configured. A
// missing coordinate would otherwise be filed as 0.
func (p PortalConfig) RequireCoordinates() error {
	if !p.CoordinatesSet {
		return fmt.Errorf("report coordinates are required; set LATITUDE and LONGITUDE")
	}
	return nil
}

// Validate checks the recognition section.
func (r RecognitionConfig) Validate() error {
	switch r.Provider {
	case ProviderOCRSpace, ProviderGemini, ProviderManual:
	default:
		return fmt.Errorf("unknown provider %q", r.Provider)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	return nil
}
