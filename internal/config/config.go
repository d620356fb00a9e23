package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/psantana5/mp4fit/pkg/agent"
	"github.com/psantana5/mp4fit/pkg/cleanup"
	"github.com/psantana5/mp4fit/pkg/convert"
	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/models"
	"github.com/psantana5/mp4fit/pkg/retry"
	tlsconfig "github.com/psantana5/mp4fit/pkg/tls"
	"github.com/psantana5/mp4fit/pkg/tracing"
	"github.com/psantana5/mp4fit/pkg/webhook"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "MP4FIT"

// Config holds all settings of the service and the CLI
type Config struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`

	// Encoder selection
	HWAccel        string `mapstructure:"hwaccel"`
	SoftwarePreset string `mapstructure:"software_preset"`

	// Output policy
	TargetWidth      int   `mapstructure:"target_width"`
	TargetHeight     int   `mapstructure:"target_height"`
	SizeCeilingBytes int64 `mapstructure:"size_ceiling_bytes"`

	// File placement
	WorkDir       string `mapstructure:"work_dir"`
	DownloadDir   string `mapstructure:"download_dir"`
	PublicDir     string `mapstructure:"public_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	MinFreeMB     uint64 `mapstructure:"min_free_mb"`

	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval"`
	DetectTimeout     time.Duration `mapstructure:"detect_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	ListenAddr        string        `mapstructure:"listen_addr"`

	Hardware  HardwareConfig   `mapstructure:"hardware"`
	Janitor   cleanup.Config   `mapstructure:"janitor"`
	Log       LogConfig        `mapstructure:"log"`
	Tracing   tracing.Config   `mapstructure:"tracing"`
	CopyRetry retry.Config     `mapstructure:"copy_retry"`
	Webhook   WebhookConfig    `mapstructure:"webhook"`
	TLS       tlsconfig.Config `mapstructure:"tls"`
}

// WebhookConfig tunes the callback client
type WebhookConfig struct {
	RetryMax     int           `mapstructure:"retry_max"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	QueueSize    int           `mapstructure:"queue_size"`
}

// HardwareConfig holds the encoder quality knobs
type HardwareConfig struct {
	Quality      int    `mapstructure:"quality"`
	MaxRate      string `mapstructure:"max_rate"`
	BufSize      string `mapstructure:"buf_size"`
	VAAPIDevice  string `mapstructure:"vaapi_device"`
	VideoBitrate string `mapstructure:"video_bitrate"`
	AudioBitrate string `mapstructure:"audio_bitrate"`
}

// LogConfig selects the logger output
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
	// Dir enables file logging; "-" picks /var/log/mp4fit or ./logs
	Dir string `mapstructure:"dir"`
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	enc := agent.DefaultEncodeOptions()
	orch := convert.DefaultConfig()
	janitor := cleanup.DefaultConfig()
	copyRetry := retry.DefaultConfig()
	hook := webhook.DefaultOptions()

	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "")
	v.SetDefault("hwaccel", string(agent.PreferenceAuto))
	v.SetDefault("software_preset", enc.SoftwarePreset)
	v.SetDefault("target_width", models.DefaultTarget.Width)
	v.SetDefault("target_height", models.DefaultTarget.Height)
	v.SetDefault("size_ceiling_bytes", 0)
	v.SetDefault("work_dir", orch.WorkDir)
	v.SetDefault("download_dir", "")
	v.SetDefault("public_dir", "")
	v.SetDefault("public_base_url", "")
	v.SetDefault("min_free_mb", orch.MinFreeMB)
	v.SetDefault("max_concurrent_jobs", orch.MaxConcurrentJobs)
	v.SetDefault("progress_interval", 2*time.Second)
	v.SetDefault("detect_timeout", 10*time.Second)
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("listen_addr", ":8090")

	v.SetDefault("hardware.quality", enc.HWQuality)
	v.SetDefault("hardware.max_rate", enc.HWMaxRate)
	v.SetDefault("hardware.buf_size", enc.HWBufSize)
	v.SetDefault("hardware.vaapi_device", enc.VAAPIDevice)
	v.SetDefault("hardware.video_bitrate", enc.VideoBitrate)
	v.SetDefault("hardware.audio_bitrate", enc.AudioBitrate)

	v.SetDefault("janitor.enabled", janitor.Enabled)
	v.SetDefault("janitor.max_age", janitor.MaxAge)
	v.SetDefault("janitor.interval", janitor.Interval)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.dir", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "mp4fit")
	v.SetDefault("tracing.service_version", "")
	v.SetDefault("tracing.environment", "production")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")

	v.SetDefault("webhook.retry_max", hook.RetryMax)
	v.SetDefault("webhook.retry_wait_min", hook.RetryWaitMin)
	v.SetDefault("webhook.retry_wait_max", hook.RetryWaitMax)
	v.SetDefault("webhook.queue_size", hook.QueueSize)

	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.self_signed", false)

	v.SetDefault("copy_retry.max_retries", copyRetry.MaxRetries)
	v.SetDefault("copy_retry.initial_backoff", copyRetry.InitialBackoff)
	v.SetDefault("copy_retry.max_backoff", copyRetry.MaxBackoff)
	v.SetDefault("copy_retry.multiplier", copyRetry.Multiplier)
}

// legacyEnv maps keys to extra variable names; the prefixed name wins
var legacyEnv = map[string]string{
	"ffmpeg_path":     "FFMPEG_PATH",
	"public_dir":      "WEBAPP_CONVERTED_DIR",
	"public_base_url": "PUBLIC_BASE_URL",
}

// Load merges defaults, the optional config file, .env and the
// environment into v and decodes the result. An explicit cfgFile must
// exist; otherwise mp4fit.yaml is searched in the usual places.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	// .env is optional and never overrides variables already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("mp4fit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mp4fit")
		v.AddConfigPath("/etc/mp4fit")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), legacy); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = ffprobeFor(cfg.FFmpegPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BindFlags binds cobra flags to config keys. Flag names use dashes.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, known := flagKeys[key]; !known {
			return
		}
		if err := v.BindPFlag(flagKeys[key], f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// flagKeys lists the flags that override config keys
var flagKeys = map[string]string{
	"ffmpeg_path":         "ffmpeg_path",
	"ffprobe_path":        "ffprobe_path",
	"hwaccel":             "hwaccel",
	"preset":              "software_preset",
	"width":               "target_width",
	"height":              "target_height",
	"size_ceiling":        "size_ceiling_bytes",
	"work_dir":            "work_dir",
	"public_dir":          "public_dir",
	"public_base_url":     "public_base_url",
	"max_concurrent_jobs": "max_concurrent_jobs",
	"listen":              "listen_addr",
	"log_level":           "log.level",
	"log_json":            "log.json",
}

// ffprobeFor derives the ffprobe binary next to a configured ffmpeg
func ffprobeFor(ffmpeg string) string {
	if ffmpeg == "" || !strings.ContainsRune(ffmpeg, filepath.Separator) {
		return "ffprobe"
	}
	dir, base := filepath.Split(ffmpeg)
	if strings.Contains(base, "ffmpeg") {
		return filepath.Join(dir, strings.Replace(base, "ffmpeg", "ffprobe", 1))
	}
	return filepath.Join(dir, "ffprobe")
}

// Validate checks enum values and numeric ranges
func (c *Config) Validate() error {
	var errs []error
	if _, err := agent.ParsePreference(c.HWAccel); err != nil {
		errs = append(errs, err)
	}
	if !agent.IsValidPreset(c.SoftwarePreset) {
		errs = append(errs, fmt.Errorf("invalid software_preset %q", c.SoftwarePreset))
	}
	if !c.Target().Valid() {
		errs = append(errs, fmt.Errorf("invalid target %s: dimensions must be positive and even", c.Target()))
	}
	if c.SizeCeilingBytes < 0 {
		errs = append(errs, errors.New("size_ceiling_bytes must not be negative"))
	}
	if c.MaxConcurrentJobs < 0 {
		errs = append(errs, errors.New("max_concurrent_jobs must not be negative"))
	}
	if c.ProgressInterval < 0 {
		errs = append(errs, errors.New("progress_interval must not be negative"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	if c.WorkDir == "" {
		errs = append(errs, errors.New("work_dir is required"))
	}
	if c.PublicBaseURL != "" && c.PublicDir == "" {
		errs = append(errs, errors.New("public_base_url requires public_dir"))
	}
	return errors.Join(errs...)
}

// Target returns the output canvas
func (c *Config) Target() models.Target {
	return models.Target{Width: c.TargetWidth, Height: c.TargetHeight}
}

// Preference returns the parsed hwaccel value
func (c *Config) Preference() agent.Preference {
	p, err := agent.ParsePreference(c.HWAccel)
	if err != nil {
		return agent.PreferenceAuto
	}
	return p
}

// EncodeOptions returns the profile knobs with "auto" preset resolved
func (c *Config) EncodeOptions() (agent.EncodeOptions, string) {
	preset, reason := agent.ResolvePreset(c.SoftwarePreset)
	return agent.EncodeOptions{
		SoftwarePreset: preset,
		VideoBitrate:   c.Hardware.VideoBitrate,
		AudioBitrate:   c.Hardware.AudioBitrate,
		HWQuality:      c.Hardware.Quality,
		HWMaxRate:      c.Hardware.MaxRate,
		HWBufSize:      c.Hardware.BufSize,
		VAAPIDevice:    c.Hardware.VAAPIDevice,
	}, reason
}

// Orchestrator returns the orchestrator settings
func (c *Config) Orchestrator() convert.Config {
	opts, _ := c.EncodeOptions()
	return convert.Config{
		WorkDir:           c.WorkDir,
		PublicDir:         c.PublicDir,
		PublicBaseURL:     c.PublicBaseURL,
		Target:            c.Target(),
		SizeCeilingBytes:  c.SizeCeilingBytes,
		MaxConcurrentJobs: c.MaxConcurrentJobs,
		MinFreeMB:         c.MinFreeMB,
		Encode:            opts,
		CopyRetry:         c.CopyRetry,
	}
}

// JanitorConfig returns the janitor settings with the work directories filled in
func (c *Config) JanitorConfig() cleanup.Config {
	jc := c.Janitor
	jc.Dirs = []string{c.WorkDir}
	if c.DownloadDir != "" {
		jc.Dirs = append(jc.Dirs, c.DownloadDir)
	}
	return jc
}

// WebhookOptions returns the callback client settings
func (c *Config) WebhookOptions() webhook.Options {
	return webhook.Options{
		RetryMax:     c.Webhook.RetryMax,
		RetryWaitMin: c.Webhook.RetryWaitMin,
		RetryWaitMax: c.Webhook.RetryWaitMax,
		QueueSize:    c.Webhook.QueueSize,
	}
}

// NewLogger builds the logger described by the log section
func (c *Config) NewLogger(component string) (*logging.Logger, error) {
	level := logging.ParseLevel(c.Log.Level)
	if c.Log.Dir == "" {
		return logging.NewLogger(level, c.Log.JSON), nil
	}
	dir := c.Log.Dir
	if dir == "-" {
		dir = ""
	}
	return logging.NewFileLogger(dir, component, level, c.Log.JSON)
}
