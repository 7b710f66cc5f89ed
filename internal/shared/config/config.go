// Package config loads the RuntimeConfig that every taskwarden binary
// shares: defaults, then a YAML file, then environment variables, then
// CLI flags bound through spf13/viper, matching the teacher's
// defaults -> file -> env -> override precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values, mirrored from the teacher's Default* constants.
const (
	DefaultTCPPort           = 3001
	DefaultHTTPPort          = 8080
	DefaultDashboardPort     = 8090
	DefaultEnvironment       = "default"
	DefaultAuditRetention    = 30 * 24 * time.Hour
	DefaultAgentTurnTimeout  = 30 * time.Second
	DefaultTickInterval      = 2 * time.Second
	DefaultFatalBackoff      = 5 * time.Second
	DefaultWSPingInterval    = 10 * time.Second
	DefaultWSEvictAfter      = 30 * time.Second
	DefaultShutdownGrace     = 1 * time.Second
	DefaultLockAcquireWait   = 2 * time.Second
)

// RuntimeConfig captures user-configurable settings shared across the
// taskwarden binaries.
type RuntimeConfig struct {
	DataDir           string        `json:"data_dir" yaml:"data_dir"`
	TCPAddr           string        `json:"tcp_addr" yaml:"tcp_addr"`
	HTTPAddr          string        `json:"http_addr" yaml:"http_addr"`
	SkipTCP           bool          `json:"skip_tcp" yaml:"skip_tcp"`
	TestMode          bool          `json:"test_mode" yaml:"test_mode"`
	Environments      []string      `json:"environments" yaml:"environments"`
	DefaultEnv        string        `json:"default_environment" yaml:"default_environment"`
	ProcessEnvs       []string      `json:"process_environments" yaml:"process_environments"`
	ProcessAllEnvs    bool          `json:"process_all_environments" yaml:"process_all_environments"`
	AuditRetention    time.Duration `json:"audit_retention" yaml:"audit_retention"`
	AgentTurnTimeout  time.Duration `json:"agent_turn_timeout" yaml:"agent_turn_timeout"`
	TickInterval      time.Duration `json:"tick_interval" yaml:"tick_interval"`
	AgentTransport    string        `json:"agent_transport" yaml:"agent_transport"`
	AgentHost         string        `json:"agent_host" yaml:"agent_host"`
	AgentPort         int           `json:"agent_port" yaml:"agent_port"`
	AgentPath         string        `json:"agent_path" yaml:"agent_path"`
	TelemetryExporter string        `json:"telemetry_exporter" yaml:"telemetry_exporter"`
	TelemetryEndpoint string        `json:"telemetry_endpoint" yaml:"telemetry_endpoint"`
	AllowedOrigins    []string      `json:"allowed_origins" yaml:"allowed_origins"`
}

// Default returns a RuntimeConfig populated with taskwarden's defaults.
func Default() RuntimeConfig {
	return RuntimeConfig{
		DataDir:          "./data",
		TCPAddr:          fmt.Sprintf(":%d", DefaultTCPPort),
		HTTPAddr:         fmt.Sprintf(":%d", DefaultHTTPPort),
		Environments:     []string{DefaultEnvironment},
		DefaultEnv:       DefaultEnvironment,
		ProcessAllEnvs:   true,
		AuditRetention:   DefaultAuditRetention,
		AgentTurnTimeout: DefaultAgentTurnTimeout,
		TickInterval:     DefaultTickInterval,
		AgentTransport:   "stub",
		TelemetryExporter: "stdout",
	}
}

// Load builds a RuntimeConfig from defaults, an optional config file,
// TASKWARDEN_-prefixed environment variables, and viper's bound flags
// (if v is a viper instance that already had cobra flags bound to it).
func Load(v *viper.Viper, configPath string) (RuntimeConfig, error) {
	cfg := Default()
	if v == nil {
		v = viper.New()
	}

	v.SetEnvPrefix("TASKWARDEN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !isFileNotExist(err) {
				return cfg, fmt.Errorf("read config file %s: %w", configPath, err)
			}
		}
	} else {
		v.SetConfigName("taskwarden")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.taskwarden")
		if err := v.ReadInConfig(); err != nil && !isFileNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	applyOverride(v, "data_dir", &cfg.DataDir)
	applyOverride(v, "tcp_addr", &cfg.TCPAddr)
	applyOverride(v, "http_addr", &cfg.HTTPAddr)
	applyBoolOverride(v, "skip_tcp", &cfg.SkipTCP)
	applyBoolOverride(v, "test_mode", &cfg.TestMode)
	applyStringSliceOverride(v, "environments", &cfg.Environments)
	applyOverride(v, "default_environment", &cfg.DefaultEnv)
	applyStringSliceOverride(v, "process_environments", &cfg.ProcessEnvs)
	applyBoolOverride(v, "process_all_environments", &cfg.ProcessAllEnvs)
	applyDurationOverride(v, "audit_retention", &cfg.AuditRetention)
	applyDurationOverride(v, "agent_turn_timeout", &cfg.AgentTurnTimeout)
	applyDurationOverride(v, "tick_interval", &cfg.TickInterval)
	applyOverride(v, "agent_transport", &cfg.AgentTransport)
	applyOverride(v, "agent_host", &cfg.AgentHost)
	applyIntOverride(v, "agent_port", &cfg.AgentPort)
	applyOverride(v, "agent_path", &cfg.AgentPath)
	applyOverride(v, "telemetry_exporter", &cfg.TelemetryExporter)
	applyOverride(v, "telemetry_endpoint", &cfg.TelemetryEndpoint)
	applyStringSliceOverride(v, "allowed_origins", &cfg.AllowedOrigins)

	if len(cfg.Environments) == 0 {
		cfg.Environments = []string{cfg.DefaultEnv}
	}
	return cfg, nil
}

func applyOverride(v *viper.Viper, key string, dst *string) {
	if val := v.GetString(key); val != "" {
		*dst = val
	}
}

func applyBoolOverride(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func applyIntOverride(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func applyDurationOverride(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		if d := v.GetDuration(key); d > 0 {
			*dst = d
		}
	}
}

func applyStringSliceOverride(v *viper.Viper, key string, dst *[]string) {
	if vals := v.GetStringSlice(key); len(vals) > 0 {
		*dst = vals
	}
}

func isFileNotExist(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}
