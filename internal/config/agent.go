package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// AgentConfig holds the agent-side configuration, read once at startup from
// DM_* environment variables.
type AgentConfig struct {
	ServerURL          string        `mapstructure:"server_url"`
	APIKey             string        `mapstructure:"api_key"`
	PollInterval       time.Duration `mapstructure:"-"`
	PollIntervalSecs   int           `mapstructure:"poll_interval"`
	ServiceDir         string        `mapstructure:"service_dir"`
	BackupDir          string        `mapstructure:"backup_dir"`
	RestartCommand     string        `mapstructure:"restart_command"`
	HealthCheckCommand string        `mapstructure:"health_check_command"`
}

// LoadAgent reads agent configuration from the environment.
func LoadAgent() (*AgentConfig, error) {
	v := viper.New()

	v.SetEnvPrefix("DM")
	v.AutomaticEnv()

	v.BindEnv("server_url")
	v.BindEnv("api_key")
	v.BindEnv("poll_interval")
	v.BindEnv("service_dir")
	v.BindEnv("backup_dir")
	v.BindEnv("restart_command")
	v.BindEnv("health_check_command")

	v.SetDefault("poll_interval", 30)
	v.SetDefault("service_dir", "./service")
	v.SetDefault("backup_dir", "./backups")
	v.SetDefault("restart_command", "pm2 restart all")

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent config: %w", err)
	}

	if cfg.PollIntervalSecs < 1 {
		cfg.PollIntervalSecs = 30
	}
	cfg.PollInterval = time.Duration(cfg.PollIntervalSecs) * time.Second

	return &cfg, nil
}

// RequireDaemon checks the fields the polling daemon cannot run without.
func (c *AgentConfig) RequireDaemon() error {
	if c.ServerURL == "" {
		return fmt.Errorf("DM_SERVER_URL is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("DM_API_KEY is required")
	}
	return nil
}
