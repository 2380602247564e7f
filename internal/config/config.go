// Package config loads service settings from defaults, an optional config
// file, SOCIALFLOW_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "SOCIALFLOW"

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	DB          DBConfig          `mapstructure:"db"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Log         LogConfig         `mapstructure:"log"`
	Auth        AuthConfig        `mapstructure:"auth"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Debug           bool          `mapstructure:"debug"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type WorkerConfig struct {
	Count             int           `mapstructure:"count"`
	Poll              time.Duration `mapstructure:"poll"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

type QueueConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

type MaintenanceConfig struct {
	Cron      string        `mapstructure:"cron"`
	Retention time.Duration `mapstructure:"retention"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type AuthConfig struct {
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
	v.SetDefault("http.debug", false)
	v.SetDefault("db.path", "socialflow.db")
	v.SetDefault("worker.count", 8)
	v.SetDefault("worker.poll", 250*time.Millisecond)
	v.SetDefault("worker.visibility_timeout", 60*time.Second)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("maintenance.cron", "@every 1m")
	v.SetDefault("maintenance.retention", 7*24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("auth.bcrypt_cost", 10)
}

// Flags returns the command-line flag set. Flag names match config keys.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("socialflow", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (yaml, json or toml)")
	fs.String("http.addr", ":8080", "HTTP bind address")
	fs.String("db.path", "socialflow.db", "SQLite DB path")
	fs.Int("worker.count", 8, "number of worker goroutines")
	fs.Duration("worker.poll", 250*time.Millisecond, "poll interval for queue")
	fs.String("maintenance.cron", "@every 1m", "cron spec for queue housekeeping")
	fs.String("log.level", "info", "log level (debug, info, warn, error)")
	fs.Bool("log.pretty", true, "human readable console logs")
	fs.Bool("http.debug", false, "expose pprof handlers")
	fs.Duration("http.shutdown_timeout", 5*time.Second, "grace period for in-flight requests on shutdown")
	fs.Duration("worker.visibility_timeout", 60*time.Second, "lease length of a running task")
	fs.Int("queue.max_attempts", 5, "attempts before a task fails")
	fs.Duration("maintenance.retention", 7*24*time.Hour, "how long finished tasks are kept")
	fs.Int("auth.bcrypt_cost", 10, "bcrypt cost for password hashes")
	return fs
}

// Load builds the configuration from args (without the program name).
func Load(args []string) (Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file, _ := fs.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	// Only flags given explicitly override file and environment values.
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	if bindErr != nil {
		return Config{}, bindErr
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	if c.Worker.Count <= 0 {
		errs = append(errs, errors.New("worker.count must be > 0"))
	}
	if c.Worker.Poll <= 0 {
		errs = append(errs, errors.New("worker.poll must be > 0"))
	}
	if c.Worker.VisibilityTimeout < time.Second {
		errs = append(errs, errors.New("worker.visibility_timeout must be >= 1s"))
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("queue.max_attempts must be > 0"))
	}
	if _, err := cron.ParseStandard(c.Maintenance.Cron); err != nil {
		errs = append(errs, fmt.Errorf("maintenance.cron: %w", err))
	}
	if c.Maintenance.Retention <= 0 {
		errs = append(errs, errors.New("maintenance.retention must be > 0"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, errors.New("auth.bcrypt_cost must be between 4 and 31"))
	}
	return errors.Join(errs...)
}
