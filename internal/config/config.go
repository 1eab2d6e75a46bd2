package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type QueueConfig struct {
	// Cap is the global admission-control limit on pending jobs.
	Cap int `yaml:"cap"`
	// LeaseTTL bounds a semaphore slot's lease; expiry is the crash
	// recovery path for workers that die mid-build.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
	// ReapAge is how old a non-terminal job must be before the reaper
	// treats it as orphaned.
	ReapAge time.Duration `yaml:"reap_age"`
}

type WorkerConfig struct {
	// PoolSize caps concurrent builds in this process.
	PoolSize     int           `yaml:"pool_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SchedulerConfig struct {
	PromoteInterval time.Duration `yaml:"promote_interval"`
	ReapInterval    time.Duration `yaml:"reap_interval"`
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Admin     AdminConfig     `yaml:"admin"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Queue.Cap <= 0 {
		cfg.Queue.Cap = 100
	}
	if cfg.Queue.LeaseTTL <= 0 {
		cfg.Queue.LeaseTTL = time.Hour
	}
	if cfg.Queue.ReapAge <= 0 {
		cfg.Queue.ReapAge = 48 * time.Hour
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 4
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = 2 * time.Second
	}
	if cfg.Scheduler.PromoteInterval <= 0 {
		cfg.Scheduler.PromoteInterval = time.Minute
	}
	if cfg.Scheduler.ReapInterval <= 0 {
		cfg.Scheduler.ReapInterval = time.Hour
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 9090
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}
