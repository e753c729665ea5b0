package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"` // health, readiness and metrics
	} `mapstructure:"server"`
	HTTP     HTTPConfig `mapstructure:"http"`
	Database struct {
		PostgresDSN         string        `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool          `mapstructure:"postgresAutoMigrate"`
		MaxOpenConns        int           `mapstructure:"maxOpenConns"`
		MaxIdleConns        int           `mapstructure:"maxIdleConns"`
		ConnMaxLifetime     time.Duration `mapstructure:"connMaxLifetime"`
	} `mapstructure:"database"`
	NATS    NATSConfig  `mapstructure:"nats"`
	Media   MediaConfig `mapstructure:"media"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Attribution WorkerPoolConfig `mapstructure:"attribution"`
	} `mapstructure:"workerPools"`
	Attribution AttributionConfig `mapstructure:"attribution"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper"`
}

// HTTPConfig configures the public webhook server.
type HTTPConfig struct {
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"readTimeout"`
	WriteTimeout  time.Duration `mapstructure:"writeTimeout"`
	BodyLimit     string        `mapstructure:"bodyLimit"`     // echo size notation, e.g. "2M"
	RatePerSecond float64       `mapstructure:"ratePerSecond"` // 0 disables inbound rate limiting
	RateBurst     int           `mapstructure:"rateBurst"`
}

// NATSConfig configures the JetStream media relay queue.
type NATSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	RelayStream      string        `mapstructure:"relayStream"`
	RelaySubject     string        `mapstructure:"relaySubject"` // base subject, tasks go to <subject>.<company_id>
	RelayWorkers     int           `mapstructure:"relayWorkers"`
	RelayBaseDelay   time.Duration `mapstructure:"relayBaseDelay"`
	RelayMaxDelay    time.Duration `mapstructure:"relayMaxDelay"`
	RelayMaxAttempts int           `mapstructure:"relayMaxAttempts"`
	RelayMaxAgeDays  int           `mapstructure:"relayMaxAgeDays"`
	RelayAckWait     time.Duration `mapstructure:"relayAckWait"`
	RelayMaxAckPend  int           `mapstructure:"relayMaxAckPending"`
}

// MediaConfig configures the media relay and its object storage.
type MediaConfig struct {
	StorageRoot     string        `mapstructure:"storageRoot"`
	PublicBaseURL   string        `mapstructure:"publicBaseURL"`
	DownloadTimeout time.Duration `mapstructure:"downloadTimeout"`
	MaxBytes        int64         `mapstructure:"maxBytes"`
	FetchRate       float64       `mapstructure:"fetchRate"` // downloads per second, 0 = unlimited
	FetchBurst      int           `mapstructure:"fetchBurst"`
	AuthHeader      string        `mapstructure:"authHeader"`   // header carrying the channel instance token
	AllowedHosts    []string      `mapstructure:"allowedHosts"` // provider hosts trusted with the token
	ServePath       string        `mapstructure:"servePath"`    // webhook server path serving storageRoot, empty disables
}

// WorkerPoolConfig holds configuration for an ants worker pool
type WorkerPoolConfig struct {
	PoolSize    int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize   int           `mapstructure:"queueSize"`  // Tasks buffered ahead of the pool
	MaxBlock    time.Duration `mapstructure:"maxBlock"`   // Max time a submit waits on a full queue
	ExpiryTime  time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
	TaskTimeout time.Duration `mapstructure:"taskTimeout"`
}

// AttributionConfig tunes lead attribution and visitor correlation.
type AttributionConfig struct {
	RecentWindow      time.Duration `mapstructure:"recentWindow"`
	MaxWindow         time.Duration `mapstructure:"maxWindow"`
	CandidateLimit    int           `mapstructure:"candidateLimit"`
	LeadsFromMessages bool          `mapstructure:"leadsFromMessages"`
}

// SweeperConfig configures the periodic media re-relay job.
type SweeperConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Schedule    string        `mapstructure:"schedule"` // robfig/cron spec
	MinAge      time.Duration `mapstructure:"minAge"`
	BatchSize   int           `mapstructure:"batchSize"`
	Concurrency int           `mapstructure:"concurrency"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("http.port", 8000)
	v.SetDefault("http.readTimeout", 15*time.Second)
	v.SetDefault("http.writeTimeout", 60*time.Second)
	v.SetDefault("http.bodyLimit", "2M")
	v.SetDefault("http.ratePerSecond", 0)
	v.SetDefault("http.rateBurst", 50)

	v.SetDefault("database.postgresAutoMigrate", true)
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 30*time.Minute)

	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.relayStream", "crm_media_relay")
	v.SetDefault("nats.relaySubject", "v1.media.relay")
	v.SetDefault("nats.relayWorkers", 4)
	v.SetDefault("nats.relayBaseDelay", 30*time.Second)
	v.SetDefault("nats.relayMaxDelay", 15*time.Minute)
	v.SetDefault("nats.relayMaxAttempts", 6)
	v.SetDefault("nats.relayMaxAgeDays", 7)
	v.SetDefault("nats.relayAckWait", 2*time.Minute)
	v.SetDefault("nats.relayMaxAckPending", 256)

	v.SetDefault("media.storageRoot", "data/media")
	v.SetDefault("media.publicBaseURL", "http://localhost:8000/media")
	v.SetDefault("media.downloadTimeout", 30*time.Second)
	v.SetDefault("media.maxBytes", 64*1024*1024)
	v.SetDefault("media.fetchRate", 20)
	v.SetDefault("media.fetchBurst", 5)
	v.SetDefault("media.authHeader", "token")
	v.SetDefault("media.allowedHosts", []string{})
	v.SetDefault("media.servePath", "/media")

	v.SetDefault("workerPools.attribution.poolSize", 10)
	v.SetDefault("workerPools.attribution.queueSize", 1000)
	v.SetDefault("workerPools.attribution.maxBlock", time.Second)
	v.SetDefault("workerPools.attribution.expiryTime", time.Minute)
	v.SetDefault("workerPools.attribution.taskTimeout", 30*time.Second)

	v.SetDefault("attribution.recentWindow", 30*time.Minute)
	v.SetDefault("attribution.maxWindow", 2*time.Hour)
	v.SetDefault("attribution.candidateLimit", 50)
	v.SetDefault("attribution.leadsFromMessages", true)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.schedule", "@every 5m")
	v.SetDefault("sweeper.minAge", 10*time.Minute)
	v.SetDefault("sweeper.batchSize", 200)
	v.SetDefault("sweeper.concurrency", 8)

	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.crm-webhook-ingestor")
	v.AddConfigPath("/etc/crm-webhook-ingestor")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, env vars and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if base := os.Getenv("MEDIA_PUBLIC_BASE_URL"); base != "" {
		v.Set("media.publicBaseURL", base)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Attribution.RecentWindow > c.Attribution.MaxWindow {
		return fmt.Errorf("attribution.recentWindow (%s) must not exceed attribution.maxWindow (%s)",
			c.Attribution.RecentWindow, c.Attribution.MaxWindow)
	}
	if c.WorkerPools.Attribution.PoolSize <= 0 {
		return fmt.Errorf("workerPools.attribution.poolSize must be positive")
	}
	if c.NATS.Enabled && c.NATS.RelayWorkers <= 0 {
		return fmt.Errorf("nats.relayWorkers must be positive when nats is enabled")
	}
	return nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
