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
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL     string             `mapstructure:"url"`
		Webhook ConsumerNatsConfig `mapstructure:"webhook"`
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	WhatsApp struct {
		BaseURL     string        `mapstructure:"baseURL"`
		APIVersion  string        `mapstructure:"apiVersion"`
		VerifyToken string        `mapstructure:"verifyToken"` // webhook subscription handshake token
		AppSecret   string        `mapstructure:"appSecret"`   // HMAC key for X-Hub-Signature-256
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"whatsapp"`
	Votabox struct {
		BaseURL  string        `mapstructure:"baseURL"`
		APIKey   string        `mapstructure:"apiKey"`
		TenantID string        `mapstructure:"tenantID"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"votabox"`
	AI struct {
		BaseURL           string        `mapstructure:"baseURL"`
		APIKey            string        `mapstructure:"apiKey"`
		Model             string        `mapstructure:"model"`
		KnowledgeBasePath string        `mapstructure:"knowledgeBasePath"`
		Timeout           time.Duration `mapstructure:"timeout"`
	} `mapstructure:"ai"`
	Speech struct {
		BaseURL string        `mapstructure:"baseURL"`
		APIKey  string        `mapstructure:"apiKey"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"speech"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Dispatch WorkerPoolConfig `mapstructure:"dispatch"`
		Media    WorkerPoolConfig `mapstructure:"media"`
	} `mapstructure:"workerPools"`
	Campaign CampaignConfig `mapstructure:"campaign"`
	Chatbot struct {
		Enabled            bool          `mapstructure:"enabled"`
		IdleTimeout        time.Duration `mapstructure:"idleTimeout"`
		SweepInterval      time.Duration `mapstructure:"sweepInterval"`
		OnboardingAudioURL string        `mapstructure:"onboardingAudioURL"`
	} `mapstructure:"chatbot"`
}

// WorkerPoolConfig holds configuration for an ants worker pool
type WorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Task queue buffer size
	MaxBlock   time.Duration `mapstructure:"maxBlock"`   // Max time to block when submitting if queue full
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// CampaignConfig holds dispatch pacing and retry settings for the campaign
// engine
type CampaignConfig struct {
	DefaultRatePerMinute int           `mapstructure:"defaultRatePerMinute"` // floor for 60/rate spacing when a campaign has no rate
	MaxAttempts          int           `mapstructure:"maxAttempts"`
	RetryDelay           time.Duration `mapstructure:"retryDelay"`
	SendTimeout          time.Duration `mapstructure:"sendTimeout"`
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in day
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts before giving up
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// Create new viper instance
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	// NATS webhook ingress defaults
	v.SetDefault("nats.webhook.stream", "wa_webhook_events")
	v.SetDefault("nats.webhook.consumer", "wa_webhook_processor")
	v.SetDefault("nats.webhook.group", "wa_webhook_group")
	v.SetDefault("nats.webhook.subjectList", []string{"v1.webhook.inbound"})
	v.SetDefault("nats.webhook.maxAge", 7)
	v.SetDefault("nats.webhook.maxDeliver", 5)
	v.SetDefault("nats.webhook.nakBaseDelay", 2*time.Second)
	v.SetDefault("nats.webhook.nakMaxDelay", 30*time.Second)

	// WhatsApp Cloud API defaults
	v.SetDefault("whatsapp.baseURL", "https://graph.facebook.com")
	v.SetDefault("whatsapp.apiVersion", "v21.0")
	v.SetDefault("whatsapp.timeout", 30*time.Second)

	// Downstream service client defaults
	v.SetDefault("votabox.timeout", 15*time.Second)
	v.SetDefault("ai.timeout", 60*time.Second)
	v.SetDefault("ai.model", "gemini-2.0-flash-lite")
	v.SetDefault("speech.timeout", 60*time.Second)

	// WorkerPools defaults
	v.SetDefault("workerPools.dispatch.poolSize", 10)
	v.SetDefault("workerPools.dispatch.queueSize", 10000)
	v.SetDefault("workerPools.dispatch.maxBlock", time.Second)
	v.SetDefault("workerPools.dispatch.expiryTime", time.Minute)
	v.SetDefault("workerPools.media.poolSize", 4)
	v.SetDefault("workerPools.media.queueSize", 1000)
	v.SetDefault("workerPools.media.maxBlock", time.Second)
	v.SetDefault("workerPools.media.expiryTime", time.Minute)

	// Campaign dispatch defaults
	v.SetDefault("campaign.defaultRatePerMinute", 20)
	v.SetDefault("campaign.maxAttempts", 3)
	v.SetDefault("campaign.retryDelay", 30*time.Second)
	v.SetDefault("campaign.sendTimeout", 60*time.Second)

	// Chatbot defaults
	v.SetDefault("chatbot.enabled", true)
	v.SetDefault("chatbot.idleTimeout", 5*time.Minute)
	v.SetDefault("chatbot.sweepInterval", time.Minute)

	// Config file settings
	v.SetConfigName("default") // name of config file (without extension)
	v.SetConfigType("yaml")    // REQUIRED if the config file does not have the extension in the name

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.wa-campaign-engine")
	v.AddConfigPath("/etc/wa-campaign-engine")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if token := os.Getenv("WHATSAPP_VERIFY_TOKEN"); token != "" {
		v.Set("whatsapp.verifyToken", token)
	}
	if secret := os.Getenv("WHATSAPP_APP_SECRET"); secret != "" {
		v.Set("whatsapp.appSecret", secret)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		// Get the field tag value (mapstructure)
		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		// Build the env var path
		path := append(parts, tag)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		// Bind the env var
		_ = v.BindEnv(key)
	}
}
