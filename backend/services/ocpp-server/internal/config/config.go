package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	libconfig "chargehub/backend/libs/config"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config defines OCPP server configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"OCPP_HTTP_PORT"`
	} `yaml:"http"`
	Storage struct {
		Driver string `yaml:"driver" env:"OCPP_STORAGE_DRIVER"`
	} `yaml:"storage"`
	Database struct {
		DSN          string        `yaml:"dsn" env:"OCPP_POSTGRES_DSN"`
		Migrate      bool          `yaml:"migrate" env:"OCPP_POSTGRES_MIGRATE"`
		MaxOpenConns int           `yaml:"maxOpenConns"`
		ConnLifetime time.Duration `yaml:"connLifetime"`
	} `yaml:"database"`
	Redis struct {
		Addr       string `yaml:"addr" env:"OCPP_REDIS_ADDR"`
		Password   string `yaml:"password" env:"OCPP_REDIS_PASSWORD"`
		DB         int    `yaml:"db"`
		TTLSeconds int    `yaml:"ttlSeconds"`
	} `yaml:"redis"`
	WebSocket struct {
		PingIntervalSeconds      int `yaml:"pingIntervalSeconds" env:"OCPP_PING_INTERVAL"`
		WriteTimeoutSeconds      int `yaml:"writeTimeoutSeconds" env:"OCPP_WRITE_TIMEOUT"`
		HeartbeatIntervalSeconds int `yaml:"heartbeatIntervalSeconds" env:"OCPP_HEARTBEAT_INTERVAL"`
		CommandTimeoutSeconds    int `yaml:"commandTimeoutSeconds" env:"OCPP_COMMAND_TIMEOUT"`
	} `yaml:"websocket"`
	Billing struct {
		MinCardBalance           float64 `yaml:"minCardBalance"`
		DeliveryRateKWhPerMinute float64 `yaml:"deliveryRateKWhPerMinute"`
		GSTRate                  float64 `yaml:"gstRate"`
		PSTRate                  float64 `yaml:"pstRate"`
		Currency                 string  `yaml:"currency"`
	} `yaml:"billing"`
	Scheduler struct {
		Workers int `yaml:"workers"`
	} `yaml:"scheduler"`
	Admin struct {
		JWTSecret string `yaml:"jwtSecret" env:"OCPP_ADMIN_JWT_SECRET"`
	} `yaml:"admin"`
	Telegram struct {
		Token        string  `yaml:"token" env:"OCPP_TELEGRAM_TOKEN"`
		AdminChatIDs []int64 `yaml:"adminChatIds" env:"OCPP_TELEGRAM_ADMIN_CHATS"`
	} `yaml:"telegram"`
	Kafka struct {
		Brokers      []string `yaml:"brokers" env:"OCPP_KAFKA_BROKERS"`
		RevenueTopic string   `yaml:"revenueTopic" env:"OCPP_KAFKA_REVENUE_TOPIC"`
	} `yaml:"kafka"`
	Mongo struct {
		URI      string `yaml:"uri" env:"OCPP_MONGO_URI"`
		Database string `yaml:"database" env:"OCPP_MONGO_DATABASE"`
	} `yaml:"mongo"`
}

// Load uses shared config loader and validates required fields.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8081"
	cfg.Storage.Driver = DriverPostgres
	cfg.Redis.TTLSeconds = 24 * 60 * 60
	cfg.WebSocket.PingIntervalSeconds = 30
	cfg.WebSocket.WriteTimeoutSeconds = 15
	cfg.WebSocket.HeartbeatIntervalSeconds = 60
	cfg.WebSocket.CommandTimeoutSeconds = 30
	cfg.Billing.MinCardBalance = 10
	cfg.Billing.DeliveryRateKWhPerMinute = 0.075
	cfg.Billing.Currency = "CAD"
	cfg.Scheduler.Workers = 4
	cfg.Kafka.RevenueTopic = "charging.revenue"
	cfg.Mongo.Database = "ocpp"

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("config: database DSN is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Billing.DeliveryRateKWhPerMinute <= 0 {
		return errors.New("config: billing deliveryRateKWhPerMinute must be positive")
	}
	if c.Billing.GSTRate < 0 || c.Billing.PSTRate < 0 || c.Billing.GSTRate+c.Billing.PSTRate >= 1 {
		return errors.New("config: billing tax rates out of range")
	}
	if c.Telegram.Token != "" && len(c.Telegram.AdminChatIDs) == 0 {
		return errors.New("config: telegram adminChatIds required with token")
	}
	return nil
}

// HTTPAddress returns :port style address.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8081"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// PingInterval returns websocket ping interval.
func (c *Config) PingInterval() time.Duration {
	return seconds(c.WebSocket.PingIntervalSeconds, 30)
}

// WriteTimeout returns websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return seconds(c.WebSocket.WriteTimeoutSeconds, 15)
}

// HeartbeatInterval is the interval returned in BootNotification.
func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.WebSocket.HeartbeatIntervalSeconds, 60)
}

// CommandTimeout bounds the wait for a reply to a server-initiated call.
func (c *Config) CommandTimeout() time.Duration {
	return seconds(c.WebSocket.CommandTimeoutSeconds, 30)
}

// RedisTTL is the active-session key lifetime.
func (c *Config) RedisTTL() time.Duration {
	if c.Redis.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// MinCardBalance as money.
func (c *Config) MinCardBalance() decimal.Decimal {
	return decimal.NewFromFloat(c.Billing.MinCardBalance).Round(2)
}

// DeliveryRate is the assumed kWh delivered per minute.
func (c *Config) DeliveryRate() decimal.Decimal {
	return decimal.NewFromFloat(c.Billing.DeliveryRateKWhPerMinute)
}

// TaxRates returns GST and PST.
func (c *Config) TaxRates() (decimal.Decimal, decimal.Decimal) {
	return decimal.NewFromFloat(c.Billing.GSTRate), decimal.NewFromFloat(c.Billing.PSTRate)
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}
