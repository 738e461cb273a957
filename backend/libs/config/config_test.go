package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	HTTP struct {
		Address string `yaml:"address"`
	} `yaml:"http"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
	} `yaml:"kafka"`
	Telegram struct {
		AdminChatIDs []int64 `yaml:"adminChatIds" env:"TELEGRAM_ADMIN_CHAT_IDS"`
	} `yaml:"telegram"`
	PingInterval time.Duration `yaml:"pingInterval"`
	GSTRate      float64       `yaml:"gstRate"`
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("http:\n  address: \":9000\"\nkafka:\n  brokers: [\"a:9092\"]\npingInterval: 15s\ngstRate: 0.05\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("KAFKA_BROKERS", "b:9092, c:9092")
	t.Setenv("TELEGRAM_ADMIN_CHAT_IDS", "10,20")
	t.Setenv("PINGINTERVAL", "45s")

	var cfg sampleConfig
	if err := LoadConfig(&cfg); err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Address != ":9000" {
		t.Fatalf("expected address from file, got %q", cfg.HTTP.Address)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "c:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if len(cfg.Telegram.AdminChatIDs) != 2 || cfg.Telegram.AdminChatIDs[0] != 10 {
		t.Fatalf("unexpected chat ids %v", cfg.Telegram.AdminChatIDs)
	}
	if cfg.PingInterval != 45*time.Second {
		t.Fatalf("expected env duration override, got %s", cfg.PingInterval)
	}
	if cfg.GSTRate != 0.05 {
		t.Fatalf("expected gst rate 0.05, got %v", cfg.GSTRate)
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig(sampleConfig{}); err == nil {
		t.Fatalf("expected error for non-pointer target")
	}
}
