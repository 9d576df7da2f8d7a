package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env              string          `yaml:"env" env-default:"local" env:"ENV"`
	UserName         string          `yaml:"user_name" env:"USER_NAME" env-required:"true"`
	Port             int             `yaml:"port" env:"PORT" env-default:"5001"`
	ListenHost       string          `yaml:"listen_host" env:"LISTEN_HOST" env-default:"0.0.0.0"`
	DataDir          string          `yaml:"data_dir" env:"DATA_DIR" env-default:"data"`
	IdentityDB       string          `yaml:"identity_db" env:"IDENTITY_DB"`
	HistoryDir       string          `yaml:"history_dir" env:"HISTORY_DIR"`
	PeersFile        string          `yaml:"peers_file" env:"PEERS_FILE"`
	DialTimeout      time.Duration   `yaml:"dial_timeout" env:"DIAL_TIMEOUT" env-default:"5s"`
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT" env-default:"0s"`
	MaxConnections   int             `yaml:"max_connections" env:"MAX_CONNECTIONS" env-default:"100"`
	EventBuffer      int             `yaml:"event_buffer" env:"EVENT_BUFFER" env-default:"256"`
	ReconnectKnown   bool            `yaml:"reconnect_known" env:"RECONNECT_KNOWN" env-default:"false"`
	Discovery        DiscoveryConfig `yaml:"discovery"`
	PeerBook         PeerBookConfig  `yaml:"peer_book"`
}

type DiscoveryConfig struct {
	Enabled          bool          `yaml:"enabled" env:"DISCOVERY_ENABLED" env-default:"true"`
	MulticastAddress string        `yaml:"multicast_address" env:"MULTICAST_ADDRESS" env-default:"230.0.0.0:4446"`
	AnnounceInterval time.Duration `yaml:"announce_interval" env:"ANNOUNCE_INTERVAL" env-default:"0s"`
	AnnounceOnStart  bool          `yaml:"announce_on_start" env:"ANNOUNCE_ON_START" env-default:"true"`
}

type PeerBookConfig struct {
	Enabled        bool   `yaml:"enabled" env:"PEER_BOOK_ENABLED" env-default:"true"`
	Path           string `yaml:"path" env:"PEER_BOOK_PATH"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadConfig(configPath)
}

func MustLoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Load reads the yaml file at configPath, applies env overrides and fills
// the paths derived from DataDir.
func Load(configPath string) (*Config, error) {
	// check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.IdentityDB == "" {
		c.IdentityDB = filepath.Join(c.DataDir, "identity.db")
	}
	if c.HistoryDir == "" {
		c.HistoryDir = filepath.Join(c.DataDir, "chat_history")
	}
	if c.PeerBook.Path == "" {
		c.PeerBook.Path = filepath.Join(c.DataDir, "peers.sqlite")
	}
}

// Priority: flag > env > default.
// default value is empty string.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	return res
}
