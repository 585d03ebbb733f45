package config

import (
	"fmt"
	"time"
)

// Chat definition chat_service YAML structure
type Chat struct {
	Port      string          `mapstructure:"port"`
	MongoSQL  DatabaseConfig  `mapstructure:"mongo"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Identity  DatabaseConfig  `mapstructure:"pg"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Token     TokenConfig     `mapstructure:"token"`
	Store     StoreConfig     `mapstructure:"store"`
	Relay     RelayConfig     `mapstructure:"relay"`
}

// DirectoryConfig where room records live
type DirectoryConfig struct {
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// RedisConfig definition redis setting, Addr empty means sentinel from .env
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	RedisDB int    `mapstructure:"redis_db"`
}

// KafkaConfig room lifecycle topic
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryCount    int      `mapstructure:"retry_count"`
	RetryInterval int      `mapstructure:"retry_interval"`
}

// MinIOConfig avatar bucket
type MinIOConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Bucket        string `mapstructure:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicURL     string `mapstructure:"public_url"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryInterval int    `mapstructure:"retry_interval"`
}

// TokenConfig access token verification, PublicKeyPath wins over Secret
type TokenConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	Secret        string `mapstructure:"secret"`
}

// StoreConfig message store policy
type StoreConfig struct {
	ChunkCapacity   int           `mapstructure:"chunk_capacity"`
	ShardCapacity   int           `mapstructure:"shard_capacity"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PageSize        int64         `mapstructure:"page_size"`
	DedupeReactions bool          `mapstructure:"dedupe_reactions"`
}

// RelayConfig membership outbox relay
type RelayConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Batch    int64         `mapstructure:"batch"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// MongoURI build the mongodb connection string
func (d DatabaseConfig) MongoURI() string {
	if d.User == "" {
		return fmt.Sprintf("mongodb://%s:%d", d.Host, d.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d", d.User, d.Password, d.Host, d.Port)
}

// PostgresURI build the postgres connection string
func (d DatabaseConfig) PostgresURI() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.Database)
}

// Defaults fill zero values with the service defaults
func (s StoreConfig) Defaults() StoreConfig {
	if s.ChunkCapacity <= 0 {
		s.ChunkCapacity = 31
	}
	if s.ShardCapacity <= 0 {
		s.ShardCapacity = 1000
	}
	if s.Timeout <= 0 {
		s.Timeout = 5 * time.Second
	}
	if s.PageSize <= 0 {
		s.PageSize = 1
	}
	return s
}

// Defaults fill zero values with the service defaults
func (r RelayConfig) Defaults() RelayConfig {
	if r.Interval <= 0 {
		r.Interval = 10 * time.Second
	}
	if r.Batch <= 0 {
		r.Batch = 50
	}
	return r
}

// Defaults fill zero values with the service defaults
func (d DirectoryConfig) Defaults() DirectoryConfig {
	if d.Database == "" {
		d.Database = "chat_directory"
	}
	if d.Collection == "" {
		d.Collection = "rooms"
	}
	return d
}
