package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Alturino/cartsync/internal/log"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Application struct {
	Env          string `mapstructure:"env"           json:"env"`
	Host         string `mapstructure:"host"          json:"host"`
	SecretKey    string `mapstructure:"secret_key"    json:"-"`
	StoreBackend string `mapstructure:"store_backend" json:"store_backend"`
	Port         int    `mapstructure:"port"          json:"port"`
}

type Database struct {
	Name           string `mapstructure:"name"            json:"name"`
	Host           string `mapstructure:"host"            json:"host"`
	MigrationPath  string `mapstructure:"migration_path"  json:"migration_path"`
	Password       string `mapstructure:"password"        json:"-"`
	TimeZone       string `mapstructure:"timezone"        json:"timezone"`
	Username       string `mapstructure:"username"        json:"username"`
	MaxConnections int32  `mapstructure:"max_connections" json:"max_connections"`
	MinConnections int32  `mapstructure:"min_connections" json:"min_connections"`
	Port           uint16 `mapstructure:"port"            json:"port"`
}

type Cache struct {
	Host     string        `mapstructure:"host"     json:"host"`
	Password string        `mapstructure:"password" json:"-"`
	TTL      time.Duration `mapstructure:"ttl"      json:"ttl"`
	Database int           `mapstructure:"database" json:"database"`
	Port     uint16        `mapstructure:"port"     json:"port"`
	Enabled  bool          `mapstructure:"enabled"  json:"enabled"`
}

type Otel struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// Sync tunes the per-session cart synchronization.
type Sync struct {
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"       json:"fetch_timeout"`
	SyncTimeout        time.Duration `mapstructure:"sync_timeout"        json:"sync_timeout"`
	NotificationBuffer int           `mapstructure:"notification_buffer" json:"notification_buffer"`
	EventBuffer        int           `mapstructure:"event_buffer"        json:"event_buffer"`
}

type Config struct {
	Database    `mapstructure:"db"          json:"db"`
	Cache       `mapstructure:"cache"       json:"cache"`
	Application `mapstructure:"application" json:"application"`
	Otel        `mapstructure:"otel"        json:"otel"`
	Sync        `mapstructure:"sync"        json:"sync"`
}

func (o Otel) Endpoint() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.env", "production")
	v.SetDefault("application.host", "0.0.0.0")
	v.SetDefault("application.port", 8080)
	v.SetDefault("application.store_backend", StoreBackendPostgres)
	v.SetDefault("db.migration_path", "file://migrations")
	v.SetDefault("db.max_connections", 10)
	v.SetDefault("db.min_connections", 2)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("otel.host", "otel-collector")
	v.SetDefault("otel.port", 4317)
	v.SetDefault("sync.fetch_timeout", 10*time.Second)
	v.SetDefault("sync.sync_timeout", 10*time.Second)
	v.SetDefault("sync.notification_buffer", 32)
	v.SetDefault("sync.event_buffer", 8)
}

// InitConfig reads env/<filename>.yaml, overridden by environment variables
// such as APPLICATION_PORT or DB_HOST.
func InitConfig(c context.Context, filename string) (*Config, error) {
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "main InitConfig").
		Str(log.KeyProcess, "init config").
		Str("filename", filename).
		Logger()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName(filename)
	v.AddConfigPath("./env")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	logger = logger.With().Str(log.KeyProcess, "reading config").Logger()
	logger.Info().Msg("reading config")
	err := v.ReadInConfig()
	if err != nil {
		err = fmt.Errorf("error when reading config with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return nil, err
	}
	logger.Info().Msg("read config")

	logger = logger.With().Str(log.KeyProcess, "unmarshaling config").Logger()
	logger.Info().Msg("unmarshaling config")
	cfg := Config{}
	err = v.Unmarshal(&cfg)
	if err != nil {
		err = fmt.Errorf("error unmarshaling config with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return nil, err
	}
	logger.Info().Any(log.KeyConfig, cfg).Msg("unmarshaled config")

	return &cfg, nil
}
