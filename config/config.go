package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port        string
		Environment string
	}
	Log struct {
		Level string
	}
	Store struct {
		Driver string // memory | redis | postgres | mongo
	}
	Database struct {
		DSN string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Mongo struct {
		URI      string
		Database string
	}
	JWT struct {
		Secret string
	}
	Matchmaker struct {
		Secret      string        // 触发接口的共享密钥
		Interval    time.Duration // 0 表示不启动定时处理
		ConsumeMode string        // mark | delete
		Debug       bool          // 是否挂载无鉴权的 debug 接口
		EntryTTL    time.Duration // 仅 redis 后端使用，其他后端忽略
	}
}

const DefaultPath = "config/config.yaml"

// AutomaticEnv 只对已知键生效，所以每个键都要有默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", "redis")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.dsn", "")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("matchmaker.secret", "")
	v.SetDefault("mongo.database", "stakearena")
	v.SetDefault("matchmaker.interval", "30s")
	v.SetDefault("matchmaker.consumeMode", "mark")
	v.SetDefault("matchmaker.debug", false)
	v.SetDefault("matchmaker.entryTTL", "30m")
}

// Load 读取 yaml 配置，环境变量 STAKEARENA_* 覆盖同名项（如 STAKEARENA_MATCHMAKER_SECRET）。
// 配置文件不存在时只使用默认值和环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STAKEARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "redis":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("config: database.dsn is required for store.driver=postgres")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("config: mongo.uri is required for store.driver=mongo")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.Matchmaker.ConsumeMode {
	case "mark", "delete":
	default:
		return fmt.Errorf("config: unknown matchmaker.consumeMode %q", c.Matchmaker.ConsumeMode)
	}
	if c.Matchmaker.Secret == "" {
		return fmt.Errorf("config: matchmaker.secret is required")
	}
	if c.Matchmaker.Interval < 0 {
		return fmt.Errorf("config: matchmaker.interval must not be negative")
	}
	return nil
}
