package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 服务的全部外部配置。先读 yaml 文件，再用环境变量覆盖，
// 环境变量的优先级更高，方便容器化部署时注入。
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Infra   InfraConfig   `yaml:"infra"`
	Stock   StockConfig   `yaml:"stock"`
}

type ServiceConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
}

type InfraConfig struct {
	Redis  RedisConfig  `yaml:"redis"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Zk     ZkConfig     `yaml:"zookeeper"`
	Jaeger JaegerConfig `yaml:"jaeger"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	EventTopic string   `yaml:"eventTopic"`
}

type ZkConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type StockConfig struct {
	// LockProvider 可选 redis / zookeeper / memory
	LockProvider   string        `yaml:"lockProvider"`
	LockLease      time.Duration `yaml:"lockLease"`
	LockWait       time.Duration `yaml:"lockWait"`
	ReservationTTL time.Duration `yaml:"reservationTTL"`
	SweepInterval  time.Duration `yaml:"sweepInterval"`
	SweepBatchSize int           `yaml:"sweepBatchSize"`
}

// Load 从 path 读取配置文件，path 为空或文件不存在时使用默认值，
// 然后应用环境变量覆盖。
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "failed to parse config file %s", path)
			}
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "inventory-service",
			Port:     8084,
			LogLevel: "info",
		},
		Infra: InfraConfig{
			Redis:  RedisConfig{Addr: "localhost:6379"},
			Kafka:  KafkaConfig{EventTopic: "inventory-events"},
			Zk:     ZkConfig{SessionTimeout: 10 * time.Second},
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
		},
		Stock: StockConfig{
			LockProvider:   "redis",
			LockLease:      30 * time.Second,
			LockWait:       5 * time.Second,
			ReservationTTL: 15 * time.Minute,
			SweepInterval:  time.Minute,
			SweepBatchSize: 100,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	overrideString("SERVICE_PORT", func(v string) {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Service.Port = port
		}
	})
	overrideString("LOG_LEVEL", func(v string) { cfg.Service.LogLevel = v })
	overrideString("REDIS_ADDR", func(v string) { cfg.Infra.Redis.Addr = v })
	overrideString("REDIS_PASSWORD", func(v string) { cfg.Infra.Redis.Password = v })
	overrideString("MYSQL_DSN", func(v string) { cfg.Infra.MySQL.DSN = v })
	overrideString("KAFKA_BROKERS", func(v string) { cfg.Infra.Kafka.Brokers = strings.Split(v, ",") })
	overrideString("KAFKA_EVENT_TOPIC", func(v string) { cfg.Infra.Kafka.EventTopic = v })
	overrideString("ZK_SERVERS", func(v string) { cfg.Infra.Zk.Servers = strings.Split(v, ",") })
	overrideString("JAEGER_ENDPOINT", func(v string) { cfg.Infra.Jaeger.Endpoint = v })
	overrideString("STOCK_LOCK_PROVIDER", func(v string) { cfg.Stock.LockProvider = v })
	overrideDuration("STOCK_LOCK_LEASE", &cfg.Stock.LockLease)
	overrideDuration("STOCK_LOCK_WAIT", &cfg.Stock.LockWait)
	overrideDuration("STOCK_RESERVATION_TTL", &cfg.Stock.ReservationTTL)
	overrideDuration("STOCK_SWEEP_INTERVAL", &cfg.Stock.SweepInterval)
	overrideString("STOCK_SWEEP_BATCH_SIZE", func(v string) {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stock.SweepBatchSize = n
		}
	})
}

func overrideString(key string, apply func(string)) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		apply(value)
	}
}

func overrideDuration(key string, target *time.Duration) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		}
	}
}
