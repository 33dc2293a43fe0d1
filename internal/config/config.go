package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppCfg struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`
}

type MongoCfg struct {
	URI string `mapstructure:"uri"`
	DB  string `mapstructure:"db"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type S3Cfg struct {
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	PublicRead bool   `mapstructure:"public_read"`
}

type KafkaCfg struct {
	Brokers      []string `mapstructure:"brokers"`
	MessageTopic string   `mapstructure:"message_topic"`
}

type JwtCfg struct {
	Secret string `mapstructure:"secret"`
}

type Config struct {
	App   AppCfg   `mapstructure:"app"`
	Mongo MongoCfg `mapstructure:"mongo"`
	Redis RedisCfg `mapstructure:"redis"`
	S3    S3Cfg    `mapstructure:"s3"`
	Kafka KafkaCfg `mapstructure:"kafka"`
	JWT   JwtCfg   `mapstructure:"jwt"`

	// Derived
	ShutdownTimeout time.Duration
}

// Load reads the config file at path, layering environment variables on top
// (APP_* override). A .env file is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvPrefix("APP")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.App.Port == 0 {
		cfg.App.Port = 8080
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "msg"
	}
	if cfg.Kafka.MessageTopic == "" {
		cfg.Kafka.MessageTopic = "messaging.events"
	}
	cfg.ShutdownTimeout = 10 * time.Second
	return &cfg, nil
}
