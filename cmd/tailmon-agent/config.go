package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tailmon/tailmon/internal/agent"
	"github.com/tailmon/tailmon/internal/logging"
)

type Config struct {
	Log             logging.Config
	Collector       CollectorConfig
	Monitoring      MonitoringConfig
	CredentialsFile string `mapstructure:"credentials_file"`
}

type CollectorConfig struct {
	Url           string        `mapstructure:"url"`
	ApiKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
}

type MonitoringConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// Interface is auto-detected when empty.
	Interface string `mapstructure:"interface"`
	// Hostname defaults to the OS hostname.
	Hostname string `mapstructure:"hostname"`
}

var config Config

func setDefaults() {
	viper.SetDefault("log.level", logging.LevelInfo)
	viper.SetDefault("log.format", logging.FormatText)
	viper.SetDefault("collector.url", "http://localhost:8080")
	viper.SetDefault("collector.timeout", 5*time.Second)
	viper.SetDefault("collector.retry_attempts", agent.DefaultRetryAttempts)
	viper.SetDefault("monitoring.interval", agent.DefaultInterval)
	viper.SetDefault("credentials_file", "/var/lib/tailmon/credentials.yaml")
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/tailmon-agent")
	viper.AddConfigPath("/etc/tailmon")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	_ = viper.BindEnv("collector.api_key", "TAILMON_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	logging.Init(config.Log)

	if config.Log.IsDebug() {
		redacted := config
		if redacted.Collector.ApiKey != "" {
			redacted.Collector.ApiKey = "<redacted>"
		}
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
