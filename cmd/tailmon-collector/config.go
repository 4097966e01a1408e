package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tailmon/tailmon/internal/api/http"
	"github.com/tailmon/tailmon/internal/db"
	grpcserver "github.com/tailmon/tailmon/internal/grpc/server"
	"github.com/tailmon/tailmon/internal/logging"
)

type Config struct {
	Log       logging.Config
	Http      http.Config
	Grpc      GrpcConfig
	Database  db.Config
	Collector CollectorConfig
}

type GrpcConfig struct {
	// Port 0 disables the gRPC health endpoint.
	Port int                  `mapstructure:"port"`
	TLS  grpcserver.TLSConfig `mapstructure:"tls"`
}

type CollectorConfig struct {
	SamplingInterval        time.Duration `mapstructure:"sampling_interval"`
	Retention               time.Duration `mapstructure:"retention"`
	RetentionCheckInterval  time.Duration `mapstructure:"retention_check_interval"`
	TopConnectionsLimit     int           `mapstructure:"top_connections_limit"`
	TopConnectionsWindow    time.Duration `mapstructure:"top_connections_window"`
	MaxClockSkew            time.Duration `mapstructure:"max_clock_skew"`
	MaxConnectionsPerRecord int           `mapstructure:"max_connections_per_record"`
}

var config Config

func ParseCommaSeparated(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func setDefaults() {
	viper.SetDefault("log.level", logging.LevelInfo)
	viper.SetDefault("log.format", logging.FormatText)
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("http.allow_origins", []string{"*"})
	viper.SetDefault("grpc.port", 9090)
	viper.SetDefault("database.driver", db.DriverPostgres)
	viper.SetDefault("database.schema", "public")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.min_conns", 2)
	viper.SetDefault("collector.sampling_interval", 25*time.Second)
	viper.SetDefault("collector.retention", 720*time.Hour)
	viper.SetDefault("collector.retention_check_interval", 24*time.Hour)
	viper.SetDefault("collector.top_connections_limit", 10)
	viper.SetDefault("collector.top_connections_window", time.Hour)
	viper.SetDefault("collector.max_clock_skew", 5*time.Minute)
	viper.SetDefault("collector.max_connections_per_record", 1024)
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/tailmon-collector")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	_ = viper.BindEnv("database.url", "DATABASE_URL")

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
		if redacted.Database.Url != "" {
			redacted.Database.Url = "<redacted>"
		}
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
