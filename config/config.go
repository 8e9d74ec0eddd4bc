// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

// Config aggregates configuration for every wsirunner service.
type Config struct {
	Environment string        `mapstructure:"environment"`
	API         APIConfig     `mapstructure:"api"`
	Storage     StorageConfig `mapstructure:"storage"`
	Bus         BusConfig     `mapstructure:"bus"`
	Uploads     UploadsConfig `mapstructure:"uploads"`
	Sweeper     SweeperConfig `mapstructure:"sweeper"`
	Worker      WorkerConfig  `mapstructure:"worker"`
}

type APIConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StorageConfig describes the S3-compatible bucket holding slides and results.
// An empty Bucket means object storage is not configured.
type StorageConfig struct {
	Bucket      string        `mapstructure:"bucket"`
	Region      string        `mapstructure:"region"`
	Endpoint    string        `mapstructure:"endpoint"`
	PathStyle   bool          `mapstructure:"path_style"`
	InsecureTLS bool          `mapstructure:"insecure_tls"`
	RoleARN     string        `mapstructure:"role_arn"`
	PresignTTL  time.Duration `mapstructure:"presign_ttl"`
}

type UploadsConfig struct {
	MaxFileSizeBytes      int64 `mapstructure:"max_file_size_bytes"`
	MaxOutstandingPerUser int   `mapstructure:"max_outstanding_per_user"`
	MaxFileNameLength     int   `mapstructure:"max_file_name_length"`
}

type SweeperConfig struct {
	OrphanThreshold time.Duration `mapstructure:"orphan_threshold"`
	Interval        time.Duration `mapstructure:"interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxMinAge    time.Duration `mapstructure:"outbox_min_age"`
}

type WorkerConfig struct {
	InferenceURL     string        `mapstructure:"inference_url"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`
	StandInDelay     time.Duration `mapstructure:"stand_in_delay"`
	Mock             bool          `mapstructure:"mock"`
	VerifySource     bool          `mapstructure:"verify_source"`
	Concurrency      int           `mapstructure:"concurrency"`
	ResultPrefix     string        `mapstructure:"result_prefix"`
}

// DefaultConfig returns a configuration suitable for production, with
// object storage and the inference endpoint left unset.
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvironmentProduction,
		API: APIConfig{
			ListenAddr:     ":8080",
			RequestTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Region:     "us-east-1",
			PresignTTL: 15 * time.Minute,
		},
		Bus: DefaultBusConfig(),
		Uploads: UploadsConfig{
			MaxFileSizeBytes:      10 << 30,
			MaxOutstandingPerUser: 10,
			MaxFileNameLength:     255,
		},
		Sweeper: SweeperConfig{
			OrphanThreshold: 24 * time.Hour,
			Interval:        10 * time.Minute,
			BatchSize:       500,
			OutboxInterval:  30 * time.Second,
			OutboxMinAge:    time.Minute,
		},
		Worker: WorkerConfig{
			InferenceTimeout: 10 * time.Minute,
			StandInDelay:     5 * time.Second,
			VerifySource:     true,
			Concurrency:      4,
			ResultPrefix:     "results",
		},
	}
}

// Load reads configuration from an optional file and environment variables.
// Environment variables use the prefix "WSIRUNNER" and the dot character
// in keys is replaced by an underscore. For example, "uploads.max_file_size_bytes"
// becomes "WSIRUNNER_UPLOADS_MAX_FILE_SIZE_BYTES".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if file := os.Getenv("WSIRUNNER_CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("WSIRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && os.Getenv("WSIRUNNER_CONFIG_FILE") != "" {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if b := v.GetString("bus.kafka.brokers"); b != "" {
		cfg.Bus.Kafka.Brokers = strings.Split(b, ",")
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment != EnvironmentDevelopment
}

// Validate checks for combinations that must never reach a running service.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvironmentDevelopment, EnvironmentProduction:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.Worker.Mock && c.IsProduction() {
		return fmt.Errorf("worker.mock cannot be enabled in the %s environment", c.Environment)
	}
	if err := c.Bus.Validate(); err != nil {
		return err
	}
	if c.Uploads.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("uploads.max_file_size_bytes must be positive")
	}
	if c.Uploads.MaxOutstandingPerUser <= 0 {
		return fmt.Errorf("uploads.max_outstanding_per_user must be positive")
	}
	if c.Uploads.MaxFileNameLength <= 0 {
		return fmt.Errorf("uploads.max_file_name_length must be positive")
	}
	if c.Sweeper.OrphanThreshold <= 0 || c.Sweeper.Interval <= 0 || c.Sweeper.BatchSize <= 0 {
		return fmt.Errorf("sweeper threshold, interval and batch size must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	return nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
