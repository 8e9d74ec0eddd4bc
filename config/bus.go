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
	"time"
)

const (
	BusTypeMemory = "memory"
	BusTypeKafka  = "kafka"
	BusTypeSQS    = "sqs"
	BusTypeGCP    = "gcp"
)

// Consumer groups. Every event is delivered to every group at least once.
const (
	GroupOrchestrator = "orchestrator"
	GroupWorker       = "worker"
)

type BusConfig struct {
	Type        string      `mapstructure:"type"`
	GroupPrefix string      `mapstructure:"group_prefix"`
	MaxAttempts int         `mapstructure:"max_attempts"`
	Kafka       KafkaConfig `mapstructure:"kafka"`
	SQS         SQSConfig   `mapstructure:"sqs"`
	GCP         GCPConfig   `mapstructure:"gcp"`
}

// KafkaConfig holds the Kafka configuration
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`

	// SASL/SCRAM authentication
	SASLEnabled   bool   `mapstructure:"sasl_enabled"`
	SASLMechanism string `mapstructure:"sasl_mechanism"` // "SCRAM-SHA-256", "SCRAM-SHA-512" or "PLAIN"
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`

	TLSEnabled    bool `mapstructure:"tls_enabled"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	ConsumerMaxWait   time.Duration `mapstructure:"consumer_max_wait"`
}

// SQSConfig maps each consumer group to its own queue. Publishing routes an
// event to the queue of every group that consumes its kind.
type SQSConfig struct {
	Region               string `mapstructure:"region"`
	RoleARN              string `mapstructure:"role_arn"`
	OrchestratorQueueURL string `mapstructure:"orchestrator_queue_url"`
	WorkerQueueURL       string `mapstructure:"worker_queue_url"`
}

type GCPConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Topic           string `mapstructure:"topic"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

func DefaultBusConfig() BusConfig {
	return BusConfig{
		Type:        BusTypeMemory,
		GroupPrefix: "wsirunner",
		MaxAttempts: 5,
		Kafka: KafkaConfig{
			Brokers:           []string{"localhost:9092"},
			Topic:             "wsirunner.analysis",
			Partitions:        16,
			ReplicationFactor: 1,
			SASLMechanism:     "SCRAM-SHA-256",
			ConnectionTimeout: 10 * time.Second,
			ConsumerMaxWait:   500 * time.Millisecond,
		},
		SQS: SQSConfig{
			Region: "us-east-1",
		},
		GCP: GCPConfig{
			Topic: "wsirunner-analysis",
		},
	}
}

func (c BusConfig) Validate() error {
	switch c.Type {
	case BusTypeMemory:
	case BusTypeKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("bus.kafka.brokers and bus.kafka.topic are required")
		}
	case BusTypeSQS:
		if c.SQS.OrchestratorQueueURL == "" || c.SQS.WorkerQueueURL == "" {
			return fmt.Errorf("bus.sqs.orchestrator_queue_url and bus.sqs.worker_queue_url are required")
		}
	case BusTypeGCP:
		if c.GCP.ProjectID == "" || c.GCP.Topic == "" {
			return fmt.Errorf("bus.gcp.project_id and bus.gcp.topic are required")
		}
	default:
		return fmt.Errorf("unknown bus type %q", c.Type)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("bus.max_attempts must be positive")
	}
	return nil
}

// ConsumerGroup returns the fully qualified consumer group name for a group.
func (c BusConfig) ConsumerGroup(group string) string {
	return c.GroupPrefix + "." + group
}

// QueueURL returns the SQS queue a consumer group reads from.
func (c SQSConfig) QueueURL(group string) (string, error) {
	var u string
	switch group {
	case GroupOrchestrator:
		u = c.OrchestratorQueueURL
	case GroupWorker:
		u = c.WorkerQueueURL
	}
	if u == "" {
		return "", fmt.Errorf("no sqs queue configured for group %q", group)
	}
	return u, nil
}
