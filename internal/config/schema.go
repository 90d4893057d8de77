package config

import "time"

// Relationship counting policies for IngestConf.RelationshipPolicy.
const (
	PolicyAttempted = "attempted"
	PolicyConfirmed = "confirmed"
)

// MemoryURI selects the in-process graph store instead of Neo4j.
const MemoryURI = "memory://"

// Config is the top-level YAML structure.
type Config struct {
	Version   string        `yaml:"version"`
	HTTP      HTTPConf      `yaml:"http"`
	Log       LogConf       `yaml:"log"`
	Neo4j     Neo4jConf     `yaml:"neo4j"`
	NATS      NATSConf      `yaml:"nats"`
	Ingest    IngestConf    `yaml:"ingest"`
	Publisher PublisherConf `yaml:"publisher"`
	Telemetry TelemetryConf `yaml:"telemetry"`
}

type HTTPConf struct {
	Addr string `yaml:"addr"`
}

type LogConf struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Neo4jConf holds graph store connection settings.
type Neo4jConf struct {
	URI                   string `yaml:"uri"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	Database              string `yaml:"database"`
	MaxConnectionPoolSize int    `yaml:"max_connection_pool_size"`
	ConnectTimeoutMs      int    `yaml:"connect_timeout_ms"`
	WriteTimeoutMs        int    `yaml:"write_timeout_ms"`
}

func (c Neo4jConf) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c Neo4jConf) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// NATSConf configures the JetStream transport used by both the pull
// consumer and the publisher.
type NATSConf struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Stream      string `yaml:"stream"`
	Subject     string `yaml:"subject"`
	Durable     string `yaml:"durable"`
	FetchBatch  int    `yaml:"fetch_batch"`
	FetchWaitMs int    `yaml:"fetch_wait_ms"`
	AckWaitMs   int    `yaml:"ack_wait_ms"`
}

func (c NATSConf) FetchWait() time.Duration {
	return time.Duration(c.FetchWaitMs) * time.Millisecond
}

func (c NATSConf) AckWait() time.Duration {
	return time.Duration(c.AckWaitMs) * time.Millisecond
}

// IngestConf holds tunable dispatcher settings.
type IngestConf struct {
	DispatchWorkers    int    `yaml:"dispatch_workers"`
	QueueDepth         int    `yaml:"queue_depth"`
	DispatchTimeoutMs  int    `yaml:"dispatch_timeout_ms"`
	RelationshipPolicy string `yaml:"relationship_policy"`
}

func (c IngestConf) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutMs) * time.Millisecond
}

// PublisherConf holds batch publisher defaults.
type PublisherConf struct {
	BatchSize        int `yaml:"batch_size"`
	Workers          int `yaml:"workers"`
	PublishTimeoutMs int `yaml:"publish_timeout_ms"`
	ProgressEvery    int `yaml:"progress_every"`
}

func (c PublisherConf) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMs) * time.Millisecond
}

type TelemetryConf struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}
