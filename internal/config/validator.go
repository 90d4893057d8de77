package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks the config for:
//   - Required connection settings
//   - Positive pool sizes, queue depths and timeouts
//   - Known enum values (relationship policy, log level/format)
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if cfg.Neo4j.URI != MemoryURI {
		if u, err := url.Parse(cfg.Neo4j.URI); err != nil || u.Scheme == "" {
			errs = append(errs, fmt.Sprintf("neo4j.uri %q is not a valid URI", cfg.Neo4j.URI))
		}
		if cfg.Neo4j.Username == "" {
			errs = append(errs, "neo4j.username is required")
		}
	}
	if cfg.Neo4j.WriteTimeoutMs <= 0 {
		errs = append(errs, "neo4j.write_timeout_ms must be positive")
	}

	if cfg.NATS.Enabled {
		if cfg.NATS.Stream == "" || cfg.NATS.Subject == "" || cfg.NATS.Durable == "" {
			errs = append(errs, "nats.stream, nats.subject and nats.durable are required when nats is enabled")
		}
		if cfg.NATS.FetchBatch <= 0 {
			errs = append(errs, "nats.fetch_batch must be positive")
		}
	}

	if cfg.Ingest.DispatchWorkers <= 0 {
		errs = append(errs, "ingest.dispatch_workers must be positive")
	}
	if cfg.Ingest.QueueDepth <= 0 {
		errs = append(errs, "ingest.queue_depth must be positive")
	}
	if cfg.Ingest.DispatchTimeoutMs <= 0 {
		errs = append(errs, "ingest.dispatch_timeout_ms must be positive")
	}
	switch cfg.Ingest.RelationshipPolicy {
	case PolicyAttempted, PolicyConfirmed:
	default:
		errs = append(errs, fmt.Sprintf("ingest.relationship_policy must be %q or %q, got %q",
			PolicyAttempted, PolicyConfirmed, cfg.Ingest.RelationshipPolicy))
	}

	if cfg.Publisher.BatchSize <= 0 {
		errs = append(errs, "publisher.batch_size must be positive")
	}
	if cfg.Publisher.Workers <= 0 {
		errs = append(errs, "publisher.workers must be positive")
	}
	if cfg.Publisher.PublishTimeoutMs <= 0 {
		errs = append(errs, "publisher.publish_timeout_ms must be positive")
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", cfg.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseLevel maps a config level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", s, err)
	}
	return lvl, nil
}
