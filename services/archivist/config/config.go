// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the archivist bootstrap environment. Everything
// runtime-tunable lives in the settings store; this covers only what is
// needed before the stores exist (paths, addresses, keys).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the bootstrap environment.
type Config struct {
	Port    string `envconfig:"ARCHIVIST_PORT" default:"12310"`
	DataDir string `envconfig:"RECALL_DATA_DIR" default:"./data"`

	QdrantHost       string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey     string `envconfig:"QDRANT_API_KEY"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"recall_archive"`
	VectorSize       uint64 `envconfig:"EMBEDDING_VECTOR_SIZE" default:"3072"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL"`
	ChatModel      string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-large"`

	Timezone string `envconfig:"TIMEZONE" default:"UTC"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	SessionTTLMinutes     int `envconfig:"SESSION_TTL_MINUTES" default:"1440"`
	SchedulerTickSeconds  int `envconfig:"SCHEDULER_TICK_SECONDS" default:"30"`
	RateLimitPerMinute    int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"20"`
}

// Load reads the environment and ensures the data directory exists.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: data dir %s: %w", cfg.DataDir, err)
	}
	return &cfg, nil
}

// Location resolves the configured timezone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path joins a filename onto the data directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.DataDir, name)
}

// SessionTTL returns the conversation TTL as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
