// Package config provides configuration management for the service.
// This file centralizes port constants to avoid duplication.
package config

// Default service ports, overridden by Config at runtime.
const (
	// APIServerPort is the default port for the main REST API server.
	APIServerPort = 8081

	// PostgresPort is the default port for PostgreSQL.
	PostgresPort = 5432

	// PrometheusPort is the default port for the Prometheus metrics endpoint.
	PrometheusPort = 9100
)
