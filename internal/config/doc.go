// Package config handles configuration loading for handoff-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${HANDOFF_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	presence:
//	  lease_ttl: "90s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  allowed_origins:
//	    - "https://app.example.com"
//
// Database:
//
//	database:
//	  path: "/var/lib/handoff/gateway.db"
//
// Fabric (omit brokers for single-process in-memory fan-out):
//
//	fabric:
//	  brokers: "kafka-1:9092,kafka-2:9092"
//	  topic: "handoff-events"
//	  instance_id: "gw-east-1"
//
// Presence:
//
//	presence:
//	  lease_ttl: "90s"
//
// Routing:
//
//	routing:
//	  auto_assign: false
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${HANDOFF_JWT_SECRET}"
//	  allow_anonymous_users: true
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "handoff-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/handoff/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
