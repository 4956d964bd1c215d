// Package config handles configuration loading for the fleet controller and agent.
//
// # Overview
//
// Configuration is loaded from YAML files (or TOML, for paths ending in
// .toml) with environment variable expansion. Load validates the result and
// fills in defaults.
//
// # Configuration File
//
// Resolution order (see ResolvePath):
//
//  1. The --config flag
//  2. Path from the FLEET_CONFIG environment variable
//  3. ./config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	db_path: "${FLEET_DATA}/commands.db"
//
// Unset variables expand to the empty string.
//
// # Example
//
//	db_path: "/var/lib/fleet/commands.db"
//	log_path: "/var/log/fleet/controller.log"
//	listen_port: 7070
//
//	nodes:
//	  - name: "web-1"
//	    address: "10.0.0.11"
//	    os: "linux"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	controller:
//	  max_sessions: 64
//	  hello_timeout: "2s"
//	  tick_interval: "1s"
//	  write_timeout: "5s"
//	  heartbeat_interval: "30s"  # 0 or unset disables heartbeats
//	  heartbeat_timeout: "90s"
//	  pending_ttl: "10m"
//	  health_addr: "127.0.0.1:7071"
//
//	agent:
//	  controller_addr: "10.0.0.1:7070"
//	  ack_timeout: "2s"
//	  max_output_bytes: 262144
//	  reconnect_min: "1s"
//	  reconnect_max: "30s"
//
// Duration values use Go's time.ParseDuration syntax.
//
// # Defaults
//
// A missing or non-positive listen_port falls back to 7070. See the Default*
// constants for the remaining values.
package config
