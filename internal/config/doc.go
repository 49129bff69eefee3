// Package config handles configuration loading for parley.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. ./parley.yaml (current directory)
//  3. ~/.config/parley/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	gateway:
//	  base_url: "${PARLEY_GATEWAY_URL}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration fields accept Go duration strings ("30s", "2m"):
//
//	gateway:
//	  timeout: "30s"
package config
