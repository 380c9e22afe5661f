// Package config loads the AgentStudio client configuration from a YAML file,
// fills defaults and applies environment overrides for the API address and
// bearer token.
package config
