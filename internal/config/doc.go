// Package config loads the relay's YAML configuration.
//
// ${VAR} references are expanded from the environment before parsing.
// Values are read once at startup and stay fixed for the process lifetime.
package config
