// Package config provides configuration loading and validation for the soundd engine.
// It handles YAML-based configuration layered over built-in defaults, with SOUNDD_*
// environment variables applied last.
package config
