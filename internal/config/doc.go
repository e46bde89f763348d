// Package config provides YAML configuration loading and validation
// for the voicelink server and client programs.
package config
