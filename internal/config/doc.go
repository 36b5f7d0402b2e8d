// Package config loads and validates the YAML configuration. Every
// section validates itself; credentials may be overridden through the
// environment so tokens stay out of config files.
package config
