// Package config defines the engine and CLI settings and provides helpers to
// load, validate and save them in YAML format.
//
// Validate fills defaults for every omitted option and rejects settings the
// engine cannot run with, so configuration errors surface at startup.
package config
