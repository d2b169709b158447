// Package config defines the runtime configuration and its loader.
//
// Configuration is layered: built-in defaults, then any number of YAML or
// JSON files, then POND_* environment variables. Later layers override
// earlier ones field by field. Validation normalizes backend names and
// rejects inconsistent selections before any store is opened.
package config
