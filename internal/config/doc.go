// Package config loads and validates application settings from the
// environment. It gives the rest of the system type-safe access to
// server, database and engine tunables without leaking how they were
// sourced.
package config
