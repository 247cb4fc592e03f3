// Package chanops implements a Discord bot for channel housekeeping.
// Server operators attach per-channel plugins (formatting rule
// enforcement, activity statistics, message export) and users set
// personal alarms delivered by direct message.
//
// Guild and user state is persisted as JSON records in a key-value
// table (SQLite or PostgreSQL via GORM), read and written whole per
// event. A small authenticated HTTP API exposes record inspection and
// a maintenance pause switch.
package chanops

// Set at build time via -ldflags.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)
