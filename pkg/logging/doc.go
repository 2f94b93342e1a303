// Package logging provides the subsystem logger used throughout tether.
//
// It is a thin layer over log/slog. Every entry carries a "subsystem"
// attribute so vault, broker and session output can be filtered apart.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//	logging.Info("Vault", "Loaded %d credentials from %s", n, path)
//	logging.Error("Broker", err, "Refresh failed for %s", provider)
//
// Credential writes and deletions are additionally recorded with Audit,
// which prefixes the message with SECURITY_AUDIT and never includes token
// values.
package logging
