// Package config loads tether's configuration.
//
// Configuration lives in a single directory, ~/.config/tether by default or
// the directory given with --config-path. It holds:
//   - config.yaml (optional, defaults apply when missing)
//   - auth.json, the credential vault
//   - vault.key, the age identity when vault encryption is enabled
//   - sessions/, conversation transcripts
//
// Example config.yaml:
//
//	defaultProvider: anthropic
//	logLevel: info
//	vault:
//	  encrypt: true
//	  refreshMargin: 2m
//	http:
//	  timeout: 30s
//	session:
//	  turnTimeout: 10m
//	  systemPrompt: 'You are working in {{ .Cwd }}.'
//	providers:
//	  openai-codex:
//	    model: gpt-5.1-codex
//
// Relative paths are resolved against the configuration directory.
package config
