// Package config loads the secret-agent configuration file.
//
// # Format
//
// Files ending in .toml are read as TOML; everything else is YAML. Both
// formats share one schema:
//
//	socket:
//	  path: "~/.local/state/secret-agent/agent.sock"
//	  mode: "0600"
//
//	signing:
//	  serialize: global   # or "identity"
//
//	stores:
//	  - name: files
//	    type: file
//	    path: "~/.ssh/agent-keys"
//	    require_auth: true
//	    sign_timeout: "60s"
//
//	audit:
//	  enabled: true
//	  path: "~/.local/state/secret-agent/audit.db"
//
//	notify:
//	  enabled: true
//	  window: "30s"
//
//	logging:
//	  level: info
//	  format: text
//
// Store order is priority order: when two stores hold the same key, the
// first one signs.
//
// # Environment Variables
//
// ${VAR_NAME} anywhere in the file is replaced with the variable's value
// (empty if unset) before parsing. A leading ~ in paths is expanded to the
// user's home directory.
//
// # Durations
//
// Durations use time.ParseDuration syntax ("30s", "2m").
package config
