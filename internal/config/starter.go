// ABOUTME: Starter configuration written by "secret-agent init"
// ABOUTME: Refuses to overwrite an existing file

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrExists is returned by WriteStarter when the target already exists.
var ErrExists = errors.New("config file already exists")

const starterTemplate = `# secret-agent configuration

socket:
  path: "{{socket}}"
  mode: "0600"

signing:
  # global: one interactive prompt at a time across all keys
  # identity: one prompt at a time per key
  serialize: global

stores:
  - name: files
    type: file
    path: "{{keys}}"
    require_auth: false
    sign_timeout: "60s"

audit:
  enabled: true
  path: "~/.local/state/secret-agent/audit.db"

notify:
  enabled: true
  window: "30s"

logging:
  level: info
  format: text
`

// Starter renders a starter YAML config.
func Starter(socketPath, keyDir string) string {
	return strings.NewReplacer("{{socket}}", socketPath, "{{keys}}", keyDir).Replace(starterTemplate)
}

// WriteStarter writes a starter config to path, creating parent directories.
func WriteStarter(path, socketPath, keyDir string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Starter(socketPath, keyDir)), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
