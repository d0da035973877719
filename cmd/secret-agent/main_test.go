// ABOUTME: Tests for secret-agent command wiring: config paths, logging and the serve stack
// ABOUTME: Runs the daemon against a temp key directory and signs with a real SSH agent client

package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	sshagent "golang.org/x/crypto/ssh/agent"

	"github.com/2389/secret-agent/internal/audit"
	"github.com/2389/secret-agent/internal/config"
	"github.com/2389/secret-agent/internal/socket"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SECRET_AGENT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	assert.Equal(t, "/flag.yaml", getConfigPath("/flag.yaml"))
	assert.Equal(t, "/xdg/secret-agent/agent.yaml", getConfigPath(""))

	t.Setenv("SECRET_AGENT_CONFIG", "/env.toml")
	assert.Equal(t, "/env.toml", getConfigPath(""))
	assert.Equal(t, "/flag.yaml", getConfigPath("/flag.yaml"), "flag wins over env")
}

func TestGetStatePath(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")
	assert.Equal(t, "/state/secret-agent", getStatePath())
}

func TestOverrideSocket(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg := &config.Config{Socket: config.SocketConfig{Path: "/from/config.sock"}}

	require.NoError(t, overrideSocket(cfg, ""))
	assert.Equal(t, "/from/config.sock", cfg.Socket.Path)

	require.NoError(t, overrideSocket(cfg, "~/agent.sock"))
	assert.Equal(t, filepath.Join(home, "agent.sock"), cfg.Socket.Path)

	require.NoError(t, overrideSocket(cfg, "/abs/agent.sock"))
	assert.Equal(t, "/abs/agent.sock", cfg.Socket.Path)
}

func TestResolveSocket_ExpandsFlag(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := resolveSocket(commonFlags{socket: "~/agent.sock"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "agent.sock"), path)
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "agent").Info("signed", "label", "work laptop", "count", 2)
	logger.WithGroup("req").Warn("slow", "ms", 900)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "signed")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, `"work laptop"`)
	assert.Contains(t, out, "req.ms=")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("whatever"))
}

func writeKeyPair(t *testing.T, dir, name, comment string) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, comment)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), pem.EncodeToMemory(block), 0o600))

	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))) + " " + comment + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".pub"), []byte(line), 0o644))
	return signer
}

func TestDaemon_SignsAndAudits(t *testing.T) {
	keyDir := t.TempDir()
	signer := writeKeyPair(t, keyDir, "id_ed25519", "daemon-test")

	sockDir, err := os.MkdirTemp("", "sa")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	cfg, err := config.Parse([]byte(`
socket: {path: "`+filepath.Join(sockDir, "agent.sock")+`"}
signing: {serialize: global}
stores:
  - name: files
    path: "`+keyDir+`"
    require_auth: true
audit:
  enabled: true
  path: "`+filepath.Join(t.TempDir(), "audit.db")+`"
notify:
  enabled: true
`), false)
	require.NoError(t, err)

	var notices bytes.Buffer
	d, err := buildDaemon(cfg, slog.Default(), &notices)
	require.NoError(t, err)
	defer d.Close()

	ctrl, err := socket.Listen(cfg.Socket.Path, socket.Options{Mode: cfg.Socket.Mode})
	require.NoError(t, err)
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		d.manager.Serve(ctx, ctrl.Sessions(ctx))
	}()
	defer func() {
		cancel()
		<-served
	}()

	conn, err := net.Dial("unix", cfg.Socket.Path)
	require.NoError(t, err)
	defer conn.Close()
	client := sshagent.NewClient(conn)

	keys, err := client.List()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "daemon-test", keys[0].Comment)

	sig, err := client.Sign(signer.PublicKey(), []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, signer.PublicKey().Verify([]byte("payload"), sig))

	records, err := d.audit.ListSigns(t.Context(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeSigned, records[0].Outcome)
	assert.True(t, records[0].Serialized)
	assert.Equal(t, "files", records[0].Store)
	require.NotNil(t, records[0].ClientPID, "peer credentials captured on linux")
	assert.Equal(t, int32(os.Getpid()), *records[0].ClientPID)

	assert.Contains(t, notices.String(), "used key daemon-test")
}

func TestDaemon_ReloadPicksUpNewKeys(t *testing.T) {
	keyDir := t.TempDir()
	writeKeyPair(t, keyDir, "id_first", "first")

	cfg, err := config.Parse([]byte(`
socket: {path: /tmp/unused.sock}
stores: [{name: files, path: "`+keyDir+`"}]
`), false)
	require.NoError(t, err)

	d, err := buildDaemon(cfg, slog.Default(), &bytes.Buffer{})
	require.NoError(t, err)
	defer d.Close()
	assert.Nil(t, d.audit)

	events, _ := d.stores.Subscribe(t.Context())
	writeKeyPair(t, keyDir, "id_second", "second")
	require.NoError(t, d.stores.Reload(t.Context()))

	select {
	case ev := <-events:
		assert.Equal(t, 2, ev.Identities)
	case <-time.After(time.Second):
		t.Fatal("no reload event")
	}
}

func TestBuildDaemon_BadStore(t *testing.T) {
	cfg := &config.Config{Stores: []config.StoreConfig{{Name: "broken", Type: config.StoreTypeFile}}}
	_, err := buildDaemon(cfg, slog.Default(), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestPrintSignRecords(t *testing.T) {
	var buf bytes.Buffer
	printSignRecords(&buf, nil)
	assert.Contains(t, buf.String(), "No sign requests")

	buf.Reset()
	printSignRecords(&buf, []audit.SignRecord{
		{Label: "laptop", Outcome: audit.OutcomeSigned, Client: "ssh (pid 1, uid 501)", Timestamp: time.Now()},
		{Fingerprint: "SHA256:x", Outcome: audit.OutcomeUserDenied, Client: "unknown process", Serialized: true, Duration: time.Second, Timestamp: time.Now()},
	})
	out := buf.String()
	assert.Contains(t, out, "laptop")
	assert.Contains(t, out, "SHA256:x")
	assert.Contains(t, out, "user_denied")
	assert.Contains(t, out, "serialized")
}
