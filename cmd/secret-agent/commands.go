// ABOUTME: The init, keys, health and audit subcommands
// ABOUTME: keys and health talk to a running agent over its socket like any SSH client would

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	sshagent "golang.org/x/crypto/ssh/agent"

	"github.com/2389/secret-agent/internal/audit"
	"github.com/2389/secret-agent/internal/config"
)

const dialTimeout = 5 * time.Second

func runInit(args []string) error {
	var common commonFlags
	fs := newFlagSet("init", &common)
	keyDir := fs.String("keys", "~/.ssh/agent-keys", "directory the file store reads key pairs from")
	if err := fs.Parse(args); err != nil {
		return err
	}

	socketPath := common.socket
	if socketPath == "" {
		socketPath = filepath.Join(getStatePath(), "agent.sock")
	}
	configPath := getConfigPath(common.config)

	green := color.New(color.FgGreen)
	if err := config.WriteStarter(configPath, socketPath, *keyDir); err != nil {
		return err
	}
	green.Printf("  ✓ Created config: %s\n", configPath)

	dir, err := config.ExpandHome(*keyDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	green.Printf("  ✓ Key directory: %s\n", dir)

	fmt.Println()
	fmt.Println("  Copy key pairs (id_x and id_x.pub) into the key directory, then run:")
	color.New(color.FgCyan).Println("    secret-agent serve")
	return nil
}

// resolveSocket picks the socket to talk to: --socket, then the config
// file, then SSH_AUTH_SOCK.
func resolveSocket(common commonFlags) (string, error) {
	if common.socket != "" {
		return config.ExpandHome(common.socket)
	}
	cfg, err := config.Load(getConfigPath(common.config))
	if err == nil {
		return cfg.Socket.Path, nil
	}
	if env := os.Getenv("SSH_AUTH_SOCK"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("no agent socket: %w", err)
}

func dialAgent(ctx context.Context, path string) (sshagent.ExtendedAgent, io.Closer, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to agent at %s: %w", path, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return sshagent.NewClient(conn), conn, nil
}

func runKeys(ctx context.Context, args []string) error {
	var common commonFlags
	fs := newFlagSet("keys", &common)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := resolveSocket(common)
	if err != nil {
		return err
	}

	client, conn, err := dialAgent(ctx, path)
	if err != nil {
		return err
	}
	defer conn.Close()

	keys, err := client.List()
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "The agent has no identities.")
		return nil
	}
	for _, k := range keys {
		fmt.Println(k.String())
	}
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	var common commonFlags
	fs := newFlagSet("health", &common)
	timeout := fs.Duration("timeout", dialTimeout, "how long to wait for the agent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := resolveSocket(common)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	start := time.Now()
	client, conn, err := dialAgent(ctx, path)
	if err != nil {
		return fmt.Errorf("unhealthy: %w", err)
	}
	defer conn.Close()

	keys, err := client.List()
	if err != nil {
		return fmt.Errorf("unhealthy: %w", err)
	}

	fmt.Printf("healthy: %d identities (%s)\n", len(keys), time.Since(start).Round(time.Millisecond))
	return nil
}

func runAudit(ctx context.Context, args []string) error {
	var common commonFlags
	fs := newFlagSet("audit", &common)
	limit := fs.IntP("limit", "n", 20, "number of records to show (max 1000)")
	fingerprint := fs.String("fingerprint", "", "only show signs with this key fingerprint")
	since := fs.Duration("since", 0, "only show signs newer than this (e.g. 24h)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath(common.config))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Audit.Enabled {
		return errors.New("audit is not enabled in the config file")
	}

	st, err := audit.NewSQLiteStore(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer st.Close()

	filter := audit.Filter{Limit: *limit}
	if *fingerprint != "" {
		filter.Fingerprint = fingerprint
	}
	if *since > 0 {
		t := time.Now().Add(-*since)
		filter.Since = &t
	}

	records, err := st.ListSigns(ctx, filter)
	if err != nil {
		return err
	}
	printSignRecords(os.Stdout, records)
	return nil
}

func printSignRecords(w io.Writer, records []audit.SignRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No sign requests recorded.")
		return
	}

	gray := color.New(color.FgHiBlack)
	for _, r := range records {
		outcome := color.GreenString("%-14s", r.Outcome)
		if r.Outcome != audit.OutcomeSigned {
			outcome = color.RedString("%-14s", r.Outcome)
		}
		label := r.Label
		if label == "" {
			label = r.Fingerprint
		}
		fmt.Fprintf(w, "%s  %s %-24s %s",
			gray.Sprint(r.Timestamp.Local().Format("2006-01-02 15:04:05")),
			outcome,
			label,
			r.Client,
		)
		if r.Serialized {
			gray.Fprintf(w, " (serialized, %s)", r.Duration)
		}
		fmt.Fprintln(w)
	}
}
