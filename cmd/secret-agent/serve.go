// ABOUTME: The serve subcommand: builds stores, witnesses and the agent, then listens
// ABOUTME: SIGHUP reloads the key stores; SIGINT/SIGTERM shut down gracefully

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/secret-agent/internal/agent"
	"github.com/2389/secret-agent/internal/audit"
	"github.com/2389/secret-agent/internal/config"
	"github.com/2389/secret-agent/internal/keystore"
	"github.com/2389/secret-agent/internal/signlock"
	"github.com/2389/secret-agent/internal/socket"
	"github.com/2389/secret-agent/internal/witness"
)

func runServe(ctx context.Context, args []string) error {
	var common commonFlags
	fs := newFlagSet("serve", &common)
	quiet := fs.BoolP("quiet", "q", false, "skip the banner")
	if err := fs.Parse(args); err != nil {
		return err
	}

	configPath := getConfigPath(common.config)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := overrideSocket(cfg, common.socket); err != nil {
		return err
	}

	if !*quiet {
		printBanner(os.Stderr, configPath, cfg)
	}

	logger := setupLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	d, err := buildDaemon(cfg, logger, os.Stderr)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.Socket.Path), 0o700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	ctrl, err := socket.Listen(cfg.Socket.Path, socket.Options{Mode: cfg.Socket.Mode, Logger: logger})
	if err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}
	defer ctrl.Close()

	// For `eval "$(secret-agent serve)"`-style shells.
	fmt.Printf("SSH_AUTH_SOCK=%s; export SSH_AUTH_SOCK;\n", ctrl.Path())

	logger.Info("starting secret-agent",
		"version", version,
		"config", configPath,
		"socket", ctrl.Path(),
		"stores", len(cfg.Stores),
		"serialize", cfg.Signing.Scope,
	)

	go d.watchReloads(ctx)
	go d.reloadOnHangup(ctx)

	d.manager.Serve(ctx, ctrl.Sessions(ctx))
	logger.Info("secret-agent stopped")
	return nil
}

// overrideSocket applies --socket the same way the config file's path is
// treated.
func overrideSocket(cfg *config.Config, path string) error {
	if path == "" {
		return nil
	}
	expanded, err := config.ExpandHome(path)
	if err != nil {
		return err
	}
	cfg.Socket.Path = expanded
	return nil
}

// daemon holds everything runServe wires together.
type daemon struct {
	stores  *keystore.List
	agent   *agent.Agent
	manager *agent.Manager
	audit   *audit.SQLiteStore
	logger  *slog.Logger
}

func buildDaemon(cfg *config.Config, logger *slog.Logger, notices io.Writer) (*daemon, error) {
	stores := make([]keystore.Store, 0, len(cfg.Stores))
	for _, sc := range cfg.Stores {
		st, err := keystore.NewFileStore(keystore.FileStoreConfig{
			Name:            sc.Name,
			Dir:             sc.Path,
			RequireAuth:     sc.RequireAuth,
			RequireAuthKeys: sc.RequireAuthKeys,
			SignTimeout:     sc.SignTimeout,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening store %s: %w", sc.Name, err)
		}
		stores = append(stores, st)
	}
	list := keystore.NewList(logger, stores...)

	d := &daemon{stores: list, logger: logger}

	witnesses := witness.Multi{witness.NewLogger(logger)}
	if cfg.Audit.Enabled {
		st, err := audit.NewSQLiteStore(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("opening audit store: %w", err)
		}
		d.audit = st
		witnesses = append(witnesses, witness.NewAudit(st, logger))
	}
	if cfg.Notify.Enabled {
		witnesses = append(witnesses, witness.NewNotifier(notices, cfg.Notify.Window))
	}

	d.agent = agent.New(agent.Config{
		Stores:  list,
		Locks:   signlock.NewSet(cfg.Signing.Scope),
		Witness: witnesses,
		Logger:  logger,
	})
	d.manager = agent.NewManager(d.agent, logger)
	return d, nil
}

func (d *daemon) Close() {
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			d.logger.Warn("closing audit store", "error", err)
		}
	}
}

// watchReloads reports key set changes, whether triggered by SIGHUP or by
// a sign for a key that appeared after startup.
func (d *daemon) watchReloads(ctx context.Context) {
	events, _ := d.stores.Subscribe(ctx)
	for ev := range events {
		d.logger.Info("key stores changed",
			"stores", ev.Stores,
			"identities", ev.Identities,
		)
	}
}

func (d *daemon) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			d.logger.Info("reloading key stores")
			if err := d.stores.Reload(ctx); err != nil {
				d.logger.Error("reload failed", "error", err)
			}
		}
	}
}

func printBanner(w io.Writer, configPath string, cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s\n\n", version)

	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Config:    %s\n", configPath)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Socket:    %s\n", cfg.Socket.Path)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Serialize: %s\n", cfg.Signing.Scope)
	for _, sc := range cfg.Stores {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "Store:     ")
		cyan.Fprint(w, sc.Name)
		gray.Fprintf(w, " %s", sc.Path)
		if sc.RequireAuth {
			yellow.Fprint(w, " [auth]")
		}
		fmt.Fprintln(w)
	}
	if cfg.Audit.Enabled {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "Audit:     %s\n", cfg.Audit.Path)
	}
	fmt.Fprintln(w)
}
