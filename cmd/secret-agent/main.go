// ABOUTME: Entry point for secret-agent, an SSH agent that brokers signing to key stores
// ABOUTME: Dispatches serve, init, keys, health and audit subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ┌─┐┌─┐┌─┐┬─┐┌─┐┌┬┐   ┌─┐┌─┐┌─┐┌┐┌┌┬┐
  └─┐├┤ │  ├┬┘├┤  │ ───├─┤│ ┬├┤ │││ │
  └─┘└─┘└─┘┴└─└─┘ ┴    ┴ ┴└─┘└─┘┘└┘ ┴
`

// getConfigPath returns the path to the agent config file.
// Priority: --config flag > SECRET_AGENT_CONFIG env var >
// XDG_CONFIG_HOME/secret-agent/agent.yaml > ~/.config/secret-agent/agent.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("SECRET_AGENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "secret-agent", "agent.yaml")
}

// getStatePath returns the directory for the socket and audit database.
// Priority: XDG_STATE_HOME/secret-agent > ~/.local/state/secret-agent
func getStatePath() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "state"
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "secret-agent")
}

func usage() {
	fmt.Println("Usage: secret-agent <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve               Run the agent")
	fmt.Println("  init                Write a starter config file")
	fmt.Println("  keys                Print the agent's public keys")
	fmt.Println("  health              Check that the agent answers")
	fmt.Println("  audit [--limit N]   Show recent sign requests")
	fmt.Println("  version             Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args)
	case "keys":
		err = runKeys(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "audit":
		err = runAudit(ctx, args)
	case "version", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	config string
	socket string
}

func newFlagSet(name string, common *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("secret-agent "+name, pflag.ContinueOnError)
	fs.StringVarP(&common.config, "config", "c", "", "config file (default: $SECRET_AGENT_CONFIG or ~/.config/secret-agent/agent.yaml)")
	fs.StringVarP(&common.socket, "socket", "s", "", "agent socket path (overrides the config file)")
	return fs
}
