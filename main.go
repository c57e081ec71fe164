package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"nostr-lanes/internal/config"
	"nostr-lanes/internal/logging"
	"nostr-lanes/internal/nip05"
)

func run(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	watchPath := configPath
	if cmd.Bool("no-watch") {
		watchPath = ""
	}

	if err := runApp(ctx, cfg, watchPath); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// checkNip05 performs one live lookup and prints the result as JSON.
func checkNip05(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: %s", cmd.ArgsUsage)
	}
	pubkey := strings.ToLower(cmd.Args().Get(0))
	claim := cmd.Args().Get(1)

	logger := logging.New(slog.LevelWarn, os.Stderr)
	verifier := nip05.NewHTTPVerifier(cmd.Duration("timeout"), logger)
	result := verifier.Lookup(ctx, pubkey, claim)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Verified {
		return fmt.Errorf("%s does not resolve to %s", claim, pubkey)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "nostr-lanes",
		Usage:  "Ingest Nostr events from a relay pool, enrich them and keep reply-linked lanes",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:  "no-watch",
				Usage: "Do not reload the relay list when the config file changes",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "nip05",
				Usage:     "Check a NIP-05 identifier against a pubkey",
				ArgsUsage: "<pubkey-hex> <name@domain>",
				Action:    checkNip05,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Lookup timeout",
						Value: nip05.DefaultTimeout,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
