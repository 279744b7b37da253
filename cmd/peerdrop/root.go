package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/config"
)

// globals holds the flags shared by every subcommand.
type globals struct {
	relayURL          string
	key               string
	group             string
	timeout           time.Duration
	reconnectAttempts int

	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "peerdrop",
		Short:        "Send files and text directly to another peer over WebRTC",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load()
		},
	}

	root.PersistentFlags().StringVar(&g.relayURL, "relay", "", "relay WebSocket URL (default $PEERDROP_RELAY_URL or "+config.DefaultRelayURL+")")
	root.PersistentFlags().StringVar(&g.key, "key", "", "key to register with (default: generated)")
	root.PersistentFlags().StringVar(&g.group, "group", "", "group to enter after connecting")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 0, "give up after this long (0 = no limit)")
	root.PersistentFlags().IntVar(&g.reconnectAttempts, "reconnect-attempts", 1, "relay dial attempts before giving up")

	root.AddCommand(sendCmd(g), receiveCmd(g), textCmd(g), peersCmd(g))
	return root
}

// load reads .env and the environment. Flags given on the command line win
// over both.
func (g *globals) load() error {
	// A missing .env is normal; real environment variables always win.
	_ = godotenv.Load()

	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}
	if g.relayURL == "" {
		g.relayURL = cfg.RelayURL
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}
	g.cfg = cfg
	g.log = logger
	return nil
}

// commandContext bounds parent by --timeout.
func (g *globals) commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(parent, g.timeout)
	}
	return context.WithCancel(parent)
}

func (g *globals) nodeOptions() nodeOptions {
	return nodeOptions{
		RelayURL:          g.relayURL,
		Key:               g.key,
		Group:             g.group,
		ReconnectAttempts: g.reconnectAttempts,
	}
}

func requireFlag(name, value string) error {
	if value == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}
