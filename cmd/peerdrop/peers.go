package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// listSettle is how long peers waits for a newer client list before printing.
// Entering a group produces a second list right after the connect-time one.
const listSettle = 250 * time.Millisecond

func peersCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List the peers visible to this client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.commandContext(cmd.Context())
			defer cancel()

			lists := make(chan []string, 16)
			opts := g.nodeOptions()
			opts.OnClientList = func(keys []string) {
				select {
				case lists <- keys:
				default:
				}
			}

			n, err := startNode(ctx, g.cfg, g.log, opts)
			if err != nil {
				return err
			}
			defer n.Close()

			var (
				latest []string
				got    bool
				settle <-chan time.Time
			)
			for {
				select {
				case keys := <-lists:
					latest, got = keys, true
					settle = time.After(listSettle)
				case <-settle:
					printPeers(cmd, latest)
					return nil
				case <-n.client.Done():
					if got {
						printPeers(cmd, latest)
						return nil
					}
					return fmt.Errorf("relay closed before sending a client list")
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		},
	}
}

func printPeers(cmd *cobra.Command, keys []string) {
	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		fmt.Fprintln(out, "no other peers")
		return
	}
	for _, k := range keys {
		fmt.Fprintln(out, k)
	}
}
