package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/signaling"
)

// undeliveredWindow is how long text waits for the relay to report an
// unknown target. The relay sends no positive acknowledgement.
const undeliveredWindow = 500 * time.Millisecond

func textCmd(g *globals) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "text --to <peer> <message>",
		Short: "Send a short text message through the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("to", to); err != nil {
				return err
			}
			ctx, cancel := g.commandContext(cmd.Context())
			defer cancel()

			undelivered := make(chan string, 1)
			opts := g.nodeOptions()
			opts.OnEnvelope = func(env signaling.Envelope) {
				if env.Type != signaling.TypeError {
					return
				}
				p, err := signaling.DecodeError(env.Payload)
				if err != nil || p.Peer != to {
					return
				}
				select {
				case undelivered <- p.Reason:
				default:
				}
			}

			n, err := startNode(ctx, g.cfg, g.log, opts)
			if err != nil {
				return err
			}
			defer n.Close()

			if err := n.client.SendText(to, args[0]); err != nil {
				return err
			}

			t := time.NewTimer(undeliveredWindow)
			defer t.Stop()
			select {
			case reason := <-undelivered:
				return fmt.Errorf("text to %s not delivered: %s", to, reason)
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent text to %s\n", to)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "key of the receiving peer")
	return cmd
}
