package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/transfer"
)

func receiveCmd(g *globals) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for peers and save the files they send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.commandContext(cmd.Context())
			defer cancel()

			out := &syncWriter{w: cmd.OutOrStdout()}
			opts := g.nodeOptions()
			opts.OnFile = func(peer string, f transfer.File) {
				path, err := saveFile(outDir, f)
				if err != nil {
					g.log.Error("saving received file failed", "peer", peer, "file", f.Name, "err", err)
					return
				}
				out.printf("received %s (%d bytes, %s) from %s\n", path, len(f.Data), f.MIMEType, peer)
			}
			opts.OnText = func(peer, text string) {
				out.printf("%s: %s\n", peer, text)
			}

			n, err := startNode(ctx, g.cfg, g.log, opts)
			if err != nil {
				return err
			}
			defer n.Close()
			out.printf("listening as %s\n", n.Key())

			select {
			case <-ctx.Done():
				return nil
			case <-n.client.Done():
				if err := n.client.Err(); err != nil {
					return fmt.Errorf("relay: %w", err)
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "directory to save received files in")
	return cmd
}

// syncWriter serializes output from session callbacks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}
