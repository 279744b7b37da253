package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

func sendCmd(g *globals) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "send --to <peer> <file>",
		Short: "Send a file to a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("to", to); err != nil {
				return err
			}
			ctx, cancel := g.commandContext(cmd.Context())
			defer cancel()

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}

			// Best effort: a writer holding an exclusive lock means the file may
			// change under us.
			lock := flock.New(path)
			locked, err := lock.TryRLock()
			switch {
			case err != nil:
				g.log.Warn("could not lock file for reading", "file", path, "err", err)
			case !locked:
				g.log.Warn("file is locked by another process; contents may change during transfer", "file", path)
			default:
				defer lock.Unlock()
			}

			n, err := startNode(ctx, g.cfg, g.log, g.nodeOptions())
			if err != nil {
				return err
			}
			defer n.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "connected as %s\n", n.Key())

			s, err := n.registry.Connect(to)
			if err != nil {
				return err
			}
			if err := s.WaitOpen(ctx); err != nil {
				return fmt.Errorf("connect to %s: %w", to, err)
			}

			name := filepath.Base(path)
			if err := s.SendFile(ctx, name, detectMIMEType(path), f, info.Size()); err != nil {
				return fmt.Errorf("send %s: %w", name, err)
			}
			if err := s.Flush(ctx); err != nil {
				return fmt.Errorf("flush %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s (%d bytes) to %s\n", name, info.Size(), to)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "key of the receiving peer")
	return cmd
}
