package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/relayclient"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/session"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/transfer"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/webrtcpeer"
)

var errRelayGone = errors.New("relay connection closed")

type nodeOptions struct {
	RelayURL          string
	Key               string
	Group             string
	ReconnectAttempts int

	OnFile       func(peer string, f transfer.File)
	OnText       func(peer, text string)
	OnClientList func([]string)
	// OnEnvelope observes every inbound envelope after the registry has.
	OnEnvelope func(signaling.Envelope)
	// SettingEngine customizes the pion API, e.g. a virtual network in tests.
	SettingEngine func(*webrtc.SettingEngine)
}

// node is one connected peer: a relay client plus the sessions negotiated
// through it.
type node struct {
	log      *slog.Logger
	client   *relayclient.Client
	registry *session.Registry
}

// relayLink lets the registry exist before the relay client it sends
// through. Sends block until the client is attached.
type relayLink struct {
	once   sync.Once
	ready  chan struct{}
	client *relayclient.Client
}

func newRelayLink() *relayLink {
	return &relayLink{ready: make(chan struct{})}
}

func (l *relayLink) attach(c *relayclient.Client) {
	l.once.Do(func() {
		l.client = c
		close(l.ready)
	})
}

func (l *relayLink) Send(env signaling.Envelope) error {
	<-l.ready
	if l.client == nil {
		return relayclient.ErrNotOpen
	}
	return l.client.Send(env)
}

func startNode(ctx context.Context, cfg config.Config, logger *slog.Logger, opts nodeOptions) (*node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// Pick the key once so every reconnect attempt registers under the same
	// name.
	if opts.Key == "" {
		opts.Key = relayclient.NewPeerKey()
	}
	var apiOpts []func(*webrtc.SettingEngine)
	if opts.SettingEngine != nil {
		apiOpts = append(apiOpts, opts.SettingEngine)
	}
	api, err := webrtcpeer.NewAPI(cfg, logger, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("configure webrtc: %w", err)
	}

	link := newRelayLink()
	registry, err := session.NewRegistry(session.Config{
		Logger:           logger,
		Relay:            link,
		NewPeer:          webrtcpeer.NewFactory(api, cfg.ICEServers, logger),
		MaxPendingEvents: cfg.PeerMaxPendingEvents,
		ConnectTimeout:   cfg.PeerConnectTimeout,
		Transfer: transfer.Config{
			ChunkSize:     cfg.TransferChunkBytes,
			HighWaterMark: uint64(cfg.TransferHighWaterMarkBytes),
			MaxFileBytes:  cfg.TransferMaxFileBytes,
		},
		OnStateChange: func(peer string, from, to session.State) {
			logger.Debug("peer state", "peer", peer, "from", from, "to", to)
		},
		OnFile: opts.OnFile,
		OnText: opts.OnText,
		OnTransferError: func(peer string, err error) {
			logger.Warn("transfer failed", "peer", peer, "err", err)
		},
	})
	if err != nil {
		return nil, err
	}

	policy := relayclient.DefaultReconnectPolicy()
	if opts.ReconnectAttempts > 0 {
		policy.MaxAttempts = opts.ReconnectAttempts
	}
	client, err := relayclient.DialWithPolicy(ctx, relayclient.Config{
		URL:    opts.RelayURL,
		Key:    opts.Key,
		Logger: logger,
		OnEnvelope: func(env signaling.Envelope) {
			registry.HandleEnvelope(env)
			if opts.OnEnvelope != nil {
				opts.OnEnvelope(env)
			}
		},
		OnClientList: opts.OnClientList,
		OnClose: func(err error) {
			if err == nil {
				err = errRelayGone
			}
			registry.RelayClosed(err)
		},
	}, policy)
	if err != nil {
		link.attach(nil)
		return nil, err
	}
	link.attach(client)
	registry.SetSelfKey(client.Key())

	if opts.Group != "" {
		if err := client.EnterGroup(opts.Group); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("enter group %q: %w", opts.Group, err)
		}
	}

	return &node{log: logger, client: client, registry: registry}, nil
}

func (n *node) Key() string { return n.client.Key() }

func (n *node) Close() {
	n.registry.CloseAll()
	_ = n.client.Close()
}
