// Package pubsub adapts spec.md §4.G/§9's ZMQ pub/sub socket requirement
// onto a libp2p host, since this pack carries no Go ZeroMQ binding (see
// SPEC_FULL.md DOMAIN STACK, and DESIGN.md for the substitution
// rationale). It gives ipc.Fleet a broadcast transport for topics that
// span process-fleet boundaries (unlike ipc.Fleet.Broadcast, which only
// reaches a single fleet's own worker pipes), grounded in the host
// application's pkg/integration/coordinator libp2p host setup
// (libp2p.New with ListenAddrStrings/Ping(false)/DisableRelay) and its
// relay package's per-peer protocol.ID stream convention.
package pubsub

import (
	"bufio"
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// TopicProtocol derives a libp2p protocol.ID for a topic name, giving
// every topic its own stream handler the way the host application's
// RelayProtocolID namespaces its own wire protocol.
func TopicProtocol(topic string) protocol.ID {
	return protocol.ID(fmt.Sprintf("/scoro/pubsub/1.0.0/%s", topic))
}

// Handler processes one published message from src.
type Handler func(src peer.ID, payload []byte)

// Node is a libp2p-backed pub/sub endpoint: Subscribe registers a stream
// handler for a topic's protocol.ID, and Publish dials every known peer
// and writes the message as a single newline-terminated frame.
type Node struct {
	host host.Host

	mu    sync.RWMutex
	peers map[peer.ID]struct{}
}

// NewNode creates a libp2p host listening on listenAddr (e.g.
// "/ip4/0.0.0.0/tcp/0" for an ephemeral port) with relay disabled,
// mirroring the host application's own coordinator setup.
func NewNode(listenAddr string) (*Node, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Ping(false),
		libp2p.DisableRelay(),
	)
	if err != nil {
		return nil, errs.Resource("ipc/pubsub", "failed to create libp2p host", err)
	}
	return &Node{host: h, peers: map[peer.ID]struct{}{}}, nil
}

// ID returns this node's libp2p peer ID.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Addrs returns the multiaddrs this node is listening on, for peers that
// need to dial in via AddPeer.
func (n *Node) Addrs() []multiaddr.Multiaddr { return n.host.Addrs() }

// AddPeer registers a known peer's address with the host's peerstore and
// tracks it as a Publish target.
func (n *Node) AddPeer(info peer.AddrInfo) {
	n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	n.mu.Lock()
	n.peers[info.ID] = struct{}{}
	n.mu.Unlock()
}

// Subscribe registers handler to be called for every message published
// to topic by any peer that opens a stream for its protocol.ID.
func (n *Node) Subscribe(topic string, handler Handler) {
	n.host.SetStreamHandler(TopicProtocol(topic), func(s network.Stream) {
		defer s.Close()
		peerID := s.Conn().RemotePeer()
		scanner := bufio.NewScanner(s)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			handler(peerID, append([]byte(nil), scanner.Bytes()...))
		}
	})
}

// Publish opens a stream to every known peer for topic's protocol.ID and
// writes payload as one newline-terminated frame; failures to individual
// peers are collected but do not stop delivery to the rest, matching
// spec.md §4.F's broadcast semantics ("one task per interested worker").
func (n *Node) Publish(ctx context.Context, topic string, payload []byte) error {
	n.mu.RLock()
	targets := make([]peer.ID, 0, len(n.peers))
	for p := range n.peers {
		targets = append(targets, p)
	}
	n.mu.RUnlock()

	var sendErrors []error
	for _, p := range targets {
		if err := n.publishTo(ctx, p, topic, payload); err != nil {
			sendErrors = append(sendErrors, err)
		}
	}
	if len(sendErrors) > 0 {
		return errs.New("TRANSIENT_IO", "ipc/pubsub", fmt.Sprintf("%d of %d peers failed", len(sendErrors), len(targets)), sendErrors[0])
	}
	return nil
}

func (n *Node) publishTo(ctx context.Context, p peer.ID, topic string, payload []byte) error {
	s, err := n.host.NewStream(ctx, p, TopicProtocol(topic))
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = s.Write(append(payload, '\n'))
	return err
}

// Close shuts down the underlying libp2p host.
func (n *Node) Close() error { return n.host.Close() }
