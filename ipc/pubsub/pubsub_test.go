package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	a, err := NewNode("/ip4/127.0.0.1/tcp/0")
	require.NoError(t, err)
	defer a.Close()

	b, err := NewNode("/ip4/127.0.0.1/tcp/0")
	require.NoError(t, err)
	defer b.Close()

	received := make(chan string, 1)
	b.Subscribe("status", func(src peer.ID, payload []byte) {
		received <- string(payload)
	})

	a.AddPeer(peer.AddrInfo{ID: b.ID(), Addrs: b.Addrs()})

	require.NoError(t, a.Publish(context.Background(), "status", []byte("healthy")))

	select {
	case msg := <-received:
		require.Equal(t, "healthy", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
