package party

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/wifiparty/core/internal/config"
	"github.com/wifiparty/core/internal/wire"
)

func TestHandleRealtimeDropsSelfOriginatedPackets(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 47006
	p, err := New(cfg, log.New(io.Discard), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	p.handleRealtime(p.self, wire.Realtime{Host: p.self, Kind: wire.KindMic, Sequence: 0, OpusBytes: []byte{0, 1}})
	require.Equal(t, 0, p.receiveStream.Len(), "a packet this host sent to itself must never reach the receive stream")
}
