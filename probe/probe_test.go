package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTo returns a dial func that connects to the listener for the
// given ports and refuses everything else.
func dialTo(t *testing.T, listener net.Listener, openPorts ...string) dialFunc {
	t.Helper()
	open := make(map[string]bool, len(openPorts))
	for _, p := range openPorts {
		open[p] = true
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if !open[port] {
			return nil, errors.New("connection refused")
		}
		var d net.Dialer
		return d.DialContext(ctx, network, listener.Addr().String())
	}
}

func acceptLoop(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return listener
}

func TestProbeReachable(t *testing.T) {
	listener := acceptLoop(t)

	p := NewTCPProber(time.Second)
	p.dial = dialTo(t, listener, "443")

	result, err := p.Probe(context.Background(), "10.0.0.1", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Reachable)
	assert.Positive(t, result.RoundTripMs)
}

func TestProbeUnreachableIsResultNotError(t *testing.T) {
	p := NewTCPProber(time.Second)
	p.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}

	result, err := p.Probe(context.Background(), "10.0.0.1", time.Second)
	require.NoError(t, err)
	assert.False(t, result.Reachable)
}

func TestProbeEmptyAddress(t *testing.T) {
	p := NewTCPProber(time.Second)
	_, err := p.Probe(context.Background(), "", time.Second)
	assert.Error(t, err)
}

func TestProbeCanceledContext(t *testing.T) {
	p := NewTCPProber(time.Second)
	p.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Probe(ctx, "10.0.0.1", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanCommonPorts(t *testing.T) {
	listener := acceptLoop(t)

	p := NewTCPProber(time.Second)
	p.dial = dialTo(t, listener, "22", "443")

	report, err := p.ScanCommonPorts(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.Len(t, report.Ports, len(commonPorts))

	// Sorted by port number.
	for i := 1; i < len(report.Ports); i++ {
		assert.Less(t, report.Ports[i-1].Port, report.Ports[i].Port)
	}

	open := report.OpenPorts()
	require.Len(t, open, 2)
	assert.Equal(t, 22, open[0].Port)
	assert.Equal(t, "ssh", open[0].Service)
	assert.Equal(t, 443, open[1].Port)
	assert.Equal(t, "https", open[1].Service)

	for _, ps := range report.Ports {
		if ps.Port == 23 {
			assert.False(t, ps.Open)
			assert.Equal(t, "telnet", ps.Service)
		}
	}
}

func TestScanEmptyAddress(t *testing.T) {
	p := NewTCPProber(time.Second)
	_, err := p.ScanCommonPorts(context.Background(), "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "empty address"))
}
