// Package probe implements TCP-based reachability and port checks
// against fleet instances. ICMP needs raw sockets, so liveness is a
// TCP connect against a small set of well-known ports instead.
package probe

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// livenessPorts are tried in order; the first successful connect marks
// the instance reachable.
var livenessPorts = []int{22, 443, 80}

// commonPorts is the fixed scan set with service labels.
var commonPorts = map[int]string{
	22:   "ssh",
	23:   "telnet",
	80:   "http",
	135:  "msrpc",
	443:  "https",
	445:  "smb",
	3306: "mysql",
	3389: "rdp",
	5432: "postgres",
	6379: "redis",
	8080: "http-alt",
}

const scanConcurrency = 8

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// TCPProber implements both the liveness and the port-scan checks.
type TCPProber struct {
	timeout time.Duration
	dial    dialFunc
	logger  *telemetry.Logger
}

// NewTCPProber creates a prober with the given per-connect timeout.
func NewTCPProber(timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &net.Dialer{Timeout: timeout}
	return &TCPProber{
		timeout: timeout,
		dial:    d.DialContext,
		logger:  telemetry.NewLogger("probe"),
	}
}

// Probe reports whether any liveness port accepts a connection within
// the timeout. An unreachable host is a result, not an error.
func (p *TCPProber) Probe(ctx context.Context, address string, timeout time.Duration) (types.PingResult, error) {
	if address == "" {
		return types.PingResult{}, fmt.Errorf("empty address")
	}
	if timeout <= 0 {
		timeout = p.timeout
	}

	for _, port := range livenessPorts {
		start := time.Now()
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := p.dial(dialCtx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return types.PingResult{}, ctx.Err()
			}
			continue
		}
		_ = conn.Close()
		return types.PingResult{
			Reachable:   true,
			RoundTripMs: float64(time.Since(start).Microseconds()) / 1000,
		}, nil
	}
	return types.PingResult{Reachable: false}, nil
}

// ScanCommonPorts checks every port in the common set concurrently and
// returns one PortStatus per port, sorted by port number.
func (p *TCPProber) ScanCommonPorts(ctx context.Context, address string) (types.PortReport, error) {
	if address == "" {
		return types.PortReport{}, fmt.Errorf("empty address")
	}

	ports := make([]int, 0, len(commonPorts))
	for port := range commonPorts {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	statuses := make([]types.PortStatus, len(ports))
	sem := make(chan struct{}, scanConcurrency)
	var wg sync.WaitGroup

	for i, port := range ports {
		wg.Add(1)
		sem <- struct{}{}
		go func(i, port int) {
			defer wg.Done()
			defer func() { <-sem }()

			dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			open := false
			conn, err := p.dial(dialCtx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
			if err == nil {
				open = true
				_ = conn.Close()
			}
			statuses[i] = types.PortStatus{
				Port:    port,
				Open:    open,
				Service: commonPorts[port],
			}
		}(i, port)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return types.PortReport{}, ctx.Err()
	}
	return types.PortReport{Ports: statuses}, nil
}
