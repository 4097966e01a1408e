package agent

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// ErrInterfaceNotFound means no Tailscale interface could be detected.
var ErrInterfaceNotFound = errors.New("tailscale interface not found")

var (
	tailscaleIPv4 = netip.MustParsePrefix("100.64.0.0/10")
	tailscaleIPv6 = netip.MustParsePrefix("fd7a:115c:a1e0::/48")
)

// Sample is one reading of the Tailscale interface.
type Sample struct {
	Timestamp       time.Time
	Interface       string
	TailscaleIP     string
	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint64
	PacketsReceived uint64
	UploadMbps      float64
	DownloadMbps    float64
	Connections     []PeerConnection
}

type PeerConnection struct {
	IP    string
	Port  int
	State string
}

type counterSnapshot struct {
	at        time.Time
	bytesSent uint64
	bytesRecv uint64
}

// Sampler reads interface counters and peer connections through gopsutil. Rates are derived
// from the difference to the previous sample.
type Sampler struct {
	iface string

	counters    func(ctx context.Context, pernic bool) ([]psnet.IOCountersStat, error)
	interfaces  func(ctx context.Context) (psnet.InterfaceStatList, error)
	connections func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)
	now         func() time.Time

	mu   sync.Mutex
	prev *counterSnapshot
}

// NewSampler samples iface, or the auto-detected Tailscale interface when iface is empty.
func NewSampler(iface string) *Sampler {
	return &Sampler{
		iface:       iface,
		counters:    psnet.IOCountersWithContext,
		interfaces:  psnet.InterfacesWithContext,
		connections: psnet.ConnectionsWithContext,
		now:         time.Now,
	}
}

// DetectInterface returns the interface name and its Tailscale address. A configured name
// wins; otherwise tailscale0, Tailscale* and any interface holding a Tailscale address are
// considered in that order.
func (s *Sampler) DetectInterface(ctx context.Context) (string, string, error) {
	list, err := s.interfaces(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to list interfaces: %w", err)
	}

	if s.iface != "" {
		for _, iface := range list {
			if iface.Name == s.iface {
				return iface.Name, tailscaleAddress(iface), nil
			}
		}
		return "", "", fmt.Errorf("%w: %s", ErrInterfaceNotFound, s.iface)
	}

	for _, iface := range list {
		if iface.Name == "tailscale0" {
			return iface.Name, tailscaleAddress(iface), nil
		}
	}
	for _, iface := range list {
		if strings.HasPrefix(iface.Name, "Tailscale") {
			return iface.Name, tailscaleAddress(iface), nil
		}
	}
	for _, iface := range list {
		if addr := tailscaleAddress(iface); addr != "" {
			return iface.Name, addr, nil
		}
	}
	return "", "", ErrInterfaceNotFound
}

// tailscaleAddress returns the first Tailscale address of iface, preferring IPv4.
func tailscaleAddress(iface psnet.InterfaceStat) string {
	var v6 string
	for _, a := range iface.Addrs {
		addr, ok := parseInterfaceAddr(a.Addr)
		if !ok {
			continue
		}
		if tailscaleIPv4.Contains(addr) {
			return addr.String()
		}
		if v6 == "" && tailscaleIPv6.Contains(addr) {
			v6 = addr.String()
		}
	}
	return v6
}

func parseInterfaceAddr(s string) (netip.Addr, bool) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Addr(), true
	}
	addr, err := netip.ParseAddr(s)
	return addr, err == nil
}

func isTailscalePeer(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return tailscaleIPv4.Contains(addr) || tailscaleIPv6.Contains(addr)
}

// Sample reads the counters of the Tailscale interface. The first sample, and the first
// sample after the counters went backwards, reports zero rates.
func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	name, address, err := s.DetectInterface(ctx)
	if err != nil {
		return Sample{}, err
	}

	stats, err := s.counters(ctx, true)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read interface counters: %w", err)
	}

	var counters *psnet.IOCountersStat
	for i := range stats {
		if stats[i].Name == name {
			counters = &stats[i]
			break
		}
	}
	if counters == nil {
		return Sample{}, fmt.Errorf("%w: no counters for %s", ErrInterfaceNotFound, name)
	}

	now := s.now()
	sample := Sample{
		Timestamp:       now.UTC(),
		Interface:       name,
		TailscaleIP:     address,
		BytesSent:       counters.BytesSent,
		BytesReceived:   counters.BytesRecv,
		PacketsSent:     counters.PacketsSent,
		PacketsReceived: counters.PacketsRecv,
	}

	s.mu.Lock()
	if s.prev != nil {
		if elapsed := now.Sub(s.prev.at).Seconds(); elapsed > 0 {
			sample.UploadMbps = float64(counterDelta(s.prev.bytesSent, counters.BytesSent)) * 8 / elapsed / 1e6
			sample.DownloadMbps = float64(counterDelta(s.prev.bytesRecv, counters.BytesRecv)) * 8 / elapsed / 1e6
		}
	}
	s.prev = &counterSnapshot{at: now, bytesSent: counters.BytesSent, bytesRecv: counters.BytesRecv}
	s.mu.Unlock()

	sample.Connections = s.peerConnections(ctx)
	return sample, nil
}

// counterDelta is the traffic between two readings. A counter that went backwards was
// reset, so everything it now holds is new traffic.
func counterDelta(prev, cur uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

// peerConnections lists established connections to Tailscale peers. Connection listing
// often needs elevated privileges, so failures only drop the list.
func (s *Sampler) peerConnections(ctx context.Context) []PeerConnection {
	conns, err := s.connections(ctx, "inet")
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var result []PeerConnection
	for _, c := range conns {
		if c.Raddr.IP == "" || c.Status == "LISTEN" || !isTailscalePeer(c.Raddr.IP) {
			continue
		}
		key := fmt.Sprintf("%s:%d", c.Raddr.IP, c.Raddr.Port)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, PeerConnection{
			IP:    c.Raddr.IP,
			Port:  int(c.Raddr.Port),
			State: c.Status,
		})
	}
	return result
}
