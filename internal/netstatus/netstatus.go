// Package netstatus mirrors the host's network connectivity.
package netstatus

import (
	"context"
	"net"
	"strings"
	"time"
)

// Connection types reported in Snapshot.ConnectionType.
const (
	TypeWifi     = "wifi"
	TypeEthernet = "ethernet"
	TypeCellular = "cellular"
	TypeNone     = "none"
	TypeUnknown  = "unknown"
)

// Snapshot is the connectivity at one point in time.
type Snapshot struct {
	Connected      bool   `json:"connected"`
	ConnectionType string `json:"connectionType"`
}

// Disconnected is the snapshot reported when no route is available.
var Disconnected = Snapshot{Connected: false, ConnectionType: TypeNone}

// Prober reports the current connectivity.
type Prober interface {
	Probe(ctx context.Context) (Snapshot, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (Snapshot, error)

func (f ProberFunc) Probe(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

// DialProber resolves the interface that routes to Addr. A UDP dial only
// consults the routing table; no packet is sent.
type DialProber struct {
	Addr    string
	Timeout time.Duration

	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	interfaces func() ([]net.Interface, error)
	addrsOf    func(net.Interface) ([]net.Addr, error)
}

// NewDialProber creates a prober targeting addr (host:port).
func NewDialProber(addr string, timeout time.Duration) *DialProber {
	d := &net.Dialer{Timeout: timeout}
	return &DialProber{
		Addr:       addr,
		Timeout:    timeout,
		dial:       d.DialContext,
		interfaces: net.Interfaces,
		addrsOf:    func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

// Probe never fails: an unreachable route is reported as Disconnected and an
// interface that cannot be identified as TypeUnknown.
func (p *DialProber) Probe(ctx context.Context) (Snapshot, error) {
	conn, err := p.dial(ctx, "udp", p.Addr)
	if err != nil {
		return Disconnected, nil
	}
	local := conn.LocalAddr()
	conn.Close()

	udp, ok := local.(*net.UDPAddr)
	if !ok || udp.IP == nil || udp.IP.IsUnspecified() {
		return Snapshot{Connected: true, ConnectionType: TypeUnknown}, nil
	}
	if udp.IP.IsLoopback() {
		return Disconnected, nil
	}

	name, err := p.interfaceFor(udp.IP)
	if err != nil || name == "" {
		return Snapshot{Connected: true, ConnectionType: TypeUnknown}, nil
	}
	return Snapshot{Connected: true, ConnectionType: Classify(name)}, nil
}

func (p *DialProber) interfaceFor(ip net.IP) (string, error) {
	ifaces, err := p.interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		addrs, err := p.addrsOf(iface)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var candidate net.IP
			switch v := a.(type) {
			case *net.IPNet:
				candidate = v.IP
			case *net.IPAddr:
				candidate = v.IP
			}
			if candidate != nil && candidate.Equal(ip) {
				return iface.Name, nil
			}
		}
	}
	return "", nil
}

var (
	wifiPrefixes     = []string{"wl", "wifi", "ath", "ra", "mlan"}
	cellularPrefixes = []string{"wwan", "rmnet", "ccmni", "pdp", "ppp", "usb", "cdc-wdm"}
	ethernetPrefixes = []string{"eth", "en", "em", "br", "bond", "veth", "tap", "vlan"}
)

// Classify maps a Linux interface name to a connection type.
func Classify(name string) string {
	name = strings.ToLower(name)
	switch {
	case name == "":
		return TypeUnknown
	case name == "lo" || strings.HasPrefix(name, "lo:"):
		return TypeNone
	case hasAnyPrefix(name, wifiPrefixes):
		return TypeWifi
	case hasAnyPrefix(name, cellularPrefixes):
		return TypeCellular
	case hasAnyPrefix(name, ethernetPrefixes):
		return TypeEthernet
	}
	return TypeUnknown
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
