package cfddns

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// InterfaceResolver constructs a resolver that returns an address assigned to the named local interface.
//
// Loopback, link-local and unspecified addresses are skipped.
// An IPv4 address is preferred over IPv6 when the interface has both.
// This suits hosts that hold the public address directly, such as a router or a VPS.
func InterfaceResolver(iface string) Resolver {
	return interfaceResolver{name: iface}
}

type interfaceResolver struct {
	name string
}

func (r interfaceResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	op := "read addresses of " + r.name
	iface, err := net.InterfaceByName(r.name)
	if err != nil {
		return netip.Addr{}, &NetworkError{Op: op, Err: fmt.Errorf("error getting interface by name: %w", err)}
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, &NetworkError{Op: op, Err: fmt.Errorf("error looking up addresses: %w", err)}
	}
	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
	var parsed []netip.Addr
	for _, a := range addrs {
		p, err := netip.ParsePrefix(a.String())
		if err != nil {
			continue
		}
		parsed = append(parsed, p.Addr())
	}
	addr, ok := pickAddr(parsed)
	if !ok {
		return netip.Addr{}, &NetworkError{Op: op, Err: fmt.Errorf("interface has no usable address")}
	}
	return addr, nil
}

func pickAddr(addrs []netip.Addr) (netip.Addr, bool) {
	var v6 netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if !usable(a) {
			continue
		}
		if a.Is4() {
			return a, true
		}
		if !v6.IsValid() {
			v6 = a
		}
	}
	return v6, v6.IsValid()
}

func usable(a netip.Addr) bool {
	return a.IsValid() && !a.IsLoopback() && !a.IsLinkLocalUnicast() && !a.IsUnspecified() && !a.IsMulticast()
}
