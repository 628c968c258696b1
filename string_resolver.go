package cfddns

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// FromString constructs a resolver that always returns addr.
// It is used to pin records to a known address.
func FromString(addr string) (Resolver, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return nil, fmt.Errorf("unable to parse IP: %w", err)
	}
	return staticResolver(a.Unmap()), nil
}

type staticResolver netip.Addr

func (s staticResolver) Resolve(context.Context) (netip.Addr, error) {
	return netip.Addr(s), nil
}
