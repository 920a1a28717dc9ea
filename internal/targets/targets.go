// Package targets expands CIDR network specifications into the host
// addresses a collection run should poll.
package targets

import (
	"errors"
	"fmt"
	"iter"
	"math/big"
	"net/netip"
	"strings"
)

// ErrInvalidNetworkSpec is returned for input that is not a CIDR network.
var ErrInvalidNetworkSpec = errors.New("invalid network specification")

// Parse validates a CIDR string. Addresses with host bits set are rejected
// ("10.0.0.5/24" is not a network).
func Parse(cidr string) (netip.Prefix, error) {
	s := strings.TrimSpace(cidr)
	if s == "" {
		return netip.Prefix{}, fmt.Errorf("%w: empty network", ErrInvalidNetworkSpec)
	}

	p, err := netip.ParsePrefix(s)
	if err != nil {
		// A bare address is a single-host network.
		addr, addrErr := netip.ParseAddr(s)
		if addrErr != nil {
			return netip.Prefix{}, fmt.Errorf("%w: %q: %v", ErrInvalidNetworkSpec, cidr, err)
		}
		// ParseAddr reads everything after '%' as the zone, so
		// "fe80::1%eth0/64" lands here; PrefixFrom would drop the zone.
		if addr.Zone() != "" {
			return netip.Prefix{}, fmt.Errorf("%w: %q: zones are not allowed", ErrInvalidNetworkSpec, cidr)
		}
		p = netip.PrefixFrom(addr, addr.BitLen())
	}

	if p.Masked() != p {
		return netip.Prefix{}, fmt.Errorf("%w: %q has host bits set", ErrInvalidNetworkSpec, cidr)
	}

	return p, nil
}

// Hosts yields the usable host addresses of p in ascending order.
//
// IPv4 networks skip the network and broadcast addresses unless the prefix is
// /31 or /32. IPv6 networks skip the subnet-router anycast address unless the
// prefix is /127 or /128.
func Hosts(p netip.Prefix) iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		p = p.Masked()
		bits := p.Addr().BitLen()
		hostBits := bits - p.Bits()

		first := p.Addr()
		if hostBits > 1 {
			first = first.Next()
		}

		last := lastAddr(p)
		if last.Is4() && hostBits > 1 {
			last = last.Prev()
		}

		for a := first; a.IsValid() && a.Compare(last) <= 0; a = a.Next() {
			if !yield(a) {
				return
			}
		}
	}
}

// Count returns the number of addresses Hosts yields for p.
func Count(p netip.Prefix) *big.Int {
	p = p.Masked()
	hostBits := p.Addr().BitLen() - p.Bits()

	n := new(big.Int).Lsh(big.NewInt(1), uint(hostBits))
	if hostBits <= 1 {
		return n
	}
	if p.Addr().Is4() {
		return n.Sub(n, big.NewInt(2))
	}
	return n.Sub(n, big.NewInt(1))
}

// Expand parses cidr and returns its usable hosts as strings.
func Expand(cidr string) ([]string, error) {
	p, err := Parse(cidr)
	if err != nil {
		return nil, err
	}

	var hosts []string
	for a := range Hosts(p) {
		hosts = append(hosts, a.String())
	}
	return hosts, nil
}

// lastAddr returns the highest address in p.
func lastAddr(p netip.Prefix) netip.Addr {
	b := p.Addr().AsSlice()
	ones := p.Bits()
	for i := range b {
		for bit := 0; bit < 8; bit++ {
			if i*8+bit >= ones {
				b[i] |= 0x80 >> bit
			}
		}
	}
	a, _ := netip.AddrFromSlice(b)
	return a
}
