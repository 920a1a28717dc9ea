package targets

import (
	"math/big"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_SmallNetworks(t *testing.T) {
	tests := []struct {
		name string
		cidr string
		want []string
	}{
		{
			name: "slash 30",
			cidr: "192.168.1.0/30",
			want: []string{"192.168.1.1", "192.168.1.2"},
		},
		{
			name: "slash 29",
			cidr: "10.0.0.8/29",
			want: []string{"10.0.0.9", "10.0.0.10", "10.0.0.11", "10.0.0.12", "10.0.0.13", "10.0.0.14"},
		},
		{
			name: "slash 31 keeps both addresses",
			cidr: "10.0.0.0/31",
			want: []string{"10.0.0.0", "10.0.0.1"},
		},
		{
			name: "slash 32 is a single host",
			cidr: "10.0.0.7/32",
			want: []string{"10.0.0.7"},
		},
		{
			name: "bare address",
			cidr: "172.16.5.4",
			want: []string{"172.16.5.4"},
		},
		{
			name: "ipv6 skips subnet-router anycast",
			cidr: "2001:db8::/126",
			want: []string{"2001:db8::1", "2001:db8::2", "2001:db8::3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.cidr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHosts_CountMatchesPrefix(t *testing.T) {
	for bits := 20; bits <= 30; bits++ {
		p := netip.PrefixFrom(netip.MustParseAddr("10.20.0.0"), bits).Masked()

		n := 0
		var first, last netip.Addr
		for a := range Hosts(p) {
			if n == 0 {
				first = a
			}
			last = a
			n++
		}

		want := (1 << (32 - bits)) - 2
		assert.Equal(t, want, n, "prefix /%d", bits)
		assert.Equal(t, big.NewInt(int64(want)), Count(p), "prefix /%d", bits)
		assert.Equal(t, p.Addr().Next(), first, "prefix /%d", bits)
		assert.True(t, p.Contains(last.Next()), "broadcast excluded for /%d", bits)
	}
}

func TestHosts_StopsEarly(t *testing.T) {
	p := netip.MustParsePrefix("10.0.0.0/8")

	var seen []string
	for a := range Hosts(p) {
		seen = append(seen, a.String())
		if len(seen) == 3 {
			break
		}
	}

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, seen)
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"not-a-network",
		"10.0.0.0/33",
		"10.0.0.5/24",
		"300.1.1.0/24",
		"fe80::1%eth0/64",
		"fe80::%eth0/64",
		"fe80::1%eth0",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidNetworkSpec)

			_, err = Expand(in)
			assert.ErrorIs(t, err, ErrInvalidNetworkSpec)
		})
	}
}
