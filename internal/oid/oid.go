package oid

import (
	"fmt"
	"strconv"
	"strings"
)

// BRIDGE-MIB and Q-BRIDGE-MIB objects walked by the collector.
const (
	// dot1dTpFdbPort: index is the learned MAC, value is the bridge port.
	MacTable = "1.3.6.1.2.1.17.4.3.1.2"
	// dot1qVlanStaticName: index is the VLAN ID, value is its name.
	VlanName = "1.3.6.1.2.1.17.7.1.4.3.1.1"
	// dot1qPvid: index is the bridge port, value is the port VLAN ID.
	Pvid = "1.3.6.1.2.1.17.7.1.4.5.1.1"
)

// Normalize strips the leading dot gosnmp puts on PDU names.
func Normalize(o string) string {
	return strings.TrimPrefix(strings.TrimSpace(o), ".")
}

// Suffix returns the part of o below base, or "" when o is not under base.
func Suffix(o, base string) (string, bool) {
	o, base = Normalize(o), Normalize(base)
	if o == base {
		return "", true
	}
	rest, ok := strings.CutPrefix(o, base+".")
	return rest, ok
}

func Join(base string, index ...string) string {
	parts := append([]string{Normalize(base)}, index...)
	return strings.Join(parts, ".")
}

func Components(s string) ([]uint32, error) {
	s = Normalize(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ".")
	out := make([]uint32, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("component %d %q: %w", i, p, err)
		}
		out[i] = uint32(n)
	}
	return out, nil
}

func Last(o string) string {
	o = Normalize(o)
	if i := strings.LastIndexByte(o, '.'); i >= 0 {
		return o[i+1:]
	}
	return o
}
