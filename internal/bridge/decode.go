// Package bridge turns BRIDGE-MIB and Q-BRIDGE-MIB walk results into
// MAC-table entries and VLAN labels.
package bridge

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mactrack/internal/oid"
	"mactrack/internal/snmp"
)

var ErrMalformedOID = errors.New("malformed bridge table oid")

// Entry is one learned MAC address and the bridge port it was seen on.
type Entry struct {
	MAC  string
	Port string
}

// ParseMAC extracts the MAC address encoded in the last six sub-identifiers
// of a dot1dTpFdbPort OID.
func ParseMAC(o string) (string, error) {
	idx, ok := oid.Suffix(o, oid.MacTable)
	if !ok {
		idx = oid.Normalize(o)
	}

	parts, err := oid.Components(idx)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformedOID, o, err)
	}
	if len(parts) < 6 {
		return "", fmt.Errorf("%w: %s: %d components, want 6", ErrMalformedOID, o, len(parts))
	}

	hex := make([]string, 6)
	for i, p := range parts[len(parts)-6:] {
		if p > 0xff {
			return "", fmt.Errorf("%w: %s: component %d out of byte range", ErrMalformedOID, o, p)
		}
		hex[i] = fmt.Sprintf("%02x", p)
	}
	return strings.Join(hex, ":"), nil
}

// Decoder converts raw walk results, logging the entries it has to drop.
type Decoder struct {
	logger *zap.Logger
}

func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

// MACTable decodes a dot1dTpFdbPort walk. Malformed entries are skipped.
func (d *Decoder) MACTable(vars []snmp.Variable) []Entry {
	entries := make([]Entry, 0, len(vars))
	for _, v := range vars {
		mac, err := ParseMAC(v.OID)
		if err != nil {
			d.logger.Warn("skipping bridge table entry",
				zap.String("oid", v.OID),
				zap.String("port", v.Value),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, Entry{MAC: mac, Port: v.Value})
	}
	return entries
}

// VLANNames decodes a dot1qVlanStaticName walk into VLAN ID -> name. The
// boolean is false when the device reported no VLAN names at all.
func (d *Decoder) VLANNames(vars []snmp.Variable) (map[string]string, bool) {
	names := make(map[string]string, len(vars))
	for _, v := range vars {
		id := oid.Last(v.OID)
		if id == "" {
			continue
		}
		names[id] = v.Value
	}
	return names, len(names) > 0
}
