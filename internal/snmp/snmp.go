// Package snmp wraps gosnmp with the read-only SNMPv2c operations the
// collector needs: table walks and single-value fetches.
package snmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"mactrack/internal/oid"
)

const (
	DefaultTimeout        = 2 * time.Second
	DefaultRetries        = 1
	DefaultPort           = 161
	DefaultMaxRepetitions = 10
)

var (
	ErrTimeout      = errors.New("snmp timeout")
	ErrTransport    = errors.New("snmp transport error")
	ErrNoSuchObject = errors.New("snmp no such object")
	ErrConvert      = errors.New("snmp value conversion failed")
)

type Params struct {
	Community      string
	Timeout        time.Duration
	Retries        int
	Port           uint16
	MaxRepetitions uint32
}

// DefaultParams returns Params with the package defaults for community.
func DefaultParams(community string) Params {
	return Params{
		Community:      community,
		Timeout:        DefaultTimeout,
		Retries:        DefaultRetries,
		Port:           DefaultPort,
		MaxRepetitions: DefaultMaxRepetitions,
	}
}

type Variable struct {
	OID   string
	Type  gosnmp.Asn1BER
	Value string
}

// Client is a single-host SNMPv2c session. It is not safe for concurrent use.
type Client struct {
	host string
	g    *gosnmp.GoSNMP
}

// newGoSNMP builds the gosnmp handle without touching the network.
func newGoSNMP(host string, p Params) *gosnmp.GoSNMP {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	if p.MaxRepetitions == 0 {
		p.MaxRepetitions = DefaultMaxRepetitions
	}

	return &gosnmp.GoSNMP{
		Target:         host,
		Port:           p.Port,
		Community:      p.Community,
		Version:        gosnmp.Version2c,
		Timeout:        p.Timeout,
		Retries:        p.Retries,
		MaxOids:        gosnmp.MaxOids,
		MaxRepetitions: p.MaxRepetitions,
	}
}

// Open prepares a session to host. SNMP over UDP has no handshake, so this
// only binds a local socket; the first request is the first packet sent.
func Open(ctx context.Context, host string, p Params) (*Client, error) {
	g := newGoSNMP(host, p)
	g.Context = ctx

	if err := g.Connect(); err != nil {
		return nil, classify(host, "connect", err)
	}
	return &Client{host: host, g: g}, nil
}

func (c *Client) Host() string { return c.host }

// Walk returns every leaf under base in the order the agent reports them.
func (c *Client) Walk(ctx context.Context, base string) ([]Variable, error) {
	c.g.Context = ctx

	var out []Variable
	err := c.g.BulkWalk(oid.Normalize(base), func(pdu gosnmp.SnmpPDU) error {
		v, err := convert(pdu)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConvert) {
			return nil, err
		}
		return nil, classify(c.host, "walk "+base, err)
	}
	return out, nil
}

// Get fetches a single value. Missing objects return ErrNoSuchObject.
func (c *Client) Get(ctx context.Context, o string) (Variable, error) {
	c.g.Context = ctx

	pkt, err := c.g.Get([]string{oid.Normalize(o)})
	if err != nil {
		return Variable{}, classify(c.host, "get "+o, err)
	}
	if pkt.Error != gosnmp.NoError {
		if pkt.Error == gosnmp.NoSuchName {
			return Variable{}, fmt.Errorf("%w: %s %s", ErrNoSuchObject, c.host, o)
		}
		return Variable{}, fmt.Errorf("%w: %s get %s: agent error %s", ErrTransport, c.host, o, pkt.Error)
	}
	if len(pkt.Variables) == 0 {
		return Variable{}, fmt.Errorf("%w: %s %s: empty response", ErrNoSuchObject, c.host, o)
	}

	pdu := pkt.Variables[0]
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return Variable{}, fmt.Errorf("%w: %s %s", ErrNoSuchObject, c.host, o)
	}
	return convert(pdu)
}

func (c *Client) Close() error {
	if c.g.Conn == nil {
		return nil
	}
	return c.g.Conn.Close()
}

// classify maps gosnmp and net errors onto the package sentinels.
func classify(host, op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s %s: %v", ErrTimeout, host, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return fmt.Errorf("%w: %s %s: %v", ErrTimeout, host, op, err)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrTransport, host, op, err)
}

// convert renders a PDU value as text.
func convert(pdu gosnmp.SnmpPDU) (Variable, error) {
	v := Variable{OID: oid.Normalize(pdu.Name), Type: pdu.Type}

	switch pdu.Type {
	case gosnmp.OctetString, gosnmp.ObjectDescription:
		b, ok := pdu.Value.([]byte)
		if !ok {
			return Variable{}, fmt.Errorf("%w: %s: %T for %s", ErrConvert, v.OID, pdu.Value, pdu.Type)
		}
		v.Value = string(b)
	case gosnmp.ObjectIdentifier, gosnmp.IPAddress:
		s, ok := pdu.Value.(string)
		if !ok {
			return Variable{}, fmt.Errorf("%w: %s: %T for %s", ErrConvert, v.OID, pdu.Value, pdu.Type)
		}
		v.Value = oid.Normalize(s)
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks,
		gosnmp.Counter64, gosnmp.Uinteger32:
		v.Value = gosnmp.ToBigInt(pdu.Value).String()
	case gosnmp.Null, gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
		v.Value = ""
	default:
		v.Value = fmt.Sprint(pdu.Value)
	}
	return v, nil
}
