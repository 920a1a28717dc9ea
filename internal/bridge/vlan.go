package bridge

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"mactrack/internal/oid"
	"mactrack/internal/snmp"
)

const (
	DefaultVLAN  = "1"
	UnknownLabel = "unknown"
)

// Getter is the single-value fetch the resolver needs from a session.
type Getter interface {
	Get(ctx context.Context, oid string) (snmp.Variable, error)
}

// Lookup finds a VLAN ID for a port, reporting false when it has no answer.
type Lookup func(ctx context.Context, port string) (string, bool)

// FirstOf returns a Lookup that tries each lookup in order and stops at the
// first one that answers.
func FirstOf(lookups ...Lookup) Lookup {
	return func(ctx context.Context, port string) (string, bool) {
		for _, l := range lookups {
			if id, ok := l(ctx, port); ok {
				return id, true
			}
		}
		return "", false
	}
}

// Fixed always answers id.
func Fixed(id string) Lookup {
	return func(context.Context, string) (string, bool) {
		return id, true
	}
}

// PVID reads dot1qPvid for the port. Errors and a PVID of 0 count as no answer.
func PVID(g Getter, logger *zap.Logger) Lookup {
	return func(ctx context.Context, port string) (string, bool) {
		if _, err := strconv.ParseUint(port, 10, 32); err != nil {
			return "", false
		}

		v, err := g.Get(ctx, oid.Join(oid.Pvid, port))
		if err != nil {
			logger.Debug("pvid lookup failed", zap.String("port", port), zap.Error(err))
			return "", false
		}
		if v.Value == "" || v.Value == "0" {
			return "", false
		}
		return v.Value, true
	}
}

// Resolver attaches a VLAN label to each port of one host.
type Resolver struct {
	names     map[string]string
	available bool
	legacy    bool
	lookup    Lookup
}

// ResolverOptions configure NewResolver.
type ResolverOptions struct {
	// NamesAvailable reports whether the host answered the VLAN-name walk.
	NamesAvailable bool
	// Legacy labels every port "unknown" when no names are available,
	// without querying PVIDs.
	Legacy bool
	Logger *zap.Logger
}

func NewResolver(g Getter, names map[string]string, opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if names == nil {
		names = map[string]string{}
	}
	return &Resolver{
		names:     names,
		available: opts.NamesAvailable,
		legacy:    opts.Legacy,
		lookup:    FirstOf(PVID(g, logger), Fixed(DefaultVLAN)),
	}
}

// Resolve returns the VLAN label for port. It never fails.
func (r *Resolver) Resolve(ctx context.Context, port string) string {
	if r.legacy && !r.available {
		return UnknownLabel
	}

	id, ok := r.lookup(ctx, port)
	if !ok {
		id = DefaultVLAN
	}
	return r.Label(id)
}

// Label maps a VLAN ID to the name the device reported, even an empty one,
// or "VLAN <id>" when the ID has no entry.
func (r *Resolver) Label(id string) string {
	if name, ok := r.names[id]; ok {
		return name
	}
	return "VLAN " + id
}
