package bridge

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mactrack/internal/oid"
	"mactrack/internal/snmp"
)

func TestParseMAC(t *testing.T) {
	tests := []struct {
		name    string
		oid     string
		want    string
		wantErr bool
	}{
		{name: "bridge table entry", oid: "1.3.6.1.2.1.17.4.3.1.2.1.2.3.4.5.6", want: "01:02:03:04:05:06"},
		{name: "leading dot", oid: ".1.3.6.1.2.1.17.4.3.1.2.0.17.34.51.68.255", want: "00:11:22:33:44:ff"},
		{name: "foreign prefix uses last six", oid: "9.9.1.2.3.4.5.6", want: "01:02:03:04:05:06"},
		{name: "too few components", oid: "1.3.6.1.2.1.17.4.3.1.2.1.2.3", wantErr: true},
		{name: "base only", oid: "1.3.6.1.2.1.17.4.3.1.2", wantErr: true},
		{name: "non numeric", oid: "1.3.6.1.2.1.17.4.3.1.2.1.2.x.4.5.6", wantErr: true},
		{name: "out of byte range", oid: "1.3.6.1.2.1.17.4.3.1.2.1.2.3.4.5.256", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMAC(tt.oid)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedOID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecoder_MACTable_SkipsMalformed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	d := NewDecoder(zap.New(core))

	vars := []snmp.Variable{
		{OID: oid.MacTable + ".0.1.2.3.4.5", Value: "1"},
		{OID: oid.MacTable + ".1.2.3", Value: "2"},
		{OID: oid.MacTable + ".170.187.204.221.238.255", Value: "Gi0/3"},
	}

	got := d.MACTable(vars)

	assert.Equal(t, []Entry{
		{MAC: "00:01:02:03:04:05", Port: "1"},
		{MAC: "aa:bb:cc:dd:ee:ff", Port: "Gi0/3"},
	}, got)

	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Equal(t, oid.MacTable+".1.2.3", warns[0].ContextMap()["oid"])
}

func TestDecoder_VLANNames(t *testing.T) {
	d := NewDecoder(nil)

	names, ok := d.VLANNames([]snmp.Variable{
		{OID: oid.VlanName + ".1", Value: "default"},
		{OID: oid.VlanName + ".10", Value: "Engineering"},
	})
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"1": "default", "10": "Engineering"}, names)

	names, ok = d.VLANNames(nil)
	assert.False(t, ok)
	assert.Empty(t, names)
}

type fakeGetter struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeGetter) Get(_ context.Context, o string) (snmp.Variable, error) {
	f.calls++
	if f.err != nil {
		return snmp.Variable{}, f.err
	}
	v, ok := f.values[o]
	if !ok {
		return snmp.Variable{}, fmt.Errorf("%w: %s", snmp.ErrNoSuchObject, o)
	}
	return snmp.Variable{OID: o, Value: v}, nil
}

func TestResolver(t *testing.T) {
	pvid := func(port string) string { return oid.Join(oid.Pvid, port) }

	tests := []struct {
		name   string
		getter *fakeGetter
		names  map[string]string
		port   string
		want   string
	}{
		{
			name:   "pvid with named vlan",
			getter: &fakeGetter{values: map[string]string{pvid("5"): "10"}},
			names:  map[string]string{"10": "Engineering"},
			port:   "5",
			want:   "Engineering",
		},
		{
			name:   "pvid without name",
			getter: &fakeGetter{values: map[string]string{pvid("5"): "20"}},
			names:  map[string]string{"10": "Engineering"},
			port:   "5",
			want:   "VLAN 20",
		},
		{
			name:   "empty configured name is kept",
			getter: &fakeGetter{values: map[string]string{pvid("5"): "30"}},
			names:  map[string]string{"30": ""},
			port:   "5",
			want:   "",
		},
		{
			name:   "pvid zero falls back to default",
			getter: &fakeGetter{values: map[string]string{pvid("5"): "0"}},
			port:   "5",
			want:   "VLAN 1",
		},
		{
			name:   "pvid missing falls back to default",
			getter: &fakeGetter{},
			port:   "5",
			want:   "VLAN 1",
		},
		{
			name:   "transport error falls back to default",
			getter: &fakeGetter{err: snmp.ErrTimeout},
			port:   "5",
			want:   "VLAN 1",
		},
		{
			name:   "default vlan uses its name",
			getter: &fakeGetter{err: snmp.ErrTimeout},
			names:  map[string]string{"1": "default"},
			port:   "5",
			want:   "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.getter, tt.names, ResolverOptions{NamesAvailable: len(tt.names) > 0})
			assert.Equal(t, tt.want, r.Resolve(context.Background(), tt.port))
		})
	}
}

func TestResolver_NonNumericPortSkipsPVID(t *testing.T) {
	g := &fakeGetter{}
	r := NewResolver(g, nil, ResolverOptions{})

	assert.Equal(t, "VLAN 1", r.Resolve(context.Background(), "Gi0/1"))
	assert.Zero(t, g.calls)
}

func TestResolver_LegacyUnknown(t *testing.T) {
	g := &fakeGetter{values: map[string]string{oid.Join(oid.Pvid, "3"): "10"}}

	r := NewResolver(g, nil, ResolverOptions{Legacy: true})
	assert.Equal(t, UnknownLabel, r.Resolve(context.Background(), "3"))
	assert.Zero(t, g.calls)

	r = NewResolver(g, map[string]string{"10": "Eng"}, ResolverOptions{Legacy: true, NamesAvailable: true})
	assert.Equal(t, "Eng", r.Resolve(context.Background(), "3"))
}

func TestFirstOf(t *testing.T) {
	none := func(context.Context, string) (string, bool) { return "", false }

	id, ok := FirstOf(none, Fixed("7"), Fixed("8"))(context.Background(), "1")
	assert.True(t, ok)
	assert.Equal(t, "7", id)

	_, ok = FirstOf(none)(context.Background(), "1")
	assert.False(t, ok)
}
