package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/config"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/rtps"
)

type fakeTransport struct {
	inst  *Inst
	sends int
}

func (f *fakeTransport) Kind() string                         { return f.inst.Kind }
func (f *fakeTransport) Start(context.Context, Binding) error { return nil }
func (f *fakeTransport) Locators() []rtps.Locator             { return nil }
func (f *fakeTransport) Stop(time.Duration) error             { return nil }
func (f *fakeTransport) Send(context.Context, Destination, []byte) error {
	f.sends++
	return nil
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory("fake", func(inst *Inst) (Transport, error) {
		return &fakeTransport{inst: inst}, nil
	}))
	return r
}

func TestRegistryInstances(t *testing.T) {
	r := newRegistry(t)

	inst, err := r.CreateInst("a", "fake")
	require.NoError(t, err)
	assert.Equal(t, "fake", inst.Kind)

	_, err = r.CreateInst("a", "fake")
	assert.Equal(t, errors.RetcodePreconditionNotMet, errors.Code(err))

	_, err = r.CreateInst("b", "carrier-pigeon")
	assert.ErrorIs(t, err, errors.ErrBadParameter)

	got, ok := r.GetInst("a")
	require.True(t, ok)
	assert.Same(t, inst, got)

	c, err := r.CreateConfig("cfg")
	require.NoError(t, err)
	c.Insert(inst)
	assert.True(t, r.RemoveInst("a"))
	assert.Empty(t, c.Instances)
	assert.False(t, r.RemoveInst("a"))
	assert.Equal(t, []string{"fake"}, r.Kinds())
}

func TestConfigOrdering(t *testing.T) {
	c := &Config{Name: "c"}
	c.SortedInsert(&Inst{Name: "m"})
	c.SortedInsert(&Inst{Name: "a"})
	c.SortedInsert(&Inst{Name: "z"})
	c.Insert(&Inst{Name: "b"})

	var names []string
	for _, i := range c.Instances {
		names = append(names, i.Name)
	}
	assert.Equal(t, []string{"a", "m", "z", "b"}, names)
	assert.True(t, c.Remove("m"))
	assert.False(t, c.Remove("m"))
	assert.Len(t, c.Instances, 3)
}

func TestRegistryBindings(t *testing.T) {
	r := newRegistry(t)
	_, err := r.CreateConfig("global")
	require.NoError(t, err)
	_, err = r.CreateConfig("special")
	require.NoError(t, err)

	require.NoError(t, r.SetGlobalConfig("global"))
	assert.Error(t, r.SetGlobalConfig("missing"))
	assert.Error(t, r.BindConfig("p1", "missing"))
	require.NoError(t, r.BindConfig("p1", "special"))

	assert.Equal(t, "special", r.ConfigFor("p1"))
	assert.Equal(t, "global", r.ConfigFor("p2"))

	err = r.RemoveConfig("global")
	assert.Equal(t, errors.RetcodePreconditionNotMet, errors.Code(err))
	require.NoError(t, r.RemoveConfig("special"))
	assert.Equal(t, "global", r.ConfigFor("p1"))

	g, ok := r.GlobalConfig()
	require.True(t, ok)
	assert.Equal(t, "global", g.Name)
}

func TestRegistryBuild(t *testing.T) {
	r := newRegistry(t)
	c, err := r.CreateConfig("cfg")
	require.NoError(t, err)

	_, err = r.Build("cfg")
	assert.Equal(t, errors.RetcodePreconditionNotMet, errors.Code(err))
	_, err = r.Build("nope")
	assert.ErrorIs(t, err, errors.ErrBadParameter)

	plain, err := r.CreateInst("plain", "fake")
	require.NoError(t, err)
	paced, err := r.CreateInst("paced", "fake")
	require.NoError(t, err)
	paced.MaxSendRate = 1000
	c.Insert(plain)
	c.Insert(paced)

	ts, err := r.Build("cfg")
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.IsType(t, &fakeTransport{}, ts[0])
	assert.IsType(t, &RateLimited{}, ts[1])
}

func TestRegistryConfigure(t *testing.T) {
	r := newRegistry(t)
	err := r.Configure(config.TransportConfig{
		Global: "main",
		Configs: []config.TransportGroup{
			{Name: "main", Instances: []string{"x"}, PassiveConnect: config.Duration(time.Second)},
		},
		Instances: []config.InstanceConfig{
			{Name: "x", Kind: "fake", Options: map[string]string{"k": "v"}, MaxSendRate: 5, Burst: 2},
		},
	})
	require.NoError(t, err)

	g, ok := r.GlobalConfig()
	require.True(t, ok)
	require.Len(t, g.Instances, 1)
	assert.Equal(t, "v", g.Instances[0].Option("k", ""))
	assert.Equal(t, "d", g.Instances[0].Option("missing", "d"))
	assert.Equal(t, time.Second, g.PassiveConnectDuration)

	err = NewRegistry().Configure(config.TransportConfig{
		Configs: []config.TransportGroup{{Name: "c", Instances: []string{"ghost"}}},
	})
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestRateLimited(t *testing.T) {
	inner := &fakeTransport{inst: &Inst{Kind: "fake"}}
	rl := NewRateLimited(inner, 1, 1)

	require.NoError(t, rl.Send(context.Background(), MulticastDestination(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rl.Send(ctx, MulticastDestination(), nil)
	assert.Equal(t, errors.RetcodeTimeout, errors.Code(err))
	assert.Equal(t, 1, inner.sends)
}

func TestDestinationLocators(t *testing.T) {
	var p rtps.GUIDPrefix
	p[0] = 1
	d := Destination{Locators: []rtps.Locator{
		rtps.NewPrefixLocator(rtps.LocatorKindInproc, p),
		rtps.NewUDPv4Locator([]byte{127, 0, 0, 1}, 7411),
	}}
	assert.Len(t, d.LocatorsOfKind(rtps.LocatorKindUDPv4), 1)
	assert.Len(t, d.LocatorsOfKind(rtps.LocatorKindNATS), 0)
}
