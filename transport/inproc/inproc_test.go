package inproc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
)

type inbox struct {
	mu   sync.Mutex
	msgs []string
}

func (i *inbox) handle(_ context.Context, data []byte) {
	i.mu.Lock()
	i.msgs = append(i.msgs, string(data))
	i.mu.Unlock()
}

func (i *inbox) get() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.msgs...)
}

func startPeer(t *testing.T, hub *Hub, domain int) (transport.Transport, rtps.GUIDPrefix, *inbox) {
	t.Helper()
	tr, err := hub.Factory()(&transport.Inst{Name: "inproc", Kind: Kind})
	require.NoError(t, err)
	prefix := rtps.NewGUIDPrefix(rtps.VendorSemDDS)
	box := &inbox{}
	require.NoError(t, tr.Start(context.Background(), transport.Binding{
		DomainID: domain,
		Prefix:   prefix,
		Handler:  box.handle,
	}))
	t.Cleanup(func() { _ = tr.Stop(time.Second) })
	return tr, prefix, box
}

func TestMulticastReachesDomainOnly(t *testing.T) {
	hub := NewHub()
	a, _, boxA := startPeer(t, hub, 0)
	_, _, boxB := startPeer(t, hub, 0)
	_, _, boxOther := startPeer(t, hub, 1)

	require.NoError(t, a.Send(context.Background(), transport.MulticastDestination(), []byte("hello")))

	assert.Eventually(t, func() bool {
		return len(boxA.get()) == 1 && len(boxB.get()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, boxOther.get())
	assert.Equal(t, 2, hub.Participants(0))
}

func TestUnicastByLocatorAndPrefix(t *testing.T) {
	hub := NewHub()
	a, _, boxA := startPeer(t, hub, 0)
	b, prefixB, boxB := startPeer(t, hub, 0)
	_, prefixC, boxC := startPeer(t, hub, 0)

	require.Len(t, b.Locators(), 1)
	require.NoError(t, a.Send(context.Background(), transport.Destination{Locators: b.Locators()}, []byte("to-b")))
	require.NoError(t, a.Send(context.Background(), transport.Destination{Prefix: prefixC}, []byte("to-c")))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"to-b"}, boxB.get()) &&
			assert.ObjectsAreEqual([]string{"to-c"}, boxC.get())
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, boxA.get())
	assert.Equal(t, prefixB, b.Locators()[0].Prefix())
}

func TestOrderedDelivery(t *testing.T) {
	hub := NewHub()
	a, _, _ := startPeer(t, hub, 0)
	_, prefixB, boxB := startPeer(t, hub, 0)

	want := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		msg := string(rune('A'+i%26)) + string(rune('0'+i/26))
		want = append(want, msg)
		require.NoError(t, a.Send(context.Background(), transport.Destination{Prefix: prefixB}, []byte(msg)))
	}
	assert.Eventually(t, func() bool { return len(boxB.get()) == 100 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, boxB.get())
}

func TestDropFunc(t *testing.T) {
	hub := NewHub()
	a, prefixA, _ := startPeer(t, hub, 0)
	_, prefixB, boxB := startPeer(t, hub, 0)

	hub.SetDropFunc(func(from, to rtps.GUIDPrefix, data []byte) bool {
		return from == prefixA && to == prefixB && string(data) == "lost"
	})
	require.NoError(t, a.Send(context.Background(), transport.Destination{Prefix: prefixB}, []byte("lost")))
	require.NoError(t, a.Send(context.Background(), transport.Destination{Prefix: prefixB}, []byte("kept")))

	assert.Eventually(t, func() bool { return len(boxB.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"kept"}, boxB.get())
}

func TestLifecycle(t *testing.T) {
	hub := NewHub()
	tr, err := hub.Factory()(&transport.Inst{Name: "x", Kind: Kind})
	require.NoError(t, err)

	assert.Error(t, tr.Send(context.Background(), transport.MulticastDestination(), nil))
	assert.Nil(t, tr.Locators())

	prefix := rtps.NewGUIDPrefix(rtps.VendorSemDDS)
	b := transport.Binding{Prefix: prefix, Handler: func(context.Context, []byte) {}}
	require.NoError(t, tr.Start(context.Background(), b))
	assert.Error(t, tr.Start(context.Background(), b))

	dup, err := hub.Factory()(&transport.Inst{Name: "y", Kind: Kind})
	require.NoError(t, err)
	assert.Error(t, dup.Start(context.Background(), b))

	require.NoError(t, tr.Stop(time.Second))
	require.NoError(t, tr.Stop(time.Second))
	assert.Equal(t, 0, hub.Participants(0))
	require.NoError(t, dup.Start(context.Background(), b))
	require.NoError(t, dup.Stop(time.Second))
}
