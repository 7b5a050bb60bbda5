//go:build integration

package nats

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/natsclient"
	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
)

func TestIntegration_NATSTransport(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	ctx := context.Background()

	var gotShared, gotOwned atomic.Int32
	shared, err := NewFactory(tc.Client)(&transport.Inst{Name: "n1", Kind: Kind})
	require.NoError(t, err)
	owned, err := Factory(&transport.Inst{Name: "n2", Kind: Kind, Options: map[string]string{"url": tc.URL}})
	require.NoError(t, err)

	start := func(tr transport.Transport, got *atomic.Int32) {
		require.NoError(t, tr.Start(ctx, transport.Binding{
			DomainID: 3,
			Prefix:   rtps.NewGUIDPrefix(rtps.VendorSemDDS),
			Handler:  func(context.Context, []byte) { got.Add(1) },
		}))
		t.Cleanup(func() { _ = tr.Stop(time.Second) })
	}
	start(shared, &gotShared)
	start(owned, &gotOwned)

	require.Len(t, owned.Locators(), 1)
	assert.Equal(t, rtps.LocatorKindNATS, owned.Locators()[0].Kind)

	require.NoError(t, shared.Send(ctx, transport.Destination{Locators: owned.Locators()}, []byte("x")))
	assert.Eventually(t, func() bool { return gotOwned.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), gotShared.Load())

	require.NoError(t, owned.Send(ctx, transport.MulticastDestination(), []byte("y")))
	assert.Eventually(t, func() bool { return gotShared.Load() == 1 && gotOwned.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}
