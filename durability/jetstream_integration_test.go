//go:build integration

package durability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/config"
	"github.com/c360/semdds/natsclient"
)

func TestIntegration_JetStreamStore(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	s, err := NewJetStreamStore(ctx, tc.Client, "semdds_durability_test")
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	// Opening the bucket again sees the same records.
	again, err := Open(ctx, config.DurabilityConfig{Backend: BackendJetStream, Bucket: "semdds_durability_test"}, tc.Client, nil)
	require.NoError(t, err)
	recs, err := again.Load(ctx, "sensors::Temp")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, tc.Client.DeleteKeyValueBucket(ctx, "semdds_durability_test"))
}
