package udp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/transport"
)

func TestFactoryOptions(t *testing.T) {
	_, err := Factory(&transport.Inst{Options: map[string]string{"multicast_group": "10.0.0.1"}})
	assert.Error(t, err)
	_, err = Factory(&transport.Inst{Options: map[string]string{"ttl": "300"}})
	assert.Error(t, err)
	_, err = Factory(&transport.Inst{Options: map[string]string{"buffer_size": "0"}})
	assert.Error(t, err)
	tr, err := Factory(&transport.Inst{})
	require.NoError(t, err)
	assert.Equal(t, Kind, tr.Kind())
}
