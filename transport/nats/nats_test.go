package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/semdds/rtps"
)

func TestSubjects(t *testing.T) {
	var p rtps.GUIDPrefix
	p[11] = 0xab
	assert.Equal(t, "semdds.7.spdp", MulticastSubject(7))
	assert.Equal(t, "semdds.7.p.0000000000000000000000ab", UnicastSubject(7, p))
}
