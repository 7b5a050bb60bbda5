package dds

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/errors"
)

func TestWaitSetGuardCondition(t *testing.T) {
	ws := NewWaitSet()
	g := NewGuardCondition()
	require.NoError(t, ws.AttachCondition(g))
	require.NoError(t, ws.AttachCondition(g))
	assert.Len(t, ws.Conditions(), 1)

	_, err := ws.Wait(context.Background(), 0)
	assert.ErrorIs(t, err, errors.ErrTimeout)

	go func() {
		time.Sleep(10 * time.Millisecond)
		g.SetTriggerValue(true)
	}()
	active, err := ws.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []Condition{g}, active)

	g.SetTriggerValue(false)
	require.NoError(t, ws.DetachCondition(g))
	assert.ErrorIs(t, ws.DetachCondition(g), errors.ErrPreconditionNotMet)
	assert.ErrorIs(t, ws.AttachCondition(nil), errors.ErrBadParameter)
}

func TestWaitSetContextCancel(t *testing.T) {
	ws := NewWaitSet()
	require.NoError(t, ws.AttachCondition(NewGuardCondition()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ws.Wait(ctx, time.Second)
	assert.Error(t, err)
}
