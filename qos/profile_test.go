package qos

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/errors"
)

const libraryYAML = `
profiles:
  - name: telemetry
    base_name: SensorData
    datawriter:
      history: {kind: keep_last, depth: 10}
      deadline: {period: 500ms}
    datareader:
      history: {kind: keep_last, depth: 10}
      deadline: {period: infinite}
  - name: telemetry_durable
    base_name: telemetry
    topic:
      durability: {kind: transient_local}
    datawriter:
      durability: {kind: transient_local}
    publisher:
      partition: {name: [plant*, lab]}
`

func TestParseLibrary(t *testing.T) {
	lib, err := ParseLibrary([]byte(libraryYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"telemetry", "telemetry_durable"}, lib.Names())

	p, err := lib.Profile("telemetry_durable")
	require.NoError(t, err)
	assert.Equal(t, "telemetry_durable", p.Name)
	assert.Equal(t, BestEffortReliability, p.DataWriter.Reliability.Kind)
	assert.Equal(t, int32(10), p.DataWriter.History.Depth)
	assert.Equal(t, 500*time.Millisecond, p.DataWriter.Deadline.Period)
	assert.Equal(t, Infinite, p.DataReader.Deadline.Period)
	assert.Equal(t, TransientLocalDurability, p.DataWriter.Durability.Kind)
	assert.Equal(t, TransientLocalDurability, p.Topic.Durability.Kind)
	assert.Equal(t, []string{"plant*", "lab"}, p.Publisher.Partition.Name)
	assert.Equal(t, DefaultMaxBlockingTime, p.DataWriter.Reliability.MaxBlockingTime)

	preset, err := lib.Profile(PresetReliable)
	require.NoError(t, err)
	assert.Equal(t, ReliableReliability, preset.DataReader.Reliability.Kind)

	_, err = lib.Profile("missing")
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestParseLibraryErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"cycle", `
profiles:
  - {name: a, base_name: b}
  - {name: b, base_name: a}
`, errors.ErrBadParameter},
		{"duplicate", `
profiles:
  - {name: a}
  - {name: a}
`, errors.ErrBadParameter},
		{"unknown base", `
profiles:
  - {name: a, base_name: nope}
`, errors.ErrBadParameter},
		{"bad kind", `
profiles:
  - name: a
    datareader:
      reliability: {kind: sometimes}
`, errors.ErrBadParameter},
		{"inconsistent", `
profiles:
  - name: a
    datareader:
      history: {kind: keep_last, depth: 0}
`, errors.ErrInconsistentPolicy},
		{"malformed", `profiles: [`, errors.ErrBadParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLibrary([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(libraryYAML), 0o600))
	lib, err := LoadLibrary(path)
	require.NoError(t, err)
	assert.Len(t, lib.Names(), 2)

	_, err = LoadLibrary(filepath.Join(t.TempDir(), "qos.txt"))
	assert.Error(t, err)
}

func TestPresets(t *testing.T) {
	for _, name := range []string{PresetSensorData, PresetKeepAll, PresetTransientLocal, PresetParameterEvents, PresetReliable} {
		p, ok := Preset(name)
		require.True(t, ok, name)
		assert.NoError(t, p.Check(), name)
	}
	_, ok := Preset("nope")
	assert.False(t, ok)

	sensor, _ := Preset(PresetSensorData)
	assert.Equal(t, int32(5), sensor.DataReader.History.Depth)
}
