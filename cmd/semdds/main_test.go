package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/c360/semdds/config"
	"github.com/c360/semdds/transport/inproc"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "semdds version "+Version)
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger("warn", "json", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "topic", "Sensors")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", gjson.Get(lines[0], "msg").String())
	assert.Equal(t, appName, gjson.Get(lines[0], "service").String())
	assert.Equal(t, "Sensors", gjson.Get(lines[0], "topic").String())
}

func TestFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "semdds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("domain_id: 4\nlog:\n  level: debug\n  format: json\n"), 0o600))

	tests := []struct {
		name      string
		args      []string
		domain    int
		level     string
		transport string
	}{
		{"file only", []string{"--config", path}, 4, "debug", "udp"},
		{"domain flag wins", []string{"--config", path, "--domain", "9"}, 9, "debug", "udp"},
		{"transport and level", []string{"--transport", "inproc", "--log-level", "error"}, 0, "error", "inproc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &rootOptions{}
			cmd := o.command()
			cmd.SetErr(&bytes.Buffer{})
			require.NoError(t, cmd.ParseFlags(tt.args))
			require.NoError(t, o.load(cmd))
			assert.Equal(t, tt.domain, o.cfg.DomainID)
			assert.Equal(t, tt.level, o.cfg.Log.Level)
			require.Len(t, o.cfg.Transport.Instances, 1)
			assert.Equal(t, tt.transport, o.cfg.Transport.Instances[0].Kind)
		})
	}
}

func TestInvalidFlags(t *testing.T) {
	for _, args := range [][]string{
		{"--transport", "carrier-pigeon"},
		{"--domain", "500"},
	} {
		o := &rootOptions{}
		cmd := o.command()
		require.NoError(t, cmd.ParseFlags(args))
		assert.Error(t, o.load(cmd), "args %v", args)
	}
}

func TestWithMulticast(t *testing.T) {
	tc := config.TransportConfig{Instances: []config.InstanceConfig{
		{Name: "a", Kind: "udp"},
		{Name: "b", Kind: "udp", Options: map[string]string{"multicast_group": "239.1.1.1"}},
		{Name: "c", Kind: "nats"},
	}}
	out := withMulticast(tc, "239.255.0.9")
	assert.Equal(t, "239.255.0.9", out.Instances[0].Options["multicast_group"])
	assert.Equal(t, "239.1.1.1", out.Instances[1].Options["multicast_group"])
	assert.Empty(t, out.Instances[2].Options)
	assert.Nil(t, tc.Instances[0].Options)
}

// result is the outcome of a command run in the background. out is read
// only after the run finished.
type result struct {
	out bytes.Buffer
	err error
}

func runCmd(ctx context.Context, args ...string) <-chan *result {
	done := make(chan *result, 1)
	go func() {
		res := &result{}
		cmd := newRootCmd()
		cmd.SetOut(&res.out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		res.err = cmd.ExecuteContext(ctx)
		done <- res
	}()
	return done
}

func TestPublishSubscribeInproc(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	const domain = "17"
	subDone := runCmd(ctx, "--transport", inproc.Kind, "--domain", domain, "--log-level", "error",
		"subscribe", "-t", "Sensors", "--type", "Reading", "-k", "id", "--reliable", "-n", "3", "--json")
	require.Eventually(t, func() bool { return hub.Participants(17) == 1 }, 5*time.Second, 10*time.Millisecond)

	pubDone := runCmd(ctx, "--transport", inproc.Kind, "--domain", domain, "--log-level", "error",
		"publish", "-t", "Sensors", "--type", "Reading", "-k", "id", "--reliable",
		"--data", `{"id":0,"v":7}`, "--seq-field", "id", "-n", "3", "--interval", "10ms", "--wait", "10s")

	pub := <-pubDone
	require.NoError(t, pub.err)
	assert.Contains(t, pub.out.String(), "published 3 samples to Sensors")

	sub := <-subDone
	require.NoError(t, sub.err)
	lines := strings.Split(strings.TrimSpace(sub.out.String()), "\n")
	var ids []int64
	for _, line := range lines {
		assert.Equal(t, "Sensors", gjson.Get(line, "topic").String())
		if gjson.Get(line, "info.valid_data").Bool() {
			assert.Equal(t, int64(7), gjson.Get(line, "data.v").Int())
			ids = append(ids, gjson.Get(line, "data.id").Int())
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestNATSOptions(t *testing.T) {
	cfg := config.Default()
	n := &node{cfg: cfg}
	base := len(n.natsOptions())

	cfg.NATS.Token = "t"
	cfg.NATS.Username = "u"
	cfg.NATS.PingInterval = config.Duration(time.Second)
	assert.Len(t, n.natsOptions(), base+2, "token wins over credentials")

	cfg.NATS.Token = ""
	assert.Len(t, n.natsOptions(), base+2)
}
