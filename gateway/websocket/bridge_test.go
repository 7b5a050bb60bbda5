package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"

	"github.com/c360/semdds/dds"
	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/metric"
	"github.com/c360/semdds/transport"
	"github.com/c360/semdds/transport/inproc"
)

const waitFor = 5 * time.Second

type BridgeSuite struct {
	suite.Suite
	factory  *dds.ParticipantFactory
	p        *dds.Participant
	writer   *dds.DataWriter
	registry *metric.MetricsRegistry
	bridge   *Bridge
	server   *httptest.Server
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeSuite))
}

func (s *BridgeSuite) SetupTest() {
	hub := inproc.NewHub()
	reg := transport.NewRegistry()
	s.Require().NoError(reg.RegisterFactory(inproc.Kind, hub.Factory()))
	inst, err := reg.CreateInst("inproc", inproc.Kind)
	s.Require().NoError(err)
	cfg, err := reg.CreateConfig(transport.DefaultConfigName)
	s.Require().NoError(err)
	cfg.Insert(inst)
	s.Require().NoError(reg.SetGlobalConfig(transport.DefaultConfigName))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.factory, err = dds.NewParticipantFactory(dds.FactoryDeps{
		Registry: reg,
		Logger:   logger,
		Discovery: []discovery.Option{
			discovery.WithAnnouncePeriod(50 * time.Millisecond),
		},
	})
	s.Require().NoError(err)
	s.p, err = s.factory.CreateParticipant(0, nil, nil, dds.StatusNone)
	s.Require().NoError(err)

	ts, err := dds.NewJSONTypeSupport("Reading", dds.WithKeyFields("id"))
	s.Require().NoError(err)
	s.Require().NoError(s.p.RegisterType(ts))
	topic, err := s.p.CreateTopic("Sensors", "Reading", nil, nil, dds.StatusNone)
	s.Require().NoError(err)
	pub, err := s.p.CreatePublisher(nil, nil, dds.StatusNone)
	s.Require().NoError(err)
	s.writer, err = pub.CreateDataWriter(topic, nil, nil, dds.StatusNone)
	s.Require().NoError(err)

	s.registry = metric.NewMetricsRegistry()
	s.bridge, err = NewBridge(s.p, Config{TopicTimeout: 100 * time.Millisecond}, logger, s.registry)
	s.Require().NoError(err)
	mux := http.NewServeMux()
	mux.Handle("/ws/topics/", s.bridge)
	s.server = httptest.NewServer(mux)
}

func (s *BridgeSuite) TearDownTest() {
	s.server.Close()
	s.NoError(s.bridge.Close())
	s.NoError(s.factory.Shutdown())
}

func (s *BridgeSuite) dial(topic string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/topics/" + topic
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	_ = resp.Body.Close()
	return conn
}

func (s *BridgeSuite) waitReaders(n int32) {
	s.Eventually(func() bool {
		st, err := s.writer.GetPublicationMatchedStatus()
		return err == nil && st.CurrentCount == n
	}, waitFor, 10*time.Millisecond)
}

func (s *BridgeSuite) readFrame(conn *websocket.Conn) Frame {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, data, err := conn.ReadMessage()
	s.Require().NoError(err)
	var f Frame
	s.Require().NoError(json.Unmarshal(data, &f))
	return f
}

func (s *BridgeSuite) TestStreamsSamples() {
	conn := s.dial("Sensors")
	defer conn.Close()
	s.waitReaders(1)

	s.Require().NoError(s.writer.Write([]byte(`{"id":1,"v":10}`)))
	s.Require().NoError(s.writer.Write([]byte(`{"id":2,"v":20}`)))

	first := s.readFrame(conn)
	s.Equal("Sensors", first.Topic)
	s.Equal(int64(10), gjson.GetBytes(first.Data, "v").Int())
	s.Equal("ALIVE", first.InstanceState)
	s.Equal("NEW", first.ViewState)
	s.True(first.Info.ValidData)

	second := s.readFrame(conn)
	s.Equal(int64(2), gjson.GetBytes(second.Data, "id").Int())
	s.NotEqual(first.Info.InstanceHandle, second.Info.InstanceHandle)
}

func (s *BridgeSuite) TestDisposeIsStreamed() {
	conn := s.dial("Sensors")
	defer conn.Close()
	s.waitReaders(1)

	sample := []byte(`{"id":7,"v":1}`)
	s.Require().NoError(s.writer.Write(sample))
	s.True(s.readFrame(conn).Info.ValidData)

	s.Require().NoError(s.writer.Dispose(sample, dds.HandleNil))
	f := s.readFrame(conn)
	s.False(f.Info.ValidData)
	s.Equal("NOT_ALIVE_DISPOSED", f.InstanceState)
}

func (s *BridgeSuite) TestClientsShareOneReader() {
	a := s.dial("Sensors")
	defer a.Close()
	b := s.dial("Sensors")
	defer b.Close()
	s.waitReaders(1)
	s.Eventually(func() bool {
		return testutil.ToFloat64(s.bridge.metrics.clientsConnected) == 2
	}, waitFor, 10*time.Millisecond)

	s.Require().NoError(s.writer.Write([]byte(`{"id":1,"v":5}`)))
	s.Equal(int64(5), gjson.GetBytes(s.readFrame(a).Data, "v").Int())
	s.Equal(int64(5), gjson.GetBytes(s.readFrame(b).Data, "v").Int())
	s.Equal([]string{"Sensors"}, s.bridge.Topics())
}

func (s *BridgeSuite) TestLastClientDeletesReader() {
	a := s.dial("Sensors")
	b := s.dial("Sensors")
	s.waitReaders(1)

	s.Require().NoError(a.Close())
	s.Eventually(func() bool {
		return testutil.ToFloat64(s.bridge.metrics.clientsConnected) == 1
	}, waitFor, 10*time.Millisecond)
	s.Equal([]string{"Sensors"}, s.bridge.Topics())

	s.Require().NoError(b.Close())
	s.Eventually(func() bool { return len(s.bridge.Topics()) == 0 }, waitFor, 10*time.Millisecond)
	s.waitReaders(0)
	s.Equal(float64(2), testutil.ToFloat64(s.bridge.metrics.connectionTotal))
}

func (s *BridgeSuite) TestUnknownTopic() {
	resp, err := http.Get(s.server.URL + "/ws/topics/Missing")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal(float64(1), testutil.ToFloat64(s.bridge.metrics.errorsTotal.WithLabelValues("topic_lookup")))
}

func (s *BridgeSuite) TestBuiltinTopicRejected() {
	resp, err := http.Get(s.server.URL + "/ws/topics/" + dds.BuiltinTopicParticipant)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *BridgeSuite) TestCloseDisconnectsClients() {
	conn := s.dial("Sensors")
	defer conn.Close()
	s.waitReaders(1)

	s.Require().NoError(s.bridge.Close())
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := conn.ReadMessage()
	s.True(websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	s.waitReaders(0)
	s.NoError(s.bridge.Close())
}

func TestNewFrame(t *testing.T) {
	info := dds.SampleInfo{
		SampleState:   dds.NotReadSampleState,
		ViewState:     dds.NewViewState,
		InstanceState: dds.AliveInstanceState,
		ValidData:     true,
	}

	f := NewFrame("T", dds.Sample{Data: []byte(`{"a":1}`), Info: info})
	assert.JSONEq(t, `{"a":1}`, string(f.Data))
	assert.Nil(t, f.Raw)
	assert.Equal(t, "NOT_READ", f.SampleState)

	f = NewFrame("T", dds.Sample{Data: []byte{0xff, 0x01}, Info: info})
	assert.Nil(t, f.Data)
	assert.Equal(t, []byte{0xff, 0x01}, f.Raw)

	out, err := json.Marshal(NewFrame("T", dds.Sample{Info: info}))
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "data").Exists())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{PingInterval: time.Second}.withDefaults()
	assert.Equal(t, time.Second, cfg.PingInterval)
	assert.Equal(t, DefaultConfig().PongWait, cfg.PongWait)
	assert.Equal(t, DefaultConfig().QueueSize, cfg.QueueSize)
}

func TestNewBridgeRequiresParticipant(t *testing.T) {
	_, err := NewBridge(nil, Config{}, nil, nil)
	require.Error(t, err)
}
