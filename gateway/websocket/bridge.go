// Package websocket streams the samples of DDS topics to WebSocket clients.
//
// A Bridge is an http.Handler mounted under a path ending in /topics/. A
// client connecting to /topics/{name} receives one JSON Frame per sample of
// the topic. The first client of a topic creates a DataReader for it and
// the last client to leave deletes it.
package websocket

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/semdds/dds"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/metric"
	"github.com/c360/semdds/pkg/buffer"
	"github.com/c360/semdds/qos"
)

const topicsPrefix = "/topics/"

// Config holds the bridge settings. Zero durations and sizes take the
// defaults from DefaultConfig.
type Config struct {
	// ReaderQos is used for every reader the bridge creates. Nil takes the
	// subscriber default.
	ReaderQos *qos.DataReaderQos

	// TopicTimeout bounds the wait for a topic that is not yet known
	// locally.
	TopicTimeout time.Duration

	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration

	// QueueSize is the number of frames buffered per client. A slow client
	// loses its oldest frames.
	QueueSize int
}

// DefaultConfig returns the default bridge settings.
func DefaultConfig() Config {
	return Config{
		TopicTimeout: 2 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		WriteTimeout: 10 * time.Second,
		QueueSize:    256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopicTimeout <= 0 {
		c.TopicTimeout = d.TopicTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

// Frame is the JSON message sent for each sample. Data holds the sample
// when it is JSON; other payloads travel base64 encoded in Raw.
type Frame struct {
	Topic         string          `json:"topic"`
	Data          json.RawMessage `json:"data,omitempty"`
	Raw           []byte          `json:"raw,omitempty"`
	SampleState   string          `json:"sample_state"`
	ViewState     string          `json:"view_state"`
	InstanceState string          `json:"instance_state"`
	Info          dds.SampleInfo  `json:"info"`
}

// NewFrame builds the frame of one sample.
func NewFrame(topic string, s dds.Sample) Frame {
	f := Frame{
		Topic:         topic,
		SampleState:   s.Info.SampleState.String(),
		ViewState:     s.Info.ViewState.String(),
		InstanceState: s.Info.InstanceState.String(),
		Info:          s.Info,
	}
	switch {
	case len(s.Data) == 0:
	case json.Valid(s.Data):
		f.Data = json.RawMessage(s.Data)
	default:
		f.Raw = s.Data
	}
	return f
}

// Bridge serves topic streams over WebSocket.
type Bridge struct {
	participant *dds.Participant
	subscriber  *dds.Subscriber
	cfg         Config
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	metrics     *Metrics

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool

	wg sync.WaitGroup
}

// NewBridge creates a bridge reading through a new subscriber of p. A nil
// logger uses slog.Default and a nil registry disables metrics.
func NewBridge(p *dds.Participant, cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Bridge, error) {
	if p == nil {
		return nil, errors.Fail(errors.RetcodeBadParameter, "Bridge", "NewBridge", "participant is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics, err := newMetrics(registry)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "NewBridge", "register metrics")
	}
	sub, err := p.CreateSubscriber(nil, nil, dds.StatusNone)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "NewBridge", "create subscriber")
	}
	return &Bridge{
		participant: p,
		subscriber:  sub,
		cfg:         cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger.With("component", "bridge", "participant", p.GetPrefix().String()),
		metrics: metrics,
		streams: make(map[string]*stream),
	}, nil
}

// ServeHTTP upgrades requests for /topics/{name}.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	i := strings.LastIndex(r.URL.Path, topicsPrefix)
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	name := r.URL.Path[i+len(topicsPrefix):]
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}

	desc, err := b.resolve(name)
	if err != nil {
		b.metrics.errorInc("topic_lookup")
		status := http.StatusInternalServerError
		switch errors.Code(err) {
		case errors.RetcodeTimeout:
			status = http.StatusNotFound
		case errors.RetcodePreconditionNotMet, errors.RetcodeBadParameter:
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.metrics.errorInc("connection_upgrade")
		b.logger.Debug("upgrade failed", "topic", name, "error", err)
		return
	}

	c, err := b.attach(name, desc, conn)
	if err != nil {
		b.metrics.errorInc("attach")
		b.logger.Warn("attach client", "topic", name, "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "topic unavailable")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	b.wg.Add(1)
	go c.writeLoop()
	c.readLoop()
}

// resolve finds the topic description of name, waiting for discovery when
// it is not known locally.
func (b *Bridge) resolve(name string) (dds.TopicDescription, error) {
	for _, builtin := range dds.BuiltinTopicNames() {
		if name == builtin {
			return nil, errors.Failf(errors.RetcodePreconditionNotMet, "Bridge", "resolve", "built-in topic %q is not bridged", name)
		}
	}
	if desc := b.participant.LookupTopicDescription(name); desc != nil {
		return desc, nil
	}
	return b.participant.FindTopic(name, b.cfg.TopicTimeout)
}

// attach adds a client to the stream of name, creating the stream for the
// first client.
func (b *Bridge) attach(name string, desc dds.TopicDescription, conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.WrapInvalid(errors.ErrShuttingDown, "Bridge", "attach", "accept client")
	}
	st, ok := b.streams[name]
	if !ok {
		var err error
		st, err = b.openStream(name, desc)
		if err != nil {
			return nil, err
		}
		b.streams[name] = st
		b.metrics.streamsSet(len(b.streams))
		b.logger.Info("topic stream opened", "topic", name)
	}

	c, err := newClient(b, st, conn)
	if err != nil {
		if len(st.clients) == 0 {
			delete(b.streams, name)
			b.metrics.streamsSet(len(b.streams))
			b.wg.Add(1)
			go b.closeStream(st)
		}
		return nil, err
	}
	st.clients[c] = struct{}{}
	b.metrics.connected(b.clientCountLocked())
	return c, nil
}

// detach removes c. The stream closes with its last client.
func (b *Bridge) detach(c *client, reason string) {
	b.mu.Lock()
	st := c.stream
	delete(st.clients, c)
	last := len(st.clients) == 0 && b.streams[st.name] == st
	if last {
		delete(b.streams, st.name)
		b.metrics.streamsSet(len(b.streams))
	}
	count := b.clientCountLocked()
	b.mu.Unlock()

	b.metrics.disconnected(count, reason)
	if last {
		b.wg.Add(1)
		go b.closeStream(st)
	}
}

func (b *Bridge) clientCountLocked() int {
	n := 0
	for _, st := range b.streams {
		n += len(st.clients)
	}
	return n
}

// clientsOf returns a snapshot of the clients of st.
func (b *Bridge) clientsOf(st *stream) []*client {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*client, 0, len(st.clients))
	for c := range st.clients {
		out = append(out, c)
	}
	return out
}

// Topics returns the names of the topics with connected clients.
func (b *Bridge) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.streams))
	for name := range b.streams {
		out = append(out, name)
	}
	return out
}

// Close disconnects every client, deletes the readers and the bridge's
// subscriber.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var clients []*client
	for _, st := range b.streams {
		for c := range st.clients {
			clients = append(clients, c)
		}
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "bridge closing")
	}
	b.wg.Wait()

	var errs []error
	if err := b.subscriber.DeleteContainedEntities(); err != nil {
		errs = append(errs, err)
	}
	if err := b.participant.DeleteSubscriber(b.subscriber); err != nil {
		errs = append(errs, err)
	}
	if err := stderrors.Join(errs...); err != nil {
		return errors.Wrap(err, "Bridge", "Close", "delete subscriber")
	}
	return nil
}

// stream is the reader of one topic and the clients that watch it.
type stream struct {
	b       *Bridge
	name    string
	reader  *dds.DataReader
	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}

	clients map[*client]struct{} // guarded by b.mu
}

// dataListener wakes the stream when its reader has data. It runs on the
// participant's listener worker and never blocks.
type dataListener struct {
	notify chan struct{}
}

func (l dataListener) OnDataAvailable(*dds.DataReader) {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (b *Bridge) openStream(name string, desc dds.TopicDescription) (*stream, error) {
	st := &stream{
		b:       b,
		name:    name,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		clients: make(map[*client]struct{}),
	}
	r, err := b.subscriber.CreateDataReader(desc, b.cfg.ReaderQos, dataListener{notify: st.notify}, dds.StatusDataAvailable)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "openStream", fmt.Sprintf("create reader for %q", name))
	}
	st.reader = r
	b.wg.Add(1)
	go st.run()
	return st, nil
}

// closeStream stops the stream and deletes its reader.
func (b *Bridge) closeStream(st *stream) {
	defer b.wg.Done()
	close(st.done)
	<-st.stopped
	if err := b.subscriber.DeleteDataReader(st.reader); err != nil {
		b.logger.Warn("delete reader", "topic", st.name, "error", err)
		return
	}
	b.logger.Info("topic stream closed", "topic", st.name)
}

// run takes samples as they arrive and fans them out to the clients.
func (st *stream) run() {
	defer st.b.wg.Done()
	defer close(st.stopped)
	st.drain()
	for {
		select {
		case <-st.done:
			return
		case <-st.notify:
			st.drain()
		}
	}
}

func (st *stream) drain() {
	samples, err := st.reader.Take(-1, dds.AnySampleState, dds.AnyViewState, dds.AnyInstanceState)
	if err != nil {
		if errors.Code(err) != errors.RetcodeNoData {
			st.b.logger.Debug("take samples", "topic", st.name, "error", err)
		}
		return
	}
	clients := st.b.clientsOf(st)
	for _, s := range samples {
		data, err := json.Marshal(NewFrame(st.name, s))
		if err != nil {
			st.b.metrics.errorInc("encode")
			continue
		}
		for _, c := range clients {
			c.enqueue(data)
		}
	}
}

// client is one WebSocket connection.
type client struct {
	b           *Bridge
	stream      *stream
	conn        *websocket.Conn
	queue       buffer.Buffer[[]byte]
	connectedAt time.Time
	done        chan struct{}

	writeMutex sync.Mutex
	closeOnce  sync.Once
	closed     atomic.Bool
}

func newClient(b *Bridge, st *stream, conn *websocket.Conn) (*client, error) {
	queue, err := buffer.NewCircularBuffer[[]byte](b.cfg.QueueSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) { b.metrics.dropped(st.name) }),
	)
	if err != nil {
		return nil, err
	}
	c := &client{
		b:           b,
		stream:      st,
		conn:        conn,
		queue:       queue,
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
	return c, nil
}

func (c *client) enqueue(frame []byte) {
	if c.closed.Load() {
		return
	}
	_ = c.queue.Write(frame)
}

// readLoop consumes control frames until the connection fails or the peer
// stops answering pings.
func (c *client) readLoop() {
	conn := c.conn
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(c.b.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.b.cfg.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			reason := "normal"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "read_error"
			}
			c.remove(reason)
			return
		}
	}
}

// writeLoop sends queued frames and pings.
func (c *client) writeLoop() {
	defer c.b.wg.Done()
	ticker := time.NewTicker(c.b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.queue.Ready():
			for _, frame := range c.queue.ReadBatch(c.b.cfg.QueueSize) {
				if err := c.send(websocket.TextMessage, frame); err != nil {
					c.b.metrics.errorInc("send")
					c.remove("write_error")
					return
				}
				c.b.metrics.sent(c.stream.name, len(frame))
			}
		case <-ticker.C:
			if err := c.send(websocket.PingMessage, nil); err != nil {
				c.remove("ping_error")
				return
			}
		}
	}
}

// send serializes writes; gorilla connections allow one writer at a time.
func (c *client) send(kind int, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.b.cfg.WriteTimeout))
	return c.conn.WriteMessage(kind, data)
}

// close sends a close frame and tears the client down. The read loop then
// fails and detaches it.
func (c *client) close(code int, text string) {
	c.writeMutex.Lock()
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMutex.Unlock()
	c.remove("server_close")
}

// remove detaches the client once and closes its connection.
func (c *client) remove(reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.queue.Close()
		_ = c.conn.Close()
		if reason == "normal" && time.Since(c.connectedAt) < 5*time.Second {
			reason = "early_disconnect"
		}
		c.b.detach(c, reason)
	})
}
