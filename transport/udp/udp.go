// Package udp implements the RTPS UDPv4 transport: a shared multicast socket
// for discovery and multicast data, and a per-participant unicast socket
// whose port is derived from the domain and participant id.
package udp

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/pkg/buffer"
	"github.com/c360/semdds/pkg/retry"
	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
)

// Kind is the registered transport kind.
const Kind = "udp"

const (
	maxDatagram       = 65507
	readDeadline      = 100 * time.Millisecond
	socketBufferSize  = 2 * 1024 * 1024
	defaultBufferSize = 1024
	maxParticipantIDs = 120
	defaultTTL        = 1
)

// Transport is a UDPv4 RTPS transport.
type Transport struct {
	group      net.IP
	ifaceName  string
	address    string
	ttl        int
	bufferSize int

	b       transport.Binding
	logger  *slog.Logger
	mcast   *ipv4.PacketConn
	mconn   net.PacketConn
	ucast   *net.UDPConn
	local   rtps.Locator
	mport   int
	buf     buffer.Buffer[[]byte]
	running atomic.Bool
	dropped atomic.Int64

	mu       sync.Mutex
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Factory creates UDP transports from instance options:
// multicast_group, interface, address, ttl and buffer_size.
func Factory(inst *transport.Inst) (transport.Transport, error) {
	group := net.ParseIP(inst.Option("multicast_group", rtps.DefaultMulticast)).To4()
	if group == nil || !group.IsMulticast() {
		return nil, errors.Failf(errors.RetcodeBadParameter, "udp", "Factory", "invalid multicast group %q", inst.Option("multicast_group", ""))
	}
	ttl, err := strconv.Atoi(inst.Option("ttl", strconv.Itoa(defaultTTL)))
	if err != nil || ttl < 0 || ttl > 255 {
		return nil, errors.Failf(errors.RetcodeBadParameter, "udp", "Factory", "invalid ttl %q", inst.Option("ttl", ""))
	}
	size, err := strconv.Atoi(inst.Option("buffer_size", strconv.Itoa(defaultBufferSize)))
	if err != nil || size <= 0 {
		return nil, errors.Failf(errors.RetcodeBadParameter, "udp", "Factory", "invalid buffer_size %q", inst.Option("buffer_size", ""))
	}
	return &Transport{
		group:      group,
		ifaceName:  inst.Option("interface", ""),
		address:    inst.Option("address", ""),
		ttl:        ttl,
		bufferSize: size,
	}, nil
}

// Kind implements transport.Transport.
func (t *Transport) Kind() string { return Kind }

// Start opens both sockets and the read loops.
func (t *Transport) Start(ctx context.Context, b transport.Binding) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running.Load() {
		return errors.ErrAlreadyStarted
	}
	if b.Handler == nil {
		return errors.Fail(errors.RetcodeBadParameter, "udp", "Start", "handler is required")
	}
	t.b = b
	t.logger = b.Logger
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("transport", Kind)

	buf, err := buffer.NewCircularBuffer[[]byte](t.bufferSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			t.dropped.Add(1)
			b.Metrics.RecordTransportError(Kind, "overflow")
		}))
	if err != nil {
		return errors.Wrap(err, "udp", "Start", "create receive buffer")
	}
	t.buf = buf

	var ifi *net.Interface
	if t.ifaceName != "" {
		ifi, err = net.InterfaceByName(t.ifaceName)
		if err != nil {
			return errors.Failf(errors.RetcodeBadParameter, "udp", "Start", "interface %q: %v", t.ifaceName, err)
		}
	}

	if err := t.openMulticast(ctx, ifi); err != nil {
		return err
	}
	if err := t.openUnicast(ctx); err != nil {
		t.mconn.Close()
		return err
	}
	t.local = rtps.NewUDPv4Locator(advertisedIP(t.address, ifi), t.ucast.LocalAddr().(*net.UDPAddr).Port)

	t.shutdown = make(chan struct{})
	t.running.Store(true)
	t.wg.Add(3)
	go t.readLoop(t.mconn, "multicast")
	go t.readLoop(t.ucast, "unicast")
	go t.process(context.WithoutCancel(ctx))

	t.logger.Info("udp transport started",
		"multicast", net.JoinHostPort(t.group.String(), strconv.Itoa(t.mport)),
		"unicast", t.local.String())
	return nil
}

func (t *Transport) openMulticast(ctx context.Context, ifi *net.Interface) error {
	t.mport = rtps.SPDPMulticastPort(t.b.DomainID)
	lc := net.ListenConfig{Control: reuseControl}
	err := retry.Do(ctx, retry.Quick(), func() error {
		conn, err := lc.ListenPacket(ctx, "udp4", ":"+strconv.Itoa(t.mport))
		if err != nil {
			return err
		}
		t.mconn = conn
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "udp", "Start", "bind multicast port "+strconv.Itoa(t.mport))
	}
	if uc, ok := t.mconn.(*net.UDPConn); ok {
		_ = uc.SetReadBuffer(socketBufferSize)
	}
	p := ipv4.NewPacketConn(t.mconn)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: t.group}); err != nil {
		t.mconn.Close()
		return errors.WrapTransient(err, "udp", "Start", "join group "+t.group.String())
	}
	_ = p.SetMulticastLoopback(true)
	_ = p.SetMulticastTTL(t.ttl)
	if ifi != nil {
		_ = p.SetMulticastInterface(ifi)
	}
	t.mcast = p
	return nil
}

// openUnicast walks participant ids from the binding's until a port binds.
func (t *Transport) openUnicast(ctx context.Context) error {
	first := t.b.ParticipantID
	err := retry.DoAttempt(ctx, retry.Probe(maxParticipantIDs), func(attempt int) error {
		port := rtps.UserUnicastPort(t.b.DomainID, first+attempt)
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err != nil {
			return err
		}
		t.ucast = conn
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "udp", "Start", "bind unicast port")
	}
	_ = t.ucast.SetReadBuffer(socketBufferSize)
	// Outgoing multicast leaves through the unicast socket.
	up := ipv4.NewPacketConn(t.ucast)
	_ = up.SetMulticastLoopback(true)
	_ = up.SetMulticastTTL(t.ttl)
	return nil
}

// advertisedIP picks the address peers use to reach this host.
func advertisedIP(address string, ifi *net.Interface) net.IP {
	if ip := net.ParseIP(address).To4(); ip != nil {
		return ip
	}
	var addrs []net.Addr
	if ifi != nil {
		addrs, _ = ifi.Addrs()
	} else {
		addrs, _ = net.InterfaceAddrs()
	}
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok {
			if ip := n.IP.To4(); ip != nil && !ip.IsLoopback() {
				return ip
			}
		}
	}
	return net.IPv4(127, 0, 0, 1).To4()
}

func (t *Transport) readLoop(conn net.PacketConn, name string) {
	defer t.wg.Done()
	data := make([]byte, maxDatagram)
	for {
		select {
		case <-t.shutdown:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := conn.ReadFrom(data)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !t.running.Load() {
				return
			}
			t.b.Metrics.RecordTransportError(Kind, "read")
			t.logger.Debug("udp read failed", "socket", name, "error", err)
			continue
		}
		msg := make([]byte, n)
		copy(msg, data[:n])
		t.b.Metrics.RecordTransport(Kind, "in", n)
		if err := t.buf.Write(msg); err != nil {
			t.b.Metrics.RecordTransportError(Kind, "buffer")
		}
	}
}

func (t *Transport) process(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-t.shutdown:
			return
		case <-t.buf.Ready():
			for _, msg := range t.buf.ReadBatch(64) {
				t.b.Handler(ctx, msg)
			}
		}
	}
}

// Locators returns the unicast locator.
func (t *Transport) Locators() []rtps.Locator {
	if !t.running.Load() {
		return nil
	}
	return []rtps.Locator{t.local}
}

// Send writes data to the multicast group or to every UDPv4 locator of dst.
func (t *Transport) Send(_ context.Context, dst transport.Destination, data []byte) error {
	if !t.running.Load() {
		return errors.ErrNotStarted
	}
	var targets []*net.UDPAddr
	if dst.Multicast {
		targets = append(targets, &net.UDPAddr{IP: t.group, Port: t.mport})
	} else {
		for _, l := range dst.LocatorsOfKind(rtps.LocatorKindUDPv4) {
			if addr := l.UDPAddr(); addr != nil {
				targets = append(targets, addr)
			}
		}
	}
	var firstErr error
	for _, addr := range targets {
		n, err := t.ucast.WriteToUDP(data, addr)
		if err != nil {
			t.b.Metrics.RecordTransportError(Kind, "write")
			if firstErr == nil {
				firstErr = errors.WrapTransient(err, "udp", "Send", "write to "+addr.String())
			}
			continue
		}
		t.b.Metrics.RecordTransport(Kind, "out", n)
	}
	return firstErr
}

// Dropped returns how many received packets were evicted before processing.
func (t *Transport) Dropped() int64 {
	return t.dropped.Load()
}

// Stop closes the sockets and waits for the loops to exit.
func (t *Transport) Stop(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running.Swap(false) {
		return nil
	}
	close(t.shutdown)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.WrapTransient(errors.ErrShuttingDown, "udp", "Stop", "wait for read loops")
	}
	if t.mcast != nil {
		_ = t.mcast.LeaveGroup(nil, &net.UDPAddr{IP: t.group})
	}
	t.mconn.Close()
	t.ucast.Close()
	t.buf.Close()
	return err
}
