// Package inproc connects participants living in the same process. A Hub
// plays the role of the network: every participant bound to the same hub
// and domain can reach every other one.
package inproc

import (
	"context"
	"sync"
	"time"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/pkg/worker"
	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
)

// Kind is the registered transport kind.
const Kind = "inproc"

const defaultQueueSize = 4096

// DropFunc decides whether a message from one participant to another is
// lost. It lets tests inject loss.
type DropFunc func(from, to rtps.GUIDPrefix, data []byte) bool

// Hub routes messages between in-process endpoints.
type Hub struct {
	mu      sync.RWMutex
	domains map[int]map[rtps.GUIDPrefix]*endpoint
	drop    DropFunc
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{domains: make(map[int]map[rtps.GUIDPrefix]*endpoint)}
}

// SetDropFunc installs a loss function; nil disables loss.
func (h *Hub) SetDropFunc(fn DropFunc) {
	h.mu.Lock()
	h.drop = fn
	h.mu.Unlock()
}

// Factory returns a transport factory bound to this hub.
func (h *Hub) Factory() transport.Factory {
	return func(inst *transport.Inst) (transport.Transport, error) {
		return &Transport{hub: h, name: inst.Name}, nil
	}
}

// Participants returns the number of endpoints bound in a domain.
func (h *Hub) Participants(domain int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.domains[domain])
}

func (h *Hub) attach(e *endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.domains[e.domain]
	if !ok {
		peers = make(map[rtps.GUIDPrefix]*endpoint)
		h.domains[e.domain] = peers
	}
	if _, dup := peers[e.prefix]; dup {
		return errors.Failf(errors.RetcodePreconditionNotMet, "inproc", "Start", "prefix %s already bound", e.prefix)
	}
	peers[e.prefix] = e
	return nil
}

func (h *Hub) detach(e *endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.domains[e.domain]; ok && peers[e.prefix] == e {
		delete(peers, e.prefix)
		if len(peers) == 0 {
			delete(h.domains, e.domain)
		}
	}
}

// targets resolves the endpoints a send reaches, after loss injection.
func (h *Hub) targets(from *endpoint, dst transport.Destination, data []byte) []*endpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := h.domains[from.domain]
	var out []*endpoint
	add := func(e *endpoint) {
		if e == nil {
			return
		}
		if h.drop != nil && h.drop(from.prefix, e.prefix, data) {
			return
		}
		out = append(out, e)
	}
	if dst.Multicast {
		for _, e := range peers {
			add(e)
		}
		return out
	}
	seen := make(map[rtps.GUIDPrefix]bool)
	for _, l := range dst.LocatorsOfKind(rtps.LocatorKindInproc) {
		p := l.Prefix()
		if !seen[p] {
			seen[p] = true
			add(peers[p])
		}
	}
	if !dst.Prefix.IsUnknown() && !seen[dst.Prefix] {
		add(peers[dst.Prefix])
	}
	return out
}

type endpoint struct {
	domain int
	prefix rtps.GUIDPrefix
	pool   *worker.Pool[[]byte]
}

// Transport is one participant's attachment to a hub.
type Transport struct {
	hub    *Hub
	name   string
	mu     sync.Mutex
	ep     *endpoint
	cancel context.CancelFunc
	b      transport.Binding
}

// Kind implements transport.Transport.
func (t *Transport) Kind() string { return Kind }

// Start binds the participant to the hub. Delivery runs on a single worker
// so messages from the hub arrive in order.
func (t *Transport) Start(ctx context.Context, b transport.Binding) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ep != nil {
		return errors.ErrAlreadyStarted
	}
	if b.Handler == nil {
		return errors.Fail(errors.RetcodeBadParameter, "inproc", "Start", "handler is required")
	}
	handler := b.Handler
	metrics := b.Metrics
	pool := worker.NewPool[[]byte](1, defaultQueueSize, func(ctx context.Context, data []byte) error {
		metrics.RecordTransport(Kind, "in", len(data))
		handler(ctx, data)
		return nil
	})
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := pool.Start(runCtx); err != nil {
		cancel()
		return errors.Wrap(err, "inproc", "Start", "start delivery worker")
	}
	ep := &endpoint{domain: b.DomainID, prefix: b.Prefix, pool: pool}
	if err := t.hub.attach(ep); err != nil {
		_ = pool.Stop(time.Second)
		cancel()
		return err
	}
	t.ep, t.cancel, t.b = ep, cancel, b
	return nil
}

// Locators advertises the participant prefix.
func (t *Transport) Locators() []rtps.Locator {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ep == nil {
		return nil
	}
	return []rtps.Locator{rtps.NewPrefixLocator(rtps.LocatorKindInproc, t.ep.prefix)}
}

// Send delivers a copy of data to every reachable endpoint. A full delivery
// queue drops the message, as a congested network would.
func (t *Transport) Send(_ context.Context, dst transport.Destination, data []byte) error {
	t.mu.Lock()
	ep, b := t.ep, t.b
	t.mu.Unlock()
	if ep == nil {
		return errors.ErrNotStarted
	}
	b.Metrics.RecordTransport(Kind, "out", len(data))
	for _, target := range t.hub.targets(ep, dst, data) {
		msg := make([]byte, len(data))
		copy(msg, data)
		if err := target.pool.Submit(msg); err != nil {
			b.Metrics.RecordTransportError(Kind, "deliver")
			if b.Logger != nil {
				b.Logger.Debug("inproc delivery dropped", "to", target.prefix.String(), "error", err)
			}
		}
	}
	return nil
}

// Stop detaches from the hub and drains pending deliveries.
func (t *Transport) Stop(timeout time.Duration) error {
	t.mu.Lock()
	ep, cancel := t.ep, t.cancel
	t.ep, t.cancel = nil, nil
	t.mu.Unlock()
	if ep == nil {
		return nil
	}
	t.hub.detach(ep)
	err := ep.pool.Stop(timeout)
	cancel()
	if err != nil {
		return errors.WrapTransient(err, "inproc", "Stop", "drain deliveries")
	}
	return nil
}
