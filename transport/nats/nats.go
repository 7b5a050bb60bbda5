// Package nats carries RTPS messages over NATS subjects. Each domain has a
// multicast subject that every participant subscribes to, and each
// participant has a unicast subject named after its GUID prefix.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/natsclient"
	"github.com/c360/semdds/pkg/retry"
	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
)

// Kind is the registered transport kind.
const Kind = "nats"

// DefaultURL is used when an instance has no url option.
const DefaultURL = "nats://127.0.0.1:4222"

// MulticastSubject is the subject shared by every participant in a domain.
func MulticastSubject(domain int) string {
	return fmt.Sprintf("semdds.%d.spdp", domain)
}

// UnicastSubject is the subject of one participant.
func UnicastSubject(domain int, prefix rtps.GUIDPrefix) string {
	return fmt.Sprintf("semdds.%d.p.%s", domain, prefix)
}

// Transport publishes RTPS messages on NATS.
type Transport struct {
	url    string
	client *natsclient.Client
	owned  bool

	mu     sync.Mutex
	b      transport.Binding
	logger *slog.Logger
	subs   []natsclient.Subscription
	prefix rtps.GUIDPrefix
	start  bool
}

// NewFactory returns a factory whose transports share client. A nil client
// makes each transport dial the instance's url option.
func NewFactory(client *natsclient.Client) transport.Factory {
	return func(inst *transport.Inst) (transport.Transport, error) {
		return &Transport{
			url:    inst.Option("url", DefaultURL),
			client: client,
		}, nil
	}
}

// Factory creates transports that own their connection.
func Factory(inst *transport.Inst) (transport.Transport, error) {
	return NewFactory(nil)(inst)
}

// Kind implements transport.Transport.
func (t *Transport) Kind() string { return Kind }

// Start connects if needed and subscribes to the domain and unicast subjects.
func (t *Transport) Start(ctx context.Context, b transport.Binding) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start {
		return errors.ErrAlreadyStarted
	}
	if b.Handler == nil {
		return errors.Fail(errors.RetcodeBadParameter, "nats", "Start", "handler is required")
	}
	t.b = b
	t.logger = b.Logger
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("transport", Kind)

	if t.client == nil {
		client, err := natsclient.NewClient(t.url,
			natsclient.WithName("semdds-"+b.Prefix.String()),
			natsclient.WithLogger(t.logger))
		if err != nil {
			return errors.WrapInvalid(err, "nats", "Start", "create client")
		}
		if err := client.ConnectWithRetry(ctx, retry.Quick()); err != nil {
			return errors.WrapTransient(err, "nats", "Start", "connect "+t.url)
		}
		t.client, t.owned = client, true
	}

	subCtx := context.WithoutCancel(ctx)
	handler := func(ctx context.Context, data []byte) {
		b.Metrics.RecordTransport(Kind, "in", len(data))
		b.Handler(ctx, data)
	}
	for _, subject := range []string{MulticastSubject(b.DomainID), UnicastSubject(b.DomainID, b.Prefix)} {
		sub, err := t.client.Subscribe(subCtx, subject, handler)
		if err != nil {
			t.unsubscribe()
			t.closeOwned(ctx)
			return errors.Wrap(err, "nats", "Start", "subscribe "+subject)
		}
		t.subs = append(t.subs, sub)
	}
	t.prefix = b.Prefix
	t.start = true
	t.logger.Info("nats transport started", "url", t.client.URL(), "subject", UnicastSubject(b.DomainID, b.Prefix))
	return nil
}

// Locators advertises the participant prefix as a NATS locator.
func (t *Transport) Locators() []rtps.Locator {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.start {
		return nil
	}
	return []rtps.Locator{rtps.NewPrefixLocator(rtps.LocatorKindNATS, t.prefix)}
}

// Send publishes to the domain subject or to each destination participant.
func (t *Transport) Send(ctx context.Context, dst transport.Destination, data []byte) error {
	t.mu.Lock()
	started, b, client := t.start, t.b, t.client
	t.mu.Unlock()
	if !started {
		return errors.ErrNotStarted
	}
	var subjects []string
	if dst.Multicast {
		subjects = []string{MulticastSubject(b.DomainID)}
	} else {
		seen := make(map[rtps.GUIDPrefix]bool)
		for _, l := range dst.LocatorsOfKind(rtps.LocatorKindNATS) {
			if p := l.Prefix(); !seen[p] {
				seen[p] = true
				subjects = append(subjects, UnicastSubject(b.DomainID, p))
			}
		}
		if !dst.Prefix.IsUnknown() && !seen[dst.Prefix] {
			subjects = append(subjects, UnicastSubject(b.DomainID, dst.Prefix))
		}
	}
	for _, subject := range subjects {
		if err := client.Publish(ctx, subject, data); err != nil {
			b.Metrics.RecordTransportError(Kind, "publish")
			return err
		}
		b.Metrics.RecordTransport(Kind, "out", len(data))
	}
	return nil
}

// Stop unsubscribes and closes an owned connection.
func (t *Transport) Stop(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.start {
		return nil
	}
	t.start = false
	t.unsubscribe()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.closeOwned(ctx)
}

func (t *Transport) unsubscribe() {
	for _, sub := range t.subs {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Debug("unsubscribe failed", "error", err)
		}
	}
	t.subs = nil
}

func (t *Transport) closeOwned(ctx context.Context) error {
	if !t.owned || t.client == nil {
		return nil
	}
	err := t.client.Close(ctx)
	t.client, t.owned = nil, false
	if err != nil {
		return errors.WrapTransient(err, "nats", "Stop", "close connection")
	}
	return nil
}
