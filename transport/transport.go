// Package transport carries encoded RTPS messages between participants.
// Transport kinds are registered as factories on an explicitly constructed
// Registry; named instances are grouped into configs, and a participant
// builds its transports from the config bound to it or the global config.
package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/semdds/metric"
	"github.com/c360/semdds/rtps"
)

// Handler receives every message that arrives on a transport.
type Handler func(ctx context.Context, data []byte)

// Binding attaches a transport to one participant.
type Binding struct {
	DomainID int
	Prefix   rtps.GUIDPrefix
	// ParticipantID is the first participant id tried for unicast ports.
	ParticipantID int
	Handler       Handler
	Logger        *slog.Logger
	Metrics       *metric.Metrics
}

// Destination addresses a send. Multicast reaches every participant in the
// domain; otherwise the message goes to the locators this transport
// understands, or to Prefix when the transport addresses by prefix.
type Destination struct {
	Prefix    rtps.GUIDPrefix
	Locators  []rtps.Locator
	Multicast bool
}

// MulticastDestination addresses every participant in the domain.
func MulticastDestination() Destination {
	return Destination{Multicast: true}
}

// LocatorsOfKind filters the destination locators.
func (d Destination) LocatorsOfKind(kind int32) []rtps.Locator {
	var out []rtps.Locator
	for _, l := range d.Locators {
		if l.Kind == kind {
			out = append(out, l)
		}
	}
	return out
}

// Transport moves bytes for one participant.
type Transport interface {
	Kind() string
	Start(ctx context.Context, b Binding) error
	// Locators returns the unicast locators advertised in discovery.
	Locators() []rtps.Locator
	Send(ctx context.Context, dst Destination, data []byte) error
	Stop(timeout time.Duration) error
}

// Factory creates a transport for an instance.
type Factory func(inst *Inst) (Transport, error)

// Inst is a named, configured transport instance.
type Inst struct {
	Name        string
	Kind        string
	Options     map[string]string
	MaxSendRate float64
	Burst       int
}

// Option returns an instance option or def.
func (i *Inst) Option(key, def string) string {
	if v, ok := i.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Config is an ordered list of instances.
type Config struct {
	Name                   string
	Instances              []*Inst
	PassiveConnectDuration time.Duration
}

// Insert appends an instance.
func (c *Config) Insert(inst *Inst) {
	c.Instances = append(c.Instances, inst)
}

// SortedInsert inserts an instance keeping the list ordered by name.
func (c *Config) SortedInsert(inst *Inst) {
	i := 0
	for i < len(c.Instances) && c.Instances[i].Name <= inst.Name {
		i++
	}
	c.Instances = append(c.Instances, nil)
	copy(c.Instances[i+1:], c.Instances[i:])
	c.Instances[i] = inst
}

// Remove drops an instance by name and reports whether it was present.
func (c *Config) Remove(name string) bool {
	for i, inst := range c.Instances {
		if inst.Name == name {
			c.Instances = append(c.Instances[:i], c.Instances[i+1:]...)
			return true
		}
	}
	return false
}
