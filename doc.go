// Package semdds is a data-centric publish/subscribe middleware modeled on
// the DDS data model: participants join a numbered domain, publish typed and
// keyed samples on named topics, and receive them through readers whose QoS
// decides what is delivered, kept and replayed.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   cmd/semdds, gateway/websocket     │  CLI and WebSocket bridge
//	└─────────────────────────────────────┘
//	           ↓ use
//	┌─────────────────────────────────────┐
//	│               dds                   │  Participants, topics, readers,
//	│  (entities, caches, conditions)     │  writers, listeners, wait sets
//	└─────────────────────────────────────┘
//	     ↓ matched by        ↓ persisted by
//	┌──────────────┐   ┌──────────────────┐
//	│  discovery   │   │   durability     │  memory, leveldb, JetStream KV
//	└──────────────┘   └──────────────────┘
//	           ↓ carried over
//	┌─────────────────────────────────────┐
//	│            transport                │  inproc, udp multicast, NATS
//	│      (rtps messages on the wire)    │
//	└─────────────────────────────────────┘
//
// # Packages
//
//   - dds: the entity model. A ParticipantFactory creates Participants per
//     domain; each owns Topics, Publishers with DataWriters and Subscribers
//     with DataReaders. Readers keep per-instance history, track sample,
//     view and instance states and support read, take and conditions.
//   - qos: every QoS policy with defaults, consistency checks, the
//     requested/offered compatibility rules and a YAML profile library.
//   - filter: the SQL-like expression language used by content-filtered
//     topics, query conditions and multi-topics.
//   - discovery: participant announcements with leases and endpoint
//     announcements that drive matching. Remote entities surface on the
//     built-in topics.
//   - rtps: GUIDs, sequence numbers, and the submessages exchanged between
//     participants.
//   - transport: the pluggable carriers and the registry that builds them
//     from configuration.
//   - durability: the stores behind TRANSIENT and PERSISTENT writers.
//   - gateway/websocket: streams topic samples to browsers as JSON frames.
//   - config, errors, metric, health, natsclient: the ambient stack.
//
// # Quick Start
//
//	registry := transport.NewRegistry()
//	hub := inproc.NewHub()
//	_ = registry.RegisterFactory(inproc.Kind, hub.Factory())
//	_ = registry.Configure(config.TransportConfig{Instances: []config.InstanceConfig{
//		{Name: "local", Kind: inproc.Kind},
//	}})
//
//	factory, _ := dds.NewParticipantFactory(dds.FactoryDeps{Registry: registry})
//	p, _ := factory.CreateParticipant(0, nil, nil, dds.StatusNone)
//
//	ts, _ := dds.NewJSONTypeSupport("Reading", dds.WithKeyFields("id"))
//	_ = p.RegisterType(ts)
//	topic, _ := p.CreateTopic("Sensors", "Reading", nil, nil, dds.StatusNone)
//
//	pub, _ := p.CreatePublisher(nil, nil, dds.StatusNone)
//	w, _ := pub.CreateDataWriter(topic, nil, nil, dds.StatusNone)
//	_ = w.Write([]byte(`{"id":1,"v":20.5}`))
//
// # Command Line
//
// cmd/semdds wraps a participant for shell use:
//
//	semdds --transport inproc subscribe -t Sensors --type Reading -k id
//	semdds publish -t Sensors --type Reading -k id --data '{"id":1,"v":2}'
//	semdds spy
//	semdds bridge --listen :8088
package semdds
