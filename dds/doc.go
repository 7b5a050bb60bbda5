// Package dds implements the Data Distribution Service entity model on top
// of the rtps wire protocol.
//
// # Entities
//
// A ParticipantFactory creates DomainParticipants. A participant joins one
// domain, owns the transports and the discovery service, and creates
// Topics, Publishers and Subscribers. Publishers create DataWriters and
// Subscribers create DataReaders. Every entity has a QoS, an optional
// listener with a status mask, and a StatusCondition.
//
// Entities are created disabled unless the parent's ENTITY_FACTORY policy
// enables them. Data operations on a disabled entity return an error
// carrying errors.RetcodeNotEnabled.
//
// # Samples
//
// Samples are opaque bytes described by a TypeSupport. JSONTypeSupport
// extracts key fields with gjson paths and hashes them into the RTPS key
// hash that identifies an instance. TypedWriter and TypedReader add
// encoding to and from Go values:
//
//	w := dds.NewTypedWriter[Reading](writer)
//	_ = w.Write(Reading{Sensor: "s1", Value: 21.5})
//
//	r := dds.NewTypedReader[Reading](reader)
//	samples, err := r.Take(-1, dds.AnySampleState, dds.AnyViewState, dds.AnyInstanceState)
//
// # Matching
//
// Writers and readers on the same topic match when their type names agree,
// they share a partition and every requested QoS policy is satisfied by the
// offered one. Matching covers local and remote endpoints alike; discovery
// feeds remote endpoints to the participant and the built-in topic readers.
//
// # Listeners and conditions
//
// Listener callbacks run on a single worker per participant, so they never
// run concurrently with each other. A status is dispatched to the nearest
// entity whose mask enables it. Readers can also be polled through a
// WaitSet with ReadConditions, QueryConditions and StatusConditions.
package dds
