package discovery

import (
	"time"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

// DefaultLeaseDuration is the participant lease announced when none is set.
const DefaultLeaseDuration = 10 * time.Second

// ParticipantData is the SPDP announcement of a participant.
type ParticipantData struct {
	Prefix        rtps.GUIDPrefix      `json:"prefix"`
	DomainID      int                  `json:"domain_id"`
	Vendor        rtps.VendorID        `json:"-"`
	Version       rtps.ProtocolVersion `json:"-"`
	Name          string               `json:"name,omitempty"`
	UserData      []byte               `json:"user_data,omitempty"`
	LeaseDuration time.Duration        `json:"lease_duration"`
	Locators      []rtps.Locator       `json:"locators"`
}

// GUID returns the participant GUID.
func (p ParticipantData) GUID() rtps.GUID {
	return rtps.GUID{Prefix: p.Prefix, Entity: rtps.EntityIDParticipant}
}

// Encode serializes the announcement.
func (p ParticipantData) Encode() *rtps.ParameterList {
	pl := rtps.NewParameterList()
	pl.Add(rtps.PIDProtocolVersion, []byte{p.Version.Major, p.Version.Minor, 0, 0})
	pl.Add(rtps.PIDVendorID, []byte{p.Vendor[0], p.Vendor[1], 0, 0})
	pl.AddGUID(rtps.PIDParticipantGUID, p.GUID())
	pl.AddUint32(rtps.PIDDomainID, uint32(p.DomainID))
	pl.AddDuration(rtps.PIDParticipantLeaseDuration, p.LeaseDuration)
	pl.AddLocators(rtps.PIDDefaultUnicastLocator, p.Locators)
	if p.Name != "" {
		pl.AddString(rtps.PIDEntityName, p.Name)
	}
	addBytesIfAny(pl, rtps.PIDUserData, p.UserData)
	return pl
}

// DecodeParticipantData parses an SPDP announcement.
func DecodeParticipantData(pl *rtps.ParameterList) (ParticipantData, error) {
	p := ParticipantData{LeaseDuration: DefaultLeaseDuration}
	g, ok, err := pl.GUID(rtps.PIDParticipantGUID)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, errors.Fail(errors.RetcodeBadParameter, "discovery", "DecodeParticipantData", "missing participant guid")
	}
	p.Prefix = g.Prefix
	if v, ok := pl.Get(rtps.PIDProtocolVersion); ok && len(v) >= 2 {
		p.Version = rtps.ProtocolVersion{Major: v[0], Minor: v[1]}
	}
	if v, ok := pl.Get(rtps.PIDVendorID); ok && len(v) >= 2 {
		p.Vendor = rtps.VendorID{v[0], v[1]}
	}
	if d, ok, err := pl.Uint32(rtps.PIDDomainID); err != nil {
		return p, err
	} else if ok {
		p.DomainID = int(d)
	}
	if p.Locators, err = pl.Locators(rtps.PIDDefaultUnicastLocator); err != nil {
		return p, err
	}
	if name, ok, err := pl.String(rtps.PIDEntityName); err != nil {
		return p, err
	} else if ok {
		p.Name = name
	}
	return p, firstErr(
		getDuration(pl, rtps.PIDParticipantLeaseDuration, &p.LeaseDuration),
		getBytes(pl, rtps.PIDUserData, &p.UserData),
	)
}

// TopicData is the SEDP description of a topic.
type TopicData struct {
	Key      rtps.GUID    `json:"key"`
	Name     string       `json:"name"`
	TypeName string       `json:"type_name"`
	Qos      qos.TopicQos `json:"qos"`
}

// Encode serializes the topic description.
func (t TopicData) Encode() *rtps.ParameterList {
	pl := rtps.NewParameterList()
	pl.AddGUID(rtps.PIDEndpointGUID, t.Key)
	pl.AddString(rtps.PIDTopicName, t.Name)
	pl.AddString(rtps.PIDTypeName, t.TypeName)
	q := t.Qos
	putDurability(pl, q.Durability)
	putDurabilityService(pl, q.DurabilityService)
	pl.AddDuration(rtps.PIDDeadline, q.Deadline.Period)
	pl.AddDuration(rtps.PIDLatencyBudget, q.LatencyBudget.Duration)
	putLiveliness(pl, q.Liveliness)
	putReliability(pl, q.Reliability)
	pl.AddUint32(rtps.PIDDestinationOrder, uint32(q.DestinationOrder.Kind))
	putHistory(pl, q.History)
	putResourceLimits(pl, q.ResourceLimits)
	pl.AddInt32(rtps.PIDTransportPriority, q.TransportPriority.Value)
	pl.AddDuration(rtps.PIDLifespan, q.Lifespan.Duration)
	pl.AddUint32(rtps.PIDOwnership, uint32(q.Ownership.Kind))
	addBytesIfAny(pl, rtps.PIDTopicData, q.TopicData.Value)
	return pl
}

// DecodeTopicData parses a topic description.
func DecodeTopicData(pl *rtps.ParameterList) (TopicData, error) {
	t := TopicData{Qos: qos.DefaultTopicQos()}
	var err error
	if t.Key, t.Name, t.TypeName, err = endpointIdentity(pl); err != nil {
		return t, err
	}
	q := &t.Qos
	return t, firstErr(
		getDurability(pl, &q.Durability),
		getDurabilityService(pl, &q.DurabilityService),
		getDuration(pl, rtps.PIDDeadline, &q.Deadline.Period),
		getDuration(pl, rtps.PIDLatencyBudget, &q.LatencyBudget.Duration),
		getLiveliness(pl, &q.Liveliness),
		getReliability(pl, &q.Reliability),
		each(pl, rtps.PIDDestinationOrder, func(r *reader) { q.DestinationOrder.Kind = qos.DestinationOrderKind(r.i32()) }),
		getHistory(pl, &q.History),
		getResourceLimits(pl, &q.ResourceLimits),
		getInt32(pl, rtps.PIDTransportPriority, &q.TransportPriority.Value),
		getDuration(pl, rtps.PIDLifespan, &q.Lifespan.Duration),
		each(pl, rtps.PIDOwnership, func(r *reader) { q.Ownership.Kind = qos.OwnershipKind(r.i32()) }),
		getBytes(pl, rtps.PIDTopicData, &q.TopicData.Value),
	)
}

func endpointIdentity(pl *rtps.ParameterList) (rtps.GUID, string, string, error) {
	g, ok, err := pl.GUID(rtps.PIDEndpointGUID)
	if err != nil {
		return g, "", "", err
	}
	if !ok {
		return g, "", "", errors.Fail(errors.RetcodeBadParameter, "discovery", "decode", "missing endpoint guid")
	}
	name, ok, err := pl.String(rtps.PIDTopicName)
	if err != nil || !ok {
		return g, "", "", firstErr(err, errors.Fail(errors.RetcodeBadParameter, "discovery", "decode", "missing topic name"))
	}
	typeName, ok, err := pl.String(rtps.PIDTypeName)
	if err != nil || !ok {
		return g, "", "", firstErr(err, errors.Fail(errors.RetcodeBadParameter, "discovery", "decode", "missing type name"))
	}
	return g, name, typeName, nil
}

func putGroup(pl *rtps.ParameterList, pres qos.PresentationQosPolicy, part qos.PartitionQosPolicy, group qos.GroupDataQosPolicy) {
	putPresentation(pl, pres)
	if len(part.Name) > 0 {
		pl.AddStrings(rtps.PIDPartition, part.Name)
	}
	addBytesIfAny(pl, rtps.PIDGroupData, group.Value)
}

func getGroup(pl *rtps.ParameterList, pres *qos.PresentationQosPolicy, part *qos.PartitionQosPolicy, group *qos.GroupDataQosPolicy) error {
	names, ok, err := pl.Strings(rtps.PIDPartition)
	if err != nil {
		return err
	}
	if ok {
		part.Name = names
	}
	return firstErr(getPresentation(pl, pres), getBytes(pl, rtps.PIDGroupData, &group.Value))
}

// PublicationData is the SEDP description of a DataWriter.
type PublicationData struct {
	Key       rtps.GUID         `json:"key"`
	TopicName string            `json:"topic_name"`
	TypeName  string            `json:"type_name"`
	Writer    qos.DataWriterQos `json:"qos"`
	Publisher qos.PublisherQos  `json:"publisher_qos"`
	TopicData []byte            `json:"topic_data,omitempty"`
	Locators  []rtps.Locator    `json:"locators,omitempty"`
}

// Participant returns the prefix of the owning participant.
func (p PublicationData) Participant() rtps.GUIDPrefix { return p.Key.Prefix }

// Offered returns the QoS offered for matching.
func (p PublicationData) Offered() qos.Offered {
	return qos.Offered{Writer: p.Writer, Publisher: p.Publisher}
}

// Encode serializes the publication.
func (p PublicationData) Encode() *rtps.ParameterList {
	pl := rtps.NewParameterList()
	pl.AddGUID(rtps.PIDEndpointGUID, p.Key)
	pl.AddString(rtps.PIDTopicName, p.TopicName)
	pl.AddString(rtps.PIDTypeName, p.TypeName)
	w := p.Writer
	putDurability(pl, w.Durability)
	putDurabilityService(pl, w.DurabilityService)
	pl.AddDuration(rtps.PIDDeadline, w.Deadline.Period)
	pl.AddDuration(rtps.PIDLatencyBudget, w.LatencyBudget.Duration)
	putLiveliness(pl, w.Liveliness)
	putReliability(pl, w.Reliability)
	pl.AddUint32(rtps.PIDDestinationOrder, uint32(w.DestinationOrder.Kind))
	putHistory(pl, w.History)
	putResourceLimits(pl, w.ResourceLimits)
	pl.AddInt32(rtps.PIDTransportPriority, w.TransportPriority.Value)
	pl.AddDuration(rtps.PIDLifespan, w.Lifespan.Duration)
	pl.AddUint32(rtps.PIDOwnership, uint32(w.Ownership.Kind))
	pl.AddInt32(rtps.PIDOwnershipStrength, w.OwnershipStrength.Value)
	pl.AddBool(rtps.PIDWriterDataLifecycle, w.WriterDataLifecycle.AutodisposeUnregisteredInstances)
	addBytesIfAny(pl, rtps.PIDUserData, w.UserData.Value)
	addBytesIfAny(pl, rtps.PIDTopicData, p.TopicData)
	putGroup(pl, p.Publisher.Presentation, p.Publisher.Partition, p.Publisher.GroupData)
	pl.AddLocators(rtps.PIDUnicastLocator, p.Locators)
	return pl
}

// DecodePublicationData parses a publication. Absent policies keep the
// DDS defaults.
func DecodePublicationData(pl *rtps.ParameterList) (PublicationData, error) {
	p := PublicationData{Writer: qos.DefaultDataWriterQos(), Publisher: qos.DefaultPublisherQos()}
	var err error
	if p.Key, p.TopicName, p.TypeName, err = endpointIdentity(pl); err != nil {
		return p, err
	}
	if p.Locators, err = pl.Locators(rtps.PIDUnicastLocator); err != nil {
		return p, err
	}
	w := &p.Writer
	return p, firstErr(
		getDurability(pl, &w.Durability),
		getDurabilityService(pl, &w.DurabilityService),
		getDuration(pl, rtps.PIDDeadline, &w.Deadline.Period),
		getDuration(pl, rtps.PIDLatencyBudget, &w.LatencyBudget.Duration),
		getLiveliness(pl, &w.Liveliness),
		getReliability(pl, &w.Reliability),
		each(pl, rtps.PIDDestinationOrder, func(r *reader) { w.DestinationOrder.Kind = qos.DestinationOrderKind(r.i32()) }),
		getHistory(pl, &w.History),
		getResourceLimits(pl, &w.ResourceLimits),
		getInt32(pl, rtps.PIDTransportPriority, &w.TransportPriority.Value),
		getDuration(pl, rtps.PIDLifespan, &w.Lifespan.Duration),
		each(pl, rtps.PIDOwnership, func(r *reader) { w.Ownership.Kind = qos.OwnershipKind(r.i32()) }),
		getInt32(pl, rtps.PIDOwnershipStrength, &w.OwnershipStrength.Value),
		each(pl, rtps.PIDWriterDataLifecycle, func(r *reader) {
			w.WriterDataLifecycle.AutodisposeUnregisteredInstances = r.flag()
		}),
		getBytes(pl, rtps.PIDUserData, &w.UserData.Value),
		getBytes(pl, rtps.PIDTopicData, &p.TopicData),
		getGroup(pl, &p.Publisher.Presentation, &p.Publisher.Partition, &p.Publisher.GroupData),
	)
}

// ContentFilter describes the filter of a reader created on a
// content-filtered topic. Writers may use it to filter at the source.
type ContentFilter struct {
	TopicName    string   `json:"content_filtered_topic_name"`
	RelatedTopic string   `json:"related_topic_name"`
	Expression   string   `json:"filter_expression"`
	Parameters   []string `json:"expression_parameters,omitempty"`
}

func (c *ContentFilter) encode(pl *rtps.ParameterList) {
	var buf []byte
	for _, s := range append([]string{c.TopicName, c.RelatedTopic, c.Expression}, c.Parameters...) {
		buf = orderOf(pl).AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	pl.AddBytes(rtps.PIDContentFilter, buf)
}

func decodeContentFilter(pl *rtps.ParameterList) (*ContentFilter, error) {
	raw, ok, err := pl.Bytes(rtps.PIDContentFilter)
	if err != nil || !ok {
		return nil, err
	}
	var parts []string
	r := &reader{id: rtps.PIDContentFilter, order: orderOf(pl), b: raw}
	for r.off < len(raw) && r.err == nil {
		n := int(r.u32())
		if !r.need(n) {
			break
		}
		parts = append(parts, string(raw[r.off:r.off+n]))
		r.off += n
	}
	if r.err != nil {
		return nil, r.err
	}
	if len(parts) < 3 {
		return nil, errors.Fail(errors.RetcodeBadParameter, "discovery", "decode", "content filter is incomplete")
	}
	return &ContentFilter{TopicName: parts[0], RelatedTopic: parts[1], Expression: parts[2], Parameters: parts[3:]}, nil
}

// SubscriptionData is the SEDP description of a DataReader.
type SubscriptionData struct {
	Key        rtps.GUID         `json:"key"`
	TopicName  string            `json:"topic_name"`
	TypeName   string            `json:"type_name"`
	Reader     qos.DataReaderQos `json:"qos"`
	Subscriber qos.SubscriberQos `json:"subscriber_qos"`
	TopicData  []byte            `json:"topic_data,omitempty"`
	Filter     *ContentFilter    `json:"content_filter,omitempty"`
	Locators   []rtps.Locator    `json:"locators,omitempty"`
}

// Participant returns the prefix of the owning participant.
func (s SubscriptionData) Participant() rtps.GUIDPrefix { return s.Key.Prefix }

// Requested returns the QoS requested for matching.
func (s SubscriptionData) Requested() qos.Requested {
	return qos.Requested{Reader: s.Reader, Subscriber: s.Subscriber}
}

// Encode serializes the subscription.
func (s SubscriptionData) Encode() *rtps.ParameterList {
	pl := rtps.NewParameterList()
	pl.AddGUID(rtps.PIDEndpointGUID, s.Key)
	pl.AddString(rtps.PIDTopicName, s.TopicName)
	pl.AddString(rtps.PIDTypeName, s.TypeName)
	r := s.Reader
	putDurability(pl, r.Durability)
	pl.AddDuration(rtps.PIDDeadline, r.Deadline.Period)
	pl.AddDuration(rtps.PIDLatencyBudget, r.LatencyBudget.Duration)
	putLiveliness(pl, r.Liveliness)
	putReliability(pl, r.Reliability)
	pl.AddUint32(rtps.PIDDestinationOrder, uint32(r.DestinationOrder.Kind))
	putHistory(pl, r.History)
	putResourceLimits(pl, r.ResourceLimits)
	pl.AddUint32(rtps.PIDOwnership, uint32(r.Ownership.Kind))
	pl.AddDuration(rtps.PIDTimeBasedFilter, r.TimeBasedFilter.MinimumSeparation)
	addBytesIfAny(pl, rtps.PIDUserData, r.UserData.Value)
	addBytesIfAny(pl, rtps.PIDTopicData, s.TopicData)
	putGroup(pl, s.Subscriber.Presentation, s.Subscriber.Partition, s.Subscriber.GroupData)
	if s.Filter != nil {
		s.Filter.encode(pl)
	}
	pl.AddLocators(rtps.PIDUnicastLocator, s.Locators)
	return pl
}

// DecodeSubscriptionData parses a subscription. Absent policies keep the
// DDS defaults.
func DecodeSubscriptionData(pl *rtps.ParameterList) (SubscriptionData, error) {
	s := SubscriptionData{Reader: qos.DefaultDataReaderQos(), Subscriber: qos.DefaultSubscriberQos()}
	var err error
	if s.Key, s.TopicName, s.TypeName, err = endpointIdentity(pl); err != nil {
		return s, err
	}
	if s.Locators, err = pl.Locators(rtps.PIDUnicastLocator); err != nil {
		return s, err
	}
	if s.Filter, err = decodeContentFilter(pl); err != nil {
		return s, err
	}
	r := &s.Reader
	return s, firstErr(
		getDurability(pl, &r.Durability),
		getDuration(pl, rtps.PIDDeadline, &r.Deadline.Period),
		getDuration(pl, rtps.PIDLatencyBudget, &r.LatencyBudget.Duration),
		getLiveliness(pl, &r.Liveliness),
		getReliability(pl, &r.Reliability),
		each(pl, rtps.PIDDestinationOrder, func(x *reader) { r.DestinationOrder.Kind = qos.DestinationOrderKind(x.i32()) }),
		getHistory(pl, &r.History),
		getResourceLimits(pl, &r.ResourceLimits),
		each(pl, rtps.PIDOwnership, func(x *reader) { r.Ownership.Kind = qos.OwnershipKind(x.i32()) }),
		getDuration(pl, rtps.PIDTimeBasedFilter, &r.TimeBasedFilter.MinimumSeparation),
		getBytes(pl, rtps.PIDUserData, &r.UserData.Value),
		getBytes(pl, rtps.PIDTopicData, &s.TopicData),
		getGroup(pl, &s.Subscriber.Presentation, &s.Subscriber.Partition, &s.Subscriber.GroupData),
	)
}
