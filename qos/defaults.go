package qos

import "time"

// DefaultMaxBlockingTime is the writer's default reliable blocking bound.
const DefaultMaxBlockingTime = 100 * time.Millisecond

func defaultDurabilityService() DurabilityServiceQosPolicy {
	return DurabilityServiceQosPolicy{
		HistoryKind:           KeepLastHistory,
		HistoryDepth:          1,
		MaxSamples:            LengthUnlimited,
		MaxInstances:          LengthUnlimited,
		MaxSamplesPerInstance: LengthUnlimited,
	}
}

func unlimited() ResourceLimitsQosPolicy {
	return ResourceLimitsQosPolicy{
		MaxSamples:            LengthUnlimited,
		MaxInstances:          LengthUnlimited,
		MaxSamplesPerInstance: LengthUnlimited,
	}
}

// DefaultParticipantFactoryQos returns the factory defaults.
func DefaultParticipantFactoryQos() ParticipantFactoryQos {
	return ParticipantFactoryQos{EntityFactory: EntityFactoryQosPolicy{AutoenableCreatedEntities: true}}
}

// DefaultParticipantQos returns the participant defaults.
func DefaultParticipantQos() ParticipantQos {
	return ParticipantQos{EntityFactory: EntityFactoryQosPolicy{AutoenableCreatedEntities: true}}
}

// DefaultTopicQos returns the topic defaults.
func DefaultTopicQos() TopicQos {
	return TopicQos{
		Durability:        DurabilityQosPolicy{Kind: VolatileDurability},
		DurabilityService: defaultDurabilityService(),
		Deadline:          DeadlineQosPolicy{Period: Infinite},
		Liveliness:        LivelinessQosPolicy{Kind: AutomaticLiveliness, LeaseDuration: Infinite},
		Reliability:       ReliabilityQosPolicy{Kind: BestEffortReliability, MaxBlockingTime: DefaultMaxBlockingTime},
		DestinationOrder:  DestinationOrderQosPolicy{Kind: ByReceptionTimestampDestinationOrder},
		History:           HistoryQosPolicy{Kind: KeepLastHistory, Depth: 1},
		ResourceLimits:    unlimited(),
		Lifespan:          LifespanQosPolicy{Duration: Infinite},
		Ownership:         OwnershipQosPolicy{Kind: SharedOwnership},
	}
}

// DefaultPublisherQos returns the publisher defaults.
func DefaultPublisherQos() PublisherQos {
	return PublisherQos{
		Presentation:  PresentationQosPolicy{AccessScope: InstancePresentation},
		EntityFactory: EntityFactoryQosPolicy{AutoenableCreatedEntities: true},
	}
}

// DefaultSubscriberQos returns the subscriber defaults.
func DefaultSubscriberQos() SubscriberQos {
	return SubscriberQos{
		Presentation:  PresentationQosPolicy{AccessScope: InstancePresentation},
		EntityFactory: EntityFactoryQosPolicy{AutoenableCreatedEntities: true},
	}
}

// DefaultDataWriterQos returns the writer defaults. Writers are reliable.
func DefaultDataWriterQos() DataWriterQos {
	return DataWriterQos{
		Durability:          DurabilityQosPolicy{Kind: VolatileDurability},
		DurabilityService:   defaultDurabilityService(),
		Deadline:            DeadlineQosPolicy{Period: Infinite},
		Liveliness:          LivelinessQosPolicy{Kind: AutomaticLiveliness, LeaseDuration: Infinite},
		Reliability:         ReliabilityQosPolicy{Kind: ReliableReliability, MaxBlockingTime: DefaultMaxBlockingTime},
		DestinationOrder:    DestinationOrderQosPolicy{Kind: ByReceptionTimestampDestinationOrder},
		History:             HistoryQosPolicy{Kind: KeepLastHistory, Depth: 1},
		ResourceLimits:      unlimited(),
		Lifespan:            LifespanQosPolicy{Duration: Infinite},
		Ownership:           OwnershipQosPolicy{Kind: SharedOwnership},
		WriterDataLifecycle: WriterDataLifecycleQosPolicy{AutodisposeUnregisteredInstances: true},
	}
}

// DefaultDataReaderQos returns the reader defaults. Readers are best effort.
func DefaultDataReaderQos() DataReaderQos {
	return DataReaderQos{
		Durability:       DurabilityQosPolicy{Kind: VolatileDurability},
		Deadline:         DeadlineQosPolicy{Period: Infinite},
		Liveliness:       LivelinessQosPolicy{Kind: AutomaticLiveliness, LeaseDuration: Infinite},
		Reliability:      ReliabilityQosPolicy{Kind: BestEffortReliability, MaxBlockingTime: DefaultMaxBlockingTime},
		DestinationOrder: DestinationOrderQosPolicy{Kind: ByReceptionTimestampDestinationOrder},
		History:          HistoryQosPolicy{Kind: KeepLastHistory, Depth: 1},
		ResourceLimits:   unlimited(),
		Ownership:        OwnershipQosPolicy{Kind: SharedOwnership},
		ReaderDataLifecycle: ReaderDataLifecycleQosPolicy{
			AutopurgeNoWriterSamplesDelay: Infinite,
			AutopurgeDisposedSamplesDelay: Infinite,
		},
	}
}
