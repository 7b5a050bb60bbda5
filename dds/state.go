package dds

import (
	"strings"
	"time"
)

// InstanceHandle identifies an entity, a remote entity or an instance
// within the participant factory that issued it.
type InstanceHandle int64

// HandleNil is the handle of nothing.
const HandleNil InstanceHandle = 0

// SampleStateKind tells whether a sample has been read.
type SampleStateKind uint32

const (
	ReadSampleState    SampleStateKind = 1 << 0
	NotReadSampleState SampleStateKind = 1 << 1
	AnySampleState                     = ReadSampleState | NotReadSampleState
)

// ViewStateKind tells whether a sample is the first one seen of its
// instance generation.
type ViewStateKind uint32

const (
	NewViewState    ViewStateKind = 1 << 0
	NotNewViewState ViewStateKind = 1 << 1
	AnyViewState                  = NewViewState | NotNewViewState
)

// InstanceStateKind is the liveliness of an instance as seen by a reader.
type InstanceStateKind uint32

const (
	AliveInstanceState             InstanceStateKind = 1 << 0
	NotAliveDisposedInstanceState  InstanceStateKind = 1 << 1
	NotAliveNoWritersInstanceState InstanceStateKind = 1 << 2
	NotAliveInstanceState                            = NotAliveDisposedInstanceState | NotAliveNoWritersInstanceState
	AnyInstanceState                                 = AliveInstanceState | NotAliveInstanceState
)

func (k SampleStateKind) String() string {
	return maskString(uint32(k), []string{"READ", "NOT_READ"})
}

func (k ViewStateKind) String() string {
	return maskString(uint32(k), []string{"NEW", "NOT_NEW"})
}

func (k InstanceStateKind) String() string {
	return maskString(uint32(k), []string{"ALIVE", "NOT_ALIVE_DISPOSED", "NOT_ALIVE_NO_WRITERS"})
}

func maskString(v uint32, names []string) string {
	var parts []string
	for i, n := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// SampleInfo accompanies every sample returned by read or take.
type SampleInfo struct {
	SampleState   SampleStateKind   `json:"sample_state"`
	ViewState     ViewStateKind     `json:"view_state"`
	InstanceState InstanceStateKind `json:"instance_state"`

	SourceTimestamp    time.Time `json:"source_timestamp"`
	ReceptionTimestamp time.Time `json:"reception_timestamp"`

	InstanceHandle    InstanceHandle `json:"instance_handle"`
	PublicationHandle InstanceHandle `json:"publication_handle"`

	DisposedGenerationCount  int32 `json:"disposed_generation_count"`
	NoWritersGenerationCount int32 `json:"no_writers_generation_count"`

	SampleRank             int32 `json:"sample_rank"`
	GenerationRank         int32 `json:"generation_rank"`
	AbsoluteGenerationRank int32 `json:"absolute_generation_rank"`

	// ValidData is false for samples that only carry an instance state
	// change; Data is then the key or nil.
	ValidData bool `json:"valid_data"`
}

// Sample is one returned data value with its info.
type Sample struct {
	Data []byte     `json:"data"`
	Info SampleInfo `json:"info"`
}
