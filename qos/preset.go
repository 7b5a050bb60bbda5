package qos

import "time"

// Preset names.
const (
	PresetSensorData      = "SensorData"
	PresetKeepAll         = "KeepAll"
	PresetTransientLocal  = "TransientLocal"
	PresetParameterEvents = "ParameterEvents"
	PresetReliable        = "Reliable"
)

var presets = map[string]func(*Profile){
	PresetSensorData: func(p *Profile) {
		p.DataWriter.Reliability.Kind = BestEffortReliability
		p.DataWriter.History = HistoryQosPolicy{Kind: KeepLastHistory, Depth: 5}
		p.DataReader.Reliability.Kind = BestEffortReliability
		p.DataReader.History = HistoryQosPolicy{Kind: KeepLastHistory, Depth: 5}
	},
	PresetKeepAll: func(p *Profile) {
		p.Topic.History = HistoryQosPolicy{Kind: KeepAllHistory, Depth: 1}
		p.DataWriter.History = HistoryQosPolicy{Kind: KeepAllHistory, Depth: 1}
		p.DataReader.History = HistoryQosPolicy{Kind: KeepAllHistory, Depth: 1}
		p.DataReader.Reliability.Kind = ReliableReliability
	},
	PresetTransientLocal: func(p *Profile) {
		p.Topic.Durability.Kind = TransientLocalDurability
		p.DataWriter.Durability.Kind = TransientLocalDurability
		p.DataWriter.History = HistoryQosPolicy{Kind: KeepLastHistory, Depth: 10}
		p.DataReader.Durability.Kind = TransientLocalDurability
		p.DataReader.Reliability.Kind = ReliableReliability
		p.DataReader.History = HistoryQosPolicy{Kind: KeepLastHistory, Depth: 10}
	},
	PresetParameterEvents: func(p *Profile) {
		p.DataWriter.History = HistoryQosPolicy{Kind: KeepLastHistory, Depth: 1000}
		p.DataWriter.Reliability = ReliabilityQosPolicy{Kind: ReliableReliability, MaxBlockingTime: time.Second}
		p.DataReader.History = HistoryQosPolicy{Kind: KeepLastHistory, Depth: 1000}
		p.DataReader.Reliability = ReliabilityQosPolicy{Kind: ReliableReliability, MaxBlockingTime: time.Second}
	},
	PresetReliable: func(p *Profile) {
		p.Topic.Reliability.Kind = ReliableReliability
		p.DataWriter.Reliability.Kind = ReliableReliability
		p.DataReader.Reliability.Kind = ReliableReliability
	},
}

// Preset returns a built-in profile by name.
func Preset(name string) (Profile, bool) {
	apply, ok := presets[name]
	if !ok {
		return Profile{}, false
	}
	p := DefaultProfile()
	p.Name = name
	apply(&p)
	return p, true
}
