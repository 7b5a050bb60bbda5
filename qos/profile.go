package qos

import (
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/semdds/config"
	"github.com/c360/semdds/errors"
)

// Profile is a fully resolved set of entity QoS values.
type Profile struct {
	Name       string
	Topic      TopicQos
	Publisher  PublisherQos
	Subscriber SubscriberQos
	DataWriter DataWriterQos
	DataReader DataReaderQos
}

// DefaultProfile returns a profile holding the DDS defaults.
func DefaultProfile() Profile {
	return Profile{
		Name:       "default",
		Topic:      DefaultTopicQos(),
		Publisher:  DefaultPublisherQos(),
		Subscriber: DefaultSubscriberQos(),
		DataWriter: DefaultDataWriterQos(),
		DataReader: DefaultDataReaderQos(),
	}
}

// Check validates every entity QoS in the profile.
func (p Profile) Check() error {
	for _, err := range []error{
		CheckTopicQos(p.Topic),
		CheckPublisherQos(p.Publisher),
		CheckSubscriberQos(p.Subscriber),
		CheckDataWriterQos(p.DataWriter),
		CheckDataReaderQos(p.DataReader),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

type profileDoc struct {
	Name       string    `yaml:"name"`
	BaseName   string    `yaml:"base_name"`
	Topic      yaml.Node `yaml:"topic"`
	Publisher  yaml.Node `yaml:"publisher"`
	Subscriber yaml.Node `yaml:"subscriber"`
	DataWriter yaml.Node `yaml:"datawriter"`
	DataReader yaml.Node `yaml:"datareader"`
}

type libraryDoc struct {
	Profiles []profileDoc `yaml:"profiles"`
}

// Library holds named QoS profiles. Profiles inherit from base_name, which
// may name another profile in the library or a preset.
type Library struct {
	docs map[string]*profileDoc
}

func badProfile(method, format string, args ...any) error {
	return errors.Failf(errors.RetcodeBadParameter, "qos", method, format, args...)
}

// ParseLibrary decodes a YAML profile library:
//
//	profiles:
//	  - name: telemetry
//	    base_name: SensorData
//	    datawriter:
//	      history: {kind: keep_last, depth: 10}
//	      deadline: {period: infinite}
func ParseLibrary(data []byte) (*Library, error) {
	var doc libraryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrBadParameter, "qos", "ParseLibrary", "decode yaml: "+err.Error())
	}
	lib := &Library{docs: make(map[string]*profileDoc, len(doc.Profiles))}
	for i := range doc.Profiles {
		p := &doc.Profiles[i]
		if p.Name == "" {
			return nil, badProfile("ParseLibrary", "profile %d has no name", i)
		}
		if _, dup := lib.docs[p.Name]; dup {
			return nil, badProfile("ParseLibrary", "duplicate profile %q", p.Name)
		}
		for _, n := range []*yaml.Node{&p.Topic, &p.Publisher, &p.Subscriber, &p.DataWriter, &p.DataReader} {
			expandInfinite(n)
		}
		lib.docs[p.Name] = p
	}
	for name := range lib.docs {
		if _, err := lib.Profile(name); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// LoadLibrary reads and parses a profile library file.
func LoadLibrary(path string) (*Library, error) {
	data, err := config.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "qos", "LoadLibrary", "read profile library")
	}
	return ParseLibrary(data)
}

// Names lists the library's profiles in sorted order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.docs))
	for n := range l.docs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Profile resolves a profile through its base chain. Names that are not in
// the library resolve to presets.
func (l *Library) Profile(name string) (Profile, error) {
	return l.resolve(name, nil)
}

func (l *Library) resolve(name string, seen []string) (Profile, error) {
	if slices.Contains(seen, name) {
		return Profile{}, badProfile("Profile", "base_name cycle: %s", strings.Join(append(seen, name), " -> "))
	}
	var doc *profileDoc
	if l != nil {
		doc = l.docs[name]
	}
	if doc == nil {
		if p, ok := Preset(name); ok {
			return p, nil
		}
		return Profile{}, badProfile("Profile", "unknown profile %q", name)
	}

	p := DefaultProfile()
	if doc.BaseName != "" {
		base, err := l.resolve(doc.BaseName, append(seen, name))
		if err != nil {
			return Profile{}, err
		}
		p = base
	}
	p.Name = name

	overlays := []struct {
		node *yaml.Node
		out  any
	}{
		{&doc.Topic, &p.Topic},
		{&doc.Publisher, &p.Publisher},
		{&doc.Subscriber, &p.Subscriber},
		{&doc.DataWriter, &p.DataWriter},
		{&doc.DataReader, &p.DataReader},
	}
	for _, o := range overlays {
		if o.node.Kind == 0 {
			continue
		}
		if err := o.node.Decode(o.out); err != nil {
			return Profile{}, badProfile("Profile", "profile %q: %v", name, err)
		}
	}
	if err := p.Check(); err != nil {
		return Profile{}, errors.Wrap(err, "qos", "Profile", "check profile "+name)
	}
	return p, nil
}

// expandInfinite rewrites the scalar "infinite" as the largest duration.
func expandInfinite(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && strings.EqualFold(n.Value, "infinite") {
		n.Value = Infinite.String()
		n.Tag = "!!str"
		return
	}
	for _, c := range n.Content {
		expandInfinite(c)
	}
}
