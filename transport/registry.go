package transport

import (
	"slices"
	"sync"

	"github.com/c360/semdds/config"
	"github.com/c360/semdds/errors"
)

// DefaultConfigName names the config used when none is bound.
const DefaultConfigName = "default"

// Registry holds transport factories, instances and configs.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]*Inst
	configs   map[string]*Config
	bindings  map[string]string
	global    string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]*Inst),
		configs:   make(map[string]*Config),
		bindings:  make(map[string]string),
	}
}

// RegisterFactory makes a transport kind available.
func (r *Registry) RegisterFactory(kind string, f Factory) error {
	if kind == "" || f == nil {
		return errors.Fail(errors.RetcodeBadParameter, "transport", "RegisterFactory", "kind and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
	return nil
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// CreateInst defines a named instance of a registered kind.
func (r *Registry) CreateInst(name, kind string) (*Inst, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		return nil, errors.Fail(errors.RetcodeBadParameter, "transport", "CreateInst", "instance name is required")
	}
	if _, ok := r.factories[kind]; !ok {
		return nil, errors.Failf(errors.RetcodeBadParameter, "transport", "CreateInst", "unknown transport kind %q", kind)
	}
	if _, ok := r.instances[name]; ok {
		return nil, errors.Failf(errors.RetcodePreconditionNotMet, "transport", "CreateInst", "instance %q exists", name)
	}
	inst := &Inst{Name: name, Kind: kind, Options: map[string]string{}}
	r.instances[name] = inst
	return inst, nil
}

// GetInst returns an instance by name.
func (r *Registry) GetInst(name string) (*Inst, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// RemoveInst deletes an instance and drops it from every config.
func (r *Registry) RemoveInst(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[name]; !ok {
		return false
	}
	delete(r.instances, name)
	for _, c := range r.configs {
		c.Remove(name)
	}
	return true
}

// CreateConfig defines an empty named config.
func (r *Registry) CreateConfig(name string) (*Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		return nil, errors.Fail(errors.RetcodeBadParameter, "transport", "CreateConfig", "config name is required")
	}
	if _, ok := r.configs[name]; ok {
		return nil, errors.Failf(errors.RetcodePreconditionNotMet, "transport", "CreateConfig", "config %q exists", name)
	}
	c := &Config{Name: name}
	r.configs[name] = c
	return c, nil
}

// GetConfig returns a config by name.
func (r *Registry) GetConfig(name string) (*Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[name]
	return c, ok
}

// RemoveConfig deletes a config. The global config cannot be removed.
func (r *Registry) RemoveConfig(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[name]; !ok {
		return errors.Failf(errors.RetcodeBadParameter, "transport", "RemoveConfig", "unknown config %q", name)
	}
	if r.global == name {
		return errors.Failf(errors.RetcodePreconditionNotMet, "transport", "RemoveConfig", "config %q is global", name)
	}
	delete(r.configs, name)
	for k, v := range r.bindings {
		if v == name {
			delete(r.bindings, k)
		}
	}
	return nil
}

// GlobalConfig returns the config used by unbound participants.
func (r *Registry) GlobalConfig() (*Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[r.global]
	return c, ok
}

// SetGlobalConfig selects the global config.
func (r *Registry) SetGlobalConfig(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[name]; !ok {
		return errors.Failf(errors.RetcodeBadParameter, "transport", "SetGlobalConfig", "unknown config %q", name)
	}
	r.global = name
	return nil
}

// BindConfig binds a participant key to a config.
func (r *Registry) BindConfig(participantKey, configName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[configName]; !ok {
		return errors.Failf(errors.RetcodeBadParameter, "transport", "BindConfig", "unknown config %q", configName)
	}
	r.bindings[participantKey] = configName
	return nil
}

// ConfigFor returns the config name bound to a participant key, falling back
// to the global config.
func (r *Registry) ConfigFor(participantKey string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.bindings[participantKey]; ok {
		return name
	}
	return r.global
}

// Build creates one transport per instance of a config. Instances with a
// send rate are wrapped in RateLimited.
func (r *Registry) Build(configName string) ([]Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[configName]
	if !ok {
		return nil, errors.Failf(errors.RetcodeBadParameter, "transport", "Build", "unknown config %q", configName)
	}
	if len(c.Instances) == 0 {
		return nil, errors.Failf(errors.RetcodePreconditionNotMet, "transport", "Build", "config %q has no instances", configName)
	}
	out := make([]Transport, 0, len(c.Instances))
	for _, inst := range c.Instances {
		f, ok := r.factories[inst.Kind]
		if !ok {
			return nil, errors.Failf(errors.RetcodeBadParameter, "transport", "Build", "unknown transport kind %q", inst.Kind)
		}
		t, err := f(inst)
		if err != nil {
			return nil, errors.Wrap(err, "transport", "Build", "create "+inst.Name)
		}
		if inst.MaxSendRate > 0 {
			t = NewRateLimited(t, inst.MaxSendRate, inst.Burst)
		}
		out = append(out, t)
	}
	return out, nil
}

// Configure loads instances and configs from the transport section of a
// configuration file. Factories must be registered first.
func (r *Registry) Configure(cfg config.TransportConfig) error {
	for _, ic := range cfg.Instances {
		inst, err := r.CreateInst(ic.Name, ic.Kind)
		if err != nil {
			return err
		}
		for k, v := range ic.Options {
			inst.Options[k] = v
		}
		inst.MaxSendRate = ic.MaxSendRate
		inst.Burst = ic.Burst
	}
	for _, gc := range cfg.Configs {
		c, err := r.CreateConfig(gc.Name)
		if err != nil {
			return err
		}
		c.PassiveConnectDuration = gc.PassiveConnect.Std()
		for _, name := range gc.Instances {
			inst, ok := r.GetInst(name)
			if !ok {
				return errors.Failf(errors.RetcodeBadParameter, "transport", "Configure", "config %q references unknown instance %q", gc.Name, name)
			}
			c.Insert(inst)
		}
	}
	if cfg.Global != "" {
		return r.SetGlobalConfig(cfg.Global)
	}
	return nil
}
