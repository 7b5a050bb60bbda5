package dds

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/rtps"
)

// TypeSupport describes a data type to the middleware. Samples travel as
// opaque bytes; the type support extracts keys and validates them.
type TypeSupport interface {
	TypeName() string
	HasKey() bool
	// KeyHash identifies the instance a sample belongs to. Keyless types
	// return rtps.KeyHashNil.
	KeyHash(sample []byte) (rtps.KeyHash, error)
	// KeyValue returns a sample holding only the key fields.
	KeyValue(sample []byte) ([]byte, error)
	Validate(sample []byte) error
}

// JSONTypeSupport handles JSON samples. Key fields are gjson paths.
type JSONTypeSupport struct {
	name   string
	keys   []string
	schema *gojsonschema.Schema
}

// JSONOption configures a JSONTypeSupport.
type JSONOption func(*jsonConfig)

type jsonConfig struct {
	keys   []string
	schema string
}

// WithKeyFields sets the paths of the key fields.
func WithKeyFields(paths ...string) JSONOption {
	return func(c *jsonConfig) {
		c.keys = append(c.keys, paths...)
	}
}

// WithSchema validates every written sample against a JSON schema document.
func WithSchema(doc string) JSONOption {
	return func(c *jsonConfig) {
		c.schema = doc
	}
}

// NewJSONTypeSupport creates the type support for a JSON type.
func NewJSONTypeSupport(name string, opts ...JSONOption) (*JSONTypeSupport, error) {
	if name == "" {
		return nil, errors.Fail(errors.RetcodeBadParameter, "TypeSupport", "NewJSONTypeSupport", "type name is empty")
	}
	var cfg jsonConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	ts := &JSONTypeSupport{name: name}
	for _, k := range cfg.keys {
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, errors.Fail(errors.RetcodeBadParameter, "TypeSupport", "NewJSONTypeSupport", "key path is empty")
		}
		ts.keys = append(ts.keys, k)
	}
	if cfg.schema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(cfg.schema))
		if err != nil {
			return nil, errors.WrapInvalid(err, "TypeSupport", "NewJSONTypeSupport", "load schema")
		}
		ts.schema = schema
	}
	return ts, nil
}

// TypeName returns the registered type name.
func (t *JSONTypeSupport) TypeName() string { return t.name }

// HasKey reports whether the type has key fields.
func (t *JSONTypeSupport) HasKey() bool { return len(t.keys) > 0 }

// KeyFields returns the key paths.
func (t *JSONTypeSupport) KeyFields() []string { return append([]string(nil), t.keys...) }

// KeyValue builds a JSON object holding only the key fields.
func (t *JSONTypeSupport) KeyValue(sample []byte) ([]byte, error) {
	if !t.HasKey() {
		return []byte("{}"), nil
	}
	out := []byte("{}")
	for _, path := range t.keys {
		v := gjson.GetBytes(sample, path)
		if !v.Exists() {
			return nil, errors.Failf(errors.RetcodeBadParameter, "TypeSupport", "KeyValue", "key field %q is missing", path)
		}
		var err error
		out, err = sjson.SetRawBytes(out, path, []byte(v.Raw))
		if err != nil {
			return nil, errors.WrapInvalid(err, "TypeSupport", "KeyValue", "set key field")
		}
	}
	return out, nil
}

// KeyHash hashes the key value.
func (t *JSONTypeSupport) KeyHash(sample []byte) (rtps.KeyHash, error) {
	if !t.HasKey() {
		return rtps.KeyHashNil, nil
	}
	kv, err := t.KeyValue(sample)
	if err != nil {
		return rtps.KeyHashNil, err
	}
	return rtps.ComputeKeyHash(kv), nil
}

// Validate checks the sample is JSON, holds every key field and satisfies
// the schema.
func (t *JSONTypeSupport) Validate(sample []byte) error {
	if !gjson.ValidBytes(sample) {
		return errors.Fail(errors.RetcodeBadParameter, "TypeSupport", "Validate", "sample is not valid JSON")
	}
	for _, path := range t.keys {
		if !gjson.GetBytes(sample, path).Exists() {
			return errors.Failf(errors.RetcodeBadParameter, "TypeSupport", "Validate", "key field %q is missing", path)
		}
	}
	if t.schema == nil {
		return nil
	}
	res, err := t.schema.Validate(gojsonschema.NewBytesLoader(sample))
	if err != nil {
		return errors.WrapInvalid(err, "TypeSupport", "Validate", "run schema")
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.Failf(errors.RetcodeBadParameter, "TypeSupport", "Validate", "schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
