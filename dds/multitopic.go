package dds

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/filter"
	"github.com/c360/semdds/rtps"
)

// MultiTopic joins samples of several topics into samples of a new type.
// The subscription expression is
//
//	SELECT <fields|*> FROM <topic> [NATURAL JOIN <topic>]... [WHERE <filter>]
//
// Topics are joined on their common top-level fields. A field may be
// renamed with "<field> AS <name>".
type MultiTopic struct {
	name        string
	participant *Participant
	ts          TypeSupport
	text        string
	parsed      *multiQuery

	mu     sync.RWMutex
	params []string
}

type fieldSpec struct {
	src, dst string
}

type multiQuery struct {
	fields []fieldSpec
	topics []string
	where  *filter.Expression
}

var (
	selectPattern = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+(.+?)(?:\s+WHERE\s+(.+?))?\s*$`)
	joinSeparator = regexp.MustCompile(`(?i)\s+NATURAL\s+JOIN\s+|\s*,\s*`)
	asSeparator   = regexp.MustCompile(`(?i)\s+AS\s+`)
	identPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.:]*$`)
)

func parseMultiTopic(expr string, filters *filter.Cache) (*multiQuery, error) {
	m := selectPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, errors.Failf(errors.RetcodeBadParameter, "MultiTopic", "parse", "expression %q is not SELECT ... FROM ...", expr)
	}
	q := &multiQuery{}
	if fields := strings.TrimSpace(m[1]); fields != "*" {
		for _, f := range strings.Split(fields, ",") {
			parts := asSeparator.Split(strings.TrimSpace(f), 2)
			spec := fieldSpec{src: strings.TrimSpace(parts[0])}
			spec.dst = spec.src
			if len(parts) == 2 {
				spec.dst = strings.TrimSpace(parts[1])
			}
			if !identPattern.MatchString(spec.src) || !identPattern.MatchString(spec.dst) {
				return nil, errors.Failf(errors.RetcodeBadParameter, "MultiTopic", "parse", "bad field %q", f)
			}
			q.fields = append(q.fields, spec)
		}
	}
	seen := make(map[string]bool)
	for _, t := range joinSeparator.Split(strings.TrimSpace(m[2]), -1) {
		t = strings.TrimSpace(t)
		if !identPattern.MatchString(t) {
			return nil, errors.Failf(errors.RetcodeBadParameter, "MultiTopic", "parse", "bad topic name %q", t)
		}
		if seen[t] {
			return nil, errors.Failf(errors.RetcodeBadParameter, "MultiTopic", "parse", "topic %q is joined twice", t)
		}
		seen[t] = true
		q.topics = append(q.topics, t)
	}
	if where := strings.TrimSpace(m[3]); where != "" {
		compiled, err := filters.Compile(where)
		if err != nil {
			return nil, errors.WrapInvalid(err, "MultiTopic", "parse", "compile WHERE clause")
		}
		q.where = compiled
	}
	return q, nil
}

// GetName returns the topic name.
func (m *MultiTopic) GetName() string { return m.name }

// GetTypeName returns the type of the joined samples.
func (m *MultiTopic) GetTypeName() string { return m.ts.TypeName() }

// GetParticipant returns the participant that created the topic.
func (m *MultiTopic) GetParticipant() *Participant { return m.participant }

// GetSubscriptionExpression returns the SELECT text.
func (m *MultiTopic) GetSubscriptionExpression() string { return m.text }

// GetExpressionParameters returns the WHERE parameters.
func (m *MultiTopic) GetExpressionParameters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.params...)
}

// SetExpressionParameters replaces the WHERE parameters.
func (m *MultiTopic) SetExpressionParameters(params []string) error {
	if m.parsed.where != nil {
		if err := m.parsed.where.CheckParams(params); err != nil {
			return errors.WrapInvalid(err, "MultiTopic", "SetExpressionParameters", "check parameters")
		}
	}
	m.mu.Lock()
	m.params = append([]string(nil), params...)
	m.mu.Unlock()
	return nil
}

// Topics returns the joined topic names.
func (m *MultiTopic) Topics() []string { return append([]string(nil), m.parsed.topics...) }

func (m *MultiTopic) uses(topic string) bool {
	for _, t := range m.parsed.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// join combines doc, a new sample of topic trigger, with the latest alive
// samples of the other topics and returns the projected results.
func (m *MultiTopic) join(trigger string, doc []byte, others map[string][][]byte) [][]byte {
	combos := [][][]byte{{doc}}
	for _, tn := range m.parsed.topics {
		if tn == trigger {
			continue
		}
		var next [][][]byte
		for _, combo := range combos {
			for _, cand := range others[tn] {
				if naturalJoin(combo, cand) {
					extended := append(append([][]byte(nil), combo...), cand)
					next = append(next, extended)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		combos = next
	}

	params := m.GetExpressionParameters()
	var out [][]byte
	for _, combo := range combos {
		merged := mergeDocs(combo)
		if m.parsed.where != nil {
			ok, err := m.parsed.where.Evaluate(merged, params)
			if err != nil || !ok {
				continue
			}
		}
		if res, ok := m.project(merged); ok {
			out = append(out, res)
		}
	}
	return out
}

func (m *MultiTopic) project(merged []byte) ([]byte, bool) {
	if m.parsed.fields == nil {
		return merged, true
	}
	out := []byte("{}")
	for _, f := range m.parsed.fields {
		v := gjson.GetBytes(merged, f.src)
		if !v.Exists() {
			continue
		}
		var err error
		out, err = sjson.SetRawBytes(out, f.dst, []byte(v.Raw))
		if err != nil {
			return nil, false
		}
	}
	return out, true
}

// naturalJoin reports whether cand agrees with every doc of combo on their
// common top-level fields.
func naturalJoin(combo [][]byte, cand []byte) bool {
	c := gjson.ParseBytes(cand)
	for _, doc := range combo {
		ok := true
		gjson.ParseBytes(doc).ForEach(func(k, v gjson.Result) bool {
			other := c.Get(escapePath(k.String()))
			if other.Exists() && other.Raw != v.Raw {
				ok = false
				return false
			}
			return true
		})
		if !ok {
			return false
		}
	}
	return true
}

func mergeDocs(docs [][]byte) []byte {
	out := []byte("{}")
	for _, doc := range docs {
		gjson.ParseBytes(doc).ForEach(func(k, v gjson.Result) bool {
			if merged, err := sjson.SetRawBytes(out, escapePath(k.String()), []byte(v.Raw)); err == nil {
				out = merged
			}
			return true
		})
	}
	return out
}

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

func escapePath(key string) string {
	return pathEscaper.Replace(key)
}

// multiJoin feeds the reader of a multi-topic from hidden readers of the
// joined topics.
type multiJoin struct {
	topic *MultiTopic
	outer *DataReader

	mu    sync.Mutex
	inner map[string]*DataReader
}

func (j *multiJoin) readers() []*DataReader {
	j.mu.Lock()
	defer j.mu.Unlock()
	return mapValues(j.inner)
}

func (j *multiJoin) onCommit(topic string, data []byte, source time.Time, writer rtps.GUID) {
	j.mu.Lock()
	others := make(map[string][][]byte, len(j.inner))
	inner := make(map[string]*DataReader, len(j.inner))
	for tn, r := range j.inner {
		inner[tn] = r
	}
	j.mu.Unlock()
	for tn, r := range inner {
		if tn != topic {
			others[tn] = r.latestAlive()
		}
	}
	for _, doc := range j.topic.join(topic, data, others) {
		j.outer.inject(&incoming{data: doc, source: source}, writer)
	}
}
