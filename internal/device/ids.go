package device

import (
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"
)

// idStrategy extracts a created object id from one response shape
type idStrategy struct {
	name    string
	extract func(*jason.Object) (int64, bool)
}

// idStrategies are tried in order; the first match wins
var idStrategies = []idStrategy{
	{name: "id", extract: func(o *jason.Object) (int64, bool) {
		return int64Field(o, "id")
	}},
	{name: "ids[0]", extract: func(o *jason.Object) (int64, bool) {
		ids, err := o.GetValueArray("ids")
		if err != nil || len(ids) == 0 {
			return 0, false
		}
		return valueInt64(ids[0])
	}},
	{name: "data.id", extract: func(o *jason.Object) (int64, bool) {
		data, err := o.GetObject("data")
		if err != nil {
			return 0, false
		}
		return int64Field(data, "id")
	}},
}

// extractID returns the id of a created object and the strategy that found it
func extractID(o *jason.Object) (id int64, strategy string, ok bool) {
	for _, s := range idStrategies {
		if id, ok := s.extract(o); ok {
			return id, s.name, true
		}
	}
	return 0, "", false
}

func int64Field(o *jason.Object, key string) (int64, bool) {
	v, err := o.GetValue(key)
	if err != nil {
		return 0, false
	}
	return valueInt64(v)
}

// valueInt64 accepts ids encoded as numbers or numeric strings
func valueInt64(v *jason.Value) (int64, bool) {
	if n, err := v.Int64(); err == nil {
		return n, true
	}
	if s, err := v.String(); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// valueString renders string and numeric values as text
func valueString(v *jason.Value) string {
	if s, err := v.String(); err == nil {
		return s
	}
	if n, err := v.Number(); err == nil {
		return n.String()
	}
	return ""
}

func stringField(o *jason.Object, key string) string {
	v, err := o.GetValue(key)
	if err != nil {
		return ""
	}
	return valueString(v)
}

// objectList returns the records of a load_objects response, which the
// device returns under the object name or under "data"
func objectList(o *jason.Object, object string) []*jason.Object {
	for _, key := range []string{object, "data"} {
		if list, err := o.GetObjectArray(key); err == nil {
			return list
		}
	}
	return nil
}
