// internal/record/json.go

package record

import (
	"fmt"
	"math"
	"time"

	"github.com/valyala/fastjson"
)

var arenaPool fastjson.ArenaPool

// AppendJSON appends the JSON object form of the record:
// {"level","timestamp","logger","message","attributes"}. Attribute order
// follows insertion order.
func AppendJSON(dst []byte, r *Record) []byte {
	a := arenaPool.Get()
	defer arenaPool.Put(a)
	defer a.Reset()

	obj := a.NewObject()
	obj.Set("level", a.NewString(r.level.String()))
	obj.Set("timestamp", a.NewString(r.time.Format(time.RFC3339Nano)))
	obj.Set("logger", a.NewString(r.logger))
	obj.Set("message", a.NewString(r.msg))

	attrs := a.NewObject()
	for _, at := range r.attrs {
		attrs.Set(at.Key, toJSONValue(a, at.Value, 0))
	}
	obj.Set("attributes", attrs)
	return obj.MarshalTo(dst)
}

// AppendJSONArray appends a JSON array holding every record.
func AppendJSONArray(dst []byte, records []*Record) []byte {
	dst = append(dst, '[')
	for i, r := range records {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = AppendJSON(dst, r)
	}
	return append(dst, ']')
}

const maxJSONDepth = 16

func toJSONValue(a *fastjson.Arena, value interface{}, depth int) *fastjson.Value {
	if depth > maxJSONDepth {
		return a.NewString(fmt.Sprintf("%v", value))
	}
	switch v := value.(type) {
	case nil:
		return a.NewNull()
	case string:
		return a.NewString(v)
	case bool:
		if v {
			return a.NewTrue()
		}
		return a.NewFalse()
	case int:
		return a.NewNumberInt(v)
	case int32:
		return a.NewNumberInt(int(v))
	case int64:
		return a.NewNumberString(fmt.Sprintf("%d", v))
	case uint:
		return a.NewNumberString(fmt.Sprintf("%d", v))
	case uint32:
		return a.NewNumberString(fmt.Sprintf("%d", v))
	case uint64:
		return a.NewNumberString(fmt.Sprintf("%d", v))
	case float32:
		return floatValue(a, float64(v))
	case float64:
		return floatValue(a, v)
	case time.Time:
		return a.NewString(v.Format(time.RFC3339Nano))
	case time.Duration:
		return a.NewString(v.String())
	case error:
		return a.NewString(v.Error())
	case []interface{}:
		arr := a.NewArray()
		for i, item := range v {
			arr.SetArrayItem(i, toJSONValue(a, item, depth+1))
		}
		return arr
	case []string:
		arr := a.NewArray()
		for i, item := range v {
			arr.SetArrayItem(i, a.NewString(item))
		}
		return arr
	case []Attr:
		obj := a.NewObject()
		for _, at := range v {
			obj.Set(at.Key, toJSONValue(a, at.Value, depth+1))
		}
		return obj
	case map[string]interface{}:
		obj := a.NewObject()
		for k, item := range v {
			obj.Set(k, toJSONValue(a, item, depth+1))
		}
		return obj
	case fmt.Stringer:
		return a.NewString(v.String())
	default:
		return a.NewString(fmt.Sprintf("%v", v))
	}
}

// NaN and infinities have no JSON representation.
func floatValue(a *fastjson.Arena, f float64) *fastjson.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return a.NewString(fmt.Sprintf("%v", f))
	}
	return a.NewNumberFloat64(f)
}

// DecodeJSON builds a record from a parsed JSON object. Accepted keys:
// level (name or number), timestamp (RFC 3339 string or unix milliseconds),
// logger, message (or msg) and attributes (object). Missing timestamps
// default to now.
func DecodeJSON(v *fastjson.Value, now time.Time) (*Builder, error) {
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("record must be a JSON object, got %s", v.Type())
	}

	level := INFO
	if lv := v.Get("level"); lv != nil {
		switch lv.Type() {
		case fastjson.TypeString:
			parsed, err := ParseLevel(string(lv.GetStringBytes()))
			if err != nil {
				return nil, err
			}
			level = parsed
		case fastjson.TypeNumber:
			level = Level(lv.GetInt())
		default:
			return nil, fmt.Errorf("invalid level type %s", lv.Type())
		}
	}

	ts := now
	if tv := v.Get("timestamp"); tv != nil {
		switch tv.Type() {
		case fastjson.TypeString:
			parsed, err := time.Parse(time.RFC3339Nano, string(tv.GetStringBytes()))
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp: %w", err)
			}
			ts = parsed
		case fastjson.TypeNumber:
			ts = time.UnixMilli(tv.GetInt64()).UTC()
		}
	}

	msg := string(v.GetStringBytes("message"))
	if msg == "" {
		msg = string(v.GetStringBytes("msg"))
	}

	b := NewBuilder(ts, level, string(v.GetStringBytes("logger")), msg)
	if av := v.Get("attributes"); av != nil {
		obj, err := av.Object()
		if err != nil {
			return nil, fmt.Errorf("attributes must be an object: %w", err)
		}
		obj.Visit(func(key []byte, item *fastjson.Value) {
			b.Add(string(key), fromJSONValue(item, 0))
		})
	}
	return b, nil
}

func fromJSONValue(v *fastjson.Value, depth int) interface{} {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		f := v.GetFloat64()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeNull:
		return nil
	}
	if depth >= maxJSONDepth {
		return v.String()
	}
	switch v.Type() {
	case fastjson.TypeArray:
		items := v.GetArray()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = fromJSONValue(item, depth+1)
		}
		return out
	case fastjson.TypeObject:
		obj := v.GetObject()
		out := make([]Attr, 0, obj.Len())
		obj.Visit(func(key []byte, item *fastjson.Value) {
			out = append(out, Attr{Key: string(key), Value: fromJSONValue(item, depth+1)})
		})
		return out
	}
	return v.String()
}
