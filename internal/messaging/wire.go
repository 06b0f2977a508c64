package messaging

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is a Kafka payload in protobuf wire format.
type Message interface {
	Marshal() []byte
	Unmarshal(data []byte) error
}

// encoder appends fields in protobuf wire format. Zero values are omitted
// the way proto3 does.
type encoder struct {
	buf []byte
}

func (e *encoder) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
}

// repeatedBytes keeps empty elements so positions survive decoding.
func (e *encoder) repeatedBytes(num protowire.Number, vs [][]byte) {
	for _, v := range vs {
		e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
		e.buf = protowire.AppendBytes(e.buf, v)
	}
}

func (e *encoder) uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *encoder) sint(num protowire.Number, v int64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, protowire.EncodeZigZag(v))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.uint(num, 1)
	}
}

func (e *encoder) double(num protowire.Number, v float64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.Fixed64Type)
	e.buf = protowire.AppendFixed64(e.buf, math.Float64bits(v))
}

// time encodes unix nanoseconds; the zero time is omitted.
func (e *encoder) time(num protowire.Number, v time.Time) {
	if v.IsZero() {
		return
	}
	e.sint(num, v.UnixNano())
}

// field is one decoded wire value.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

func (f field) uint() uint64 { return f.u }
func (f field) sint() int64 { return protowire.DecodeZigZag(f.u) }
func (f field) bool() bool { return f.u != 0 }
func (f field) str() string { return string(f.b) }
func (f field) double() float64 { return math.Float64frombits(f.u) }
func (f field) bytes() []byte { return append([]byte(nil), f.b...) }

func (f field) time() time.Time {
	return time.Unix(0, f.sint()).UTC()
}

// schema maps field numbers to their expected wire type.
type schema map[protowire.Number]protowire.Type

// decode walks data and calls fn for every field listed in s. Unknown fields
// are skipped; a known field with the wrong wire type is an error.
func decode(data []byte, s schema, fn func(f field)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		want, known := s[num]
		if !known {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		if typ != want {
			return fmt.Errorf("field %d: wire type %d, want %d", num, typ, want)
		}

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(data)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(data)
		default:
			return fmt.Errorf("field %d: unsupported wire type %d", num, typ)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
		fn(f)
	}
	return nil
}
