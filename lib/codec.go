package lib

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

/*
	This file implements the deterministic wire encoding shared by every signed structure of the node.
	Fields are written in protobuf wire format in a fixed order and always present, so that
	encode(decode(b)) == b for every canonical encoding and signatures computed over the bytes agree across nodes.
*/

// Encoder appends protobuf wire fields to a buffer
type Encoder struct{ buf []byte }

// NewEncoder() returns an empty Encoder
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes() writes a length-delimited field
func (e *Encoder) Bytes(num protowire.Number, b []byte) *Encoder {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
	return e
}

// String() writes a length-delimited string field
func (e *Encoder) String(num protowire.Number, s string) *Encoder {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, s)
	return e
}

// Uint64() writes a varint field
func (e *Encoder) Uint64(num protowire.Number, v uint64) *Encoder {
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
	return e
}

// Bool() writes a varint field of 0 or 1
func (e *Encoder) Bool(num protowire.Number, v bool) *Encoder {
	return e.Uint64(num, protowire.EncodeBool(v))
}

// Message() writes a nested encoding as a length-delimited field
func (e *Encoder) Message(num protowire.Number, nested *Encoder) *Encoder {
	return e.Bytes(num, nested.Encoded())
}

// Encoded() returns the accumulated bytes
func (e *Encoder) Encoded() []byte { return e.buf }

// Field is a single decoded wire field
type Field struct {
	Num   protowire.Number
	Type  protowire.Type
	Bytes []byte // set for length-delimited fields
	Value uint64 // set for varint fields
}

// Bool() interprets a varint field as a boolean
func (f Field) Bool() bool { return protowire.DecodeBool(f.Value) }

// DecodeFields() walks every field of an encoding, calling the callback in wire order
func DecodeFields(bz []byte, callback func(f Field) ErrorI) ErrorI {
	for len(bz) > 0 {
		num, typ, n := protowire.ConsumeTag(bz)
		if n < 0 {
			return ErrUnmarshal(protowire.ParseError(n))
		}
		bz = bz[n:]
		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(bz)
			if m < 0 {
				return ErrUnmarshal(protowire.ParseError(m))
			}
			f.Bytes, n = v, m
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(bz)
			if m < 0 {
				return ErrUnmarshal(protowire.ParseError(m))
			}
			f.Value, n = v, m
		default:
			return ErrUnmarshal(errors.New("unsupported wire type"))
		}
		bz = bz[n:]
		if err := callback(f); err != nil {
			return err
		}
	}
	return nil
}

// Clone() copies a byte slice so decoded values do not alias the input buffer
func Clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
