package ssh2

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
)

// This file implements the SSH2 wire encoding: the fixed primitives
// (uint32, string, mpint, name-list, boolean) and a reflection-driven
// codec that maps Go message structs to binary packets. Every message
// struct carries its packet type number in an `sshtype` tag on its
// first field; Marshal emits the type byte, Unmarshal checks it.

func appendU16(buf []byte, n uint16) []byte {
	return append(buf, byte(n>>8), byte(n))
}

func appendU32(buf []byte, n uint32) []byte {
	return append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendU64(buf []byte, n uint64) []byte {
	return append(buf,
		byte(n>>56), byte(n>>48), byte(n>>40), byte(n>>32),
		byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendInt(buf []byte, n int) []byte {
	return appendU32(buf, uint32(n))
}

func appendString(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	buf = append(buf, s...)
	return buf
}

func appendBytes(buf, b []byte) []byte {
	buf = appendU32(buf, uint32(len(b)))
	buf = append(buf, b...)
	return buf
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// appendMpint encodes n as an SSH2 mpint: length-prefixed two's
// complement, a zero byte prepended when the top bit of a positive
// number would otherwise be set, and zero as the empty string.
func appendMpint(buf []byte, n *big.Int) []byte {
	if n.Sign() == 0 {
		return appendU32(buf, 0)
	}
	if n.Sign() < 0 {
		// Negative mpints do not occur in the protocol proper, but
		// the primitive is defined for them.
		b := negativeMpintBytes(n)
		return appendBytes(buf, b)
	}
	b := n.Bytes()
	if b[0]&0x80 != 0 {
		buf = appendU32(buf, uint32(len(b)+1))
		buf = append(buf, 0)
		return append(buf, b...)
	}
	return appendBytes(buf, b)
}

func negativeMpintBytes(n *big.Int) []byte {
	// Two's complement of |n| over the minimal byte width.
	abs := new(big.Int).Neg(n)
	bits := new(big.Int).Sub(abs, big.NewInt(1)).BitLen() + 1 // sign bit
	width := (bits + 7) / 8
	mod := new(big.Int).Lsh(big.NewInt(1), uint(width*8))
	tc := new(big.Int).Sub(mod, abs)
	b := tc.Bytes()
	for len(b) < width {
		b = append([]byte{0xff}, b...)
	}
	return b
}

func appendNameList(buf []byte, names []string) []byte {
	return appendString(buf, strings.Join(names, ","))
}

func parseU32(in []byte) (uint32, []byte, bool) {
	if len(in) < 4 {
		return 0, nil, false
	}
	n := uint32(in[0])<<24 | uint32(in[1])<<16 | uint32(in[2])<<8 | uint32(in[3])
	return n, in[4:], true
}

func parseU64(in []byte) (uint64, []byte, bool) {
	if len(in) < 8 {
		return 0, nil, false
	}
	hi, in, _ := parseU32(in)
	lo, rest, _ := parseU32(in)
	return uint64(hi)<<32 | uint64(lo), rest, true
}

// parseString reads a length-prefixed byte string. The returned slice
// aliases in; callers that retain it must copy.
func parseString(in []byte) (out, rest []byte, ok bool) {
	n, in, ok := parseU32(in)
	if !ok || uint32(len(in)) < n {
		return nil, nil, false
	}
	return in[:n], in[n:], true
}

func parseBool(in []byte) (bool, []byte, bool) {
	if len(in) < 1 {
		return false, nil, false
	}
	return in[0] != 0, in[1:], true
}

func parseMpint(in []byte) (*big.Int, []byte, bool) {
	b, rest, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	n := new(big.Int)
	if len(b) > 0 && b[0]&0x80 != 0 {
		// Negative: undo two's complement.
		neg := make([]byte, len(b))
		for i, c := range b {
			neg[i] = ^c
		}
		n.SetBytes(neg)
		n.Add(n, bigOne)
		n.Neg(n)
	} else {
		n.SetBytes(b)
	}
	return n, rest, true
}

var bigOne = big.NewInt(1)

func parseNameList(in []byte) ([]string, []byte, bool) {
	s, rest, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	if len(s) == 0 {
		return nil, rest, true
	}
	return strings.Split(string(s), ","), rest, true
}

var bigIntType = reflect.TypeOf((*big.Int)(nil))

// Marshal serialises msg into an SSH2 packet payload, starting with
// the message type byte taken from the struct's sshtype tag.
func Marshal(msg interface{}) []byte {
	out := make([]byte, 0, 64)
	return marshalStruct(out, msg)
}

func marshalStruct(out []byte, msg interface{}) []byte {
	v := reflect.Indirect(reflect.ValueOf(msg))
	msgTypes := fieldTypes(v.Type())
	if len(msgTypes) > 0 {
		out = append(out, msgTypes[0])
	}
	for i, n := 0, v.NumField(); i < n; i++ {
		field := v.Field(i)
		switch t := field.Type(); t.Kind() {
		case reflect.Bool:
			out = appendBool(out, field.Bool())
		case reflect.Array:
			if t.Elem().Kind() != reflect.Uint8 {
				panic(fmt.Sprintf("ssh2: marshal: array of non-byte in %T", msg))
			}
			for j := 0; j < t.Len(); j++ {
				out = append(out, byte(field.Index(j).Uint()))
			}
		case reflect.Uint8:
			out = append(out, byte(field.Uint()))
		case reflect.Uint32:
			out = appendU32(out, uint32(field.Uint()))
		case reflect.Uint64:
			out = appendU64(out, field.Uint())
		case reflect.String:
			out = appendString(out, field.String())
		case reflect.Slice:
			switch t.Elem().Kind() {
			case reflect.Uint8:
				if v.Type().Field(i).Tag.Get("ssh2") == "rest" {
					out = append(out, field.Bytes()...)
				} else {
					out = appendBytes(out, field.Bytes())
				}
			case reflect.String:
				out = appendNameList(out, field.Interface().([]string))
			default:
				panic(fmt.Sprintf("ssh2: marshal: slice of unknown type in %T", msg))
			}
		case reflect.Ptr:
			if t != bigIntType {
				panic(fmt.Sprintf("ssh2: marshal: pointer to unknown type in %T", msg))
			}
			out = appendMpint(out, field.Interface().(*big.Int))
		default:
			panic(fmt.Sprintf("ssh2: marshal: unknown type %v in %T", t, msg))
		}
	}
	return out
}

// Unmarshal parses a packet into the message struct out, which must be
// a pointer. The leading type byte must match out's sshtype tag; a
// tag may list several acceptable numbers separated by '|'.
func Unmarshal(data []byte, out interface{}) error {
	v := reflect.ValueOf(out).Elem()
	structType := v.Type()
	expected := fieldTypes(structType)
	if len(expected) > 0 {
		if len(data) == 0 {
			return parseError(expected[0])
		}
		if !byteIn(expected, data[0]) {
			return unexpectedMessageError(expected[0], data[0])
		}
		data = data[1:]
	}

	var ok bool
	for i, n := 0, v.NumField(); i < n; i++ {
		field := v.Field(i)
		t := field.Type()
		switch t.Kind() {
		case reflect.Bool:
			var b bool
			if b, data, ok = parseBool(data); !ok {
				return errShortRead(structType, i)
			}
			field.SetBool(b)
		case reflect.Array:
			if t.Elem().Kind() != reflect.Uint8 {
				return fmt.Errorf("ssh2: unmarshal: array of non-byte in %v", structType)
			}
			if len(data) < t.Len() {
				return errShortRead(structType, i)
			}
			for j := 0; j < t.Len(); j++ {
				field.Index(j).Set(reflect.ValueOf(data[j]))
			}
			data = data[t.Len():]
		case reflect.Uint8:
			if len(data) < 1 {
				return errShortRead(structType, i)
			}
			field.SetUint(uint64(data[0]))
			data = data[1:]
		case reflect.Uint32:
			var u uint32
			if u, data, ok = parseU32(data); !ok {
				return errShortRead(structType, i)
			}
			field.SetUint(uint64(u))
		case reflect.Uint64:
			var u uint64
			if u, data, ok = parseU64(data); !ok {
				return errShortRead(structType, i)
			}
			field.SetUint(u)
		case reflect.String:
			var s []byte
			if s, data, ok = parseString(data); !ok {
				return errShortRead(structType, i)
			}
			field.SetString(string(s))
		case reflect.Slice:
			switch t.Elem().Kind() {
			case reflect.Uint8:
				if structType.Field(i).Tag.Get("ssh2") == "rest" {
					field.Set(reflect.ValueOf(data))
					data = nil
					break
				}
				var s []byte
				if s, data, ok = parseString(data); !ok {
					return errShortRead(structType, i)
				}
				field.Set(reflect.ValueOf(s))
			case reflect.String:
				var nl []string
				if nl, data, ok = parseNameList(data); !ok {
					return errShortRead(structType, i)
				}
				field.Set(reflect.ValueOf(nl))
			default:
				return fmt.Errorf("ssh2: unmarshal: slice of unknown type in %v", structType)
			}
		case reflect.Ptr:
			if t != bigIntType {
				return fmt.Errorf("ssh2: unmarshal: pointer to unknown type in %v", structType)
			}
			var m *big.Int
			if m, data, ok = parseMpint(data); !ok {
				return errShortRead(structType, i)
			}
			field.Set(reflect.ValueOf(m))
		default:
			return fmt.Errorf("ssh2: unmarshal: unknown type %v in %v", t, structType)
		}
	}
	if len(data) != 0 {
		return fmt.Errorf("ssh2: unmarshal: %d trailing bytes after %v", len(data), structType)
	}
	return nil
}

func errShortRead(t reflect.Type, field int) error {
	return fmt.Errorf("ssh2: unmarshal: short read for field %s of %v", t.Field(field).Name, t)
}

// fieldTypes returns the packet type numbers declared in the sshtype
// tag of t's first field, or nil for untyped (embedded) structs.
func fieldTypes(t reflect.Type) []byte {
	if t.NumField() == 0 {
		return nil
	}
	tag := t.Field(0).Tag.Get("sshtype")
	if tag == "" {
		return nil
	}
	var out []byte
	for _, s := range strings.Split(tag, "|") {
		n, err := strconv.Atoi(s)
		if err != nil {
			panic("ssh2: bad sshtype tag on " + t.Name())
		}
		out = append(out, byte(n))
	}
	return out
}

func byteIn(set []byte, b byte) bool {
	for _, s := range set {
		if s == b {
			return true
		}
	}
	return false
}
