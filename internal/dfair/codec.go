package dfair

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Frame layout:
//
//	byte 0     endpoint
//	byte 1     opcode (4 read, 6 write)
//	bytes 2-3  register address, big-endian
//	bytes 4-   value (writes only), sized per datatype
//
// Frames are always FrameSize bytes, zero padded.
const (
	FrameSize = 63

	OpRead  byte = 4
	OpWrite byte = 6
)

// EncodeRead builds a read request frame for p.
func EncodeRead(p Param) []byte {
	buf := make([]byte, FrameSize)
	buf[0] = p.Endpoint
	buf[1] = OpRead
	binary.BigEndian.PutUint16(buf[2:4], p.Address)
	return buf
}

// EncodeWrite builds a write request frame for p carrying v. Numeric values
// are divided by the parameter's scale and rounded before packing.
func EncodeWrite(p Param, v Value) ([]byte, error) {
	buf := make([]byte, FrameSize)
	buf[0] = p.Endpoint
	buf[1] = OpWrite
	binary.BigEndian.PutUint16(buf[2:4], p.Address)

	if p.Datatype == DatatypeBool {
		if v.Bool() {
			buf[4] = 1
		}
		return buf, nil
	}

	switch p.Datatype {
	case DatatypeByte, DatatypeUShort, DatatypeUInt:
	default:
		return nil, fmt.Errorf("%w: write %s (%s)", ErrDatatypeUnsupported, p.ID, p.Datatype)
	}
	if v.IsBool() {
		return nil, fmt.Errorf("%w: %s expects a number", ErrValueType, p.ID)
	}

	raw := v.Float()
	if p.Scale != 0 && p.Scale != 1 {
		raw = raw / p.Scale
	}
	raw = math.Round(raw)

	limit := float64(uint64(1)<<(8*p.Datatype.Size()) - 1)
	if math.IsNaN(raw) || raw < 0 || raw > limit {
		return nil, fmt.Errorf("%w: %s raw value %v", ErrOutOfRange, p.ID, raw)
	}

	switch p.Datatype {
	case DatatypeByte:
		buf[4] = byte(raw)
	case DatatypeUShort:
		binary.BigEndian.PutUint16(buf[4:6], uint16(raw))
	case DatatypeUInt:
		binary.BigEndian.PutUint32(buf[4:8], uint32(raw))
	}
	return buf, nil
}

// DecodeResponse interprets the leading bytes of a response payload as p's
// datatype and applies scale and precision to numeric results.
func DecodeResponse(p Param, payload []byte) (Value, error) {
	n := p.Datatype.Size()
	if n == 0 {
		return Value{}, fmt.Errorf("%w: read %s (%s)", ErrDatatypeUnsupported, p.ID, p.Datatype)
	}
	if len(payload) < n {
		return Value{}, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPayload, p.ID, n, len(payload))
	}

	var raw float64
	switch p.Datatype {
	case DatatypeBool:
		return Bool(payload[0] == 1), nil
	case DatatypeByte:
		raw = float64(payload[0])
	case DatatypeUShort:
		raw = float64(binary.BigEndian.Uint16(payload))
	case DatatypeUInt:
		raw = float64(binary.BigEndian.Uint32(payload))
	}

	if p.Scale != 0 {
		raw *= p.Scale
	}
	if p.Precision != NoRounding {
		raw = roundTo(raw, p.Precision)
	}
	return Number(raw), nil
}

// roundTo rounds half away from zero to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	m := math.Pow(10, float64(decimals))
	return math.Round(v*m) / m
}
