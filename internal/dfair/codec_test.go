package dfair

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeRead(t *testing.T) {
	p := Param{ID: "x", Endpoint: EndpointUnit, Address: 0x1472, Datatype: DatatypeUShort}
	buf := EncodeRead(p)
	if len(buf) != FrameSize {
		t.Fatalf("frame len=%d want %d", len(buf), FrameSize)
	}
	if buf[0] != 4 || buf[1] != OpRead || buf[2] != 0x14 || buf[3] != 0x72 {
		t.Fatalf("unexpected header % x", buf[:4])
	}
	for i, b := range buf[4:] {
		if b != 0 {
			t.Fatalf("byte %d not zero padded: %x", i+4, b)
		}
	}
}

func TestEncodeWrite(t *testing.T) {
	boost := Param{ID: "boost", Endpoint: EndpointCCM, Address: 5424, Datatype: DatatypeBool, Scale: 1}
	fan := Param{ID: "fan_step", Endpoint: EndpointCCM, Address: 0x1561, Datatype: DatatypeByte, Scale: 1}
	speed := Param{ID: "speed", Endpoint: EndpointUnit, Address: 5200, Datatype: DatatypeUShort, Scale: 1}
	temp := Param{ID: "temp", Endpoint: EndpointCCM, Address: 0x0300, Datatype: DatatypeUShort, Scale: 0.01}
	minutes := Param{ID: "minutes", Endpoint: EndpointUnit, Address: 992, Datatype: DatatypeUInt, Scale: 1}

	t.Run("bool", func(t *testing.T) {
		buf, err := EncodeWrite(boost, Bool(true))
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if buf[0] != 1 || buf[1] != OpWrite || binary.BigEndian.Uint16(buf[2:4]) != 5424 || buf[4] != 1 {
			t.Fatalf("unexpected frame % x", buf[:6])
		}
		buf, _ = EncodeWrite(boost, Bool(false))
		if buf[4] != 0 {
			t.Fatalf("false encoded as %x", buf[4])
		}
	})

	t.Run("byte", func(t *testing.T) {
		buf, err := EncodeWrite(fan, Number(7))
		if err != nil || buf[4] != 7 {
			t.Fatalf("buf[4]=%d err=%v", buf[4], err)
		}
	})

	t.Run("ushort", func(t *testing.T) {
		buf, err := EncodeWrite(speed, Number(1200))
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got := binary.BigEndian.Uint16(buf[4:6]); got != 1200 {
			t.Fatalf("got %d", got)
		}
	})

	t.Run("scaled", func(t *testing.T) {
		buf, err := EncodeWrite(temp, Number(21.5))
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got := binary.BigEndian.Uint16(buf[4:6]); got != 2150 {
			t.Fatalf("got %d want 2150", got)
		}
	})

	t.Run("uint", func(t *testing.T) {
		buf, err := EncodeWrite(minutes, Number(70000))
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got := binary.BigEndian.Uint32(buf[4:8]); got != 70000 {
			t.Fatalf("got %d", got)
		}
	})

	t.Run("errors", func(t *testing.T) {
		cases := []struct {
			name string
			p    Param
			v    Value
			want error
		}{
			{"string", Param{ID: "s", Datatype: DatatypeString}, Number(1), ErrDatatypeUnsupported},
			{"bool into byte", fan, Bool(true), ErrValueType},
			{"negative", fan, Number(-1), ErrOutOfRange},
			{"byte overflow", fan, Number(256), ErrOutOfRange},
			{"ushort overflow", speed, Number(70000), ErrOutOfRange},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := EncodeWrite(tc.p, tc.v); !errors.Is(err, tc.want) {
					t.Fatalf("err=%v want %v", err, tc.want)
				}
			})
		}
	})
}

func TestDecodeResponse(t *testing.T) {
	cases := []struct {
		name    string
		p       Param
		payload []byte
		want    Value
	}{
		{
			name:    "percent with precision",
			p:       Param{ID: "h", Datatype: DatatypeByte, Scale: pct, Precision: 1},
			payload: []byte{128},
			want:    Number(50.2),
		},
		{
			name:    "ushort unscaled",
			p:       Param{ID: "rev", Datatype: DatatypeUShort, Scale: 1, Precision: NoRounding},
			payload: []byte{0x00, 0x05},
			want:    Number(5),
		},
		{
			name:    "temperature",
			p:       Param{ID: "t", Datatype: DatatypeUShort, Scale: 0.01, Precision: 1},
			payload: []byte{0x08, 0x66}, // 2150
			want:    Number(21.5),
		},
		{
			name:    "uint",
			p:       Param{ID: "m", Datatype: DatatypeUInt, Scale: 1, Precision: NoRounding},
			payload: []byte{0x00, 0x01, 0x11, 0x70},
			want:    Number(70000),
		},
		{
			name:    "bool true",
			p:       Param{ID: "b", Datatype: DatatypeBool, Scale: 1, Precision: NoRounding},
			payload: []byte{1, 0, 0},
			want:    Bool(true),
		},
		{
			name:    "bool only one is true",
			p:       Param{ID: "b", Datatype: DatatypeBool, Scale: 1, Precision: NoRounding},
			payload: []byte{2},
			want:    Bool(false),
		},
		{
			name:    "trailing bytes ignored",
			p:       Param{ID: "f", Datatype: DatatypeByte, Scale: 1, Precision: NoRounding},
			payload: []byte{3, 0xff, 0xff},
			want:    Number(3),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeResponse(tc.p, tc.payload)
			if err != nil {
				t.Fatalf("err=%v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestDecodeResponse_Errors(t *testing.T) {
	if _, err := DecodeResponse(Param{Datatype: DatatypeString}, []byte{1, 2}); !errors.Is(err, ErrDatatypeUnsupported) {
		t.Fatalf("string: err=%v", err)
	}
	if _, err := DecodeResponse(Param{Datatype: DatatypeUInt}, []byte{1, 2}); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("short: err=%v", err)
	}
}

func TestRoundTripWriteRead(t *testing.T) {
	p := Param{ID: "rev", Datatype: DatatypeUShort, Scale: 1, Precision: NoRounding}
	buf, err := EncodeWrite(p, Number(5))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	v, err := DecodeResponse(p, buf[4:])
	if err != nil || v != Number(5) {
		t.Fatalf("got %v err=%v", v, err)
	}
}
