package dfair

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValueJSON(t *testing.T) {
	b, _ := json.Marshal(struct {
		A Value `json:"a"`
		B Value `json:"b"`
	}{Number(21.5), Bool(true)})
	if string(b) != `{"a":21.5,"b":true}` {
		t.Fatalf("got %s", b)
	}

	var v Value
	if err := json.Unmarshal([]byte("false"), &v); err != nil || v != Bool(false) {
		t.Fatalf("bool: v=%v err=%v", v, err)
	}
	if err := json.Unmarshal([]byte("3"), &v); err != nil || v != Number(3) {
		t.Fatalf("number: v=%v err=%v", v, err)
	}
	if err := json.Unmarshal([]byte(`"x"`), &v); !errors.Is(err, ErrValueType) {
		t.Fatalf("string: err=%v", err)
	}
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		in   string
		want Value
	}{
		{"true", Bool(true)},
		{" ON ", Bool(true)},
		{"off", Bool(false)},
		{"1", Number(1)},
		{"21.5", Number(21.5)},
	}
	for _, tc := range cases {
		got, err := ParseValue(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("ParseValue(%q)=%v err=%v", tc.in, got, err)
		}
	}
	if _, err := ParseValue("boost"); !errors.Is(err, ErrValueType) {
		t.Fatalf("err=%v", err)
	}
}

func TestValueConversions(t *testing.T) {
	if !Unread().IsUnread() || Number(0).IsUnread() {
		t.Fatal("sentinel detection")
	}
	if Bool(true).Float() != 1 || !Number(2).Bool() || Number(0).Bool() {
		t.Fatal("conversions")
	}
	if Number(50.2).String() != "50.2" || Bool(false).String() != "false" {
		t.Fatal("string form")
	}
}
