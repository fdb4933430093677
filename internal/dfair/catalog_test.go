package dfair

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	if c.Len() != 22 {
		t.Fatalf("len=%d want 22", c.Len())
	}
	seen := map[string]bool{}
	for _, p := range c.All() {
		if seen[p.ID] {
			t.Fatalf("duplicate id %q", p.ID)
		}
		seen[p.ID] = true
		if !p.Value.IsUnread() {
			t.Fatalf("%s starts with %v", p.ID, p.Value)
		}
		if p.Writable != writableIDs[p.ID] {
			t.Fatalf("%s writable=%v", p.ID, p.Writable)
		}
	}
	for id := range writableIDs {
		if !c.IsWritable(id) {
			t.Fatalf("%s should be writable", id)
		}
	}
	if c.IsWritable("humidity_measured_relative") || c.IsWritable("nope") {
		t.Fatal("unexpected writable")
	}
}

func TestCatalogGet(t *testing.T) {
	c := DefaultCatalog()
	p, err := c.Get("temperature_room")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if p.Address != 0x0300 || p.Endpoint != EndpointCCM || p.Unit != "c" {
		t.Fatalf("unexpected %+v", p)
	}
	if _, err := c.Get("nonexistent"); !errors.Is(err, ErrParameterNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestCatalogSetMonotonicTimestamp(t *testing.T) {
	c := NewCatalog([]Param{{ID: "a", Datatype: DatatypeByte, Interval: IntervalDefault}})
	now := time.Now()
	c.set(0, Number(1), now)
	p := c.set(0, Number(2), now.Add(-time.Minute))
	if p.Value != Number(2) {
		t.Fatalf("value=%v", p.Value)
	}
	if !p.ValueTimestamp.Equal(now) {
		t.Fatalf("timestamp moved backwards: %v", p.ValueTimestamp)
	}
}

func TestCatalogIntervals(t *testing.T) {
	c := NewCatalog([]Param{
		{ID: "a", Interval: IntervalDefault},
		{ID: "b", Interval: 0},
		{ID: "c", Interval: 60},
	})
	if err := c.SetInterval("c", 90); err != nil {
		t.Fatalf("err=%v", err)
	}
	if err := c.SetInterval("z", 90); !errors.Is(err, ErrParameterNotFound) {
		t.Fatalf("err=%v", err)
	}
	got := c.Intervals(30)
	want := []int{30, 0, 90}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("intervals=%v want %v", got, want)
		}
	}
}

func TestParamJSONRoundTrip(t *testing.T) {
	p, _ := DefaultCatalog().Get("temperature_room")
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Param
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Datatype != DatatypeUShort || back.Address != 0x0300 || !back.Value.IsUnread() {
		t.Fatalf("got %+v", back)
	}
}
