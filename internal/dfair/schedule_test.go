package dfair

import (
	"errors"
	"testing"
)

func TestComputeSchedule(t *testing.T) {
	cases := []struct {
		name      string
		intervals []int
		delay     int
		want      Schedule
	}{
		{"mixed", []int{60, 120, 30}, 30, Schedule{Cycle: 120, Step: 30}},
		{"empty", nil, 30, Schedule{Cycle: 30, Step: 30}},
		{"only static", []int{0, 0}, 10, Schedule{Cycle: 10, Step: 10}},
		{"static ignored", []int{0, 45, 60}, 30, Schedule{Cycle: 180, Step: 15}},
		{"single", []int{7}, 30, Schedule{Cycle: 7, Step: 7}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeSchedule(tc.intervals, tc.delay)
			if err != nil {
				t.Fatalf("err=%v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestComputeSchedule_Negative(t *testing.T) {
	if _, err := ComputeSchedule([]int{30, -5}, 30); !errors.Is(err, ErrInvalidScheduleInput) {
		t.Fatalf("err=%v", err)
	}
}

func TestScheduleDelay(t *testing.T) {
	s := Schedule{Cycle: 120, Step: 30}
	if got := s.Delay(10); got != 30 {
		t.Fatalf("delay below step: got %d", got)
	}
	if got := s.Delay(45); got != 45 {
		t.Fatalf("delay above step: got %d", got)
	}
}

func TestDefaultCatalogSchedule(t *testing.T) {
	c := DefaultCatalog()
	s, err := ComputeSchedule(c.Intervals(30), 30)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if s.Cycle != 120 || s.Step != 30 {
		t.Fatalf("got %+v", s)
	}
}
