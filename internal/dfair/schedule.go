package dfair

import "fmt"

// Schedule is the shared polling cadence derived from the per-parameter
// intervals. Cycle is the LCM of the intervals, after which every interval
// pattern repeats; Step is their GCD. Both are in seconds.
type Schedule struct {
	Cycle int `json:"cycle"`
	Step  int `json:"step"`
}

// ComputeSchedule derives the cycle and step from the effective intervals.
// Zero intervals (static parameters) do not take part. When no positive
// interval remains both values fall back to defaultDelay.
func ComputeSchedule(intervals []int, defaultDelay int) (Schedule, error) {
	var set []int
	for _, iv := range intervals {
		if iv < 0 {
			return Schedule{}, fmt.Errorf("%w: interval %d", ErrInvalidScheduleInput, iv)
		}
		if iv > 0 {
			set = append(set, iv)
		}
	}
	if len(set) == 0 {
		return Schedule{Cycle: defaultDelay, Step: defaultDelay}, nil
	}

	cycle, step := set[0], set[0]
	for _, iv := range set[1:] {
		step = gcd(step, iv)
		cycle = lcm(cycle, iv)
	}
	return Schedule{Cycle: cycle, Step: step}, nil
}

// Delay returns the effective pass delay: never faster than the step.
func (s Schedule) Delay(defaultDelay int) int {
	return max(defaultDelay, s.Step)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
