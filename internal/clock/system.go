package clock

import (
	"context"
	"fmt"
	"time"
)

// SystemSource serves readings from the OS clock shifted into a fixed
// zone. Used when the daemon runs without RTC hardware, and by tests.
type SystemSource struct {
	loc *time.Location
}

func NewSystemSource(offsetMinutes int) *SystemSource {
	name := fmt.Sprintf("UTC%+03d:%02d", offsetMinutes/60, abs(offsetMinutes)%60)
	return &SystemSource{loc: time.FixedZone(name, offsetMinutes*60)}
}

func (s *SystemSource) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	return FromTime(time.Now().In(s.loc)), nil
}

// Write is a no-op; the OS clock is not ours to set.
func (s *SystemSource) Write(ctx context.Context, r Reading) error {
	return nil
}

func (s *SystemSource) Temperature(ctx context.Context) (float64, error) {
	return 0, fmt.Errorf("system clock has no temperature sensor")
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
