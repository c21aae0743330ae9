package telegraph

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration returns the duration from now until the next fire time of
// the 5-field cron expression expr.
func nextCronDuration(expr string, now time.Time) (time.Duration, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("telegraph: parse cron %q: %w", expr, err)
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
