package notify

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Desktop raises OS notifications through notify-send. Permitted reports
// whether the binary is available at all; Silenced implements the quiet-hours
// window. Both gates are checked by the caller before Notify.
type Desktop struct {
	sendPath string

	quietSet   bool
	quietStart int // minutes since midnight
	quietEnd   int

	now func() time.Time
}

// NewDesktop builds a notifier. quietHours is "HH:MM-HH:MM" (may wrap past
// midnight) or empty for no quiet window.
func NewDesktop(quietHours string) (*Desktop, error) {
	d := &Desktop{now: time.Now}
	if path, err := exec.LookPath("notify-send"); err == nil {
		d.sendPath = path
	}

	if quietHours != "" {
		parts := strings.SplitN(quietHours, "-", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad quiet hours %q, want HH:MM-HH:MM", quietHours)
		}
		start, err := parseClock(parts[0])
		if err != nil {
			return nil, err
		}
		end, err := parseClock(parts[1])
		if err != nil {
			return nil, err
		}
		d.quietSet = true
		d.quietStart = start
		d.quietEnd = end
	}
	return d, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (d *Desktop) Permitted() bool {
	return d.sendPath != ""
}

func (d *Desktop) Silenced() bool {
	if !d.quietSet {
		return false
	}
	now := d.now()
	minute := now.Hour()*60 + now.Minute()
	if d.quietStart <= d.quietEnd {
		return minute >= d.quietStart && minute < d.quietEnd
	}
	// Window wraps midnight.
	return minute >= d.quietStart || minute < d.quietEnd
}

func (d *Desktop) Notify(title, body, roomID string) error {
	if d.sendPath == "" {
		return nil
	}
	cmd := exec.Command(d.sendPath, "--app-name=smack-remind", title, body)
	return cmd.Run()
}
