package browser

import (
	"time"

	"github.com/dustin/go-humanize"
)

// RunLabel formats a run's creation time relative to now: "Today, 3:04 PM",
// "Yesterday, 3:04 PM" or "Jan 2, 2006, 3:04 PM".
func RunLabel(t, now time.Time) string {
	t = t.In(now.Location())
	switch {
	case sameDay(t, now):
		return "Today, " + t.Format("3:04 PM")
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday, " + t.Format("3:04 PM")
	default:
		return t.Format("Jan 2, 2006, 3:04 PM")
	}
}

// RunAge describes how long ago a run was created, e.g. "3 days ago".
func RunAge(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
