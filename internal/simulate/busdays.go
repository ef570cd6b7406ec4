package simulate

import "time"

// BusinessDays returns the weekdays in [start, end], inclusive, as UTC
// dates. Exchange holidays are not modeled.
func BusinessDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := dateOf(start); !d.After(dateOf(end)); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, d)
		}
	}
	return days
}

// AddBusinessDays returns the date n weekdays after from.
func AddBusinessDays(from time.Time, n int) time.Time {
	d := dateOf(from)
	for counted := 0; counted < n; {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			counted++
		}
	}
	return d
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
