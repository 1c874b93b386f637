package pricing

import (
	"regexp"
	"strconv"
	"time"
)

// JST is the zone every catalog publishes sale deadlines in.
var JST = time.FixedZone("JST", 9*60*60)

var (
	reFullDate = regexp.MustCompile(`(\d{4})\s*[/.\-年]\s*(\d{1,2})\s*[/.\-月]\s*(\d{1,2})\s*日?(?:\s*\([^)]*\))?(?:\s*(\d{1,2}):(\d{2}))?`)
	reMonthDay = regexp.MustCompile(`(\d{1,2})\s*[/月]\s*(\d{1,2})\s*日?(?:\s*\([^)]*\))?(?:\s*(\d{1,2}):(\d{2}))?`)
)

// ParseExpiry finds a sale deadline in text. A date without a time means the
// end of that day in JST.
//
// When the year is omitted the current JST year is assumed, and if that date
// has already passed at now the following year is used instead. inferred
// reports that this rule was applied.
func ParseExpiry(text string, now time.Time) (expiry time.Time, inferred bool, ok bool) {
	if m := reFullDate.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		if t, ok := buildDate(year, m[2], m[3], m[4], m[5]); ok {
			return t, false, true
		}
	}

	m := reMonthDay.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false, false
	}
	year := now.In(JST).Year()
	t, ok := buildDate(year, m[1], m[2], m[3], m[4])
	if !ok {
		return time.Time{}, false, false
	}
	if t.Before(now) {
		t, ok = buildDate(year+1, m[1], m[2], m[3], m[4])
		if !ok {
			return time.Time{}, false, false
		}
	}
	return t, true, true
}

func buildDate(year int, month, day, hour, minute string) (time.Time, bool) {
	mo, err := strconv.Atoi(month)
	if err != nil || mo < 1 || mo > 12 {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return time.Time{}, false
	}

	h, mi, s := 23, 59, 59
	if hour != "" {
		h, _ = strconv.Atoi(hour)
		mi, _ = strconv.Atoi(minute)
		s = 0
		if h > 24 || mi > 59 {
			return time.Time{}, false
		}
	}

	t := time.Date(year, time.Month(mo), d, h, mi, s, 0, JST)
	// reject Feb 30 and friends, but allow "24:00" which rolls to the next day
	if t.Month() != time.Month(mo) && h != 24 {
		return time.Time{}, false
	}
	return t, true
}
