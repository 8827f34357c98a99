package angel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
	// month is approximated, "in 1 month" means 30 days
	month = 30 * day

	clockPattern = `(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`
)

// reminderTimezones are the abbreviations accepted as a trailing
// timezone, ex: "daily at 9am est". Fixed offsets, no DST.
var reminderTimezones = map[string]*time.Location{
	"utc":  time.UTC,
	"gmt":  time.UTC,
	"est":  time.FixedZone("EST", -5*60*60),
	"cst":  time.FixedZone("CST", -6*60*60),
	"mst":  time.FixedZone("MST", -7*60*60),
	"pst":  time.FixedZone("PST", -8*60*60),
	"ist":  time.FixedZone("IST", 5*60*60+30*60),
	"cet":  time.FixedZone("CET", 1*60*60),
	"jst":  time.FixedZone("JST", 9*60*60),
	"aest": time.FixedZone("AEST", 10*60*60),
	"bst":  time.FixedZone("BST", 1*60*60),
}

var (
	reDaily       = regexp.MustCompile(`^(?:daily|every ?day)(?: at)? ` + clockPattern + `$`)
	reEveryNDays  = regexp.MustCompile(`^every (\d+) days?(?: at)? ` + clockPattern + `$`)
	reAlternate   = regexp.MustCompile(`^(?:alternate|every other) days?(?: at)? ` + clockPattern + `$`)
	reWeekly      = regexp.MustCompile(`^(?:weekly|every ?week)(?: on)?(?: (monday|tuesday|wednesday|thursday|friday|saturday|sunday))?(?: at)? ` + clockPattern + `$`)
	reToday       = regexp.MustCompile(`^today(?: at)? ` + clockPattern + `$`)
	reTomorrow    = regexp.MustCompile(`^tomorrow(?: at)? ` + clockPattern + `$`)
	reClock       = regexp.MustCompile(`^(?:at )?` + clockPattern + `$`)
	reRelative    = regexp.MustCompile(`^(?:in )?(\d+) ?(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w|months?)$`)
	reEveryPeriod = regexp.MustCompile(`^every (\d+) ?(minutes?|mins?|hours?|hrs?)$`)
	reWhitespace  = regexp.MustCompile(`\s+`)

	absoluteLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02t15:04:05",
		"2006-01-02t15:04",
		"2006/01/02 15:04",
		"2006-01-02",
	}

	weekdays = map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
)

var naturalTimeParser = newNaturalTimeParser()

func newNaturalTimeParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	w.SetOptions(
		&rules.Options{
			Distance:     10,
			MatchByOrder: true,
		},
	)
	return w
}

// ReminderSchedule is a parsed reminder time: the first fire time and,
// for recurring reminders, the repeat interval.
type ReminderSchedule struct {
	FireAt   time.Time
	Interval time.Duration
	Pattern  string
}

func (s ReminderSchedule) Recurring() bool {
	return s.Interval > 0
}

type scheduleParser func(text string, now time.Time) (ReminderSchedule, bool, error)

// ParseReminderTime turns user input like "in 30 minutes", "tomorrow at
// 3pm est" or "every 2 days at 20:00" into a schedule relative to now.
// The first fire time must be after now.
func ParseReminderTime(input string, now time.Time) (ReminderSchedule, error) {
	pattern := strings.TrimSpace(input)
	text := reWhitespace.ReplaceAllString(strings.ToLower(pattern), " ")
	if text == "" {
		return ReminderSchedule{}, newValidationError(
			ErrInvalidReminderTime,
			"Please provide a time, ex: `in 30 minutes`, `tomorrow at 3pm` or `daily at 9am utc`.",
		)
	}

	text, loc := splitTimezone(text)
	localNow := now.In(loc)

	parsers := []scheduleParser{
		parseRecurringClock,
		parseEveryPeriod,
		parseDayClock,
		parseRelative,
		parseAbsolute,
		parseClockOnly,
		parseNatural,
	}
	for _, parse := range parsers {
		schedule, ok, err := parse(text, localNow)
		if err != nil {
			return ReminderSchedule{}, err
		}
		if !ok {
			continue
		}
		if !schedule.FireAt.After(now) {
			return ReminderSchedule{}, newValidationError(
				ErrReminderInPast,
				"That time (%s) has already passed.",
				schedule.FireAt.Format("2006-01-02 15:04 MST"),
			)
		}
		schedule.FireAt = schedule.FireAt.UTC()
		schedule.Pattern = pattern
		return schedule, nil
	}

	return ReminderSchedule{}, newValidationError(
		ErrInvalidReminderTime,
		"I couldn't understand %q. Try `in 30 minutes`, `tomorrow at 3pm`, "+
			"`daily at 9am est` or `2025-12-25 15:30`.",
		pattern,
	)
}

// splitTimezone strips a trailing timezone abbreviation, defaulting to UTC
func splitTimezone(text string) (string, *time.Location) {
	idx := strings.LastIndexByte(text, ' ')
	if idx < 0 {
		return text, time.UTC
	}
	if loc, ok := reminderTimezones[text[idx+1:]]; ok {
		return text[:idx], loc
	}
	return text, time.UTC
}

// parseClock converts matched hour/minute/meridiem groups into a 24h clock
func parseClock(hourStr, minuteStr, meridiem string) (hour, minute int, err error) {
	hour, _ = strconv.Atoi(hourStr)
	if minuteStr != "" {
		minute, _ = strconv.Atoi(minuteStr)
	}

	switch meridiem {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, newValidationError(ErrInvalidReminderTime, "%d isn't a valid 12-hour clock hour.", hour)
		}
		if meridiem == "pm" && hour != 12 {
			hour += 12
		} else if meridiem == "am" && hour == 12 {
			hour = 0
		}
	default:
		if hour > 23 {
			return 0, 0, newValidationError(ErrInvalidReminderTime, "%d isn't a valid hour.", hour)
		}
	}
	if minute > 59 {
		return 0, 0, newValidationError(ErrInvalidReminderTime, "%d isn't a valid minute.", minute)
	}
	return hour, minute, nil
}

// atClock returns now's date at hour:minute in now's location
func atClock(now time.Time, hour, minute int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, now.Location())
}

// nextClock returns the next hour:minute strictly after now
func nextClock(now time.Time, hour, minute int) time.Time {
	t := atClock(now, hour, minute)
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func parseRecurringClock(text string, now time.Time) (ReminderSchedule, bool, error) {
	if m := reDaily.FindStringSubmatch(text); m != nil {
		hour, minute, err := parseClock(m[1], m[2], m[3])
		if err != nil {
			return ReminderSchedule{}, false, err
		}
		return ReminderSchedule{FireAt: nextClock(now, hour, minute), Interval: day}, true, nil
	}

	every := 0
	var clock []string
	if m := reEveryNDays.FindStringSubmatch(text); m != nil {
		every, _ = strconv.Atoi(m[1])
		clock = m[2:]
	} else if m := reAlternate.FindStringSubmatch(text); m != nil {
		every = 2
		clock = m[1:]
	}
	if clock != nil {
		if every < 1 || every > 365 {
			return ReminderSchedule{}, false, newValidationError(
				ErrInvalidInterval,
				"Repeat every 1 to 365 days.",
			)
		}
		hour, minute, err := parseClock(clock[0], clock[1], clock[2])
		if err != nil {
			return ReminderSchedule{}, false, err
		}
		fireAt := atClock(now, hour, minute)
		if !fireAt.After(now) {
			fireAt = fireAt.AddDate(0, 0, every)
		}
		return ReminderSchedule{FireAt: fireAt, Interval: time.Duration(every) * day}, true, nil
	}

	if m := reWeekly.FindStringSubmatch(text); m != nil {
		hour, minute, err := parseClock(m[2], m[3], m[4])
		if err != nil {
			return ReminderSchedule{}, false, err
		}
		var fireAt time.Time
		if m[1] != "" {
			fireAt = atClock(now, hour, minute)
			offset := (int(weekdays[m[1]]) - int(now.Weekday()) + 7) % 7
			fireAt = fireAt.AddDate(0, 0, offset)
			if !fireAt.After(now) {
				fireAt = fireAt.AddDate(0, 0, 7)
			}
		} else {
			// without a weekday, the first occurrence is a week out
			fireAt = atClock(now, hour, minute).AddDate(0, 0, 7)
		}
		return ReminderSchedule{FireAt: fireAt, Interval: week}, true, nil
	}
	return ReminderSchedule{}, false, nil
}

func parseEveryPeriod(text string, now time.Time) (ReminderSchedule, bool, error) {
	m := reEveryPeriod.FindStringSubmatch(text)
	if m == nil {
		return ReminderSchedule{}, false, nil
	}
	unit := time.Minute
	if strings.HasPrefix(m[2], "h") {
		unit = time.Hour
	}
	n, err := strconv.Atoi(m[1])
	if maxN := int(365 * day / unit); err != nil || n > maxN {
		return ReminderSchedule{}, false, newValidationError(
			ErrInvalidInterval,
			"Reminders can repeat at most every 365 days.",
		)
	}
	interval := time.Duration(n) * unit
	if interval < reminderMinInterval {
		return ReminderSchedule{}, false, newValidationError(
			ErrInvalidInterval,
			"Reminders can repeat at most once a minute.",
		)
	}
	return ReminderSchedule{FireAt: now.Add(interval), Interval: interval}, true, nil
}

func parseDayClock(text string, now time.Time) (ReminderSchedule, bool, error) {
	if m := reToday.FindStringSubmatch(text); m != nil {
		hour, minute, err := parseClock(m[1], m[2], m[3])
		if err != nil {
			return ReminderSchedule{}, false, err
		}
		// a time already past today is reported, not rolled over
		return ReminderSchedule{FireAt: atClock(now, hour, minute)}, true, nil
	}
	if m := reTomorrow.FindStringSubmatch(text); m != nil {
		hour, minute, err := parseClock(m[1], m[2], m[3])
		if err != nil {
			return ReminderSchedule{}, false, err
		}
		return ReminderSchedule{FireAt: atClock(now, hour, minute).AddDate(0, 0, 1)}, true, nil
	}
	return ReminderSchedule{}, false, nil
}

func parseRelative(text string, now time.Time) (ReminderSchedule, bool, error) {
	m := reRelative.FindStringSubmatch(text)
	if m == nil {
		return ReminderSchedule{}, false, nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return ReminderSchedule{}, false, newValidationError(
			ErrInvalidReminderTime,
			"The amount of time must be a positive number.",
		)
	}

	var unit time.Duration
	switch unitName := m[2]; {
	case strings.HasPrefix(unitName, "mo"):
		unit = month
	case strings.HasPrefix(unitName, "s"):
		unit = time.Second
	case strings.HasPrefix(unitName, "m"):
		unit = time.Minute
	case strings.HasPrefix(unitName, "h"):
		unit = time.Hour
	case strings.HasPrefix(unitName, "d"):
		unit = day
	case strings.HasPrefix(unitName, "w"):
		unit = week
	}
	if maxN := int(10 * 365 * day / unit); n > maxN {
		return ReminderSchedule{}, false, newValidationError(
			ErrInvalidReminderTime,
			"That's too far in the future.",
		)
	}
	return ReminderSchedule{FireAt: now.Add(time.Duration(n) * unit)}, true, nil
}

func parseAbsolute(text string, now time.Time) (ReminderSchedule, bool, error) {
	for _, layout := range absoluteLayouts {
		t, err := time.ParseInLocation(layout, text, now.Location())
		if err == nil {
			return ReminderSchedule{FireAt: t}, true, nil
		}
	}
	return ReminderSchedule{}, false, nil
}

func parseClockOnly(text string, now time.Time) (ReminderSchedule, bool, error) {
	m := reClock.FindStringSubmatch(text)
	// a bare number ("5") is too ambiguous to treat as a clock time
	if m == nil || (m[2] == "" && m[3] == "") {
		return ReminderSchedule{}, false, nil
	}
	hour, minute, err := parseClock(m[1], m[2], m[3])
	if err != nil {
		return ReminderSchedule{}, false, err
	}
	return ReminderSchedule{FireAt: nextClock(now, hour, minute)}, true, nil
}

func parseNatural(text string, now time.Time) (ReminderSchedule, bool, error) {
	r, err := naturalTimeParser.Parse(text, now)
	if err != nil || r == nil {
		return ReminderSchedule{}, false, nil //nolint:nilerr // unparseable input isn't an error here
	}
	return ReminderSchedule{FireAt: r.Time}, true, nil
}

// FormatTimeUntil renders d as "2 days, 3 hours", "45 minutes" and so on,
// with at most two units.
func FormatTimeUntil(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	units := []struct {
		name string
		size time.Duration
	}{
		{"day", day},
		{"hour", time.Hour},
		{"minute", time.Minute},
	}
	var parts []string
	for _, u := range units {
		if n := int(d / u.size); n > 0 {
			parts = append(parts, pluralize(n, u.name))
			d -= time.Duration(n) * u.size
		}
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, ", ")
}

// describeInterval renders a recurrence, ex: "every day", "every 2 weeks"
func describeInterval(d time.Duration) string {
	switch {
	case d <= 0:
		return "once"
	case d%week == 0:
		return everyN(int(d/week), "week")
	case d%day == 0:
		return everyN(int(d/day), "day")
	case d%time.Hour == 0:
		return everyN(int(d/time.Hour), "hour")
	default:
		return everyN(int(d/time.Minute), "minute")
	}
}

func everyN(n int, unit string) string {
	if n == 1 {
		return "every " + unit
	}
	return fmt.Sprintf("every %d %ss", n, unit)
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
