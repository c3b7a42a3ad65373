// Package calendar turns extracted events into Google Calendar deep links.
// Everything here is pure: no clock access beyond the injectable Now seam,
// no I/O, no logging.
package calendar

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-calendar-bot/internal/domain"
)

const baseURL = "https://calendar.google.com/calendar/render?action=TEMPLATE"

// DefaultTitle is used when an event carries no title.
const DefaultTitle = "無題の予定"

// slackMarkupRE matches Slack's <url|label> and <url> link markup.
var slackMarkupRE = regexp.MustCompile(`<(https?://[^>|]+)(?:\|[^>]+)?>`)

// DefaultMeetingLinkPatterns is the provider precedence for meeting-link
// detection: first pattern to match wins.
var DefaultMeetingLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https://meet\.google\.com/[a-z0-9\-]+`),
	regexp.MustCompile(`(?i)https://[^/]*zoom\.(?:us|com)/j/[^\s]+`),
}

// Encoder builds Google Calendar render URLs from events.
type Encoder struct {
	// MeetingLinkPatterns is checked in order against the event description;
	// the first match is merged into the location.
	MeetingLinkPatterns []*regexp.Regexp

	// Now supplies the clock for the no-date fallback.
	Now func() time.Time
}

// NewEncoder returns an Encoder with the default provider precedence and
// the wall clock.
func NewEncoder() *Encoder {
	return &Encoder{
		MeetingLinkPatterns: DefaultMeetingLinkPatterns,
		Now:                 time.Now,
	}
}

// UnwrapMarkup converts Slack's <url|label> markup to the bare URL.
func UnwrapMarkup(text string) string {
	if text == "" {
		return text
	}
	return slackMarkupRE.ReplaceAllString(text, "$1")
}

// FindMeetingLink returns the first meeting URL in text per the configured
// provider precedence, or "".
func (e *Encoder) FindMeetingLink(text string) string {
	for _, re := range e.MeetingLinkPatterns {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// BuildURL encodes ev as a Google Calendar "add event" deep link.
//
// Rules:
//   - missing title uses DefaultTitle
//   - Slack <url|label> markup in the description is unwrapped before
//     anything else; details always carries the bare-URL form
//   - a meeting link found in the description joins the location
//     ("<location> | <link>", or stands alone when location is empty)
//   - times render as HHMMSS; a missing start is 000000, a missing end is
//     start+1h (or 235900 when the start is missing too)
//   - an end that crosses midnight moves to the next calendar day
//   - with no date at all the event lands today, 12:00 to 13:00
func (e *Encoder) BuildURL(ev domain.ExtractedEvent) string {
	params := url.Values{}

	title := ev.Title
	if title == "" {
		title = DefaultTitle
	}
	params.Set("text", title)

	description := UnwrapMarkup(ev.Description)

	location := ev.Location
	if link := e.FindMeetingLink(description); link != "" {
		if location != "" {
			location = location + " | " + link
		} else {
			location = link
		}
	}
	if location != "" {
		params.Set("location", location)
	}
	if description != "" {
		params.Set("details", description)
	}

	params.Set("dates", e.encodeDates(ev))

	return baseURL + "&" + params.Encode()
}

func (e *Encoder) encodeDates(ev domain.ExtractedEvent) string {
	if ev.Date == "" {
		today := e.Now().Format("20060102")
		return today + "T120000/" + today + "T130000"
	}

	startDate := strings.ReplaceAll(ev.Date, "-", "")
	endDate := startDate

	startTime := "000000"
	if ev.StartTime != "" {
		startTime = formatTime(ev.StartTime)
	}

	var endTime string
	if ev.EndTime != "" {
		endTime = formatTime(ev.EndTime)
	} else {
		var rolled bool
		endTime, rolled = plusOneHour(startTime)
		if rolled {
			endDate = nextDay(ev.Date, startDate)
		}
	}

	return startDate + "T" + startTime + "/" + endDate + "T" + endTime
}

// formatTime converts "HH:MM" to "HHMMSS".
func formatTime(t string) string {
	formatted := strings.ReplaceAll(t, ":", "")
	if len(formatted) == 4 {
		formatted += "00"
	}
	return formatted
}

// plusOneHour shifts an HHMMSS time forward one hour. The second return
// reports a wrap past midnight. A 000000 start means no time was given, so
// the end becomes 235900 on the same day instead.
func plusOneHour(start string) (string, bool) {
	if start == "000000" {
		return "235900", false
	}
	hours, err := strconv.Atoi(start[:2])
	if err != nil {
		return start, false
	}
	end := (hours + 1) % 24
	padded := strconv.Itoa(end)
	if end < 10 {
		padded = "0" + padded
	}
	return padded + start[2:], hours+1 >= 24
}

// nextDay advances a YYYY-MM-DD date one day, returning YYYYMMDD.
// An unparseable date falls back to the unmodified encoding.
func nextDay(isoDate, fallback string) string {
	d, err := time.Parse("2006-01-02", isoDate)
	if err != nil {
		return fallback
	}
	return d.AddDate(0, 0, 1).Format("20060102")
}
