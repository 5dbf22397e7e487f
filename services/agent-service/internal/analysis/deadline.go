package analysis

import (
	"regexp"
	"strings"
	"time"
)

const datePhrase = `([A-Za-z]+\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?)`

// Checked in order; the first pattern whose capture parses wins.
var deadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)due\s+(?:by|on)\s+` + datePhrase),
	regexp.MustCompile(`(?i)deadline[:\s]+` + datePhrase),
	regexp.MustCompile(`(?i)by\s+` + datePhrase),
}

var ordinal = regexp.MustCompile(`(\d{1,2})(?:st|nd|rd|th)\b`)

var (
	withYear    = []string{"January 2 2006", "Jan 2 2006"}
	withoutYear = []string{"January 2", "Jan 2"}
)

// ExtractDeadline finds the first date phrased as "due by", "deadline:" or
// "by <date>". Dates without a year take the year of now.
func ExtractDeadline(text string, now time.Time) *time.Time {
	for _, re := range deadlinePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if t, ok := parseDatePhrase(m[1], now); ok {
			return &t
		}
	}
	return nil
}

func parseDatePhrase(phrase string, now time.Time) (time.Time, bool) {
	s := ordinal.ReplaceAllString(phrase, "$1")
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, ",", " ")), " ")
	s = titleMonth(s)

	loc := now.Location()
	for _, layout := range withYear {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	for _, layout := range withoutYear {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

// titleMonth normalizes the case of the leading month name for time.Parse.
func titleMonth(s string) string {
	word, rest, _ := strings.Cut(s, " ")
	if word == "" {
		return s
	}
	word = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	if rest == "" {
		return word
	}
	return word + " " + rest
}
