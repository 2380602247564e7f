package publication

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"

	"socialflow/internal/domain"
)

// Request is a post waiting to be published, either now or at PublishTime.
// It is also the payload of the deferred task.
type Request struct {
	AuthorID        int64      `json:"author_id"`
	Hashtag         string     `json:"hashtag,omitempty"`
	TextContent     string     `json:"text_content,omitempty"`
	MediaAttachment string     `json:"media_attachment,omitempty"`
	PublishTime     *time.Time `json:"publish_time,omitempty"`
}

// ParsePublishTime parses an absolute timestamp. An empty string means
// "publish now" and yields nil.
func ParsePublishTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// Ambiguous day/month order is rejected, as are inputs without a
		// full calendar date (a bare year, a time of day, "3/4").
		t, err = dateparse.ParseStrict(raw)
		if err != nil || t.Year() == 0 || !hasFullDate(raw) {
			return nil, domain.Invalid("publish_time", "not a valid timestamp: %q", raw)
		}
	}
	t = t.UTC()
	return &t, nil
}

var monthNames = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

// hasFullDate reports whether raw names a year, a month and a day: three
// numeric fields, two next to a month name, or a compact yyyymmdd.
func hasFullDate(raw string) bool {
	numbers := strings.FieldsFunc(raw, func(r rune) bool { return !unicode.IsDigit(r) })
	words := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool { return !unicode.IsLetter(r) })
	namedMonth := lo.ContainsBy(words, func(w string) bool {
		return len(w) >= 3 && lo.Contains(monthNames, w[:3])
	})
	switch {
	case len(numbers) >= 3:
		return true
	case namedMonth && len(numbers) >= 2:
		return true
	case len(numbers) == 1 && len(numbers[0]) == 8 && numbers[0] == raw:
		return true
	}
	return false
}

func (r Request) Validate() error {
	if r.AuthorID <= 0 {
		return domain.Invalid("author", "author is required")
	}
	if utf8.RuneCountInString(r.Hashtag) > domain.MaxHashtagLen {
		return domain.Invalid("hashtag", "must be at most %d characters", domain.MaxHashtagLen)
	}
	if utf8.RuneCountInString(r.TextContent) > domain.MaxTextContentLen {
		return domain.Invalid("text_content", "must be at most %d characters", domain.MaxTextContentLen)
	}
	return nil
}

// delay is how long until the request is due, measured from now.
func (r Request) delay(now time.Time) time.Duration {
	if r.PublishTime == nil {
		return 0
	}
	return r.PublishTime.Sub(now)
}

func (r Request) newPost() domain.NewPost {
	return domain.NewPost{
		AuthorID:        r.AuthorID,
		Hashtag:         r.Hashtag,
		TextContent:     r.TextContent,
		MediaAttachment: r.MediaAttachment,
	}
}
