package process

import (
	"strings"
	"unicode/utf8"
)

// OutputCapture accumulates one stream's text up to a character budget.
// Once the budget is spent the truncated flag latches and every later push
// is dropped. It is not safe for concurrent use; Session serializes access.
type OutputCapture struct {
	chunks    []string
	chars     int
	bytes     int
	truncated bool
}

// Push appends text, clipped to what remains of maxChars. It never blocks
// and never fails.
func (c *OutputCapture) Push(text string, maxChars int) {
	if c.truncated || text == "" {
		return
	}

	remaining := maxChars - c.chars
	if remaining <= 0 {
		c.truncated = true
		return
	}

	n := utf8.RuneCountInString(text)
	if n > remaining {
		text = clipRunes(text, remaining)
		n = remaining
		c.truncated = true
	}

	c.chunks = append(c.chunks, text)
	c.chars += n
	c.bytes += len(text)
}

// String returns everything captured so far.
func (c *OutputCapture) String() string {
	if len(c.chunks) == 1 {
		return c.chunks[0]
	}
	s := strings.Join(c.chunks, "")
	if len(c.chunks) > 1 {
		c.chunks = []string{s}
	}
	return s
}

// Since returns the text appended after byte offset and the new offset.
func (c *OutputCapture) Since(offset int) (string, int) {
	if offset >= c.bytes {
		return "", c.bytes
	}
	if offset < 0 {
		offset = 0
	}
	return c.String()[offset:], c.bytes
}

// Chars returns the captured character count.
func (c *OutputCapture) Chars() int { return c.chars }

// Bytes returns the captured byte count.
func (c *OutputCapture) Bytes() int { return c.bytes }

// Truncated reports whether any text was dropped.
func (c *OutputCapture) Truncated() bool { return c.truncated }

func clipRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// tailChars returns the last n characters of s.
func tailChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	skip := count - n
	i := 0
	for pos := range s {
		if i == skip {
			return s[pos:]
		}
		i++
	}
	return ""
}
