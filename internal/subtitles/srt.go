// Package subtitles assembles and parses SubRip (SRT) files.
package subtitles

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"subflow/internal/services"
)

// Cue is one timed subtitle entry.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// Timed is the minimal shape FromSegments needs. Both engines' segment types
// convert into it.
type Timed struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// FormatTimestamp renders a duration in SRT form: HH:MM:SS,mmm.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	millis := (d - seconds*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

// ParseTimestamp reads an SRT timestamp. The comma separator is canonical
// but a period is tolerated since converters disagree, and the hour field
// may be absent (WebVTT allows MM:SS.mmm).
func ParseTimestamp(value string) (time.Duration, error) {
	value = strings.TrimSpace(strings.ReplaceAll(value, ".", ","))
	parts := strings.Split(value, ":")
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timestamp %q", value)
	}
	secParts := strings.SplitN(parts[2], ",", 2)
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", value)
	}
	seconds, err := strconv.Atoi(secParts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", value)
	}
	var millis int
	if len(secParts) == 2 {
		padded := (secParts[1] + "000")[:3]
		if millis, err = strconv.Atoi(padded); err != nil {
			return 0, fmt.Errorf("malformed timestamp %q", value)
		}
	}
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond, nil
}

// HasCueFormat reports whether the file extension names a format Parse
// understands. ASS/SSA timing is not cue-per-line and stays opaque.
func HasCueFormat(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".srt", ".vtt":
		return true
	}
	return false
}

// Render writes cues as an SRT document. Cues are renumbered from 1 in the
// given order.
func Render(cues []Cue) string {
	var sb strings.Builder
	for i, cue := range cues {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n", i+1, FormatTimestamp(cue.Start), FormatTimestamp(cue.End), strings.TrimRight(cue.Text, "\n"))
	}
	return sb.String()
}

// Parse reads an SRT document into cues. WebVTT documents parse as well:
// the header, cue identifiers and cue settings carry no timing and are
// dropped. Blank entries are skipped; a document with no parseable cue is
// an input error.
func Parse(content string) ([]Cue, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var cues []Cue
	var current *Cue
	var textLines []string

	flush := func() {
		if current != nil {
			current.Text = strings.Join(textLines, "\n")
			if strings.TrimSpace(current.Text) != "" {
				current.Index = len(cues) + 1
				cues = append(cues, *current)
			}
		}
		current = nil
		textLines = nil
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.Contains(line, "-->"):
			parts := strings.SplitN(line, "-->", 2)
			start, err := ParseTimestamp(parts[0])
			if err != nil {
				return nil, services.Wrap(services.ErrInvalidInput, "subtitles", "parse", "bad start timestamp", err)
			}
			// WebVTT appends cue settings after the end timestamp
			// ("align:start position:0%"); only the first field is timing.
			endValue := parts[1]
			if fields := strings.Fields(endValue); len(fields) > 0 {
				endValue = fields[0]
			}
			end, err := ParseTimestamp(endValue)
			if err != nil {
				return nil, services.Wrap(services.ErrInvalidInput, "subtitles", "parse", "bad end timestamp", err)
			}
			current = &Cue{Start: start, End: end}
		case current == nil:
			// Sequence number before the timing line; ignored, cues are
			// renumbered on parse.
		default:
			textLines = append(textLines, line)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "subtitles", "parse", "read subtitle document", err)
	}
	if len(cues) == 0 {
		return nil, services.Wrap(services.ErrInvalidInput, "subtitles", "parse", "document contains no cues", nil)
	}
	return cues, nil
}

// Flatten joins cue text into one plain-text body, one cue per line. Used
// for translation chunking and article publishing.
func Flatten(cues []Cue) string {
	lines := make([]string, 0, len(cues))
	for _, cue := range cues {
		lines = append(lines, strings.ReplaceAll(cue.Text, "\n", " "))
	}
	return strings.Join(lines, "\n")
}

// FromSegments builds cues from timed transcript segments, skipping empty
// ones.
func FromSegments(segments []Timed) []Cue {
	cues := make([]Cue, 0, len(segments))
	for _, segment := range segments {
		if strings.TrimSpace(segment.Text) == "" {
			continue
		}
		cues = append(cues, Cue{Start: segment.Start, End: segment.End, Text: segment.Text})
	}
	return cues
}

// ReplaceText maps translated lines back onto the original cue timing. The
// translation works on the flattened text, one line per cue, so the counts
// must match.
func ReplaceText(cues []Cue, lines []string) ([]Cue, error) {
	if len(lines) != len(cues) {
		return nil, services.Wrap(services.ErrInvalidInput, "subtitles", "replace_text",
			fmt.Sprintf("line count %d does not match cue count %d", len(lines), len(cues)), nil)
	}
	out := make([]Cue, len(cues))
	for i, cue := range cues {
		cue.Text = lines[i]
		out[i] = cue
	}
	return out, nil
}
