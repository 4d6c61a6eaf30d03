package subtitles

import (
	"errors"
	"strings"
	"testing"
	"time"

	"subflow/internal/services"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:03,500
Hello there.

2
00:00:03,600 --> 00:00:06,000
第二条字幕
跨两行

3
00:00:06,100 --> 00:00:08,000
Final line.
`

func TestParseReadsCues(t *testing.T) {
	cues, err := Parse(sampleSRT)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cues) != 3 {
		t.Fatalf("expected 3 cues, got %d", len(cues))
	}
	if cues[0].Start != time.Second || cues[0].End != 3500*time.Millisecond {
		t.Fatalf("cue 0 timing: %+v", cues[0])
	}
	if cues[1].Text != "第二条字幕\n跨两行" {
		t.Fatalf("cue 1 text: %q", cues[1].Text)
	}
}

func TestRenderRoundTrips(t *testing.T) {
	cues, err := Parse(sampleSRT)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rendered := Render(cues)
	again, err := Parse(rendered)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(again) != len(cues) {
		t.Fatalf("cue count changed: %d vs %d", len(again), len(cues))
	}
	for i := range cues {
		if again[i].Start != cues[i].Start || again[i].End != cues[i].End || again[i].Text != cues[i].Text {
			t.Fatalf("cue %d changed: %+v vs %+v", i, again[i], cues[i])
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	d := time.Hour + 2*time.Minute + 3*time.Second + 45*time.Millisecond
	if got := FormatTimestamp(d); got != "01:02:03,045" {
		t.Fatalf("got %q", got)
	}
	if got := FormatTimestamp(-time.Second); got != "00:00:00,000" {
		t.Fatalf("negative duration rendered %q", got)
	}
}

func TestParseTimestampToleratesPeriodSeparator(t *testing.T) {
	d, err := ParseTimestamp("00:01:02.300")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d != time.Minute+2*time.Second+300*time.Millisecond {
		t.Fatalf("got %v", d)
	}
}

func TestParseRejectsEmptyDocument(t *testing.T) {
	if _, err := Parse("\n\n"); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestFlattenAndReplaceText(t *testing.T) {
	cues, err := Parse(sampleSRT)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	flat := Flatten(cues)
	lines := strings.Split(flat, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 flattened lines, got %d", len(lines))
	}
	if lines[1] != "第二条字幕 跨两行" {
		t.Fatalf("multi-line cue not flattened: %q", lines[1])
	}

	translated := []string{"你好。", "Second cue", "最后一行。"}
	replaced, err := ReplaceText(cues, translated)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	for i, cue := range replaced {
		if cue.Text != translated[i] {
			t.Fatalf("cue %d text = %q", i, cue.Text)
		}
		if cue.Start != cues[i].Start || cue.End != cues[i].End {
			t.Fatalf("cue %d timing changed", i)
		}
	}

	if _, err := ReplaceText(cues, translated[:2]); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestFromSegmentsSkipsEmpty(t *testing.T) {
	cues := FromSegments([]Timed{
		{Start: 0, End: time.Second, Text: "one"},
		{Start: time.Second, End: 2 * time.Second, Text: "   "},
		{Start: 2 * time.Second, End: 3 * time.Second, Text: "three"},
	})
	if len(cues) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(cues))
	}
}

func TestParseReadsWebVTTDocument(t *testing.T) {
	const vtt = `WEBVTT
Kind: captions
Language: zh

intro
00:01.000 --> 00:03.500 align:start position:0%
大家好

00:00:03.600 --> 00:00:06.000
欢迎收看
`
	cues, err := Parse(vtt)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cues) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(cues))
	}
	if cues[0].Start != time.Second || cues[0].End != 3500*time.Millisecond {
		t.Fatalf("cue 0 timing: %+v", cues[0])
	}
	if cues[0].Text != "大家好" {
		t.Fatalf("cue 0 text: %q", cues[0].Text)
	}
	if cues[1].Start != 3600*time.Millisecond {
		t.Fatalf("cue 1 timing: %+v", cues[1])
	}
}

func TestParseTimestampAcceptsShortForm(t *testing.T) {
	got, err := ParseTimestamp("01:02.250")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := time.Minute + 2*time.Second + 250*time.Millisecond; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if _, err := ParseTimestamp("42"); err == nil {
		t.Fatal("bare seconds must not parse")
	}
}

func TestHasCueFormat(t *testing.T) {
	for path, want := range map[string]bool{
		"a.srt": true, "b.VTT": true, "c.ass": false, "d.txt": false, "e": false,
	} {
		if got := HasCueFormat(path); got != want {
			t.Fatalf("HasCueFormat(%q) = %v, want %v", path, got, want)
		}
	}
}
