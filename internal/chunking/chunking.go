// Package chunking splits long inputs into ordered, bounded units that remote
// providers can process one at a time. Text is cut at sentence or paragraph
// boundaries when one falls inside the tolerance window; audio is planned as
// time ranges with a fixed overlap margin so words straddling a cut survive.
package chunking

import (
	"time"

	"subflow/internal/services"
)

// AudioOverlapMargin is prepended to every audio chunk after the first so a
// word split by the previous cut is re-heard by the next chunk. Fixed and
// bounded; reassembly drops the duplicated span by trusting the earlier chunk.
const AudioOverlapMargin = 300 * time.Millisecond

// TextChunk is one contiguous span of the source text. Concatenating chunks
// in index order reproduces the input exactly.
type TextChunk struct {
	Index int
	Text  string
	Start int // rune offset into the source, inclusive
	End   int // rune offset, exclusive
}

// TextOptions bounds chunk sizes in runes. A cut is placed at the latest
// sentence or paragraph boundary within [Min, Max]; if no boundary exists in
// that window the chunk is hard-cut at Target.
type TextOptions struct {
	Target int
	Min    int
	Max    int
}

func (o TextOptions) normalized() TextOptions {
	if o.Target <= 0 {
		o.Target = 2000
	}
	if o.Min <= 0 || o.Min > o.Target {
		o.Min = o.Target * 4 / 5
	}
	if o.Max < o.Target {
		o.Max = o.Target * 6 / 5
	}
	return o
}

// sentence enders cover both CJK and Latin punctuation since transcripts mix
// scripts freely.
var sentenceEnders = map[rune]struct{}{
	'。': {}, '！': {}, '？': {}, '；': {},
	'.': {}, '!': {}, '?': {}, ';': {},
	'\n': {},
}

// SplitText partitions text into ordered chunks with no gaps or overlaps.
func SplitText(text string, opts TextOptions) ([]TextChunk, error) {
	if text == "" {
		return nil, services.Wrap(services.ErrInvalidInput, "chunking", "split_text", "input text is empty", nil)
	}
	opts = opts.normalized()

	runes := []rune(text)
	var chunks []TextChunk
	start := 0
	for start < len(runes) {
		remaining := len(runes) - start
		if remaining <= opts.Max {
			chunks = append(chunks, TextChunk{
				Index: len(chunks),
				Text:  string(runes[start:]),
				Start: start,
				End:   len(runes),
			})
			break
		}

		end := start + boundaryWithin(runes[start:], opts)
		chunks = append(chunks, TextChunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		start = end
	}
	return chunks, nil
}

// boundaryWithin returns the cut length for a window of runes: the position
// just after the last sentence ender inside [Min, Max], or Target when the
// window contains no boundary.
func boundaryWithin(window []rune, opts TextOptions) int {
	limit := opts.Max
	if limit > len(window) {
		limit = len(window)
	}
	for i := limit - 1; i >= opts.Min; i-- {
		if _, ok := sentenceEnders[window[i]]; ok {
			return i + 1
		}
	}
	return opts.Target
}

// AudioChunk is one time range of the source audio. Ranges after the first
// begin AudioOverlapMargin early.
type AudioChunk struct {
	Index int
	Start time.Duration
	End   time.Duration
}

// Duration returns the span length including any overlap lead-in.
func (c AudioChunk) Duration() time.Duration {
	return c.End - c.Start
}

// PlanAudio divides a recording of the given total duration into ranges of at
// most chunkLength each. The nominal cut points form a gap-free partition;
// every chunk after the first starts AudioOverlapMargin before its nominal
// cut so no word is lost at a boundary.
func PlanAudio(total, chunkLength time.Duration) ([]AudioChunk, error) {
	if total <= 0 {
		return nil, services.Wrap(services.ErrInvalidInput, "chunking", "plan_audio", "audio duration must be positive", nil)
	}
	if chunkLength <= 0 {
		return nil, services.Wrap(services.ErrInvalidInput, "chunking", "plan_audio", "chunk length must be positive", nil)
	}

	var chunks []AudioChunk
	for cursor := time.Duration(0); cursor < total; cursor += chunkLength {
		start := cursor
		if start > 0 {
			start -= AudioOverlapMargin
		}
		end := cursor + chunkLength
		if end > total {
			end = total
		}
		chunks = append(chunks, AudioChunk{Index: len(chunks), Start: start, End: end})
	}
	return chunks, nil
}
