package chunking

import (
	"errors"
	"strings"
	"testing"
	"time"

	"subflow/internal/services"
)

func TestSplitTextReconstructsInput(t *testing.T) {
	var builder strings.Builder
	for i := 0; i < 400; i++ {
		builder.WriteString("这是一段需要翻译的字幕文本。It mixes scripts and punctuation! ")
	}
	text := builder.String()

	chunks, err := SplitText(text, TextOptions{Target: 2000, Min: 1600, Max: 2400})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Fatalf("chunk %d has index %d", i, chunk.Index)
		}
		rebuilt.WriteString(chunk.Text)
	}
	if rebuilt.String() != text {
		t.Fatal("concatenated chunks do not reconstruct the input")
	}
}

func TestSplitTextPrefersSentenceBoundary(t *testing.T) {
	sentence := "一二三四五六七八九十。"
	text := strings.Repeat(sentence, 30)

	chunks, err := SplitText(text, TextOptions{Target: 100, Min: 80, Max: 120})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	for _, chunk := range chunks[:len(chunks)-1] {
		runes := []rune(chunk.Text)
		if runes[len(runes)-1] != '。' {
			t.Fatalf("chunk %d does not end on a sentence boundary: %q", chunk.Index, chunk.Text)
		}
	}
}

func TestSplitTextHardCutsWithoutBoundary(t *testing.T) {
	text := strings.Repeat("a", 500)

	chunks, err := SplitText(text, TextOptions{Target: 100, Min: 80, Max: 120})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks[0].Text) != 100 {
		t.Fatalf("expected hard cut at target 100, got %d", len(chunks[0].Text))
	}

	var rebuilt strings.Builder
	for _, chunk := range chunks {
		rebuilt.WriteString(chunk.Text)
	}
	if rebuilt.String() != text {
		t.Fatal("hard-cut chunks do not reconstruct the input")
	}
}

func TestSplitTextRejectsEmptyInput(t *testing.T) {
	_, err := SplitText("", TextOptions{})
	if !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestPlanAudioCoversDurationWithBoundedOverlap(t *testing.T) {
	total := 25 * time.Minute
	chunks, err := PlanAudio(total, 10*time.Minute)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Start != 0 {
		t.Fatalf("first chunk must start at zero, got %v", chunks[0].Start)
	}
	if chunks[len(chunks)-1].End != total {
		t.Fatalf("last chunk must end at total duration, got %v", chunks[len(chunks)-1].End)
	}
	for i := 1; i < len(chunks); i++ {
		overlap := chunks[i-1].End - chunks[i].Start
		if overlap != AudioOverlapMargin {
			t.Fatalf("chunk %d overlap = %v, want %v", i, overlap, AudioOverlapMargin)
		}
	}
}

func TestPlanAudioSingleChunk(t *testing.T) {
	chunks, err := PlanAudio(3*time.Minute, 10*time.Minute)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Start != 0 || chunks[0].End != 3*time.Minute {
		t.Fatalf("unexpected plan: %+v", chunks)
	}
}

func TestPlanAudioRejectsNonPositiveDuration(t *testing.T) {
	if _, err := PlanAudio(0, time.Minute); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}
