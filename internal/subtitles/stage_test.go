package subtitles

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subflow/internal/logging"
	"subflow/internal/queue"
	"subflow/internal/testsupport"
)

func TestExecuteConvertsWebVTTToSRT(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stg := NewStage(cfg, nil, logging.NewNop())

	vttPath := testsupport.WriteFile(t, "upload.vtt", `WEBVTT

00:01.000 --> 00:03.000 align:start
第一句

00:03.500 --> 00:05.000
第二句
`)
	job := &queue.Job{ID: 7, Title: "upload", SubtitlePath: vttPath}
	if err := stg.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if filepath.Ext(job.ResultPath) != ".srt" {
		t.Fatalf("uploaded vtt must publish as srt, got %q", job.ResultPath)
	}
	raw, err := os.ReadFile(job.ResultPath)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if strings.Contains(string(raw), "WEBVTT") || strings.Contains(string(raw), "align:") {
		t.Fatalf("vtt framing leaked into output:\n%s", raw)
	}
	cues, err := Parse(string(raw))
	if err != nil {
		t.Fatalf("output is not valid srt: %v", err)
	}
	if len(cues) != 2 || cues[0].Text != "第一句" {
		t.Fatalf("unexpected cues: %+v", cues)
	}
}

func TestExecuteKeepsExtensionForOpaqueFormats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stg := NewStage(cfg, nil, logging.NewNop())

	const assDoc = `[Script Info]
Title: sample

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:03.00,Default,,0,0,0,,第一句
`
	assPath := testsupport.WriteFile(t, "upload.ass", assDoc)
	job := &queue.Job{ID: 8, Title: "styled", SubtitlePath: assPath}
	if err := stg.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if filepath.Ext(job.ResultPath) != ".ass" {
		t.Fatalf("unconvertible source must keep its extension, got %q", job.ResultPath)
	}
	raw, err := os.ReadFile(job.ResultPath)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(raw) != assDoc {
		t.Fatal("opaque source must be copied unchanged")
	}
}
