// Package deps checks availability of the external binaries the pipeline
// shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"subflow/internal/config"
)

// Requirement defines an external dependency subflow relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// For returns the binary requirements derived from configuration.
func For(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "yt-dlp", Command: cfg.Source.YtDlpBinary, Description: "Resolves and downloads video sources"},
		{Name: "ffmpeg", Command: cfg.Source.FFmpegBinary, Description: "Extracts and cuts audio"},
		{Name: "ffprobe", Command: ProbeBinary(cfg.Source.FFmpegBinary), Description: "Measures audio duration"},
	}
}

// ProbeBinary derives the ffprobe path from a configured ffmpeg binary so a
// custom ffmpeg location finds its sibling probe tool.
func ProbeBinary(ffmpegBinary string) string {
	if dir, base := filepath.Split(ffmpegBinary); strings.Contains(base, "ffmpeg") {
		return dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
	}
	return "ffprobe"
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
