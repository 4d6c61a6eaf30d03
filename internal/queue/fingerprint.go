package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Fingerprint derives a stable identity for a video source. Submissions of the
// same video through different URL forms share one fingerprint, so duplicate
// submissions attach to the existing job instead of starting a second download.
func Fingerprint(platform, canonicalID string) string {
	normalized := strings.ToLower(strings.TrimSpace(platform)) + ":" + strings.TrimSpace(canonicalID)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// FileFingerprint hashes file content so re-uploads of the same subtitle or
// audio file dedupe like URL submissions.
func FileFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)[:16]), nil
}
