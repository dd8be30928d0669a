package clip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const stderrLimit = 2048

// FFmpeg shells out to ffprobe and ffmpeg with a per-invocation timeout.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
}

func NewFFmpeg(ffmpegPath string, ffprobePath string, timeout time.Duration) *FFmpeg {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Timeout: timeout}
}

// CommandError carries the tool's stderr text.
type CommandError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Available reports whether both tools resolve on PATH.
func (f *FFmpeg) Available(context.Context) error {
	for _, tool := range []string{f.FFmpegPath, f.FFprobePath} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%s not found: %w", tool, err)
		}
	}
	return nil
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	stdout, err := f.run(ctx, f.FFprobePath, probeArgs(path))
	if err != nil {
		return 0, err
	}
	return parseProbeDuration(stdout)
}

func (f *FFmpeg) Extract(ctx context.Context, sourcePath string, start int, duration int, outputPath string) error {
	if _, err := f.run(ctx, f.FFmpegPath, extractArgs(sourcePath, start, duration, outputPath)); err != nil {
		return err
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("clip was not written: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("clip was written empty")
	}
	return nil
}

func (f *FFmpeg) run(ctx context.Context, tool string, args []string) ([]byte, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &CommandError{Tool: tool, Stderr: truncate(strings.TrimSpace(stderr.String()), stderrLimit), Err: err}
	}
	return stdout.Bytes(), nil
}

func probeArgs(path string) []string {
	return []string{"-v", "quiet", "-show_entries", "format=duration", "-of", "json", path}
}

func extractArgs(sourcePath string, start int, duration int, outputPath string) []string {
	return []string{
		"-ss", strconv.Itoa(start),
		"-i", sourcePath,
		"-t", strconv.Itoa(duration),
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "fast",
		"-y",
		outputPath,
	}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbeDuration(raw []byte) (float64, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}

	value := strings.TrimSpace(out.Format.Duration)
	if value == "" || value == "N/A" {
		return 0, errors.New("ffprobe reported no duration")
	}

	duration, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", value, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", duration)
	}
	return duration, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
