// Package clip cuts random fixed-length sub-clips out of a video asset.
package clip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultCount    = 3
	DefaultDuration = 10

	// leadIn keeps random starts clear of the first seconds of the source.
	leadIn = 5
)

// Transcoder is the external tool contract: duration probing and
// fixed-window extraction.
type Transcoder interface {
	Probe(ctx context.Context, path string) (float64, error)
	Extract(ctx context.Context, sourcePath string, start int, duration int, outputPath string) error
}

// Spec requests Count clips of Duration seconds from SourcePath.
//
// Tag goes into every output name so concurrent runs on one source never
// share clip files.
type Spec struct {
	SourcePath string
	Duration   int
	Count      int
	Tag        string
}

// Failure records one skipped clip.
type Failure struct {
	Index int
	Err   error
}

// Result lists the clips produced, in index order.
type Result struct {
	Paths        []string
	SuccessCount int
	Requested    int
	Failures     []Failure
}

// ProbeError aborts the whole extraction.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// TranscodeError is recorded for a single failed clip; extraction continues.
type TranscodeError struct {
	Index      int
	OutputPath string
	Start      int
	Err        error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode clip %d at %ds to %s: %v", e.Index, e.Start, e.OutputPath, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Extractor runs clip extraction. Clips of one request are cut sequentially;
// slots bounds concurrent transcodes across all requests.
type Extractor struct {
	transcoder Transcoder
	slots      *semaphore.Weighted
	randIntN   func(int) int
	log        *slog.Logger
}

func NewExtractor(transcoder Transcoder, maxConcurrent int, log *slog.Logger) (*Extractor, error) {
	if transcoder == nil {
		return nil, errors.New("transcoder is required")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = slog.Default()
	}

	return &Extractor{
		transcoder: transcoder,
		slots:      semaphore.NewWeighted(int64(maxConcurrent)),
		randIntN:   rand.IntN,
		log:        log.With("component", "clip.extractor"),
	}, nil
}

// Extract probes the source once, then cuts up to spec.Count clips. A probe
// failure returns *ProbeError and no clips. A failed clip is logged, recorded
// as *TranscodeError in Result.Failures, and skipped.
func (e *Extractor) Extract(ctx context.Context, spec Spec) (Result, error) {
	if spec.Count <= 0 {
		spec.Count = DefaultCount
	}
	if spec.Duration <= 0 {
		spec.Duration = DefaultDuration
	}
	result := Result{Requested: spec.Count}

	total, err := e.transcoder.Probe(ctx, spec.SourcePath)
	if err != nil {
		e.log.Error("Failed to probe source duration", "path", spec.SourcePath, "error", err)
		return result, &ProbeError{Path: spec.SourcePath, Err: err}
	}
	e.log.Info("Source duration detected", "path", spec.SourcePath, "duration_seconds", total)

	for i := range spec.Count {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outputPath := Path(spec.SourcePath, spec.Tag, i)
		start := CalculateRandomStart(total, spec.Duration, e.randIntN)
		e.log.Info("Creating clip", "index", i+1, "count", spec.Count, "start", start, "duration", spec.Duration)

		if err := e.transcode(ctx, spec, start, outputPath); err != nil {
			failure := &TranscodeError{Index: i, OutputPath: outputPath, Start: start, Err: err}
			e.log.Error("Clip failed, skipping", "index", i+1, "error", failure)
			result.Failures = append(result.Failures, Failure{Index: i, Err: failure})
			continue
		}

		result.Paths = append(result.Paths, outputPath)
		result.SuccessCount++
	}

	return result, nil
}

func (e *Extractor) transcode(ctx context.Context, spec Spec, start int, outputPath string) error {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.slots.Release(1)

	return e.transcoder.Extract(ctx, spec.SourcePath, start, spec.Duration, outputPath)
}

// CalculateRandomStart picks a clip start second. Sources no longer than the
// clip start at 0; otherwise the start is uniform in [min(5, maxStart), maxStart]
// with maxStart = floor(duration - clipDuration).
func CalculateRandomStart(duration float64, clipDuration int, randIntN func(int) int) int {
	if duration <= float64(clipDuration) {
		return 0
	}

	maxStart := int(duration - float64(clipDuration))
	minStart := min(leadIn, maxStart)
	if maxStart <= minStart {
		return minStart
	}
	if randIntN == nil {
		randIntN = rand.IntN
	}

	return minStart + randIntN(maxStart-minStart+1)
}

// Path names clip i of source as "<base>_clip_<ii><ext>", or
// "<base>_<tag>_clip_<ii><ext>" when tag is set.
func Path(sourcePath string, tag string, i int) string {
	ext := filepath.Ext(sourcePath)
	base := strings.TrimSuffix(sourcePath, ext)
	if tag != "" {
		base += "_" + tag
	}
	return fmt.Sprintf("%s_clip_%02d%s", base, i, ext)
}

// NewTag returns a short random tag for Spec.Tag.
func NewTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Cleanup removes produced clip files. Missing files count as removed.
func Cleanup(paths []string) (int, []string) {
	removed := 0
	var failed []string
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			failed = append(failed, path)
			continue
		}
		removed++
	}
	return removed, failed
}
