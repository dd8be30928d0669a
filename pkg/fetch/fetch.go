// Package fetch streams remote media into the storage root with
// milestone-sampled progress and rate-limit aware restarts.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"clipbot/pkg/channel"
	"clipbot/pkg/media"
	"clipbot/pkg/workspace"

	"github.com/google/uuid"
)

const defaultMaxAttempts = 3

// Opener starts streaming a remote file. channel.Transport satisfies it.
type Opener interface {
	OpenFile(ctx context.Context, file media.FileRef) (io.ReadCloser, int64, error)
}

// ProgressFunc receives milestone samples: the milestone percentage plus the
// raw byte counters it was derived from.
type ProgressFunc func(percent int, done int64, total int64)

// Request describes one materialization.
type Request struct {
	File media.FileRef
	// FileName is a hint; directory components are stripped.
	FileName string
	// DefaultExt is used when FileName is empty or has no extension.
	DefaultExt string
	Progress   ProgressFunc
}

// Asset is a file materialized under the storage root.
type Asset struct {
	LocalPath string
	SizeBytes int64
}

// Error reports a failed materialization. Callers abort only the current item.
type Error struct {
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fetcher downloads assets through an Opener into a workspace guard.
type Fetcher struct {
	opener      Opener
	guard       *workspace.Guard
	maxAttempts int
	log         *slog.Logger
	sleep       func(context.Context, time.Duration) error
}

func New(opener Opener, guard *workspace.Guard, maxAttempts int, log *slog.Logger) (*Fetcher, error) {
	if opener == nil {
		return nil, errors.New("opener is required")
	}
	if guard == nil {
		return nil, errors.New("storage guard is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if log == nil {
		log = slog.Default()
	}

	return &Fetcher{
		opener:      opener,
		guard:       guard,
		maxAttempts: maxAttempts,
		log:         log.With("component", "fetch"),
		sleep:       sleepContext,
	}, nil
}

// Fetch streams req.File to a fresh file under the storage root. A rate limit
// sleeps for the mandated interval and restarts the whole transfer; partial
// files never survive a failed attempt.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Asset, error) {
	if req.File.IsZero() {
		return Asset{}, &Error{Op: "open", Err: errors.New("file reference is empty")}
	}

	name := targetName(req.FileName, req.DefaultExt)

	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		asset, op, err := f.transfer(ctx, req, name)
		if err == nil {
			f.log.Info("Download completed", "path", asset.LocalPath, "size_bytes", asset.SizeBytes, "attempt", attempt)
			return asset, nil
		}
		lastErr = err

		wait, limited := channel.RetryAfter(err)
		if !limited || attempt == f.maxAttempts {
			f.log.Error("Download failed", "file_name", name, "op", op, "attempt", attempt, "error", err)
			return Asset{}, &Error{Op: op, Attempts: attempt, Err: err}
		}

		f.log.Warn("Download rate limited, restarting transfer", "retry_after", wait, "attempt", attempt)
		if err := f.sleep(ctx, wait); err != nil {
			return Asset{}, &Error{Op: "wait", Attempts: attempt, Err: err}
		}
	}

	return Asset{}, &Error{Op: "download", Attempts: f.maxAttempts, Err: lastErr}
}

func (f *Fetcher) transfer(ctx context.Context, req Request, name string) (Asset, string, error) {
	body, total, err := f.opener.OpenFile(ctx, req.File)
	if err != nil {
		return Asset{}, "open", err
	}
	defer body.Close()

	if total <= 0 {
		total = req.File.SizeBytes
	}

	file, path, err := f.guard.CreateUnique(name)
	if err != nil {
		return Asset{}, "create", err
	}

	progress := newMilestoneTracker(total, req.Progress)
	written, copyErr := io.Copy(io.MultiWriter(file, progress), contextReader{ctx: ctx, r: body})
	closeErr := file.Close()

	if copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		if workspace.CategoryFromError(copyErr) == workspace.ErrorNoSpace {
			copyErr = workspace.NormalizeIOError(copyErr, "write download")
		}
		if err := f.guard.Remove(path); err != nil && !workspace.IsNotFound(err) {
			f.log.Warn("Failed to remove partial download", "path", path, "error", err)
		}
		return Asset{}, "copy", copyErr
	}

	return Asset{LocalPath: path, SizeBytes: written}, "", nil
}

// targetName picks the on-disk name: the hint when usable, otherwise a
// generated one. DefaultExt is appended when the hint has no extension.
func targetName(hint string, defaultExt string) string {
	name := strings.TrimSpace(hint)
	ext := strings.TrimSpace(defaultExt)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	if name == "" {
		return "media_" + uuid.NewString()[:8] + ext
	}
	if !strings.Contains(name, ".") && ext != "" {
		return name + ext
	}
	return name
}

// ExtensionFor maps a mime type to a file extension for generated names.
func ExtensionFor(kind media.Kind, mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	case "video/x-matroska":
		return ".mkv"
	case "image/gif":
		return ".gif"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	}

	switch kind {
	case media.KindVideo, media.KindAnimation:
		return ".mp4"
	case media.KindImage:
		return ".jpg"
	case media.KindSticker:
		return ".webp"
	default:
		return ".bin"
	}
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
