// Package pipeline wires classification, download, clip extraction and the
// button workflow together on top of a channel.Transport.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/clip"
	"clipbot/pkg/describe"
	"clipbot/pkg/fetch"
	"clipbot/pkg/imageproc"
	"clipbot/pkg/index"
	"clipbot/pkg/workspace"
)

// Index is the subset of the file index the pipeline needs.
type Index interface {
	Upsert(ctx context.Context, e index.Entry) error
	Lookup(ctx context.Context, chatID int64, messageID int) (index.Entry, bool, error)
	Delete(ctx context.Context, chatID int64, messageID int) (bool, error)
	Stats(ctx context.Context) (index.Stats, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Asset, error)
}

type Extractor interface {
	Extract(ctx context.Context, spec clip.Spec) (clip.Result, error)
}

type ImageProcessor interface {
	Process(ctx context.Context, path string) (imageproc.Result, error)
}

// EventPublisher receives pipeline notifications. *bus.MessageBus satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

// Deps are the collaborators of a Service. Images, Describer and Events are optional.
type Deps struct {
	Transport channel.Transport
	Index     Index
	Fetcher   Fetcher
	Extractor Extractor
	Guard     *workspace.Guard
	Images    ImageProcessor
	Describer describe.Describer
	Events    EventPublisher
	Log       *slog.Logger
}

// Settings are the tunables read from config.
type Settings struct {
	// ChatMe receives review copies and notifications. Zero means "reply in
	// the chat the media came from".
	ChatMe              int64
	ChatTarget          int64
	FetchThresholdBytes int64
	ClipCount           int
	ClipDuration        int
	ImageProcessing     bool
}

type Service struct {
	deps       Deps
	settings   Settings
	log        *slog.Logger
	dispatcher *Dispatcher
	commands   map[string]commandFunc
	startedAt  time.Time
}

func NewService(deps Deps, settings Settings) (*Service, error) {
	switch {
	case deps.Transport == nil:
		return nil, errors.New("transport is required")
	case deps.Index == nil:
		return nil, errors.New("file index is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("clip extractor is required")
	case deps.Guard == nil:
		return nil, errors.New("storage guard is required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if settings.ClipCount <= 0 {
		settings.ClipCount = clip.DefaultCount
	}
	if settings.ClipDuration <= 0 {
		settings.ClipDuration = clip.DefaultDuration
	}

	s := &Service{
		deps:      deps,
		settings:  settings,
		log:       deps.Log.With("component", "pipeline"),
		startedAt: time.Now(),
	}
	s.dispatcher = newDispatcher(s)
	s.commands = s.commandTable()

	return s, nil
}

// Register installs the service's handlers in the bus dispatch table.
func (s *Service) Register(mb *bus.MessageBus) {
	mb.RegisterHandler(bus.KindMessage, s.HandleMessage)
	mb.RegisterHandler(bus.KindCallback, s.HandleCallback)
	mb.RegisterHandler(bus.KindCommand, s.HandleCommand)
}

func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// reviewChat is where review copies and notifications for sourceChat go.
func (s *Service) reviewChat(sourceChat int64) int64 {
	if s.settings.ChatMe != 0 {
		return s.settings.ChatMe
	}
	return sourceChat
}

// notify sends a plain text notification; failures are only logged.
func (s *Service) notify(ctx context.Context, log *slog.Logger, chatID int64, text string) {
	if _, err := s.deps.Transport.SendText(ctx, chatID, text, 0); err != nil {
		log.Warn("Failed to send notification", "chat_id", chatID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, event bus.Event) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.PublishEvent(ctx, event)
}
