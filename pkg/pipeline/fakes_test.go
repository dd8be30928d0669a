package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/clip"
	"clipbot/pkg/fetch"
	"clipbot/pkg/index"
	"clipbot/pkg/logger"
	"clipbot/pkg/media"
	"clipbot/pkg/workspace"

	"github.com/stretchr/testify/require"
)

type sentMedia struct {
	ChatID  int64
	Ref     channel.MessageRef
	Payload channel.Media
	Opts    channel.SendOptions
}

type sentText struct {
	Ref     channel.MessageRef
	Text    string
	ReplyTo int
}

type fakeTransport struct {
	mu sync.Mutex

	nextID   int
	media    []sentMedia
	texts    []sentText
	edits    map[channel.MessageRef][]string
	captions map[channel.MessageRef]string
	deleted  []channel.MessageRef
	answers  map[string][]string

	files        map[string][]byte
	streams      map[string]io.Reader
	sendMediaErr func(chatID int64, payload channel.Media) error
	// beforeSend runs ahead of each media send, outside the lock.
	beforeSend func(payload channel.Media, opts channel.SendOptions)
	// onAnswer runs after each acknowledgement.
	onAnswer func(callbackID string, text string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		nextID:   1000,
		edits:    make(map[channel.MessageRef][]string),
		captions: make(map[channel.MessageRef]string),
		answers:  make(map[string][]string),
		files:    make(map[string][]byte),
	}
}

func (t *fakeTransport) ref(chatID int64) channel.MessageRef {
	t.nextID++
	return channel.MessageRef{ChatID: chatID, MessageID: t.nextID}
}

func (t *fakeTransport) SendMedia(_ context.Context, chatID int64, payload channel.Media, opts channel.SendOptions) (channel.MessageRef, error) {
	if t.beforeSend != nil {
		t.beforeSend(payload, opts)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sendMediaErr != nil {
		if err := t.sendMediaErr(chatID, payload); err != nil {
			return channel.MessageRef{}, err
		}
	}
	if payload.LocalPath != "" {
		if _, err := os.Stat(payload.LocalPath); err != nil {
			return channel.MessageRef{}, fmt.Errorf("upload %s: %w", payload.LocalPath, err)
		}
	}

	ref := t.ref(chatID)
	t.media = append(t.media, sentMedia{ChatID: chatID, Ref: ref, Payload: payload, Opts: opts})
	return ref, nil
}

func (t *fakeTransport) SendText(_ context.Context, chatID int64, text string, replyTo int) (channel.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ref := t.ref(chatID)
	t.texts = append(t.texts, sentText{Ref: ref, Text: text, ReplyTo: replyTo})
	return ref, nil
}

func (t *fakeTransport) EditText(_ context.Context, ref channel.MessageRef, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.edits[ref] = append(t.edits[ref], text)
	return nil
}

func (t *fakeTransport) EditCaption(_ context.Context, ref channel.MessageRef, caption string, _ [][]channel.Button) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.captions[ref] = caption
	return nil
}

func (t *fakeTransport) DeleteMessage(_ context.Context, ref channel.MessageRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.deleted = append(t.deleted, ref)
	return nil
}

func (t *fakeTransport) AnswerCallback(_ context.Context, callbackID string, text string) error {
	t.mu.Lock()
	t.answers[callbackID] = append(t.answers[callbackID], text)
	hook := t.onAnswer
	t.mu.Unlock()

	if hook != nil {
		hook(callbackID, text)
	}
	return nil
}

func (t *fakeTransport) OpenFile(_ context.Context, file media.FileRef) (io.ReadCloser, int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if stream, ok := t.streams[file.ID]; ok {
		return io.NopCloser(stream), file.SizeBytes, nil
	}
	data, ok := t.files[file.ID]
	if !ok {
		return nil, 0, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (t *fakeTransport) sentMedia() []sentMedia {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]sentMedia(nil), t.media...)
}

// editCount counts edits that set a message to text.
func (t *fakeTransport) editCount(text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, edits := range t.edits {
		for _, edit := range edits {
			if edit == text {
				n++
			}
		}
	}
	return n
}

func (t *fakeTransport) textsMatching(text string) []sentText {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []sentText
	for _, sent := range t.texts {
		if sent.Text == text {
			out = append(out, sent)
		}
	}
	return out
}

func (t *fakeTransport) wasDeleted(ref channel.MessageRef) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, deleted := range t.deleted {
		if deleted == ref {
			return true
		}
	}
	return false
}

type memIndex struct {
	mu      sync.Mutex
	entries map[channel.MessageRef]index.Entry
}

func newMemIndex() *memIndex {
	return &memIndex{entries: make(map[channel.MessageRef]index.Entry)}
}

func (m *memIndex) Upsert(_ context.Context, e index.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[channel.MessageRef{ChatID: e.ChatID, MessageID: e.MessageID}] = e
	return nil
}

func (m *memIndex) Lookup(_ context.Context, chatID int64, messageID int) (index.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[channel.MessageRef{ChatID: chatID, MessageID: messageID}]
	return e, ok, nil
}

func (m *memIndex) Delete(_ context.Context, chatID int64, messageID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := channel.MessageRef{ChatID: chatID, MessageID: messageID}
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

func (m *memIndex) Stats(_ context.Context) (index.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := index.Stats{ByKind: make(map[media.Kind]int)}
	for _, e := range m.entries {
		stats.Total++
		stats.ByKind[e.Kind]++
	}
	return stats, nil
}

func (m *memIndex) get(ref channel.MessageRef) (index.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[ref]
	return e, ok
}

// fakeTranscoder writes a small file per clip; clips listed in fail error out.
type fakeTranscoder struct {
	duration float64
	probeErr error
	fail     map[int]bool

	mu      sync.Mutex
	outputs []string
}

func (f *fakeTranscoder) Probe(context.Context, string) (float64, error) {
	return f.duration, f.probeErr
}

func (f *fakeTranscoder) Extract(_ context.Context, sourcePath string, _ int, _ int, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range 10 {
		if f.fail[i] && strings.HasSuffix(outputPath, fmt.Sprintf("_clip_%02d%s", i, filepath.Ext(sourcePath))) {
			return errors.New("encoder crashed")
		}
	}
	f.outputs = append(f.outputs, outputPath)
	return os.WriteFile(outputPath, []byte("clip"), 0o644)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recordingEvents) PublishEvent(_ context.Context, event bus.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	return true
}

func (r *recordingEvents) types() []bus.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]bus.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	svc        *Service
	transport  *fakeTransport
	index      *memIndex
	transcoder *fakeTranscoder
	events     *recordingEvents
	guard      *workspace.Guard
}

const (
	chatMe     int64 = 11
	chatTarget int64 = -100200
	chatSource int64 = 77
)

func newHarness(t *testing.T, mutate ...func(*Settings, *Deps)) *harness {
	t.Helper()

	guard, err := workspace.NewGuard(t.TempDir())
	require.NoError(t, err)

	transport := newFakeTransport()
	fetcher, err := fetch.New(transport, guard, 2, logger.Discard())
	require.NoError(t, err)

	transcoder := &fakeTranscoder{duration: 120}
	extractor, err := clip.NewExtractor(transcoder, 1, logger.Discard())
	require.NoError(t, err)

	h := &harness{
		transport:  transport,
		index:      newMemIndex(),
		transcoder: transcoder,
		events:     &recordingEvents{},
		guard:      guard,
	}

	deps := Deps{
		Transport: transport,
		Index:     h.index,
		Fetcher:   fetcher,
		Extractor: extractor,
		Guard:     guard,
		Events:    h.events,
		Log:       logger.Discard(),
	}
	settings := Settings{
		ChatMe:              chatMe,
		ChatTarget:          chatTarget,
		FetchThresholdBytes: 1024,
		ClipCount:           3,
		ClipDuration:        10,
		ImageProcessing:     true,
	}
	for _, fn := range mutate {
		fn(&settings, &deps)
	}

	h.svc, err = NewService(deps, settings)
	require.NoError(t, err)
	return h
}

// storedFile writes content under the storage root and returns its path.
func (h *harness) storedFile(t *testing.T, name string, content string) string {
	t.Helper()

	file, path, err := h.guard.CreateUnique(name)
	require.NoError(t, err)
	_, err = file.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	return path
}

func videoDescriptor(fileID string, size int64) media.Descriptor {
	return media.Descriptor{
		Attachment: media.AttachmentDocument,
		MimeType:   "video/mp4",
		FileName:   "movie.mp4",
		SizeBytes:  size,
		Native:     media.KindVideo,
		File:       media.FileRef{ID: fileID, SizeBytes: size},
	}
}
