package audiohook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"audiohook-server/internal/media"
)

// sentMessage is an outbound message as the peer would decode it.
type sentMessage struct {
	Version    string          `json:"version"`
	ID         string          `json:"id"`
	Type       MessageType     `json:"type"`
	Seq        int64           `json:"seq"`
	ClientSeq  int64           `json:"clientseq"`
	Parameters json.RawMessage `json:"parameters"`
}

// eventLog records the order of observable side effects across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []sentMessage
	log  *eventLog
	err  error
}

func (w *fakeWriter) WriteText(data []byte) error {
	var m sentMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, m)
	w.log.add("send:" + string(m.Type))
	return w.err
}

func (w *fakeWriter) sent() []sentMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sentMessage(nil), w.msgs...)
}

func (w *fakeWriter) last(t *testing.T) sentMessage {
	t.Helper()
	msgs := w.sent()
	if len(msgs) == 0 {
		t.Fatal("no message sent")
	}
	return msgs[len(msgs)-1]
}

// recordingOpener wraps an opener and logs each artifact creation.
type recordingOpener struct {
	next    CaptureOpener
	log     *eventLog
	mu      sync.Mutex
	names   []string
	explode bool
}

func (o *recordingOpener) OpenCapture(name string) (CaptureSink, error) {
	if o.explode {
		panic("capture backend exploded")
	}
	o.mu.Lock()
	o.names = append(o.names, name)
	o.mu.Unlock()
	o.log.add("create:" + name)
	return o.next.OpenCapture(name)
}

func (o *recordingOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.names)
}

// failingSink accepts nothing.
type failingSink struct {
	closeErr error
	closed   int
}

func (s *failingSink) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
func (s *failingSink) Close() error                { s.closed++; return s.closeErr }
func (s *failingSink) Path() string                { return "" }

type failingOpener struct{ sink *failingSink }

func (o failingOpener) OpenCapture(string) (CaptureSink, error) { return o.sink, nil }

type fakeConverter struct {
	mu      sync.Mutex
	calls   []media.ConvertRequest
	rawSize []int64
	err     error
}

// Convert writes a small placeholder container next to the raw file.
func (c *fakeConverter) Convert(_ context.Context, req media.ConvertRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if fi, err := os.Stat(req.RawPath); err == nil {
		c.rawSize = append(c.rawSize, fi.Size())
	}
	if c.err != nil {
		return c.err
	}
	return os.WriteFile(req.OutPath, []byte("RIFF....WAVE"), 0o644)
}

type fakeProber struct {
	stats media.Stats
	err   error
	calls int
}

func (p *fakeProber) Probe(context.Context, string) (media.Stats, error) {
	p.calls++
	return p.stats, p.err
}

type storedObject struct {
	Key         string
	ContentType string
	Metadata    map[string]string
	Body        []byte
}

type fakeObjectStore struct {
	mu   sync.Mutex
	puts []storedObject
	err  error
}

func (s *fakeObjectStore) Put(_ context.Context, key string, body io.ReadSeeker, contentType string, metadata map[string]string) error {
	b, _ := io.ReadAll(body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, storedObject{Key: key, ContentType: contentType, Metadata: metadata, Body: b})
	return s.err
}

func (s *fakeObjectStore) objects() []storedObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storedObject(nil), s.puts...)
}

func (s *fakeObjectStore) byKeySuffix(suffix string) (storedObject, bool) {
	for _, o := range s.objects() {
		if bytes.HasSuffix([]byte(o.Key), []byte(suffix)) {
			return o, true
		}
	}
	return storedObject{}, false
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
