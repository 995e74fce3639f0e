package uploads

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/artifacts"
	"github.com/dmitrijs2005/mediarelay/internal/server/idempotency"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
	"github.com/dmitrijs2005/mediarelay/internal/server/transform"
	"github.com/stretchr/testify/require"
)

var sourceProbe = &transform.ProbeResult{
	Format: transform.Format{Duration: 12.5, BitRate: 800000, Size: 1000},
	Streams: []transform.Stream{
		{CodecType: "video", CodecName: "h264", Width: 1280, Height: 720, AvgFrameRate: "30/1"},
		{CodecType: "audio", CodecName: "aac"},
	},
}

var playlistProbe = &transform.ProbeResult{
	Format: transform.Format{Duration: 12.4, BitRate: 900000, Size: 2048},
}

type fakeAdapter struct {
	mu    sync.Mutex
	calls map[string]int

	probeErr         error
	probeResult      *transform.ProbeResult
	playlistProbeErr error
	hlsErr           error
	audioErr         error
	archiveErr       error

	// waitForCtx makes TranscodeToStreaming block until ctx is done.
	waitForCtx  bool
	hadDeadline bool

	// gate, when set, holds Archive until closed; entered is signalled first.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{calls: map[string]int{}}
}

func (f *fakeAdapter) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAdapter) inc(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeAdapter) Probe(ctx context.Context, path string) (*transform.ProbeResult, error) {
	if strings.HasSuffix(path, ".m3u8") {
		f.inc("probe_playlist")
		if f.playlistProbeErr != nil {
			return nil, f.playlistProbeErr
		}
		return playlistProbe, nil
	}
	f.inc("probe")
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	if f.probeResult != nil {
		return f.probeResult, nil
	}
	return sourceProbe, nil
}

func (f *fakeAdapter) TranscodeToStreaming(ctx context.Context, in, outDir, prefix string) (string, error) {
	f.inc("hls")
	if f.waitForCtx {
		_, f.hadDeadline = ctx.Deadline()
		<-ctx.Done()
		return "", fmt.Errorf("%w: %v", common.ErrTransform, ctx.Err())
	}
	if f.hlsErr != nil {
		return "", f.hlsErr
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	playlist := filepath.Join(outDir, prefix+".m3u8")
	if err := os.WriteFile(playlist, []byte("#EXTM3U\n"), 0o600); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(outDir, prefix+"_000.ts"), []byte("seg"), 0o600); err != nil {
		return "", err
	}
	return playlist, nil
}

func (f *fakeAdapter) TranscodeToCompressedAudio(ctx context.Context, in, outDir, name string) (string, error) {
	f.inc("audio")
	if f.audioErr != nil {
		return "", f.audioErr
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(outDir, name+".m4a")
	return out, os.WriteFile(out, []byte("m4a-bytes"), 0o600)
}

func (f *fakeAdapter) Archive(ctx context.Context, in, outDir, name string) (string, error) {
	f.inc("archive")
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	if f.archiveErr != nil {
		return "", f.archiveErr
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(outDir, name+".zip")
	return out, os.WriteFile(out, []byte("PK\x03\x04"), 0o600)
}

type fakeInspector struct {
	mu     sync.Mutex
	w, h   int
	err    error
	pages  int
	pdfErr error
	calls  int
}

func (f *fakeInspector) ImageDimensions(string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.w, f.h, f.err
}

func (f *fakeInspector) PDFPageCount(string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pages, f.pdfErr
}

type recordingMirror struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (m *recordingMirror) Mirror(_ context.Context, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths = append(m.paths, paths...)
	return m.err
}

// downStore fails every call the way an unreachable Redis does.
type downStore struct{}

func (downStore) Get(context.Context, string) (map[string]string, error) {
	return nil, fmt.Errorf("%w: connection refused", common.ErrStoreUnavailable)
}

func (downStore) Acquire(context.Context, string, map[string]string, time.Duration) (bool, error) {
	return false, fmt.Errorf("%w: connection refused", common.ErrStoreUnavailable)
}

func (downStore) Update(context.Context, string, map[string]string, time.Duration) error {
	return fmt.Errorf("%w: connection refused", common.ErrStoreUnavailable)
}

func (downStore) Delete(context.Context, string) error {
	return fmt.Errorf("%w: connection refused", common.ErrStoreUnavailable)
}

// staleGetStore hides existing records from Get, reproducing two first
// attempts that both looked before either acquired.
type staleGetStore struct {
	*idempotency.MemoryStore
}

func (staleGetStore) Get(context.Context, string) (map[string]string, error) { return nil, nil }

type harness struct {
	t       *testing.T
	layout  *artifacts.Layout
	mem     *idempotency.MemoryStore
	adapter *fakeAdapter
	inspect *fakeInspector
	mirror  *recordingMirror
	svc     *Service
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore uses a fresh MemoryStore when store is nil.
func newHarnessWithStore(t *testing.T, store idempotency.Store) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		layout:  artifacts.NewLayout(filepath.Join(t.TempDir(), "uploads")),
		adapter: newFakeAdapter(),
		inspect: &fakeInspector{},
		mirror:  &recordingMirror{},
	}
	if store == nil {
		h.mem = idempotency.NewMemoryStore()
		store = h.mem
	}
	records := idempotency.NewRecords(store, idempotency.NamespaceUpload, 24*time.Hour)
	h.svc = NewService(records, h.adapter, h.inspect, h.layout, h.mirror, time.Minute, logging.Nop())
	return h
}

// receive writes body where the HTTP layer would and returns the request.
func (h *harness) receive(kind models.UploadKind, token, name, mime, body string) Request {
	h.t.Helper()
	path, err := h.layout.IncomingPath(kind, "c1", "u1", name)
	require.NoError(h.t, err)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, os.WriteFile(path, []byte(body), 0o600))

	return Request{
		Kind:           kind,
		Token:          token,
		ConversationID: "c1",
		UserID:         "u1",
		File: models.RawDescriptor{
			Path:         path,
			MimeType:     mime,
			Size:         int64(len(body)),
			OriginalName: name,
			Filename:     filepath.Base(path),
		},
	}
}

func (h *harness) record(token string) map[string]string {
	h.t.Helper()
	fields, err := h.mem.Get(context.Background(), idempotency.NamespaceUpload+token)
	require.NoError(h.t, err)
	return fields
}

func (h *harness) seed(token string, fields map[string]string) {
	h.t.Helper()
	require.NoError(h.t, h.mem.Update(context.Background(), idempotency.NamespaceUpload+token, fields, time.Hour))
}
