package submit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/wavecore/internal/audio"
	"github.com/skypro1111/wavecore/internal/convert"
	"github.com/skypro1111/wavecore/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeService records what it receives
type fakeService struct {
	mu        sync.Mutex
	saved     []string
	searched  []string
	matches   []string
	saveErr   error
	searchErr error
	download  audio.MediaBlob
	dlErr     error
}

func (s *fakeService) Save(ctx context.Context, wav audio.CanonicalAudio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, wav.Name())
	return nil
}

func (s *fakeService) Search(ctx context.Context, wav audio.CanonicalAudio) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searched = append(s.searched, wav.Name())
	return s.matches, s.searchErr
}

func (s *fakeService) Download(ctx context.Context, mediaURL string) (audio.MediaBlob, error) {
	return s.download, s.dlErr
}

func wavBlob(t *testing.T, name string) audio.MediaBlob {
	t.Helper()

	pcm := make([]byte, 2*441)
	data, err := audio.FramePCM(pcm, audio.PCMFormat{SampleRate: 44100, Channels: 2, BitDepth: 8})
	if err != nil {
		t.Fatalf("FramePCM failed: %v", err)
	}
	return audio.NewMediaBlob(name, audio.WAVContentType, data)
}

func newTestCoordinator(service Service) *Coordinator {
	converter := convert.New(convert.NativeBackend{}, convert.Config{}, testLogger(), nil)
	return NewCoordinator(converter, service, testLogger(), nil)
}

func TestOperationStatus(t *testing.T) {
	tests := []struct {
		status   OperationStatus
		active   bool
		finished bool
	}{
		{StatusIdle, false, false},
		{StatusPending, true, false},
		{StatusSucceeded, false, true},
		{StatusFailed, false, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsActive(); got != tt.active {
			t.Errorf("OperationStatus(%s).IsActive() = %v, expected %v", tt.status, got, tt.active)
		}
		if got := tt.status.IsFinished(); got != tt.finished {
			t.Errorf("OperationStatus(%s).IsFinished() = %v, expected %v", tt.status, got, tt.finished)
		}
	}
}

func TestOperationStatusTransitions(t *testing.T) {
	tests := []struct {
		from     OperationStatus
		to       OperationStatus
		expected bool
	}{
		{StatusIdle, StatusPending, true},
		{StatusIdle, StatusSucceeded, false},
		{StatusPending, StatusSucceeded, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusIdle, false},
		{StatusSucceeded, StatusIdle, true},
		{StatusFailed, StatusIdle, true},
		{StatusSucceeded, StatusPending, false},
		{StatusFailed, StatusSucceeded, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.expected {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.expected, got)
		}
	}
}

func TestSubmitForSaveIsolatesFailures(t *testing.T) {
	service := &fakeService{}
	coordinator := newTestCoordinator(service)

	blobs := []audio.MediaBlob{
		wavBlob(t, "first.wav"),
		audio.NewMediaBlob("second.mp3", "audio/mpeg", []byte("definitely not audio")),
		wavBlob(t, "third.wav"),
	}

	ops := coordinator.SubmitForSave(context.Background(), blobs)
	if len(ops) != 3 {
		t.Fatalf("Expected 3 operations, got %d", len(ops))
	}

	if ops[0].Status() != StatusSucceeded || ops[2].Status() != StatusSucceeded {
		t.Errorf("Expected first and third to succeed, got %s and %s", ops[0].Status(), ops[2].Status())
	}
	if ops[1].Status() != StatusFailed {
		t.Errorf("Expected second to fail, got %s", ops[1].Status())
	}
	if !errors.Is(ops[1].Err(), convert.ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", ops[1].Err())
	}

	saved := append([]string(nil), service.saved...)
	sort.Strings(saved)
	if len(saved) != 2 || saved[0] != "first.wav" || saved[1] != "third.wav" {
		t.Errorf("Expected first.wav and third.wav transmitted, got %v", saved)
	}
}

func TestSubmitForSaveTransmissionFailure(t *testing.T) {
	service := &fakeService{saveErr: errors.New("upstream down")}
	coordinator := newTestCoordinator(service)

	ops := coordinator.SubmitForSave(context.Background(), []audio.MediaBlob{wavBlob(t, "a.wav")})

	if ops[0].Status() != StatusFailed {
		t.Fatalf("Expected failed, got %s", ops[0].Status())
	}
	if info := ops[0].Info(); info.Error == "" {
		t.Error("Expected error message in info")
	}
}

func TestSubmitForSaveEmpty(t *testing.T) {
	coordinator := newTestCoordinator(&fakeService{})

	if ops := coordinator.SubmitForSave(context.Background(), nil); len(ops) != 0 {
		t.Errorf("Expected no operations, got %d", len(ops))
	}
}

func TestSubmitForSearch(t *testing.T) {
	tests := []struct {
		name     string
		matches  []string
		expected []string
	}{
		{"ordered matches", []string{"z", "a"}, []string{"z", "a"}},
		{"no matches", []string{}, []string{}},
		{"nil matches", nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &fakeService{matches: tt.matches}
			coordinator := newTestCoordinator(service)

			op, matches, err := coordinator.SubmitForSearch(context.Background(), wavBlob(t, "query.mp4"))
			if err != nil {
				t.Fatalf("SubmitForSearch failed: %v", err)
			}

			if op.Status() != StatusSucceeded {
				t.Errorf("Expected succeeded, got %s", op.Status())
			}
			if matches == nil || len(matches) != len(tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, matches)
			}
			for i := range matches {
				if matches[i] != tt.expected[i] {
					t.Errorf("Match %d: expected %s, got %s", i, tt.expected[i], matches[i])
				}
			}
			if len(service.searched) != 1 || service.searched[0] != "query.wav" {
				t.Errorf("Expected query.wav searched, got %v", service.searched)
			}
		})
	}
}

func TestSubmitForSearchUnsupported(t *testing.T) {
	service := &fakeService{}
	coordinator := newTestCoordinator(service)

	op, _, err := coordinator.SubmitForSearch(context.Background(), audio.NewMediaBlob("x.txt", "text/plain", []byte("hello")))
	if !errors.Is(err, convert.ErrUnsupportedFormat) {
		t.Fatalf("Expected ErrUnsupportedFormat, got %v", err)
	}
	if op.Status() != StatusFailed {
		t.Errorf("Expected failed, got %s", op.Status())
	}
	if len(service.searched) != 0 {
		t.Error("Nothing should be transmitted after a failed conversion")
	}
}

func TestDownload(t *testing.T) {
	service := &fakeService{download: wavBlob(t, "clip.mp4")}
	coordinator := newTestCoordinator(service)

	op, wav, err := coordinator.Download(context.Background(), "https://example.com/v")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if wav.Name() != "clip.wav" {
		t.Errorf("Expected clip.wav, got %s", wav.Name())
	}
	if op.Status() != StatusSucceeded {
		t.Errorf("Expected succeeded, got %s", op.Status())
	}
	if op.Subject != "https://example.com/v" || op.Kind != KindDownload {
		t.Errorf("Unexpected operation %s %s", op.Kind, op.Subject)
	}

	failing := newTestCoordinator(&fakeService{dlErr: errors.New("no such video")})
	op, _, err = failing.Download(context.Background(), "https://example.com/missing")
	if err == nil {
		t.Fatal("Expected download error")
	}
	if op.Status() != StatusFailed {
		t.Errorf("Expected failed, got %s", op.Status())
	}
}

func TestUpdateCallbackOrder(t *testing.T) {
	coordinator := newTestCoordinator(&fakeService{})

	var mu sync.Mutex
	seen := make(map[string][]OperationStatus)
	coordinator.SetUpdateCallback(func(info OperationInfo) {
		mu.Lock()
		defer mu.Unlock()
		seen[info.ID] = append(seen[info.ID], info.Status)
	})

	ops := coordinator.SubmitForSave(context.Background(), []audio.MediaBlob{
		wavBlob(t, "a.wav"),
		audio.NewMediaBlob("b.bin", "", []byte{1, 2, 3}),
	})

	expected := map[string][]OperationStatus{
		ops[0].ID: {StatusIdle, StatusPending, StatusSucceeded},
		ops[1].ID: {StatusIdle, StatusPending, StatusFailed},
	}

	mu.Lock()
	defer mu.Unlock()
	for id, want := range expected {
		got := seen[id]
		if len(got) != len(want) {
			t.Fatalf("Operation %s: expected %v, got %v", id, want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Operation %s step %d: expected %s, got %s", id, i, want[i], got[i])
			}
		}
	}
}

func TestUpdateCallbackCanCallCoordinator(t *testing.T) {
	coordinator := newTestCoordinator(&fakeService{matches: []string{"m"}})

	var mu sync.Mutex
	var seen []OperationStatus
	var resetErr error
	coordinator.SetUpdateCallback(func(info OperationInfo) {
		mu.Lock()
		seen = append(seen, info.Status)
		mu.Unlock()

		// Re-entering from the callback must not block on the coordinator
		if info.Status == StatusSucceeded {
			err := coordinator.Reset(info.ID)
			mu.Lock()
			resetErr = err
			mu.Unlock()
		}
	})

	blob := wavBlob(t, "a.wav")
	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinator.SubmitForSearch(context.Background(), blob)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SubmitForSearch deadlocked on a callback that calls Reset")
	}

	mu.Lock()
	defer mu.Unlock()
	if resetErr != nil {
		t.Fatalf("Reset from callback failed: %v", resetErr)
	}

	expected := []OperationStatus{StatusIdle, StatusPending, StatusSucceeded, StatusIdle}
	if len(seen) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, seen)
	}
	for i := range expected {
		if seen[i] != expected[i] {
			t.Errorf("Step %d: expected %s, got %s", i, expected[i], seen[i])
		}
	}
}

func TestSlowCallbackDoesNotBlockTransitions(t *testing.T) {
	coordinator := newTestCoordinator(&fakeService{})

	release := make(chan struct{})
	blocked := make(chan struct{})
	var once sync.Once
	coordinator.SetUpdateCallback(func(info OperationInfo) {
		if info.Subject == "slow.wav" && info.Status == StatusSucceeded {
			once.Do(func() { close(blocked) })
			<-release
		}
	})

	go coordinator.SubmitForSave(context.Background(), []audio.MediaBlob{wavBlob(t, "slow.wav")})

	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("Callback never saw slow.wav succeed")
	}

	// Another submission finishes while the first callback is still running
	fast := wavBlob(t, "fast.wav")
	done := make(chan []*Operation)
	go func() {
		done <- coordinator.SubmitForSave(context.Background(), []audio.MediaBlob{fast})
	}()

	select {
	case ops := <-done:
		if ops[0].Status() != StatusSucceeded {
			t.Errorf("Expected fast.wav succeeded, got %s", ops[0].Status())
		}
	case <-time.After(5 * time.Second):
		t.Error("Transitions blocked behind a slow callback")
	}

	close(release)
}

func TestMaxHistory(t *testing.T) {
	tests := []struct {
		name       string
		maxHistory int
		downloads  int
		expected   int
	}{
		{"default cap", DefaultMaxHistory, 5, 5},
		{"cap reached", 3, 50, 3},
		{"unbounded", 0, 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator := newTestCoordinator(&fakeService{download: wavBlob(t, "clip.mp4")})
			coordinator.SetMaxHistory(tt.maxHistory)

			var last *Operation
			for i := 0; i < tt.downloads; i++ {
				op, _, err := coordinator.Download(context.Background(), "https://example.com/v")
				if err != nil {
					t.Fatalf("Download failed: %v", err)
				}
				last = op
			}

			infos := coordinator.Operations()
			if len(infos) != tt.expected {
				t.Fatalf("Expected %d operations kept, got %d", tt.expected, len(infos))
			}
			// The newest survive
			if infos[len(infos)-1].ID != last.ID {
				t.Errorf("Expected newest operation %s kept last, got %s", last.ID, infos[len(infos)-1].ID)
			}
		})
	}
}

func TestMaxHistoryKeepsUnfinished(t *testing.T) {
	coordinator := newTestCoordinator(&fakeService{matches: []string{"m"}})

	idle, _, err := coordinator.SubmitForSearch(context.Background(), wavBlob(t, "a.wav"))
	if err != nil {
		t.Fatalf("SubmitForSearch failed: %v", err)
	}
	if err := coordinator.Reset(idle.ID); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	coordinator.SetMaxHistory(1)
	coordinator.SubmitForSave(context.Background(), []audio.MediaBlob{wavBlob(t, "b.wav"), wavBlob(t, "c.wav")})

	infos := coordinator.Operations()
	if len(infos) != 2 {
		t.Fatalf("Expected the idle operation and one finished, got %+v", infos)
	}
	if infos[0].ID != idle.ID {
		t.Errorf("Expected idle operation %s kept, got %s", idle.ID, infos[0].ID)
	}
	if !infos[1].Status.IsFinished() {
		t.Errorf("Expected a finished operation, got %s", infos[1].Status)
	}
}

func TestResetAndPrune(t *testing.T) {
	coordinator := newTestCoordinator(&fakeService{matches: []string{"m"}})

	op, _, err := coordinator.SubmitForSearch(context.Background(), wavBlob(t, "a.wav"))
	if err != nil {
		t.Fatalf("SubmitForSearch failed: %v", err)
	}

	if err := coordinator.Reset(op.ID); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if op.Status() != StatusIdle {
		t.Errorf("Expected idle after reset, got %s", op.Status())
	}
	if len(op.Matches()) != 0 {
		t.Error("Expected matches cleared by reset")
	}

	// Idle is not finished, so a second reset is an illegal transition
	if err := coordinator.Reset(op.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
	if err := coordinator.Reset("missing"); err == nil {
		t.Error("Expected error for unknown operation")
	}

	coordinator.SubmitForSave(context.Background(), []audio.MediaBlob{wavBlob(t, "b.wav")})

	if n := len(coordinator.Operations()); n != 2 {
		t.Fatalf("Expected 2 operations, got %d", n)
	}

	if removed := coordinator.Prune(); removed != 1 {
		t.Errorf("Expected 1 pruned, got %d", removed)
	}

	infos := coordinator.Operations()
	if len(infos) != 1 || infos[0].ID != op.ID {
		t.Errorf("Expected only the reset operation to remain, got %+v", infos)
	}
}

func TestSubmissionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	converter := convert.New(convert.NativeBackend{}, convert.Config{}, testLogger(), nil)
	coordinator := NewCoordinator(converter, &fakeService{}, testLogger(), metrics.NewMetrics(reg))

	coordinator.SubmitForSave(context.Background(), []audio.MediaBlob{wavBlob(t, "a.wav"), wavBlob(t, "b.wav")})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var total float64
	for _, family := range families {
		if family.GetName() != "wavecore_submissions_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	if total != 2 {
		t.Errorf("Expected 2 recorded submissions, got %f", total)
	}
}
