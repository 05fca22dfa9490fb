package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kavach-app/kavach/internal/event"
	"github.com/kavach-app/kavach/internal/store"
	"github.com/kavach-app/kavach/pkg/provider/audioin"
	audiomock "github.com/kavach-app/kavach/pkg/provider/audioin/mock"
	"github.com/kavach-app/kavach/pkg/provider/speech"
	speechmock "github.com/kavach-app/kavach/pkg/provider/speech/mock"
)

type recognizerFixture struct {
	recognizer *Recognizer
	provider   *speechmock.Provider
	audio      *audiomock.Source
	mem        *store.Memory
	detections chan event.Detection
}

func newRecognizerFixture(t *testing.T) *recognizerFixture {
	t.Helper()

	f := &recognizerFixture{
		provider:   speechmock.NewProvider(),
		audio:      audiomock.New(),
		mem:        store.NewMemory(),
		detections: make(chan event.Detection, 16),
	}

	bus := event.NewBus()
	bus.Subscribe(func(ev event.Event) {
		if ev.Detection != nil {
			f.detections <- *ev.Detection
		}
	})

	f.recognizer = New(f.provider, audioin.NewGuard(f.audio), bus, f.mem,
		WithRestartBackoff(time.Millisecond, 10*time.Millisecond))
	return f
}

func (f *recognizerFixture) waitForSessions(t *testing.T, n int) *speechmock.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sessions := f.provider.Sessions(); len(sessions) >= n {
			return sessions[n-1]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session %d never started", n)
	return nil
}

func TestRecognizerMatchPublishesDetection(t *testing.T) {
	t.Parallel()

	f := newRecognizerFixture(t)
	if err := f.recognizer.Start(context.Background(), "hi-IN"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.recognizer.Stop()

	sess := f.waitForSessions(t, 1)
	sess.EmitFinal(speech.Utterance{
		Alternatives: []speech.Alternative{{Text: "Bachao bachao", Confidence: 0.85}},
		Language:     "hi-IN",
	})

	select {
	case d := <-f.detections:
		if d.Kind != event.KindVoice {
			t.Errorf("Kind = %s, want voice", d.Kind)
		}
		if d.Transcript != "bachao bachao" {
			t.Errorf("Transcript = %q", d.Transcript)
		}
		if d.Confidence != 0.85 {
			t.Errorf("Confidence = %v", d.Confidence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no detection published")
	}

	// The command lands in the persistent history.
	deadline := time.Now().Add(time.Second)
	for {
		recs, _ := f.mem.VoiceCommands(context.Background(), 5)
		if len(recs) == 1 {
			if recs[0].Transcript != "bachao bachao" {
				t.Errorf("history transcript = %q", recs[0].Transcript)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("voice command never persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecognizerIgnoresBenignSpeech(t *testing.T) {
	t.Parallel()

	f := newRecognizerFixture(t)
	if err := f.recognizer.Start(context.Background(), "en-IN"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.recognizer.Stop()

	sess := f.waitForSessions(t, 1)
	sess.EmitFinal(speech.Utterance{
		Alternatives: []speech.Alternative{{Text: "what a nice day", Confidence: 0.95}},
	})

	select {
	case d := <-f.detections:
		t.Fatalf("unexpected detection: %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRecognizerRestartsOnTransientEnd(t *testing.T) {
	t.Parallel()

	f := newRecognizerFixture(t)
	if err := f.recognizer.Start(context.Background(), "en-IN"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.recognizer.Stop()

	first := f.waitForSessions(t, 1)
	first.End(speech.ErrSessionEnded)

	// A second session opens silently; recognition still works.
	second := f.waitForSessions(t, 2)
	second.EmitFinal(speech.Utterance{
		Alternatives: []speech.Alternative{{Text: "help me please", Confidence: 0.7}},
	})

	select {
	case d := <-f.detections:
		if d.Kind != event.KindVoice {
			t.Errorf("Kind = %s", d.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no detection after restart")
	}
	if !f.recognizer.Running() {
		t.Error("recognizer not running after transient restart")
	}
}

func TestRecognizerPermissionDeniedIsFatal(t *testing.T) {
	t.Parallel()

	f := newRecognizerFixture(t)
	f.waitSessionFatal(t)

	if err := f.recognizer.Err(); !errors.Is(err, speech.ErrPermissionDenied) {
		t.Errorf("Err = %v, want ErrPermissionDenied", err)
	}
	if f.recognizer.Running() {
		t.Error("recognizer still running after fatal error")
	}

	// Only one session was ever started: no restart on fatal errors.
	if n := len(f.provider.Sessions()); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
}

// waitSessionFatal starts the recognizer, ends its first session with a
// permission error, and waits for shutdown.
func (f *recognizerFixture) waitSessionFatal(t *testing.T) {
	t.Helper()

	if err := f.recognizer.Start(context.Background(), "en-IN"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.waitForSessions(t, 1)
	sess.End(speech.ErrPermissionDenied)

	deadline := time.Now().Add(2 * time.Second)
	for f.recognizer.Running() {
		if time.Now().After(deadline) {
			t.Fatal("recognizer never shut down")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRecognizerUnsupportedLanguageFallsBack(t *testing.T) {
	t.Parallel()

	f := newRecognizerFixture(t)
	if err := f.recognizer.Start(context.Background(), "fr-FR"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.recognizer.Stop()

	f.waitForSessions(t, 1)
	if got := f.recognizer.Language(); got != FallbackLanguage {
		t.Errorf("Language = %q, want %q", got, FallbackLanguage)
	}
	cfgs := f.provider.Configs()
	if cfgs[0].Language != FallbackLanguage {
		t.Errorf("session language = %q, want %q", cfgs[0].Language, FallbackLanguage)
	}
}

func TestRecognizerHoldsMicrophoneGuard(t *testing.T) {
	t.Parallel()

	audio := audiomock.New()
	guard := audioin.NewGuard(audio)
	f := &recognizerFixture{
		provider: speechmock.NewProvider(),
		audio:    audio,
		mem:      store.NewMemory(),
	}
	f.recognizer = New(f.provider, guard, event.NewBus(), f.mem)

	if err := f.recognizer.Start(context.Background(), "en-IN"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := guard.Open(context.Background(), 1024); !errors.Is(err, audioin.ErrDeviceBusy) {
		t.Errorf("guard Open while recognizing = %v, want ErrDeviceBusy", err)
	}

	f.recognizer.Stop()

	st, err := guard.Open(context.Background(), 1024)
	if err != nil {
		t.Fatalf("guard Open after Stop: %v", err)
	}
	st.Close()
}

func TestRecognizerForwardsAudio(t *testing.T) {
	t.Parallel()

	f := newRecognizerFixture(t)
	if err := f.recognizer.Start(context.Background(), "en-IN"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.recognizer.Stop()

	sess := f.waitForSessions(t, 1)
	f.audio.Emit(audiomock.Sine(440, 0.5, 256, 16000))

	deadline := time.Now().Add(2 * time.Second)
	for len(sess.AudioChunks()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("audio never forwarded to session")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// 256 float32 samples become 512 bytes of 16-bit PCM.
	if chunk := sess.AudioChunks()[0]; len(chunk) != 512 {
		t.Errorf("chunk size = %d, want 512", len(chunk))
	}
}
