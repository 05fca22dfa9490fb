package audioin

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// WavSource replays a 16-bit mono PCM WAV file as a capture source, pacing
// frames at real time. Useful for replaying recorded incidents against the
// detectors without a microphone.
type WavSource struct {
	path string
	loop bool
}

// NewWavSource returns a source replaying the WAV file at path. When loop is
// true the file restarts from the beginning on EOF.
func NewWavSource(path string, loop bool) *WavSource {
	return &WavSource{path: path, loop: loop}
}

// Open parses the WAV header and starts the replay goroutine.
func (s *WavSource) Open(ctx context.Context, frameLen int) (Stream, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("audioin: open wav: %w", err)
	}

	sampleRate, dataOffset, err := parseWavHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audioin: %s: %w", s.path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	st := &wavStream{
		frames: make(chan Frame, 4),
		cancel: cancel,
	}

	go st.run(ctx, f, s.loop, sampleRate, dataOffset, frameLen)
	return st, nil
}

type wavStream struct {
	frames chan Frame
	cancel context.CancelFunc
	once   sync.Once
}

func (s *wavStream) Frames() <-chan Frame { return s.frames }

func (s *wavStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func (s *wavStream) run(ctx context.Context, f *os.File, loop bool, sampleRate int, dataOffset int64, frameLen int) {
	defer close(s.frames)
	defer f.Close()

	frameDur := time.Duration(frameLen) * time.Second / time.Duration(sampleRate)
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	raw := make([]byte, frameLen*2)
	for {
		n, err := io.ReadFull(f, raw)
		if err != nil && n == 0 {
			if !loop {
				return
			}
			if _, err := f.Seek(dataOffset, io.SeekStart); err != nil {
				return
			}
			continue
		}

		samples := make([]float32, n/2)
		for i := range samples {
			v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			samples[i] = float32(v) / 32768
		}

		select {
		case s.frames <- Frame{Samples: samples, SampleRate: sampleRate, Timestamp: time.Now()}:
		case <-ctx.Done():
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// parseWavHeader validates a RIFF/WAVE header for 16-bit mono PCM and leaves
// the reader positioned at the start of sample data. It returns the sample
// rate and the byte offset of the data chunk.
func parseWavHeader(f *os.File) (sampleRate int, dataOffset int64, err error) {
	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return 0, 0, err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return 0, 0, errors.New("not a WAV file")
	}

	var (
		channels, bits int
		haveFmt        bool
	)
	offset := int64(12)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			return 0, 0, err
		}
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		offset += 8

		switch string(hdr[0:4]) {
		case "fmt ":
			fmtData := make([]byte, size)
			if _, err := io.ReadFull(f, fmtData); err != nil {
				return 0, 0, err
			}
			offset += size
			if binary.LittleEndian.Uint16(fmtData[0:2]) != 1 {
				return 0, 0, errors.New("only PCM WAV is supported")
			}
			channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			bits = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return 0, 0, errors.New("data chunk before fmt chunk")
			}
			if channels != 1 || bits != 16 {
				return 0, 0, fmt.Errorf("want 16-bit mono, got %d-bit %d-channel", bits, channels)
			}
			return sampleRate, offset, nil
		default:
			if _, err := f.Seek(size, io.SeekCurrent); err != nil {
				return 0, 0, err
			}
			offset += size
		}
	}
}
