// Package speech renders the spoken policy summary to an MP3 file.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// TTS is the slice of the OpenAI client used for synthesis.
type TTS interface {
	Speech(ctx context.Context, model, voice, input string) ([]byte, error)
}

const (
	DefaultModel = "gpt-4o-mini-tts"
	DefaultVoice = "nova"
)

// Synthesizer writes one MP3 per script into dir and returns its path as
// the audio handle.
type Synthesizer struct {
	tts   TTS
	dir   string
	model string
	voice string
	newID func() string
}

type Option func(*Synthesizer)

func WithModel(model string) Option {
	return func(s *Synthesizer) {
		if model = strings.TrimSpace(model); model != "" {
			s.model = model
		}
	}
}

func WithVoice(voice string) Option {
	return func(s *Synthesizer) {
		if voice = strings.TrimSpace(voice); voice != "" {
			s.voice = voice
		}
	}
}

func NewSynthesizer(tts TTS, dir string, opts ...Option) (*Synthesizer, error) {
	if tts == nil {
		return nil, errors.New("speech: tts must not be nil")
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("speech: output dir must not be empty")
	}
	s := &Synthesizer{
		tts:   tts,
		dir:   dir,
		model: DefaultModel,
		voice: DefaultVoice,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, script string) (string, error) {
	if strings.TrimSpace(script) == "" {
		return "", errors.New("speech: script must not be empty")
	}
	audio, err := s.tts.Speech(ctx, s.model, s.voice, script)
	if err != nil {
		return "", fmt.Errorf("speech: synthesize: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("speech: create dir: %w", err)
	}
	path := filepath.Join(s.dir, "resumen_poliza_"+s.newID()+".mp3")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("speech: write %s: %w", path, err)
	}
	slog.Info("policy audio written", "path", path, "bytes", len(audio))
	return path, nil
}
