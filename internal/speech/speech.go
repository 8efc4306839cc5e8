// Package speech speaks reminder text through the host's text-to-speech
// command.
package speech

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/notexe/vocalizeit/internal/reminder"
)

// Options controls voice parameters. Rate and Pitch are relative to the
// engine's default, where 1.0 is normal.
type Options struct {
	Language string  `koanf:"language"`
	Rate     float64 `koanf:"rate"`
	Pitch    float64 `koanf:"pitch"`
}

// DefaultOptions is a slightly slow, neutral-pitch English voice.
func DefaultOptions() Options {
	return Options{Language: "en", Rate: 0.8, Pitch: 1.0}
}

// Speaker is the speech-synthesis service. Speak returns once playback has
// started; the channel yields the playback result and is then closed.
type Speaker interface {
	Speak(ctx context.Context, text string, opts Options) (<-chan error, error)
	Stop() error
}

// CommandSpeaker runs an external TTS program (espeak, espeak-ng, spd-say or
// macOS say) for each utterance. Only one utterance plays at a time.
type CommandSpeaker struct {
	command string

	mu      sync.Mutex
	current *exec.Cmd
	stopped map[*exec.Cmd]bool
}

// NewCommandSpeaker creates a speaker for the given program.
func NewCommandSpeaker(command string) *CommandSpeaker {
	return &CommandSpeaker{command: command, stopped: make(map[*exec.Cmd]bool)}
}

// Speak starts playback of text.
func (s *CommandSpeaker) Speak(_ context.Context, text string, opts Options) (<-chan error, error) {
	args, err := Args(s.command, text, opts)
	if err != nil {
		return nil, err
	}

	// Playback outlives the delivery call, so it is not bound to its context.
	cmd := exec.Command(s.command, args...)

	s.mu.Lock()
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: failed to start %s: %w", reminder.ErrSpeech, s.command, err)
	}
	s.current = cmd
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()

		s.mu.Lock()
		if s.current == cmd {
			s.current = nil
		}
		stopped := s.stopped[cmd]
		delete(s.stopped, cmd)
		s.mu.Unlock()

		// An utterance interrupted by Stop ended as asked.
		if stopped {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("%w: %s exited: %w", reminder.ErrSpeech, s.command, err)
		}
		done <- err
		close(done)
	}()

	return done, nil
}

// Stop interrupts the current utterance, if any.
func (s *CommandSpeaker) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.Process == nil {
		return nil
	}
	if err := s.current.Process.Kill(); err != nil {
		return fmt.Errorf("%w: failed to stop playback: %w", reminder.ErrSpeech, err)
	}
	s.stopped[s.current] = true
	s.current = nil
	return nil
}

// Args builds the command line for the supported TTS programs.
func Args(command, text string, opts Options) ([]string, error) {
	if opts.Rate <= 0 {
		opts.Rate = 1.0
	}
	if opts.Pitch <= 0 {
		opts.Pitch = 1.0
	}

	switch filepath.Base(command) {
	case "espeak", "espeak-ng":
		// 175 words per minute and pitch 50 are the espeak defaults.
		args := []string{
			"-s", strconv.Itoa(int(175 * opts.Rate)),
			"-p", strconv.Itoa(clamp(int(50*opts.Pitch), 0, 99)),
		}
		if opts.Language != "" {
			args = append(args, "-v", opts.Language)
		}
		return append(args, "--", text), nil

	case "spd-say":
		// spd-say takes -100..100 offsets from the default.
		args := []string{
			"-w",
			"-r", strconv.Itoa(clamp(int((opts.Rate-1)*100), -100, 100)),
			"-p", strconv.Itoa(clamp(int((opts.Pitch-1)*100), -100, 100)),
		}
		if opts.Language != "" {
			args = append(args, "-l", opts.Language)
		}
		return append(args, "--", text), nil

	case "say":
		return []string{"-r", strconv.Itoa(int(175 * opts.Rate)), "--", text}, nil
	}

	return nil, fmt.Errorf("%w: unsupported speech command %q", reminder.ErrSpeech, command)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Nop is a Speaker that stays silent.
type Nop struct{}

// Speak logs the text and reports immediate completion.
func (Nop) Speak(_ context.Context, text string, _ Options) (<-chan error, error) {
	log.Printf("[speech] (muted) %s", text)
	done := make(chan error)
	close(done)
	return done, nil
}

// Stop does nothing.
func (Nop) Stop() error { return nil }
