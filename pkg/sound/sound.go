// Package sound plays short wav cues through the robot's speaker.
package sound

import (
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Player serialises playback: a new sound cuts off the one playing.
type Player struct {
	logger *zap.SugaredLogger
	queue  chan string
	play   func(path string) error
	done   sync.WaitGroup
	once   sync.Once
}

// New opens the speaker. If that fails the player still accepts sounds
// and logs that it cannot play them.
func New(logger *zap.SugaredLogger) *Player {
	s := &speakerOutput{}
	sampleRate := beep.SampleRate(44100)
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/5)); err != nil {
		logger.Warnw("Sound: failed to open speaker", "error", err)
		return newPlayer(logger, func(path string) error {
			return errors.Errorf("no speaker, unable to play %s", path)
		})
	}
	return newPlayer(logger, s.play)
}

func newPlayer(logger *zap.SugaredLogger, play func(string) error) *Player {
	p := &Player{
		logger: logger,
		queue:  make(chan string),
		play:   play,
	}
	p.done.Add(1)
	go p.loop()
	return p
}

func (p *Player) loop() {
	defer p.done.Done()
	for path := range p.queue {
		if err := p.play(path); err != nil {
			p.logger.Warnw("Sound: failed to play", "path", path, "error", err)
		}
	}
}

// Play queues path, giving up if the player is busy for more than 10ms.
func (p *Player) Play(path string) {
	defer func() {
		recover() // Don't die if the player is already closed.
	}()
	select {
	case p.queue <- path:
	case <-time.After(10 * time.Millisecond):
		p.logger.Warnw("Sound: timed out queueing", "path", path)
	}
}

func (p *Player) Close() {
	p.once.Do(func() {
		close(p.queue)
		p.done.Wait()
	})
}

type speakerOutput struct {
	ctrl   *beep.Ctrl
	stream beep.StreamSeekCloser
}

func (s *speakerOutput) play(path string) error {
	if s.ctrl != nil {
		speaker.Lock()
		s.ctrl.Paused = true
		s.ctrl.Streamer = nil
		speaker.Unlock()
		s.ctrl = nil
	}
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open sound")
	}
	stream, _, err := wav.Decode(f)
	if err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to decode sound")
	}
	s.stream = stream
	s.ctrl = &beep.Ctrl{Streamer: stream}
	speaker.Play(s.ctrl)
	return nil
}

// Cue plays a sound on the rising edge of a condition.
type Cue struct {
	player interface{ Play(string) }
	path   string
	last   bool
}

func NewCue(player interface{ Play(string) }, path string) *Cue {
	return &Cue{player: player, path: path}
}

// Observe reports whether the sound was triggered.
func (c *Cue) Observe(active bool) bool {
	fire := active && !c.last
	c.last = active
	if fire {
		c.player.Play(c.path)
	}
	return fire
}
