package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"alarmd/internal/alarm"
	logx "alarmd/pkg/logx"
)

// Global audio context singleton. oto supports only one context per process;
// it is created lazily from the first sound's format.
var (
	globalOtoCtx  *oto.Context
	globalOtoOnce sync.Once
	otoCtxReady   atomic.Bool
)

// OtoPlayer is the real audio collaborator, backed by ebitengine/oto.
// It plays 16-bit PCM WAV files.
type OtoPlayer struct {
	log logx.Logger
}

func NewOtoPlayer(log logx.Logger) *OtoPlayer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &OtoPlayer{log: log}
}

func (p *OtoPlayer) Create(ctx context.Context, sound alarm.Sound, opts Options) (Playable, error) {
	_ = ctx
	wavData, err := os.ReadFile(sound.Path)
	if err != nil {
		return nil, fmt.Errorf("read sound %s: %w", sound.Path, err)
	}
	format, audioData, err := parseWAV(wavData)
	if err != nil {
		return nil, fmt.Errorf("parse wav %s: %w", sound.Path, err)
	}

	initOtoContext(format, p.log)
	if !otoCtxReady.Load() || globalOtoCtx == nil {
		return nil, errors.New("audio context not ready")
	}

	vol := opts.Volume
	if vol <= 0 || vol > 1 {
		vol = 1.0
	}
	return &otoPlayable{
		log:      p.log,
		data:     audioData,
		loop:     opts.Loop,
		volume:   vol,
		stopChan: make(chan struct{}),
	}, nil
}

func initOtoContext(format *wavFormat, log logx.Logger) {
	globalOtoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			log.Error("audio context init failed", logx.Err(err))
			return
		}
		// Wait for the hardware audio devices to be ready.
		<-readyChan
		globalOtoCtx = ctx
		otoCtxReady.Store(true)
		log.Info("audio context initialized",
			logx.Int("sample_rate", format.SampleRate),
			logx.Int("channels", format.Channels))
	})
}

// otoPlayable is one created sound. Created paused; Play starts the loop
// goroutine, which recreates an oto player per iteration when looping.
type otoPlayable struct {
	log    logx.Logger
	data   []byte
	loop   bool
	volume float64

	mu       sync.Mutex
	player   *oto.Player
	started  bool
	stopped  bool
	stopChan chan struct{}

	playing atomic.Bool
}

func (o *otoPlayable) Play(ctx context.Context) error {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return errors.New("playable already stopped")
	}
	if o.started {
		// Re-issued play: nudge the current player if it went quiet.
		if o.player != nil && !o.player.IsPlaying() {
			o.player.Play()
		}
		return nil
	}
	o.started = true
	go o.playLoop()
	return nil
}

func (o *otoPlayable) playLoop() {
	defer o.playing.Store(false)
	for {
		o.mu.Lock()
		if o.stopped {
			o.mu.Unlock()
			return
		}
		pl := globalOtoCtx.NewPlayer(bytes.NewReader(o.data))
		pl.SetVolume(o.volume)
		o.player = pl
		o.mu.Unlock()

		pl.Play()
		o.playing.Store(true)

		// Wait for the sound to finish or a stop signal.
		for pl.IsPlaying() {
			select {
			case <-o.stopChan:
				_ = pl.Close()
				return
			case <-time.After(10 * time.Millisecond):
			}
		}

		if err := pl.Close(); err != nil {
			o.log.Warn("audio player close failed", logx.Err(err))
		}

		if !o.loop {
			return
		}
		select {
		case <-o.stopChan:
			return
		default:
		}
	}
}

func (o *otoPlayable) Stop(ctx context.Context) error {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return nil
	}
	o.stopped = true
	close(o.stopChan)
	if o.player != nil {
		o.player.Pause()
	}
	o.playing.Store(false)
	return nil
}

func (o *otoPlayable) Unload(ctx context.Context) error {
	// Stop already closes the per-iteration player; nothing else to release.
	return o.Stop(ctx)
}

func (o *otoPlayable) Status(ctx context.Context) (Status, error) {
	_ = ctx
	return Status{
		Loaded:  otoCtxReady.Load(),
		Playing: o.playing.Load(),
	}, nil
}

// wavFormat holds WAV file format information.
type wavFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// parseWAV parses a WAV file and returns the format and raw audio data.
func parseWAV(data []byte) (*wavFormat, []byte, error) {
	reader := bytes.NewReader(data)

	riff := make([]byte, 4)
	if _, err := io.ReadFull(reader, riff); err != nil {
		return nil, nil, err
	}
	if string(riff) != "RIFF" {
		return nil, nil, errors.New("not a RIFF file")
	}

	// Skip file size.
	if _, err := reader.Seek(4, io.SeekCurrent); err != nil {
		return nil, nil, err
	}

	wave := make([]byte, 4)
	if _, err := io.ReadFull(reader, wave); err != nil {
		return nil, nil, err
	}
	if string(wave) != "WAVE" {
		return nil, nil, errors.New("not a WAVE file")
	}

	format := &wavFormat{}
	var dataStart int64
	var dataSize uint32

	for {
		chunkID := make([]byte, 4)
		if _, err := io.ReadFull(reader, chunkID); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, nil, err
		}

		var chunkSize uint32
		if err := binary.Read(reader, binary.LittleEndian, &chunkSize); err != nil {
			return nil, nil, err
		}

		switch string(chunkID) {
		case "fmt ":
			var audioFormat uint16
			_ = binary.Read(reader, binary.LittleEndian, &audioFormat)

			var numChannels uint16
			_ = binary.Read(reader, binary.LittleEndian, &numChannels)
			format.Channels = int(numChannels)

			var sampleRate uint32
			_ = binary.Read(reader, binary.LittleEndian, &sampleRate)
			format.SampleRate = int(sampleRate)

			// Skip byte rate and block align.
			if _, err := reader.Seek(6, io.SeekCurrent); err != nil {
				return nil, nil, err
			}

			var bitsPerSample uint16
			_ = binary.Read(reader, binary.LittleEndian, &bitsPerSample)
			format.BitDepth = int(bitsPerSample)

			// Skip any extra format bytes.
			if remaining := int64(chunkSize) - 16; remaining > 0 {
				if _, err := reader.Seek(remaining, io.SeekCurrent); err != nil {
					return nil, nil, err
				}
			}
		case "data":
			pos, _ := reader.Seek(0, io.SeekCurrent)
			dataStart = pos
			dataSize = chunkSize
		default:
			if _, err := reader.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return nil, nil, err
			}
		}
		if dataSize > 0 {
			break
		}
	}

	if format.SampleRate == 0 || format.Channels == 0 {
		return nil, nil, errors.New("wav: missing fmt chunk")
	}
	if dataSize == 0 {
		return nil, nil, errors.New("wav: missing data chunk")
	}
	if int64(dataSize) > int64(len(data))-dataStart {
		dataSize = uint32(int64(len(data)) - dataStart)
	}

	audioData := make([]byte, dataSize)
	if _, err := reader.Seek(dataStart, io.SeekStart); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(reader, audioData); err != nil {
		return nil, nil, err
	}
	return format, audioData, nil
}
