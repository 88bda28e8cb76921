package recorder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/core"
	"tradecore/pkg/exception"
)

// PlaybackConfig controls capture playback.
type PlaybackConfig struct {
	Dir        string
	FilePrefix string
	// Speed scales the recorded gaps; 0 replays as fast as possible.
	Speed float64
	// Feeds limits playback to the listed feed tags. Empty plays all.
	Feeds           []uint16
	DisableChecksum bool
	MaxPayloadSize  int
}

// Playback replays capture segments in file order. Pacing sleeps on the context
// clock, so a sim clock makes replays deterministic and instant.
type Playback struct {
	ctx   core.Context
	cfg   PlaybackConfig
	feeds map[uint16]struct{}
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(ctx core.Context, cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Playback{ctx: core.Resolve(ctx).Named("playback"), cfg: cfg}
	if len(cfg.Feeds) > 0 {
		p.feeds = make(map[uint16]struct{}, len(cfg.Feeds))
		for _, f := range cfg.Feeds {
			p.feeds[f] = struct{}{}
		}
	}
	return p, nil
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return errors.Wrap(exception.ErrInvalidConfig, "playback: Dir is empty")
	}
	if c.Speed < 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "playback: Speed must be >= 0")
	}
	if c.MaxPayloadSize < 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "playback: MaxPayloadSize must be >= 0")
	}
	return nil
}

// Run replays every record and calls handler for each. It returns the number of records handled.
func (p *Playback) Run(ctx context.Context, handler func(Record) error) (int, error) {
	if handler == nil {
		return 0, errors.Wrap(exception.ErrNilInstance, "playback handler")
	}
	files, err := p.Files()
	if err != nil {
		return 0, err
	}

	var (
		prevTs int64
		total  int
	)
	for _, path := range files {
		n, err := p.playFile(ctx, path, handler, &prevTs)
		total += n
		if err != nil {
			return total, err
		}
	}
	p.ctx.Log.Infof("replayed %d records from %d segments", total, len(files))
	return total, nil
}

// Files lists capture segments in name order, which is write order.
func (p *Playback) Files() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "read capture dir").With("dir", p.cfg.Dir)
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Playback) playFile(ctx context.Context, path string, handler func(Record) error, prevTs *int64) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open segment").With("path", path)
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{
		DisableChecksum: p.cfg.DisableChecksum,
		MaxPayloadSize:  p.cfg.MaxPayloadSize,
	})

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		rec, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return n, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// a segment still being written ends mid record
				p.ctx.Log.Warnf("truncated segment %s after %d records", path, n)
				return n, nil
			}
			return n, errors.Wrap(err, "read segment").With("path", path)
		}
		if p.feeds != nil {
			if _, ok := p.feeds[rec.Feed]; !ok {
				continue
			}
		}

		if err := p.pace(ctx, rec.RecvTs, prevTs); err != nil {
			return n, err
		}
		if err := handler(rec); err != nil {
			return n, err
		}
		n++
	}
}

func (p *Playback) pace(ctx context.Context, ts int64, prevTs *int64) error {
	if p.cfg.Speed <= 0 || ts <= 0 {
		return nil
	}
	if *prevTs > 0 {
		if delta := ts - *prevTs; delta > 0 {
			if err := p.ctx.Clock.Sleep(ctx, time.Duration(float64(delta)/p.cfg.Speed)); err != nil {
				return err
			}
		}
	}
	*prevTs = ts
	return nil
}
