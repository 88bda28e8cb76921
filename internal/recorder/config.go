package recorder

import (
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

const (
	segmentSuffix = ".cap"

	defaultFilePrefix = "feed"
	defaultQueueSize  = 4096
	defaultBufferSize = 256 << 10
	defaultMaxBytes   = int64(1 << 30)
	defaultMaxAge     = 5 * time.Minute
)

// Config controls where and how feed frames are captured.
type Config struct {
	Dir        string
	FilePrefix string

	// a segment is rotated when either limit is reached; zero disables the age limit
	SegmentMaxBytes    int64
	SegmentMaxDuration time.Duration

	QueueSize     int
	BufferSize    int
	FlushInterval time.Duration
	SyncInterval  time.Duration

	// CopyPayload must be set when the producer reuses frame buffers.
	CopyPayload bool
	Metrics     *obs.Metrics
}

// DefaultConfig captures into dir with one second flushes and copied payloads.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SegmentMaxDuration: defaultMaxAge,
		FlushInterval:      time.Second,
		CopyPayload:        true,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// Validate reports the first unusable field.
func (c Config) Validate() error {
	checks := []struct {
		bad   bool
		field string
	}{
		{c.Dir == "", "dir"},
		{c.FilePrefix == "", "file prefix"},
		{c.SegmentMaxBytes <= 0, "segment max bytes"},
		{c.SegmentMaxDuration < 0, "segment max duration"},
		{c.QueueSize <= 0, "queue size"},
		{c.BufferSize <= 0, "buffer size"},
		{c.FlushInterval < 0, "flush interval"},
		{c.SyncInterval < 0, "sync interval"},
	}
	for _, check := range checks {
		if check.bad {
			return errors.Wrap(exception.ErrInvalidConfig, "capture config").With("field", check.field)
		}
	}
	return nil
}
