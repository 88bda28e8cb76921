package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/pkg/websocket"
)

const maxPayloadLen = uint64(^uint32(0))

// Writer appends feed frames to rotating capture segments. Producers never
// block: TryAppend hands the record to a bounded queue drained by one goroutine.
type Writer struct {
	ctx     core.Context
	cfg     Config
	queue   chan Record
	metrics *obs.Metrics

	state   atomic.Int32
	done    sync.WaitGroup
	failure atomic.Pointer[error]
	dropped atomic.Uint64
	written atomic.Uint64
}

const (
	writerIdle int32 = iota
	writerRunning
	writerClosed
)

// NewWriter validates cfg and creates the capture directory.
func NewWriter(ctx core.Context, cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create capture dir").With("dir", cfg.Dir)
	}
	return &Writer{
		ctx:     core.Resolve(ctx).Named("capture"),
		cfg:     cfg,
		queue:   make(chan Record, cfg.QueueSize),
		metrics: cfg.Metrics,
	}, nil
}

// Start launches the drain goroutine. It stops on Close, or on ctx after
// writing whatever is already queued.
func (w *Writer) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(writerIdle, writerRunning) {
		return ErrAlreadyStarted
	}
	w.done.Add(1)
	go func() {
		defer w.done.Done()
		w.drain(ctx)
	}()
	return nil
}

// Close flushes and closes the open segment, returning the first write failure.
func (w *Writer) Close() error {
	if w.state.Swap(writerClosed) != writerClosed {
		close(w.queue)
	}
	w.done.Wait()
	return w.Err()
}

func (w *Writer) Err() error {
	if p := w.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// TryAppend queues rec without blocking.
func (w *Writer) TryAppend(rec Record) error {
	switch w.state.Load() {
	case writerIdle:
		return ErrNotStarted
	case writerClosed:
		return ErrClosed
	}
	if err := w.Err(); err != nil {
		return err
	}
	n := len(rec.Payload)
	if uint64(n) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if w.cfg.CopyPayload && n > 0 {
		rec.Payload = append(make([]byte, 0, n), rec.Payload...)
	}

	select {
	case w.queue <- rec:
		return nil
	default:
		w.dropped.Add(1)
		w.metrics.IncQueueDrop("capture")
		return ErrQueueFull
	}
}

// Tap returns a supervisor tap capturing every data frame of feed. Frames lost
// to a full queue are counted, never blocking the feed.
func (w *Writer) Tap(feed uint16) func(frame websocket.Frame) {
	return func(frame websocket.Frame) {
		err := w.TryAppend(Record{
			Feed:    feed,
			Type:    frame.Type,
			RecvTs:  frame.ReceivedAt.UnixNano(),
			Payload: frame.Payload,
		})
		if err != nil && !errors.Is(err, ErrQueueFull) {
			w.ctx.Log.Debugf("tap feed %d, err: %+v", feed, err)
		}
	}
}

// Written counts records handed to a segment; Dropped counts records lost to a full queue.
func (w *Writer) Written() uint64 { return w.written.Load() }
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

func (w *Writer) drain(ctx context.Context) {
	segs := &segments{w: w, header: make([]byte, recordHeaderSize)}
	defer func() { w.fail(segs.close()) }()

	flush, stopFlush := ticker(w.cfg.FlushInterval)
	defer stopFlush()
	syncC, stopSync := ticker(w.cfg.SyncInterval)
	defer stopSync()

	for {
		var err error
		select {
		case rec, ok := <-w.queue:
			if !ok {
				return
			}
			err = segs.append(rec)
		case <-flush:
			err = segs.flush(false)
		case <-syncC:
			err = segs.flush(true)
		case <-ctx.Done():
			w.fail(segs.appendQueued())
			return
		}
		if err != nil {
			w.fail(err)
			return
		}
	}
}

func ticker(every time.Duration) (<-chan time.Time, func()) {
	if every <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(every)
	return t.C, t.Stop
}

func (w *Writer) fail(err error) {
	if err == nil {
		return
	}
	if w.failure.CompareAndSwap(nil, &err) {
		w.ctx.Log.Errorf("capture stops, err: %+v", err)
	}
}

// segments owns the open segment file of a drain goroutine.
type segments struct {
	w      *Writer
	seq    uint64
	header []byte
	trail  [recordChecksumSize]byte

	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

func (s *segments) appendQueued() error {
	for {
		select {
		case rec, ok := <-s.w.queue:
			if !ok {
				return nil
			}
			if err := s.append(rec); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *segments) append(rec Record) error {
	if uint64(len(rec.Payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	size := int64(recordHeaderSize + len(rec.Payload) + recordChecksumSize)
	now := s.w.ctx.Clock.Now().UTC()
	if s.full(now, size) {
		if err := s.close(); err != nil {
			return err
		}
		if err := s.open(now); err != nil {
			return err
		}
	}

	encodeHeader(s.header, rec)
	binary.LittleEndian.PutUint32(s.trail[:], checksum(s.header, rec.Payload))
	for _, part := range [][]byte{s.header, rec.Payload, s.trail[:]} {
		if _, err := s.buf.Write(part); err != nil {
			return errors.Wrap(err, "write record").With("segment", s.file.Name())
		}
	}
	s.size += size
	s.w.written.Add(1)
	return nil
}

func (s *segments) full(now time.Time, next int64) bool {
	switch {
	case s.file == nil:
		return true
	case s.size+next > s.w.cfg.SegmentMaxBytes:
		return true
	case s.w.cfg.SegmentMaxDuration > 0 && now.Sub(s.openedAt) >= s.w.cfg.SegmentMaxDuration:
		return true
	}
	return false
}

func (s *segments) open(now time.Time) error {
	stamp := now.Format("20060102-150405")
	for {
		s.seq++
		name := fmt.Sprintf("%s-%s-%06d%s", s.w.cfg.FilePrefix, stamp, s.seq, segmentSuffix)
		path := filepath.Join(s.w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "open segment").With("path", path)
		}
		s.w.ctx.Log.Infof("capture segment %s", name)
		s.file, s.buf, s.size, s.openedAt = file, bufio.NewWriterSize(file, s.w.cfg.BufferSize), 0, now
		return nil
	}
}

func (s *segments) flush(durable bool) error {
	if s.file == nil {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		return errors.Wrap(err, "flush segment")
	}
	if !durable {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return errors.Wrap(err, "sync segment")
	}
	return nil
}

func (s *segments) close() error {
	if s.file == nil {
		return nil
	}
	err := s.flush(true)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file, s.buf = nil, nil
	return err
}
