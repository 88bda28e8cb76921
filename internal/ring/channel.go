package ring

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/yanun0323/errors"

	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

// Option describes a ring segment pair.
type Option struct {
	// Dir holds both segment files. Defaults to /dev/shm.
	Dir string
	// Name of the data segment. The index segment is Name + "_idx".
	Name string
	// Capacity of the data segment in bytes. Ignored by Open.
	Capacity int64
	// Metrics is optional.
	Metrics *obs.Metrics
}

func (opt Option) paths() (string, string) {
	dir := opt.Dir
	if dir == "" {
		dir = DefaultDir
	}
	data := filepath.Join(dir, opt.Name)
	return data, data + indexSuffix
}

// Stats is a point in time copy of the channel counters.
type Stats struct {
	Writes     uint64
	Overwrites uint64
	Reads      uint64
	Laps       uint64
}

// Channel is a byte ring over two memory mapped files, one for data and one for
// the write and read positions. Positions are monotonic byte counts; the offset in
// the data region is pos % capacity. One writer and one reader per segment.
type Channel struct {
	ctx      core.Context
	opt      Option
	owner    bool
	dataPath string
	idxPath  string

	dataFile *os.File
	idxFile  *os.File
	data     mmap.MMap
	idx      mmap.MMap
	header   *indexHeader
	capacity int64

	writes     atomic.Uint64
	overwrites atomic.Uint64
	reads      atomic.Uint64
	laps       atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

// Create makes (or recreates) both segments and becomes their owner. The owner
// removes the files on Close.
func Create(ctx core.Context, opt Option) (*Channel, error) {
	if opt.Name == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "empty ring name")
	}
	if opt.Capacity <= 0 {
		return nil, errors.Wrapf(exception.ErrInvalidCapacity, "capacity: %d", opt.Capacity)
	}

	dataPath, idxPath := opt.paths()
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "create ring dir")
	}

	dataFile, data, err := createSegment(dataPath, opt.Capacity)
	if err != nil {
		return nil, errors.Wrap(err, "create data segment").With("path", dataPath)
	}
	idxFile, idx, err := createSegment(idxPath, indexSize)
	if err != nil {
		unmapSegment(dataFile, data)
		_ = os.Remove(dataPath)
		return nil, errors.Wrap(err, "create index segment").With("path", idxPath)
	}

	header := (*indexHeader)(unsafe.Pointer(&idx[0]))
	atomic.StoreInt64(&header.WriteIndex, 0)
	atomic.StoreInt64(&header.ReadIndex, 0)
	atomic.StoreInt64(&header.Capacity, opt.Capacity)
	atomic.StoreUint32(&header.Version, indexVersion)
	atomic.StoreUint32(&header.Magic, indexMagic)

	if err := idx.Flush(); err != nil {
		unmapSegment(dataFile, data)
		unmapSegment(idxFile, idx)
		_ = os.Remove(dataPath)
		_ = os.Remove(idxPath)
		return nil, errors.Wrap(err, "flush index segment")
	}

	c := newChannel(ctx, opt, true, dataPath, idxPath)
	c.dataFile, c.data = dataFile, data
	c.idxFile, c.idx = idxFile, idx
	c.header = header
	c.capacity = opt.Capacity
	c.ctx.Log.Infof("created %s, capacity: %d", dataPath, opt.Capacity)
	return c, nil
}

// Open attaches to segments created by another process. A missing segment
// returns exception.ErrSegmentNotFound.
func Open(ctx core.Context, opt Option) (*Channel, error) {
	if opt.Name == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "empty ring name")
	}
	dataPath, idxPath := opt.paths()

	idxFile, idx, err := openSegment(idxPath)
	if err != nil {
		return nil, err
	}
	if int64(len(idx)) < indexSize {
		unmapSegment(idxFile, idx)
		return nil, errors.Wrapf(exception.ErrSegmentCorrupted, "index size: %d", len(idx)).With("path", idxPath)
	}

	header := (*indexHeader)(unsafe.Pointer(&idx[0]))
	if atomic.LoadUint32(&header.Magic) != indexMagic {
		unmapSegment(idxFile, idx)
		return nil, errors.Wrap(exception.ErrSegmentCorrupted, "bad magic").With("path", idxPath)
	}

	dataFile, data, err := openSegment(dataPath)
	if err != nil {
		unmapSegment(idxFile, idx)
		return nil, err
	}
	capacity := atomic.LoadInt64(&header.Capacity)
	if capacity <= 0 || int64(len(data)) < capacity {
		unmapSegment(dataFile, data)
		unmapSegment(idxFile, idx)
		return nil, errors.Wrapf(exception.ErrSegmentCorrupted, "capacity: %d, data size: %d", capacity, len(data))
	}

	c := newChannel(ctx, opt, false, dataPath, idxPath)
	c.dataFile, c.data = dataFile, data
	c.idxFile, c.idx = idxFile, idx
	c.header = header
	c.capacity = capacity
	c.ctx.Log.Infof("attached %s, capacity: %d", dataPath, capacity)
	return c, nil
}

func newChannel(ctx core.Context, opt Option, owner bool, dataPath, idxPath string) *Channel {
	return &Channel{
		ctx:      core.Resolve(ctx).Named("ring." + opt.Name),
		opt:      opt,
		owner:    owner,
		dataPath: dataPath,
		idxPath:  idxPath,
	}
}

// Name returns the data segment name.
func (c *Channel) Name() string { return c.opt.Name }

// Capacity returns the data region size in bytes.
func (c *Channel) Capacity() int64 { return c.capacity }

// Owner reports whether this handle created the segments.
func (c *Channel) Owner() bool { return c.owner }

// Write copies p at the write position, wrapping at the end of the region.
// overwrote is true when unread bytes were replaced; the write still happens.
func (c *Channel) Write(p []byte) (overwrote bool, err error) {
	if c.closed.Load() {
		return false, exception.ErrChannelClosed
	}
	n := int64(len(p))
	if n == 0 {
		return false, nil
	}
	if n > c.capacity {
		return false, errors.Wrapf(exception.ErrRecordTooLarge, "len: %d, capacity: %d", n, c.capacity)
	}

	write := atomic.LoadInt64(&c.header.WriteIndex)
	read := atomic.LoadInt64(&c.header.ReadIndex)

	off := write % c.capacity
	first := c.capacity - off
	if first > n {
		first = n
	}
	copy(c.data[off:off+first], p[:first])
	if first < n {
		copy(c.data[:n-first], p[first:])
	}
	atomic.StoreInt64(&c.header.WriteIndex, write+n)

	c.writes.Add(1)
	c.opt.Metrics.IncRingWrite(c.opt.Name)

	if write+n-read > c.capacity {
		count := c.overwrites.Add(1)
		c.opt.Metrics.IncRingOverwrite(c.opt.Name)
		// powers of two only
		if count&(count-1) == 0 {
			c.ctx.Log.Warnf("%v, write: %d, read: %d, total: %d", exception.ErrChannelOverwrite, write+n, read, count)
		}
		return true, nil
	}
	return false, nil
}

// Read returns the next n bytes, or nil when nothing new was written. A reader
// the writer has lapped skips to the newest n byte record.
func (c *Channel) Read(n int) ([]byte, error) {
	dst := make([]byte, n)
	ok, err := c.ReadInto(dst)
	if err != nil || !ok {
		return nil, err
	}
	return dst, nil
}

// ReadInto fills dst with the next len(dst) bytes. It returns false when the
// reader has caught up with the writer.
func (c *Channel) ReadInto(dst []byte) (bool, error) {
	if c.closed.Load() {
		return false, exception.ErrChannelClosed
	}
	n := int64(len(dst))
	if n == 0 || n > c.capacity {
		return false, errors.Wrapf(exception.ErrRecordTooLarge, "len: %d, capacity: %d", n, c.capacity)
	}

	for {
		write := atomic.LoadInt64(&c.header.WriteIndex)
		read := atomic.LoadInt64(&c.header.ReadIndex)
		if read >= write {
			return false, nil
		}
		if write-read > c.capacity {
			read = write - n
			c.laps.Add(1)
			c.opt.Metrics.IncRingLap(c.opt.Name)
		}
		if write-read < n {
			return false, nil
		}

		c.copyOut(dst, read)

		// the writer may have lapped us while copying
		if atomic.LoadInt64(&c.header.WriteIndex)-read > c.capacity {
			continue
		}
		atomic.StoreInt64(&c.header.ReadIndex, read+n)
		c.reads.Add(1)
		return true, nil
	}
}

func (c *Channel) copyOut(dst []byte, pos int64) {
	n := int64(len(dst))
	off := pos % c.capacity
	first := c.capacity - off
	if first > n {
		first = n
	}
	copy(dst[:first], c.data[off:off+first])
	if first < n {
		copy(dst[first:], c.data[:n-first])
	}
}

// Pending returns the unread byte count, capped at capacity.
func (c *Channel) Pending() int64 {
	if c.closed.Load() {
		return 0
	}
	pending := atomic.LoadInt64(&c.header.WriteIndex) - atomic.LoadInt64(&c.header.ReadIndex)
	if pending > c.capacity {
		return c.capacity
	}
	if pending < 0 {
		return 0
	}
	return pending
}

// Positions returns the raw write and read positions.
func (c *Channel) Positions() (write, read int64) {
	if c.closed.Load() {
		return 0, 0
	}
	return atomic.LoadInt64(&c.header.WriteIndex), atomic.LoadInt64(&c.header.ReadIndex)
}

// Stats returns the local counters of this handle.
func (c *Channel) Stats() Stats {
	return Stats{
		Writes:     c.writes.Load(),
		Overwrites: c.overwrites.Load(),
		Reads:      c.reads.Load(),
		Laps:       c.laps.Load(),
	}
}

// Close unmaps both segments. Only the owner removes the files.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.header = nil
		unmapSegment(c.dataFile, c.data)
		unmapSegment(c.idxFile, c.idx)
		c.data, c.idx = nil, nil
		if !c.owner {
			return
		}
		if e := os.Remove(c.dataPath); e != nil && !os.IsNotExist(e) {
			err = errors.Wrap(e, "remove data segment")
		}
		if e := os.Remove(c.idxPath); e != nil && !os.IsNotExist(e) && err == nil {
			err = errors.Wrap(e, "remove index segment")
		}
		stats := c.Stats()
		c.ctx.Log.Infof("closed, writes: %d, overwrites: %d", stats.Writes, stats.Overwrites)
	})
	return err
}

func createSegment(path string, size int64) (*os.File, mmap.MMap, error) {
	_ = os.Remove(path)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, nil, err
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, nil, err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, nil, err
	}

	m, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	// locking may fail without CAP_IPC_LOCK; the mapping works either way
	_ = m.Lock()
	return file, m, nil
}

func openSegment(path string) (*os.File, mmap.MMap, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.Wrap(exception.ErrSegmentNotFound, path)
		}
		return nil, nil, errors.Wrap(err, "open segment").With("path", path)
	}
	m, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, nil, errors.Wrap(err, "map segment").With("path", path)
	}
	return file, m, nil
}

func unmapSegment(file *os.File, m mmap.MMap) {
	if m != nil {
		_ = m.Flush()
		_ = m.Unlock()
		_ = m.Unmap()
	}
	if file != nil {
		_ = file.Close()
	}
}
