package binance

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"tradecore/internal/core"
	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

const (
	defaultSnapshotLimit   = 1000
	defaultSnapshotTimeout = 10 * time.Second
	defaultSnapshotRetries = 3
	depthPath              = "/fapi/v1/depth"
)

// SnapshotOption configures the REST depth snapshot fetcher.
type SnapshotOption struct {
	BaseURL string
	Limit   int
	Timeout time.Duration
	Retries int
	Client  *http.Client
}

// SnapshotFetcher loads depth snapshots over REST. RequestSnapshot runs off the
// dispatcher goroutine and publishes the result as a schema.BookSnapshot event.
type SnapshotFetcher struct {
	ctx    core.Context
	opt    SnapshotOption
	client *http.Client
	out    Publisher

	mu       sync.Mutex
	inflight map[string]struct{}
	base     context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSnapshotFetcher creates a fetcher that publishes results into out.
func NewSnapshotFetcher(ctx core.Context, opt SnapshotOption, out Publisher) *SnapshotFetcher {
	if opt.BaseURL == "" {
		opt.BaseURL = DefaultRESTURL
	}
	if opt.Limit <= 0 {
		opt.Limit = defaultSnapshotLimit
	}
	if opt.Timeout <= 0 {
		opt.Timeout = defaultSnapshotTimeout
	}
	if opt.Retries <= 0 {
		opt.Retries = defaultSnapshotRetries
	}
	ctx = core.Resolve(ctx).Named("binance.snapshot")
	client := opt.Client
	if client == nil {
		client = &http.Client{
			Timeout:   opt.Timeout,
			Transport: &http.Transport{TLSClientConfig: ctx.TLS, Proxy: http.ProxyFromEnvironment},
		}
	}
	base, cancel := context.WithCancel(context.Background())
	return &SnapshotFetcher{
		ctx:      ctx,
		opt:      opt,
		client:   client,
		out:      out,
		inflight: make(map[string]struct{}),
		base:     base,
		cancel:   cancel,
	}
}

// RequestSnapshot starts a background fetch unless one is already running for symbol.
func (f *SnapshotFetcher) RequestSnapshot(symbol string) {
	f.mu.Lock()
	if _, ok := f.inflight[symbol]; ok || f.base.Err() != nil {
		f.mu.Unlock()
		return
	}
	f.inflight[symbol] = struct{}{}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		defer func() {
			f.mu.Lock()
			delete(f.inflight, symbol)
			f.mu.Unlock()
		}()

		snap, err := f.fetchWithRetry(f.base, symbol)
		if err != nil {
			f.ctx.Log.Errorf("snapshot %s, err: %+v", symbol, err)
			return
		}
		if err := f.out.TryPublish(snap); err != nil {
			f.ctx.Log.Errorf("publish snapshot %s, err: %+v", symbol, err)
		}
	}()
}

func (f *SnapshotFetcher) fetchWithRetry(ctx context.Context, symbol string) (schema.BookSnapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= f.opt.Retries; attempt++ {
		snap, err := f.Fetch(ctx, symbol)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if err := f.ctx.Clock.Sleep(ctx, time.Duration(attempt)*250*time.Millisecond); err != nil {
			break
		}
	}
	return schema.BookSnapshot{}, errors.Wrap(exception.ErrSnapshotUnavailable, lastErr.Error())
}

// Fetch loads one snapshot synchronously.
func (f *SnapshotFetcher) Fetch(ctx context.Context, symbol string) (schema.BookSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opt.Timeout)
	defer cancel()

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(f.opt.Limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opt.BaseURL+depthPath+"?"+query.Encode(), nil)
	if err != nil {
		return schema.BookSnapshot{}, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return schema.BookSnapshot{}, &exception.ConnectivityError{URL: f.opt.BaseURL + depthPath, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var p errorPayload
		_ = sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&p)
		return schema.BookSnapshot{}, errors.Errorf("depth snapshot status: %d, code: %d, msg: %s", resp.StatusCode, p.Code, p.Msg)
	}

	var p depthSnapshotPayload
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&p); err != nil {
		return schema.BookSnapshot{}, errors.Wrap(exception.ErrMalformedPayload, err.Error())
	}
	bids, err := levels(p.Bids)
	if err != nil {
		return schema.BookSnapshot{}, err
	}
	asks, err := levels(p.Asks)
	if err != nil {
		return schema.BookSnapshot{}, err
	}
	return schema.BookSnapshot{
		Symbol:       symbol,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: p.LastUpdateID,
		TsEvent:      millis(p.TxTime),
		TsRecv:       f.ctx.Clock.Now().UnixNano(),
	}, nil
}

// Close cancels running fetches and waits for them.
func (f *SnapshotFetcher) Close() error {
	f.mu.Lock()
	f.cancel()
	f.mu.Unlock()
	f.wg.Wait()
	return nil
}
