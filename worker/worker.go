// Package worker reconciles the local config cache with the server. Each pass
// sends batched listen requests for the entries that are not known to be in
// sync, refreshes the ones the server reports as changed and stops listening
// to the ones nobody subscribes to anymore.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/maxpoletaev/nacosclient/cache"
	"github.com/maxpoletaev/nacosclient/internal/multierror"
	"github.com/maxpoletaev/nacosclient/internal/set"
	"github.com/maxpoletaev/nacosclient/metrics"
	"github.com/maxpoletaev/nacosclient/nacoserr"
	"github.com/maxpoletaev/nacosclient/remote"
)

const taskIDHeader = "taskId"

var errNoConnection = nacoserr.ErrChannelClosed.New("no connection to the server")

// Requester sends unary requests to the server.
type Requester interface {
	Request(ctx context.Context, req remote.ClientRequest, resp remote.ServerResponse) error
}

// ConnFunc returns the connection to use for a pass, or nil if there is none.
type ConnFunc func() Requester

// ChangeFunc is called after the content of entry has changed on the server.
type ChangeFunc func(entry *cache.Entry, oldContent string)

type Config struct {
	// Interval between passes when nothing rings the bell.
	Interval time.Duration
	// FullSyncInterval is how often entries in sync are checked anyway.
	FullSyncInterval time.Duration
	RequestTimeout   time.Duration
	Logger           log.Logger
	Metrics          *metrics.Metrics
	Clock            func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Second,
		FullSyncInterval: 5 * time.Minute,
		RequestTimeout:   3 * time.Second,
		Logger:           log.NewNopLogger(),
		Clock:            time.Now,
	}
}

type Worker struct {
	cache    *cache.Map
	conn     ConnFunc
	onChange ChangeFunc
	conf     Config
	logger   log.Logger
	bell     chan struct{}

	mu           sync.Mutex
	lastFullSync time.Time
}

func New(entries *cache.Map, conn ConnFunc, onChange ChangeFunc, conf Config) *Worker {
	defaults := DefaultConfig()

	if conf.Interval <= 0 {
		conf.Interval = defaults.Interval
	}

	if conf.FullSyncInterval <= 0 {
		conf.FullSyncInterval = defaults.FullSyncInterval
	}

	if conf.RequestTimeout <= 0 {
		conf.RequestTimeout = defaults.RequestTimeout
	}

	if conf.Logger == nil {
		conf.Logger = defaults.Logger
	}

	if conf.Clock == nil {
		conf.Clock = defaults.Clock
	}

	if onChange == nil {
		onChange = func(*cache.Entry, string) {}
	}

	return &Worker{
		cache:    entries,
		conn:     conn,
		onChange: onChange,
		conf:     conf,
		logger:   conf.Logger,
		bell:     make(chan struct{}, 1),
	}
}

// Notify rings the bell. Rings that happen before the loop wakes up are
// coalesced into one pass.
func (w *Worker) Notify() {
	select {
	case w.bell <- struct{}{}:
	default:
	}
}

// RunLoop runs a pass every time the bell rings or the interval elapses,
// until ctx is canceled.
func (w *Worker) RunLoop(ctx context.Context) {
	level.Info(w.logger).Log(
		"msg", "config worker started",
		"interval", w.conf.Interval,
		"full_sync_interval", w.conf.FullSyncInterval,
	)

	ticker := time.NewTicker(w.conf.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.bell:
		case <-ticker.C:
		case <-ctx.Done():
			return
		}

		if err := w.ExecuteListen(ctx); err != nil {
			if errors.Is(err, errNoConnection) {
				level.Debug(w.logger).Log("msg", "listen pass skipped", "err", err)
				continue
			}

			level.Warn(w.logger).Log("msg", "listen pass failed", "err", err)
		}
	}
}

// ExecuteListen runs one reconciliation pass. Failed batches leave their
// entries unsynced so that the next pass retries them.
func (w *Worker) ExecuteListen(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.conf.Clock()
	needFullSync := now.Sub(w.lastFullSync) > w.conf.FullSyncInterval

	listen := make(map[int][]*cache.Entry)
	unlisten := make(map[int][]*cache.Entry)

	w.cache.Range(func(e *cache.Entry) bool {
		switch {
		case e.IsDiscarded():
			unlisten[e.TaskID] = append(unlisten[e.TaskID], e)
		case !e.IsSynced() || needFullSync:
			listen[e.TaskID] = append(listen[e.TaskID], e)
		}

		return true
	})

	if needFullSync {
		w.lastFullSync = now
	}

	if len(listen) == 0 && len(unlisten) == 0 {
		return nil
	}

	conn := w.conn()
	if conn == nil {
		return errNoConnection
	}

	errs := multierror.New[string]()

	for _, task := range sortedTasks(listen) {
		if err := w.listenTask(ctx, conn, task, listen[task]); err != nil {
			errs.Add("listen task "+strconv.Itoa(task), err)
		}
	}

	for _, task := range sortedTasks(unlisten) {
		if err := w.unlistenTask(ctx, conn, task, unlisten[task]); err != nil {
			errs.Add("unlisten task "+strconv.Itoa(task), err)
		}
	}

	return errs.Combined()
}

func sortedTasks(batches map[int][]*cache.Entry) []int {
	tasks := maps.Keys(batches)
	slices.Sort(tasks)

	return tasks
}

func batchRequest(task int, listen bool, entries []*cache.Entry) *remote.ConfigBatchListenRequest {
	req := &remote.ConfigBatchListenRequest{Listen: listen}
	req.PutHeader(taskIDHeader, strconv.Itoa(task))

	for _, e := range entries {
		req.AddContext(e.Key.Group, e.MD5(), e.Key.DataID, e.Key.Tenant)
	}

	return req
}

func (w *Worker) request(ctx context.Context, conn Requester, req remote.ClientRequest, resp remote.ServerResponse) error {
	ctx, cancel := context.WithTimeout(ctx, w.conf.RequestTimeout)
	defer cancel()

	return conn.Request(ctx, req, resp)
}

func (w *Worker) listenTask(ctx context.Context, conn Requester, task int, entries []*cache.Entry) error {
	var resp remote.ConfigChangeBatchListenResponse

	if err := w.request(ctx, conn, batchRequest(task, true, entries), &resp); err != nil {
		w.conf.Metrics.ListenRequest(false)
		return err
	}

	w.conf.Metrics.ListenRequest(true)

	changed := set.New[cache.GroupKey]()
	for _, c := range resp.ChangedConfigs {
		changed.Add(cache.GroupKey{DataID: c.DataID, Group: c.Group, Tenant: c.Tenant})
	}

	var failed int

	for _, e := range entries {
		if !changed.Has(e.Key) {
			e.SetSynced(true)
			continue
		}

		if err := w.refresh(ctx, conn, e); err != nil {
			level.Warn(w.logger).Log("msg", "failed to refresh config", "key", e.Key, "err", err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to refresh %d of %d changed configs", failed, changed.Len())
	}

	return nil
}

// refresh fetches the current content of e and reports a change if the
// digest differs from the cached one.
func (w *Worker) refresh(ctx context.Context, conn Requester, e *cache.Entry) error {
	req := &remote.ConfigQueryRequest{
		DataID: e.Key.DataID,
		Group:  e.Key.Group,
		Tenant: e.Key.Tenant,
	}

	var resp remote.ConfigQueryResponse

	if err := w.request(ctx, conn, req, &resp); err != nil {
		// A deleted config is reported as a change to empty content.
		if !errors.Is(err, nacoserr.ErrServer) || !resp.IsNotFound() {
			return err
		}

		resp = remote.ConfigQueryResponse{}
	}

	if cache.MD5(resp.Content) == e.MD5() {
		e.SetSynced(true)
		return nil
	}

	var modified time.Time
	if resp.LastModified > 0 {
		modified = time.UnixMilli(resp.LastModified)
	}

	old := e.Update(resp.Content, resp.ContentType, resp.EncryptedDataKey, modified)
	e.SetSynced(true)

	level.Debug(w.logger).Log("msg", "config changed", "key", e.Key, "md5", e.MD5())
	w.onChange(e, old)

	return nil
}

func (w *Worker) unlistenTask(ctx context.Context, conn Requester, task int, entries []*cache.Entry) error {
	var resp remote.ConfigChangeBatchListenResponse

	if err := w.request(ctx, conn, batchRequest(task, false, entries), &resp); err != nil {
		w.conf.Metrics.ListenRequest(false)
		return err
	}

	w.conf.Metrics.ListenRequest(true)

	for _, e := range entries {
		if w.cache.Delete(e.Key) {
			level.Debug(w.logger).Log("msg", "stopped listening", "key", e.Key)
		}
	}

	return nil
}
