package sftpsvc

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	oerrs "oxideterm/internal/errs"
)

// clampConcurrency bounds the transfer manager's worker pool (spec §4.6
// "concurrency limit clamped [1,10]").
func clampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

// Direction of a queued transfer.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// TransferStatus is a queued/running transfer's lifecycle.
type TransferStatus string

const (
	TransferQueued   TransferStatus = "queued"
	TransferRunning  TransferStatus = "running"
	TransferPaused   TransferStatus = "paused"
	TransferDone     TransferStatus = "done"
	TransferFailed   TransferStatus = "failed"
	TransferCanceled TransferStatus = "canceled"
)

// Transfer tracks one file transfer's progress and control state.
type Transfer struct {
	ID         string
	Direction  Direction
	LocalPath  string
	RemotePath string

	mu        sync.Mutex
	status    TransferStatus
	bytesDone int64
	total     int64
	lastErr   error

	pauseCh  chan struct{}
	resumeCh chan struct{}
	cancel   context.CancelFunc
}

func (t *Transfer) Status() TransferStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transfer) Progress() (done, total int64) {
	t.mu.Lock()
	total = t.total
	t.mu.Unlock()
	return atomic.LoadInt64(&t.bytesDone), total
}

func (t *Transfer) setStatus(s TransferStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// Pause requests the transfer suspend after its current chunk (spec
// §4.6 "pause/cancel via watch-channel-equivalents").
func (t *Transfer) Pause() {
	t.setStatus(TransferPaused)
	select {
	case t.pauseCh <- struct{}{}:
	default:
	}
}

func (t *Transfer) Resume() {
	t.setStatus(TransferRunning)
	select {
	case t.resumeCh <- struct{}{}:
	default:
	}
}

func (t *Transfer) Cancel() {
	t.setStatus(TransferCanceled)
	if t.cancel != nil {
		t.cancel()
	}
}

// TransferManager runs file transfers with a bounded worker pool, an
// optional global rate limit, retry/backoff, and progress persistence
// (spec §4.6 "Transfer Manager").
type TransferManager struct {
	sem      chan struct{}
	limiter  *rate.Limiter
	progress *ProgressStore

	mu        sync.Mutex
	transfers map[string]*Transfer
}

// NewTransferManager constructs a transfer manager. concurrency is
// clamped to [1,10]; bytesPerSec <= 0 disables rate limiting.
func NewTransferManager(concurrency int, bytesPerSec int, progress *ProgressStore) *TransferManager {
	concurrency = clampConcurrency(concurrency)
	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
	}
	return &TransferManager{
		sem:       make(chan struct{}, concurrency),
		limiter:   limiter,
		progress:  progress,
		transfers: make(map[string]*Transfer),
	}
}

// Enqueue registers a transfer and starts it once a worker permit is
// available, retrying up to maxRetries times on retryable errors.
func (m *TransferManager) Enqueue(direction Direction, localPath, remotePath string, total int64, open func(ctx context.Context) (io.Reader, io.WriteCloser, error)) *Transfer {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transfer{
		ID:         uuid.NewString(),
		Direction:  direction,
		LocalPath:  localPath,
		RemotePath: remotePath,
		status:     TransferQueued,
		total:      total,
		pauseCh:    make(chan struct{}, 1),
		resumeCh:   make(chan struct{}, 1),
		cancel:     cancel,
	}
	m.mu.Lock()
	m.transfers[t.ID] = t
	m.mu.Unlock()

	go m.run(ctx, t, open)
	return t
}

func (m *TransferManager) run(ctx context.Context, t *Transfer, open func(ctx context.Context) (io.Reader, io.WriteCloser, error)) {
	// RAII-style worker permit: acquire, always release via defer.
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		t.setStatus(TransferCanceled)
		return
	}
	defer func() { <-m.sem }()

	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		t.setStatus(TransferRunning)
		err := m.attempt(ctx, t, open)
		if err == nil {
			t.setStatus(TransferDone)
			if m.progress != nil {
				_ = m.progress.Delete(t.ID)
			}
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			t.setStatus(TransferCanceled)
			return
		}
		if !IsRetryable(err) || attempt > maxRetries {
			break
		}
		select {
		case <-time.After(BackoffDelay(attempt)):
		case <-ctx.Done():
			t.setStatus(TransferCanceled)
			return
		}
	}

	t.mu.Lock()
	t.lastErr = lastErr
	t.mu.Unlock()
	t.setStatus(TransferFailed)
}

func (m *TransferManager) attempt(ctx context.Context, t *Transfer, open func(ctx context.Context) (io.Reader, io.WriteCloser, error)) error {
	src, dst, err := open(ctx)
	if err != nil {
		return err
	}
	defer dst.Close()

	buf := make([]byte, 32*1024)
	var done int64
	for {
		select {
		case <-t.pauseCh:
			select {
			case <-t.resumeCh:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if m.limiter != nil {
				_ = m.limiter.WaitN(ctx, n)
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			done += int64(n)
			atomic.StoreInt64(&t.bytesDone, done)
			if m.progress != nil {
				_ = m.progress.Save(ProgressRecord{
					TransferID: t.ID, LocalPath: t.LocalPath, RemotePath: t.RemotePath,
					Direction: string(t.Direction), BytesDone: done, TotalBytes: t.total,
				})
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (m *TransferManager) Get(id string) *Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers[id]
}

func (m *TransferManager) List() []*Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		out = append(out, t)
	}
	return out
}

func errNotFound(id string) error {
	return oerrs.New(oerrs.KindTransfer, "transfer "+id+" not found")
}
