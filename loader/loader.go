// Package loader prefetches file content from the source control server in
// depth-first tree order while the response generator consumes items at its
// own pace. Total buffered bytes and concurrent downloads are both bounded:
// the upstream download primitive buffers each response fully in memory, so
// unbounded parallelism risks memory exhaustion.
package loader

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/HYDPublic/SvnBridge/item"
)

var (
	// ErrCancelled reports a cooperative cancel observed at a wait point.
	ErrCancelled = errors.New("item loader cancelled")

	// ErrProductionTimeout reports that the producer exceeded its
	// absolute deadline.
	ErrProductionTimeout = errors.New("item loader production timed out")

	// ErrConsumptionTimeout reports a stuck consumer: the producer waited
	// too long for buffer space.
	ErrConsumptionTimeout = errors.New("item loader consumption timed out")
)

// Fetcher downloads the full content of one file item, returning the bytes
// and their hex MD5.
type Fetcher interface {
	Fetch(it *item.Item) ([]byte, string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(it *item.Item) ([]byte, string, error)

func (f FetcherFunc) Fetch(it *item.Item) ([]byte, string, error) { return f(it) }

// Config bounds the loader. Zero values take the defaults.
type Config struct {
	MaxInFlight        int           // concurrent downloads (default 3)
	MaxBufferedBytes   int64         // loaded-but-unconsumed cap
	ProductionTimeout  time.Duration // absolute producer wall time (default 4h)
	ConsumptionTimeout time.Duration // per space-wait entry (default 4h)
	StepTimeout        time.Duration // per wait iteration (default 30m)
}

func (c *Config) setDefaults() {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 3
	}
	if c.MaxBufferedBytes <= 0 {
		c.MaxBufferedBytes = 100 << 20
	}
	if c.ProductionTimeout <= 0 {
		c.ProductionTimeout = 4 * time.Hour
	}
	if c.ConsumptionTimeout <= 0 {
		c.ConsumptionTimeout = 4 * time.Hour
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Minute
	}
}

// Loader is the per-request prefetch pipeline. One goroutine runs Start
// (the producer); the response generator calls TryRob (the consumer). A
// single mutex guards the tree's loaded state and hosts the wait points.
type Loader struct {
	fetch Fetcher
	root  *item.Item
	cfg   Config
	log   *log.Logger

	mu            sync.Mutex
	wake          chan struct{} // closed and renewed on every state change
	cancelled     bool
	inFlight      int
	inFlightBytes int64
	wg            sync.WaitGroup

	bytesFetched metrics.Counter
	fetchErrors  metrics.Counter
}

// New builds a loader over an already-populated metadata tree. The tree
// must not be mutated by others while the loader runs, except through
// TryRob.
func New(fetch Fetcher, root *item.Item, cfg Config, logger *log.Logger, reg metrics.Registry) *Loader {
	cfg.setDefaults()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Loader{
		fetch:        fetch,
		root:         root,
		cfg:          cfg,
		log:          logger,
		wake:         make(chan struct{}),
		bytesFetched: metrics.NewRegisteredCounter("loader.bytes-fetched", reg),
		fetchErrors:  metrics.NewRegisteredCounter("loader.fetch-errors", reg),
	}
}

// broadcastLocked wakes every waiter. Waiters capture the channel under the
// mutex before blocking, so a wake between their predicate check and their
// wait cannot be lost.
func (l *Loader) broadcastLocked() {
	close(l.wake)
	l.wake = make(chan struct{})
}

// Cancel arms the cancel flag and wakes both producer and consumer wait
// points. Idempotent. In-flight downloads are not aborted; Start returns
// after they drain.
func (l *Loader) Cancel() {
	l.mu.Lock()
	if !l.cancelled {
		l.cancelled = true
		l.broadcastLocked()
	}
	l.mu.Unlock()
}

// Start runs the producer loop on the calling goroutine until the tree is
// exhausted, the loader is cancelled, or a deadline fires. On every exit
// path it blocks until all outstanding downloads have completed.
func (l *Loader) Start() error {
	defer l.wg.Wait()

	prodDeadline := time.Now().Add(l.cfg.ProductionTimeout)

	var files []*item.Item
	_ = l.root.Walk(func(it *item.Item) error {
		if it.Kind == item.File {
			files = append(files, it)
		}
		return nil
	})

	for _, f := range files {
		reserve := f.Size
		if err := l.admit(f, reserve, prodDeadline); err != nil {
			if errors.Is(err, ErrCancelled) {
				return ErrCancelled
			}
			return err
		}
		l.beginFetch(f, reserve)
	}
	return nil
}

// admit blocks at the two producer gates: buffer capacity and in-flight
// slots. On success the slot and the item's bytes are reserved.
func (l *Loader) admit(f *item.Item, reserve int64, prodDeadline time.Time) error {
	consDeadline := time.Now().Add(l.cfg.ConsumptionTimeout)

	for {
		l.mu.Lock()
		if l.cancelled {
			l.mu.Unlock()
			return ErrCancelled
		}
		buffered := l.bufferedBytesLocked()
		// Admit when the reservation fits below the cap; a file bigger
		// than the whole budget is admitted alone so it can make
		// progress at all.
		spaceOK := buffered+l.inFlightBytes+reserve < l.cfg.MaxBufferedBytes ||
			(buffered == 0 && l.inFlightBytes == 0)
		slotOK := l.inFlight < l.cfg.MaxInFlight
		if spaceOK && slotOK {
			l.inFlight++
			l.inFlightBytes += reserve
			l.mu.Unlock()
			return nil
		}
		ch := l.wake
		l.mu.Unlock()

		now := time.Now()
		if !spaceOK && now.After(consDeadline) {
			return ErrConsumptionTimeout
		}
		if spaceOK && now.After(prodDeadline) {
			return ErrProductionTimeout
		}

		// Each wait iteration is bounded by the step timeout; the
		// residual deadline caps the final step.
		limit := consDeadline
		if spaceOK {
			limit = prodDeadline
		}
		step := l.cfg.StepTimeout
		if until := time.Until(limit); until < step {
			step = until
		}
		if step <= 0 {
			if spaceOK {
				return ErrProductionTimeout
			}
			return ErrConsumptionTimeout
		}
		timer := time.NewTimer(step)
		select {
		case <-ch:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// bufferedBytesLocked walks the tree and sums loaded-but-unconsumed bytes.
func (l *Loader) bufferedBytesLocked() int64 {
	var sum int64
	_ = l.root.Walk(func(it *item.Item) error {
		if it.Kind == item.File && it.DataLoaded {
			sum += int64(len(it.Content))
		}
		return nil
	})
	return sum
}

// beginFetch starts one download. The item association is established by
// the closure before the fetch begins, so a synchronous completion cannot
// outrun the bookkeeping.
func (l *Loader) beginFetch(f *item.Item, reserve int64) {
	l.wg.Add(1)
	go func() {
		data, hash, err := l.fetch.Fetch(f)

		l.mu.Lock()
		if err != nil {
			// No retry: the item reaches the consumer with no data;
			// the failure is only logged and counted here.
			l.fetchErrors.Inc(1)
			l.log.Printf("fetch %s: %v", f.Name, err)
		} else {
			f.Content = data
			f.ContentHash = hash
			l.bytesFetched.Inc(int64(len(data)))
		}
		f.DataLoaded = true
		l.inFlight--
		l.inFlightBytes -= reserve
		l.broadcastLocked()
		l.mu.Unlock()

		l.wg.Done()
	}()
}

// TryRob blocks until the item's content has been loaded or the timeout
// elapses. On success it atomically moves the bytes out of the item,
// freeing buffer capacity, and wakes the producer. A second rob of the same
// item returns an empty buffer. Consumers observing cancel get no data.
func (l *Loader) TryRob(it *item.Item, timeout time.Duration) (data []byte, md5 string, ok bool) {
	deadline := time.Now().Add(timeout)
	for {
		l.mu.Lock()
		if it.DataLoaded {
			data = it.Content
			md5 = it.ContentHash
			it.Content = nil
			l.broadcastLocked()
			l.mu.Unlock()
			return data, md5, true
		}
		if l.cancelled {
			l.mu.Unlock()
			return nil, "", false
		}
		ch := l.wake
		l.mu.Unlock()

		// The wake is not item-specific: re-check the item's flag on
		// every wake with a recomputed residual timeout.
		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, "", false
		}
		timer := time.NewTimer(remain)
		select {
		case <-ch:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Buffered reports the loaded-but-unconsumed byte total, for tests and the
// stats endpoint.
func (l *Loader) Buffered() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bufferedBytesLocked()
}

// InFlight reports the number of outstanding downloads.
func (l *Loader) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}
