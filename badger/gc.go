package badger

import (
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/velmie/beacon"
)

// GCRunner periodically rewrites BadgerDB value-log files.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   beacon.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewGCRunner returns a runner. Call Start to begin and Stop to halt it.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger beacon.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("beacon badger: gc needs a database")
	}
	if interval <= 0 {
		return nil, errors.New("beacon badger: gc interval must be positive")
	}
	if ratio <= 0 || ratio >= 1 {
		return nil, errors.New("beacon badger: gc ratio must be between 0 and 1")
	}
	if logger == nil {
		logger = beacon.NopLogger{}
	}

	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start runs GC in the background.
func (r *GCRunner) Start() {
	go r.run()
}

// Stop halts the runner and waits for it. It is safe to call more than once.
func (r *GCRunner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.RunOnce()
		}
	}
}

// RunOnce rewrites value-log files until nothing is left to reclaim.
func (r *GCRunner) RunOnce() {
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			r.logger.Debug("beacon badger value log rewritten")

			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			r.logger.Warn("beacon badger value log gc failed", "err", err)
		}

		return
	}
}
