package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adilkhash/minrss/domain"
)

// AggregatorService periodically lists the stalest feeds and fans their
// syncs out to a resizable worker pool. Interval and pool size can be
// changed while running.
type AggregatorService struct {
	repo   domain.FeedRepository
	syncer *Syncer
	log    *slog.Logger

	mu             sync.Mutex
	interval       time.Duration
	workers        int
	jobs           chan domain.Feed
	ctx            context.Context
	cancel         context.CancelFunc
	tickerStopChan chan struct{}
	started        bool
	workerCancels  []context.CancelFunc
	wg             sync.WaitGroup
}

func NewAggregator(repo domain.FeedRepository, syncer *Syncer, interval time.Duration, workers int, log *slog.Logger) *AggregatorService {
	if log == nil {
		log = slog.Default()
	}
	return &AggregatorService{repo: repo, syncer: syncer, interval: interval, workers: workers, log: log}
}

func (a *AggregatorService) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("aggregator already started")
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	if a.jobs == nil {
		a.jobs = make(chan domain.Feed)
	}
	a.tickerStopChan = make(chan struct{})
	a.workerCancels = nil
	startWorkers(a, a.workers)
	a.wg.Add(1)
	go a.loop()
	a.started = true
	a.log.Info("aggregator started", "interval", a.interval.String(), "workers", a.workers)
	return nil
}

// Stop cancels the loop and all workers and waits for them to drain.
// Stopping an aggregator that never started is a no-op.
func (a *AggregatorService) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	cancel := a.cancel
	stopCh := a.tickerStopChan
	cancels := append([]context.CancelFunc(nil), a.workerCancels...)
	a.started = false
	a.mu.Unlock()

	close(stopCh)
	cancel()
	for _, c := range cancels {
		c()
	}
	a.wg.Wait()
	a.log.Info("aggregator stopped")
	return nil
}

// SetInterval re-arms the ticker with the new interval; the change takes
// effect immediately rather than after the current tick elapses.
func (a *AggregatorService) SetInterval(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		a.interval = d
		return
	}
	close(a.tickerStopChan)
	a.tickerStopChan = make(chan struct{})
	a.interval = d
}

func (a *AggregatorService) Resize(workers int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.workers == workers {
		return nil
	}
	if a.started {
		if workers > a.workers {
			startWorkers(a, workers-a.workers)
		} else {
			for i := 0; i < a.workers-workers && len(a.workerCancels) > 0; i++ {
				idx := len(a.workerCancels) - 1
				a.workerCancels[idx]()
				a.workerCancels = a.workerCancels[:idx]
			}
		}
	}
	a.workers = workers
	return nil
}

func (a *AggregatorService) CurrentInterval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

func (a *AggregatorService) CurrentWorkers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workers
}

func (a *AggregatorService) loop() {
	defer a.wg.Done()
	for {
		a.mu.Lock()
		interval := a.interval
		stopCh := a.tickerStopChan
		jobs := a.jobs
		workers := a.workers
		a.mu.Unlock()

		ticker := time.NewTicker(interval)
		select {
		case <-a.ctx.Done():
			ticker.Stop()
			return
		case <-stopCh:
			ticker.Stop()
			continue
		case <-ticker.C:
			ticker.Stop()
		}

		feeds, err := a.repo.StaleFeeds(a.ctx, workers)
		if err != nil {
			a.log.Error("stale feed listing failed", "error", err)
			continue
		}
		for _, f := range feeds {
			select {
			case jobs <- f:
			case <-a.ctx.Done():
				return
			}
		}
	}
}

// startWorkers launches count workers. Caller holds a.mu.
func startWorkers(a *AggregatorService, count int) {
	for i := 0; i < count; i++ {
		wctx, cancel := context.WithCancel(a.ctx)
		a.workerCancels = append(a.workerCancels, cancel)
		a.wg.Add(1)
		go worker(wctx, a.repo, a.syncer, a.log, a.jobs, &a.wg)
	}
}

func worker(ctx context.Context, repo domain.FeedRepository, syncer *Syncer, log *slog.Logger, jobs <-chan domain.Feed, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-jobs:
			if !ok {
				return
			}
			rep, err := syncer.Sync(ctx, f)
			if err != nil {
				log.Error("sync failed", "feed", f.URL, "error", err)
			} else if rep.Created > 0 {
				log.Info("feed synced", "feed", f.URL, "new_items", rep.Created, "skipped", len(rep.Skipped))
			}
			// The poll marker advances on every attempt, failed ones
			// included.
			if perr := repo.MarkFeedPolled(ctx, f.ID, time.Now().UTC()); perr != nil {
				log.Error("poll marker update failed", "feed", f.URL, "error", perr)
			}
		}
	}
}
