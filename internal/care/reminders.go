package care

import (
	"context"
	"sync"
	"time"
)

// DefaultReminderInterval is how often the scheduler checks for due doses.
const DefaultReminderInterval = time.Minute

// ReminderHandler receives the medications with a dose due at a tick.
type ReminderHandler func(ctx context.Context, due []Medication)

// ReminderScheduler periodically evaluates the medication collection and
// invokes a handler with the doses due at each tick.
type ReminderScheduler struct {
	service  *Service
	interval time.Duration
	handler  ReminderHandler
	logger   Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startMu sync.Mutex
	started bool
}

// NewReminderScheduler constructs a scheduler over the given service. A
// non-positive interval falls back to DefaultReminderInterval.
func NewReminderScheduler(service *Service, interval time.Duration, handler ReminderHandler) *ReminderScheduler {
	if interval <= 0 {
		interval = DefaultReminderInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReminderScheduler{
		service:  service,
		interval: interval,
		handler:  handler,
		logger:   service.logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the reminder loop. Calling Start more than once is a no-op.
func (r *ReminderScheduler) Start() {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.wg.Add(1)
	go r.loop()
}

// Stop signals the scheduler to halt and waits for the loop to finish.
func (r *ReminderScheduler) Stop(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *ReminderScheduler) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Tick(r.ctx)
		}
	}
}

// Tick evaluates due medications once and invokes the handler when any dose
// is due. Exposed so callers can trigger an immediate check.
func (r *ReminderScheduler) Tick(ctx context.Context) {
	now := r.service.Now()
	due := r.service.DueMedications(now)
	if len(due) == 0 {
		return
	}
	r.logger.Info("medication doses due", "count", len(due), "at", now)
	if r.handler != nil {
		r.handler(ctx, due)
	}
}
