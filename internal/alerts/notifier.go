// Package alerts evaluates stock levels against the low-stock, out-of-stock,
// expired and expiring-soon rules and pushes the resulting alerts to
// in-process subscribers and external sinks.
//
// Delivery is best effort. Nothing here returns an error to the code that
// changed the stock, and alerts are not de-duplicated: every evaluation
// re-emits whatever rules currently hold.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"agrivet/m/domain"
	"agrivet/m/internal/logging"
)

// Recorder counts alert activity. The metrics package satisfies it.
type Recorder interface {
	AlertEmitted(alertType string)
	AlertDeliveryFailed(sink string)
}

// Notifier turns stock levels into alerts and delivers them.
type Notifier struct {
	db       *sqlx.DB
	hub      *Hub
	rules    Rules
	sinks    []Sink
	recorder Recorder
	log      *zap.Logger
	now      func() time.Time

	queue   chan domain.Alert
	timeout time.Duration
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithRules overrides DefaultRules.
func WithRules(r Rules) Option { return func(n *Notifier) { n.rules = r } }

// WithSink adds an external sink. Sinks are only used after Start.
func WithSink(s Sink) Option { return func(n *Notifier) { n.sinks = append(n.sinks, s) } }

func WithRecorder(r Recorder) Option { return func(n *Notifier) { n.recorder = r } }

func WithLogger(l *zap.Logger) Option { return func(n *Notifier) { n.log = logging.OrNop(l) } }

func WithClock(now func() time.Time) Option { return func(n *Notifier) { n.now = now } }

// WithQueue sets the external delivery buffer size and per-alert timeout.
func WithQueue(size int, timeout time.Duration) Option {
	return func(n *Notifier) {
		n.queue = make(chan domain.Alert, size)
		n.timeout = timeout
	}
}

// NewNotifier constructs a Notifier with a 256-alert queue and a 5s
// delivery timeout per sink.
func NewNotifier(db *sqlx.DB, hub *Hub, opts ...Option) *Notifier {
	n := &Notifier{
		db:      db,
		hub:     hub,
		rules:   DefaultRules(),
		log:     zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		queue:   make(chan domain.Alert, 256),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start runs the external delivery worker until Close.
func (n *Notifier) Start(ctx context.Context) {
	if len(n.sinks) == 0 {
		return
	}
	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case a := <-n.queue:
				n.deliver(ctx, a)
			}
		}
	}()
}

// Close stops the delivery worker and closes every sink.
func (n *Notifier) Close() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	for _, s := range n.sinks {
		if err := s.Close(); err != nil {
			n.log.Warn("closing alert sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

// StockChanged evaluates post-commit levels and publishes their alerts.
func (n *Notifier) StockChanged(_ context.Context, levels []domain.StockLevel) {
	now := n.now()
	for _, level := range levels {
		for _, a := range Evaluate(level, now, n.rules) {
			n.publish(a)
		}
	}
}

// Current evaluates every medicine and active lot without publishing.
func (n *Notifier) Current(ctx context.Context) ([]domain.Alert, error) {
	levels, err := n.levels(ctx)
	if err != nil {
		return nil, err
	}
	now := n.now()
	out := []domain.Alert{}
	for _, level := range levels {
		out = append(out, Evaluate(level, now, n.rules)...)
	}
	return out, nil
}

// Sweep evaluates every medicine and active lot and publishes the alerts.
// It returns how many alerts were emitted.
func (n *Notifier) Sweep(ctx context.Context) (int, error) {
	alerts, err := n.Current(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range alerts {
		n.publish(a)
	}
	n.log.Info("alert sweep finished", zap.Int("alerts", len(alerts)))
	return len(alerts), nil
}

func (n *Notifier) levels(ctx context.Context) ([]domain.StockLevel, error) {
	var meds []domain.Medicine
	if err := n.db.SelectContext(ctx, &meds, `SELECT id, name, quantity, cost_price, selling_price, expiry_date, manufacturing_date, updated_at FROM medicines ORDER BY id`); err != nil {
		return nil, fmt.Errorf("load medicines for sweep: %w", err)
	}
	var lots []domain.InventoryLot
	if err := n.db.SelectContext(ctx, &lots, `SELECT i.id, i.medicine_id, m.name AS medicine_name, i.batch_number, i.quantity, i.unit_price, i.selling_price, i.expiry_date, i.purchase_date, i.status, i.updated_at
                FROM inventory i
                JOIN medicines m ON m.id = i.medicine_id
                WHERE i.status = $1
                ORDER BY i.id`, domain.LotActive); err != nil {
		return nil, fmt.Errorf("load lots for sweep: %w", err)
	}

	levels := make([]domain.StockLevel, 0, len(meds)+len(lots))
	for _, m := range meds {
		levels = append(levels, m.Level())
	}
	for _, l := range lots {
		levels = append(levels, l.Level())
	}
	return levels, nil
}

func (n *Notifier) publish(a domain.Alert) {
	if n.recorder != nil {
		n.recorder.AlertEmitted(string(a.Type))
	}
	if n.hub != nil {
		n.hub.Broadcast(a)
	}
	if len(n.sinks) == 0 {
		return
	}
	select {
	case n.queue <- a:
	default:
		n.log.Warn("alert queue full, dropping external delivery", zap.String("type", string(a.Type)), zap.Int64("medicine_id", a.MedicineID))
	}
}

func (n *Notifier) deliver(ctx context.Context, a domain.Alert) {
	for _, s := range n.sinks {
		pctx, cancel := context.WithTimeout(ctx, n.timeout)
		err := s.Publish(pctx, a)
		cancel()
		if err != nil {
			if n.recorder != nil {
				n.recorder.AlertDeliveryFailed(s.Name())
			}
			n.log.Warn("alert delivery failed", zap.String("sink", s.Name()), zap.String("type", string(a.Type)), zap.Error(err))
		}
	}
}
