// Package hardware keeps the cart in step with the scale and the vision
// bridge while the cart view is open.
package hardware

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"FruitMarket/internal/api"
	"FruitMarket/internal/cart"
	"FruitMarket/pkg/kit"
)

const (
	DefaultInterval       = 2 * time.Second
	DefaultCatalogRefresh = 30
)

type Bridge interface {
	LatestFiles(ctx context.Context) (map[string]api.Detection, error)
	GetWeight(ctx context.Context) (float64, error)
}

type Catalog interface {
	ListFruits(ctx context.Context) ([]cart.Fruit, error)
}

// Cart is the set of cart operations the poller drives.
type Cart interface {
	AddItem(f cart.Fruit) (cart.Line, bool)
	SetImage(id cart.ID, url string) bool
	ApplyDetectedWeight(id cart.ID, q float64) bool
	SetQuantity(id cart.ID, q float64) bool
}

type Config struct {
	Interval time.Duration
	// CatalogRefresh is the number of ticks between catalog reloads.
	CatalogRefresh int
	Log            *zap.Logger
	Registry       prometheus.Registerer
}

// Poller runs one poll loop per open cart view. Start and Stop bracket the
// view; Pause and Resume bracket checkout. A response that lands after Stop or
// Pause is discarded rather than applied.
type Poller struct {
	bridge  Bridge
	catalog Catalog
	cart    Cart

	interval       time.Duration
	catalogRefresh int
	log            *zap.Logger
	metrics        *pollMetrics

	mu     sync.Mutex
	epoch  uint64
	paused bool
	cancel context.CancelFunc
	done   chan struct{}
	byName map[string]cart.Fruit
	ticks  int
}

func NewPoller(b Bridge, c Catalog, ct Cart, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CatalogRefresh <= 0 {
		cfg.CatalogRefresh = DefaultCatalogRefresh
	}
	return &Poller{
		bridge:         b,
		catalog:        c,
		cart:           ct,
		interval:       cfg.Interval,
		catalogRefresh: cfg.CatalogRefresh,
		log:            kit.OrNop(cfg.Log),
		metrics:        newPollMetrics(cfg.Registry),
	}
}

// Start opens a poll session tied to ctx. It reports false if a session is
// already running.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	p.epoch++
	p.paused = false
	p.cancel = cancel
	p.done = make(chan struct{})
	p.byName = nil
	p.ticks = 0

	go p.loop(ctx, p.done)

	p.log.Info("hardware polling started", zap.Duration("interval", p.interval))
	return true
}

// Stop ends the session and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.epoch++
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.log.Info("hardware polling stopped")
}

func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		p.epoch++
	}
}

func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single poll: refresh the catalog if due, fetch the latest
// identification and apply it. Failures are logged and counted, never
// returned; the next tick simply tries again.
func (p *Poller) PollOnce(ctx context.Context) {
	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		p.metrics.polls.WithLabelValues("paused").Inc()
		return
	}
	epoch := p.epoch
	refresh := p.byName == nil || p.ticks%p.catalogRefresh == 0
	p.ticks++
	p.mu.Unlock()

	if refresh {
		p.refreshCatalog(ctx, epoch)
	}

	det, err := p.bridge.LatestFiles(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("hardware poll failed", zap.Error(err))
		p.metrics.polls.WithLabelValues("error").Inc()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if ctx.Err() != nil || p.paused || epoch != p.epoch {
		p.metrics.polls.WithLabelValues("discarded").Inc()
		return
	}

	p.applyLocked(det)
	p.metrics.polls.WithLabelValues("ok").Inc()
}

func (p *Poller) refreshCatalog(ctx context.Context, epoch uint64) {
	fruits, err := p.catalog.ListFruits(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("catalog refresh failed", zap.Error(err))
			p.metrics.catalogErrors.Inc()
		}
		return
	}

	byName := make(map[string]cart.Fruit, len(fruits))
	for _, f := range fruits {
		if _, dup := byName[f.Name]; !dup {
			byName[f.Name] = f
		}
	}

	p.mu.Lock()
	if epoch == p.epoch {
		p.byName = byName
	}
	p.mu.Unlock()
}

func (p *Poller) applyLocked(det map[string]api.Detection) {
	names := make([]string, 0, len(det))
	for name := range det {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f, ok := p.byName[name]
		if !ok {
			p.metrics.unmatched.Inc()
			continue
		}

		d := det[name]
		if _, added := p.cart.AddItem(f); added {
			p.log.Debug("detected item added", zap.String("fruit", name))
		}
		p.cart.SetImage(f.ID, d.ImageURL)
		if d.Weight != nil {
			p.cart.ApplyDetectedWeight(f.ID, *d.Weight)
		}
	}
}

// Weigh reads the scale and stores the reading on the line as if the operator
// had typed it, so the next polls do not overwrite it.
func (p *Poller) Weigh(ctx context.Context, id cart.ID) (float64, bool, error) {
	w, err := p.bridge.GetWeight(ctx)
	if err != nil {
		return 0, false, err
	}
	w = cart.CoerceQuantity(w)
	return w, p.cart.SetQuantity(id, w), nil
}

type pollMetrics struct {
	polls         *prometheus.CounterVec
	unmatched     prometheus.Counter
	catalogErrors prometheus.Counter
}

func newPollMetrics(reg prometheus.Registerer) *pollMetrics {
	m := &pollMetrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hardware_polls_total",
			Help: "Identification polls by result",
		}, []string{"result"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hardware_unmatched_total",
			Help: "Detected names with no catalog item",
		}),
		catalogErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hardware_catalog_refresh_errors_total",
			Help: "Failed catalog reloads during polling",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.polls, m.unmatched, m.catalogErrors)
	}
	return m
}
