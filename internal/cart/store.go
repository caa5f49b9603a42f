// Package cart is the kiosk's cart state container: one line per catalog
// item, weights in kilograms, persisted after every mutation.
package cart

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"FruitMarket/pkg/kit"
)

const DefaultKey = "cart"

// Persister is the slice of the storage layer the cart needs.
type Persister interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Store owns the authoritative snapshot. Nothing outside this type mutates a
// Line. All methods are safe for concurrent use; concurrent writers to the same
// line are last-write-wins except for the pin rule on detected weights.
type Store struct {
	mu       sync.Mutex
	lines    []Line
	images   map[ID]string
	pins     map[ID]int
	pinPolls int
	version  uint64
	subs     map[chan struct{}]struct{}

	persistMu sync.Mutex
	persisted uint64
	persist   Persister
	key       string

	log     *zap.Logger
	metrics *storeMetrics
}

type Option func(*Store)

// WithPinPolls sets how many poll-driven weight writes a manual edit
// suppresses. Zero disables pinning.
func WithPinPolls(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.pinPolls = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = kit.OrNop(l) }
}

func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *Store) {
		if reg != nil {
			s.metrics = newStoreMetrics(reg)
		}
	}
}

// NewStore rehydrates the cart from p under key. A missing or unreadable
// payload yields an empty cart; that is logged, never returned.
func NewStore(ctx context.Context, p Persister, key string, opts ...Option) *Store {
	if key == "" {
		key = DefaultKey
	}
	s := &Store{
		images:   map[ID]string{},
		pins:     map[ID]int{},
		pinPolls: 3,
		subs:     map[chan struct{}]struct{}{},
		persist:  p,
		key:      key,
		log:      zap.NewNop(),
		metrics:  newStoreMetrics(nil),
	}
	for _, o := range opts {
		o(s)
	}

	s.lines = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) []Line {
	if s.persist == nil {
		return nil
	}

	raw, ok, err := s.persist.Get(ctx, s.key)
	if err != nil {
		s.log.Warn("cart load failed, starting empty", zap.Error(err), zap.String("key", s.key))
		return nil
	}
	if !ok {
		return nil
	}

	lines, err := decodeLines(raw)
	if err != nil {
		s.log.Warn("cart payload unreadable, starting empty", zap.Error(err), zap.String("key", s.key))
		return nil
	}

	s.log.Info("cart restored", zap.Int("lines", len(lines)))
	return lines
}

// decodeLines parses a persisted snapshot and re-establishes the invariants a
// hand-edited or older payload might break: no empty ids, one line per id,
// non-negative weights.
func decodeLines(raw []byte) ([]Line, error) {
	var in []Line
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}

	seen := make(map[ID]struct{}, len(in))
	out := make([]Line, 0, len(in))
	for _, l := range in {
		if l.Fruit.ID == "" {
			continue
		}
		if _, dup := seen[l.Fruit.ID]; dup {
			continue
		}
		seen[l.Fruit.ID] = struct{}{}
		l.Quantity = clampQuantity(l.Quantity)
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) indexOf(id ID) int {
	for i := range s.lines {
		if s.lines[i].Fruit.ID == id {
			return i
		}
	}
	return -1
}

// AddItem appends a zero-weight line for f. If a line for f.ID already exists
// the cart is unchanged and the existing line is returned with added=false.
func (s *Store) AddItem(f Fruit) (line Line, added bool) {
	if f.ID == "" {
		return Line{}, false
	}

	s.mu.Lock()
	if i := s.indexOf(f.ID); i >= 0 {
		line = s.lines[i]
		s.mu.Unlock()
		return line, false
	}

	line = Line{Fruit: f}
	s.lines = append(s.lines, line)
	delete(s.pins, f.ID)
	s.commitLocked("add")
	return line, true
}

// RemoveItem deletes the line for id. Absent ids are a no-op.
func (s *Store) RemoveItem(id ID) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	s.lines = append(s.lines[:i:i], s.lines[i+1:]...)
	delete(s.images, id)
	delete(s.pins, id)
	s.commitLocked("remove")
	return true
}

// SetQuantity is a manual weight edit. The value is coerced to a finite
// non-negative number; zero keeps the line. The line is then pinned against
// the next pinPolls detected-weight writes.
func (s *Store) SetQuantity(id ID, q float64) bool {
	q = clampQuantity(q)

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	s.lines[i].Quantity = q
	if s.pinPolls > 0 {
		s.pins[id] = s.pinPolls
	}
	s.commitLocked("set_quantity")
	return true
}

// ApplyDetectedWeight is a scale-driven weight write. It is dropped while the
// line is pinned by a recent manual edit, consuming one unit of the pin.
func (s *Store) ApplyDetectedWeight(id ID, q float64) bool {
	q = clampQuantity(q)

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	if n := s.pins[id]; n > 0 {
		if n == 1 {
			delete(s.pins, id)
		} else {
			s.pins[id] = n - 1
		}
		s.mu.Unlock()
		s.metrics.pinnedDrops.Inc()
		return false
	}

	if s.lines[i].Quantity == q {
		s.mu.Unlock()
		return false
	}

	s.lines[i].Quantity = q
	s.commitLocked("detected_weight")
	return true
}

// SetImage records the latest detected image for a line. Later detections
// replace earlier ones.
func (s *Store) SetImage(id ID, url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(id) < 0 || url == "" || s.images[id] == url {
		return false
	}
	s.images[id] = url
	s.version++
	s.notifyLocked()
	return true
}

func (s *Store) Images() map[ID]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[ID]string, len(s.images))
	for k, v := range s.images {
		out[k] = v
	}
	return out
}

// Clear empties the cart, its images and pins.
func (s *Store) Clear() {
	s.mu.Lock()
	s.lines = nil
	s.images = map[ID]string{}
	s.pins = map[ID]int{}
	s.commitLocked("clear")
}

// RemoveLines drops every line whose id appears in billed and reports how
// many were removed. Lines added since billed was taken are kept.
func (s *Store) RemoveLines(billed Snapshot) int {
	s.mu.Lock()
	ids := make(map[ID]struct{}, len(billed))
	for _, l := range billed {
		ids[l.Fruit.ID] = struct{}{}
	}

	kept := s.lines[:0:0]
	for _, l := range s.lines {
		if _, ok := ids[l.Fruit.ID]; ok {
			delete(s.images, l.Fruit.ID)
			delete(s.pins, l.Fruit.ID)
			continue
		}
		kept = append(kept, l)
	}
	n := len(s.lines) - len(kept)
	if n == 0 {
		s.mu.Unlock()
		return 0
	}
	s.lines = kept
	s.commitLocked("remove_billed")
	return n
}

// Version increases on every change, images included.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(Snapshot(nil), s.lines...)
}

func (s *Store) TotalItemCount() int { return s.Snapshot().TotalItemCount() }

func (s *Store) TotalPrice() float64 { return s.Snapshot().TotalPrice() }

// Pinned reports the remaining suppressed poll writes for id.
func (s *Store) Pinned(id ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[id]
}

// Subscribe returns a channel that receives a value after each change.
// Notifications coalesce; a slow reader sees at least one pending signal.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.subs {
		if c == ch {
			delete(s.subs, c)
			close(c)
			return
		}
	}
}

func (s *Store) notifyLocked() {
	for c := range s.subs {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

// commitLocked must be called with mu held; it releases mu before writing to
// the persister so slow storage never blocks readers.
func (s *Store) commitLocked(op string) {
	s.version++
	v := s.version
	raw, err := json.Marshal(nonNil(s.lines))
	s.notifyLocked()
	s.mu.Unlock()

	s.metrics.mutations.WithLabelValues(op).Inc()

	if err != nil {
		s.log.Error("cart encode failed", zap.Error(err))
		s.metrics.persistErrors.Inc()
		return
	}
	s.write(v, raw)
}

func (s *Store) write(v uint64, raw []byte) {
	if s.persist == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	// A newer snapshot already reached storage.
	if v <= s.persisted {
		return
	}

	if err := s.persist.Put(context.Background(), s.key, raw); err != nil {
		s.log.Warn("cart persist failed", zap.Error(err), zap.String("key", s.key))
		s.metrics.persistErrors.Inc()
		return
	}
	s.persisted = v
}

func nonNil(l []Line) []Line {
	if l == nil {
		return []Line{}
	}
	return l
}
