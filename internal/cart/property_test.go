package cart

import (
	"context"
	"math"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"FruitMarket/internal/storage"
)

// op is one cart mutation in a generated sequence.
type op struct {
	Kind   int
	Fruit  int
	Weight float64
}

func genOps() gopter.Gen {
	return gen.SliceOf(gopter.CombineGens(
		gen.IntRange(0, 4),
		gen.IntRange(0, 5),
		gen.Float64Range(-1, 10),
	).Map(func(v []any) op {
		return op{Kind: v[0].(int), Fruit: v[1].(int), Weight: v[2].(float64)}
	}))
}

func fruitN(n int) Fruit {
	return Fruit{
		ID:    ID(strconv.Itoa(n + 1)),
		Name:  "fruit-" + strconv.Itoa(n),
		Price: float64(n)*1.25 + 0.99,
	}
}

func apply(s *Store, ops []op) {
	for _, o := range ops {
		f := fruitN(o.Fruit)
		switch o.Kind {
		case 0:
			s.AddItem(f)
		case 1:
			s.RemoveItem(f.ID)
		case 2:
			s.SetQuantity(f.ID, o.Weight)
		case 3:
			s.ApplyDetectedWeight(f.ID, o.Weight)
		case 4:
			s.AddItem(f)
			s.AddItem(f)
		}
	}
}

func newPropStore() (*Store, *storage.MemStore) {
	mem := storage.NewMemStore()
	return NewStore(context.Background(), mem, DefaultKey), mem
}

func TestCartProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("at most one line per item id", prop.ForAll(
		func(ops []op) bool {
			s, _ := newPropStore()
			apply(s, ops)

			seen := map[ID]bool{}
			for _, l := range s.Snapshot() {
				if seen[l.Fruit.ID] {
					return false
				}
				seen[l.Fruit.ID] = true
			}
			return true
		},
		genOps(),
	))

	properties.Property("total price is the sum of price × quantity", prop.ForAll(
		func(ops []op) bool {
			s, _ := newPropStore()
			apply(s, ops)

			snap := s.Snapshot()
			var want float64
			for _, l := range snap {
				want += l.Fruit.Price * l.Quantity
			}

			// order independence
			var reversed float64
			for i := len(snap) - 1; i >= 0; i-- {
				reversed += snap[i].Fruit.Price * snap[i].Quantity
			}

			got := s.TotalPrice()
			return math.Abs(got-want) < 1e-9 && math.Abs(got-reversed) < 1e-6
		},
		genOps(),
	))

	properties.Property("quantities are never negative", prop.ForAll(
		func(ops []op) bool {
			s, _ := newPropStore()
			apply(s, ops)
			for _, l := range s.Snapshot() {
				if l.Quantity < 0 || math.IsNaN(l.Quantity) {
					return false
				}
			}
			return true
		},
		genOps(),
	))

	properties.Property("clear zeroes every aggregate", prop.ForAll(
		func(ops []op) bool {
			s, _ := newPropStore()
			apply(s, ops)
			s.Clear()
			return s.TotalPrice() == 0 && s.TotalItemCount() == 0
		},
		genOps(),
	))

	properties.Property("persist then rehydrate reproduces the snapshot", prop.ForAll(
		func(ops []op) bool {
			s, mem := newPropStore()
			apply(s, ops)

			again := NewStore(context.Background(), mem, DefaultKey)
			return s.Snapshot().Equal(again.Snapshot())
		},
		genOps(),
	))

	properties.Property("any string id survives persist and rehydrate", prop.ForAll(
		func(raw string, w float64) bool {
			if raw == "" {
				return true
			}
			s, mem := newPropStore()
			s.AddItem(Fruit{ID: ID(raw), Name: "x", Price: 1})
			s.SetQuantity(ID(raw), w)

			again := NewStore(context.Background(), mem, DefaultKey)
			return s.Snapshot().Equal(again.Snapshot())
		},
		gen.OneGenOf(
			gen.AlphaString(),
			gen.NumString(),
			gen.RegexMatch(`[+-]?0*[0-9]{1,4}`),
		),
		gen.Float64Range(0, 10),
	))

	properties.Property("removing an absent id is a no-op", prop.ForAll(
		func(ops []op) bool {
			s, _ := newPropStore()
			apply(s, ops)

			before := s.Snapshot()
			s.RemoveItem("not-in-catalog")
			return before.Equal(s.Snapshot())
		},
		genOps(),
	))

	properties.TestingRun(t)
}
