package risk

import (
	"math"
	"sync/atomic"
)

// Weights is one immutable rule set as it appears in the rules file.
// Thresholds are in major units; conversion to micros happens once at
// publish time, never per payment.
type Weights struct {
	VelocityWeight       float64 `json:"velocity_weight"`
	StructuringWeight    float64 `json:"structuring_weight"`
	VelocityThreshold    float64 `json:"velocity_threshold"`
	StructuringThreshold float64 `json:"structuring_threshold"`
	Baseline             float64 `json:"baseline"`
}

// DefaultWeights mirrors the shipped model.
var DefaultWeights = Weights{
	VelocityWeight:       0.6,
	StructuringWeight:    0.25,
	VelocityThreshold:    5,
	StructuringThreshold: 9000,
	Baseline:             0.05,
}

// structuringCeilingMicros is the fixed regulatory upper bound: amounts at
// or above 10 000 major units are reportable outright, not structuring.
const structuringCeilingMicros = 10_000 * 1_000_000

// ruleSet is a compiled weight set. Instances are immutable once published.
type ruleSet struct {
	Weights
	structuringMicros int64
	gen               uint64
}

// Engine applies the active rule set to per-entity state. Weights live in
// a two-slot array; the active slot is named by an atomic index. The
// watcher writes the inactive slot in full and then flips the index, so a
// scorer sees either the whole old set or the whole new set.
type Engine struct {
	store *Store

	slots  [2]atomic.Pointer[ruleSet]
	active atomic.Int32
	gen    atomic.Uint64

	now func() int64
}

// NewEngine creates an engine over the given store with an initial rule set.
func NewEngine(store *Store, initial Weights) *Engine {
	e := &Engine{store: store, now: monotonicNanos}
	rs := compile(initial, 0)
	e.slots[0].Store(rs)
	e.slots[1].Store(rs)
	return e
}

func compile(w Weights, gen uint64) *ruleSet {
	return &ruleSet{
		Weights:           w,
		structuringMicros: int64(math.Round(w.StructuringThreshold * 1_000_000)),
		gen:               gen,
	}
}

// Publish makes w the active rule set. Writer side of the double buffer:
// fill the inactive slot, then release the new index. Exactly one
// publisher (the rule watcher) may call this.
func (e *Engine) Publish(w Weights) uint64 {
	gen := e.gen.Add(1)
	next := 1 - e.active.Load()
	e.slots[next].Store(compile(w, gen))
	e.active.Store(next)
	return gen
}

// Generation returns the generation of the most recently published set.
func (e *Engine) Generation() uint64 { return e.gen.Load() }

// ActiveWeights returns a copy of the weight set scoring currently uses.
func (e *Engine) ActiveWeights() Weights {
	return e.slots[e.active.Load()].Load().Weights
}

// Score updates the entity's rolling state and computes the risk score for
// one payment. Wait-free except for the short shard-lock critical section
// inside Touch; allocates only when the entity is first observed.
func (e *Engine) Score(entity []byte, amountMicros int64) Result {
	rs := e.slots[e.active.Load()].Load()

	v := e.store.Touch(entity, e.now())

	velocityScore := v / (2 * rs.VelocityThreshold)
	if velocityScore > 1 {
		velocityScore = 1
	}

	structuringScore := 0.0
	if amountMicros >= rs.structuringMicros && amountMicros < structuringCeilingMicros {
		structuringScore = 1
	}

	total := rs.Baseline +
		velocityScore*rs.VelocityWeight +
		structuringScore*rs.StructuringWeight
	if total > 1 {
		total = 1
	}

	return Result{
		Score:    total,
		Blocked:  total > BlockThreshold,
		Velocity: v,
	}
}
