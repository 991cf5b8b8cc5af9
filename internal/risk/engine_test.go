package risk

import (
	"sync"
	"testing"
	"time"
)

// fixedClock returns a controllable now() for engine tests.
type fixedClock struct {
	now int64
}

func (c *fixedClock) advance(d time.Duration) { c.now += int64(d) }
func (c *fixedClock) read() int64             { return c.now }

func newTestEngine(w Weights) (*Engine, *fixedClock) {
	clk := &fixedClock{now: int64(time.Hour)}
	e := NewEngine(NewStore(DefaultShardSoftCap), w)
	e.now = clk.read
	return e, clk
}

func TestScoreFirstObservation(t *testing.T) {
	e, _ := newTestEngine(DefaultWeights)

	// 1500.00 EUR: velocity_score = 1/10, structuring = 0.
	res := e.Score([]byte("Alice Smith"), 1_500_000_000)

	if want := 0.05 + 0.6*0.1; !approxEqual(res.Score, want) {
		t.Errorf("score = %f, want %f", res.Score, want)
	}
	if res.Blocked {
		t.Error("low-risk payment blocked")
	}
	if res.Alertable() {
		t.Error("score 0.11 should not be alertable")
	}
}

func TestScoreStructuringTrip(t *testing.T) {
	e, clk := newTestEngine(DefaultWeights)

	// 9000.00 lands exactly on the structuring threshold.
	res := e.Score([]byte("Mule Corp"), 9_000_000_000)
	if want := 0.05 + 0.6*0.1 + 0.25; !approxEqual(res.Score, want) {
		t.Errorf("first score = %f, want %f", res.Score, want)
	}
	if res.Alertable() {
		t.Error("score 0.36 should not be alertable")
	}

	// Nine more rapid observations saturate velocity.
	for i := 0; i < 9; i++ {
		clk.advance(10 * time.Millisecond)
		res = e.Score([]byte("Mule Corp"), 9_000_000_000)
	}
	if want := 0.05 + 0.6 + 0.25; !approxEqual(res.Score, want) {
		t.Errorf("tenth score = %f, want %f", res.Score, want)
	}
	if !res.Blocked {
		t.Error("score 0.90 should be blocked")
	}
	if !res.Alertable() {
		t.Error("score 0.90 should be alertable")
	}
}

func TestStructuringBounds(t *testing.T) {
	cases := []struct {
		amount int64
		trip   bool
	}{
		{8_999_999_999, false}, // below threshold
		{9_000_000_000, true},  // at threshold
		{9_999_999_999, true},  // just under ceiling
		{10_000_000_000, false},
		{15_000_000_000, false},
	}
	for _, tc := range cases {
		e, _ := newTestEngine(DefaultWeights)
		res := e.Score([]byte("x"), tc.amount)
		tripped := res.Score > 0.05+0.6*0.1+1e-9
		if tripped != tc.trip {
			t.Errorf("amount %d: structuring tripped = %v, want %v", tc.amount, tripped, tc.trip)
		}
	}
}

func TestScoreClamped(t *testing.T) {
	e, clk := newTestEngine(Weights{
		VelocityWeight:       0.9,
		StructuringWeight:    0.9,
		VelocityThreshold:    1,
		StructuringThreshold: 100,
		Baseline:             0.5,
	})
	var res Result
	for i := 0; i < 5; i++ {
		clk.advance(time.Millisecond)
		res = e.Score([]byte("x"), 200_000_000)
	}
	if res.Score != 1.0 {
		t.Errorf("score = %f, want clamp at 1.0", res.Score)
	}
}

// TestScoringMonotonicity holds other inputs fixed and checks the score
// never decreases as velocity grows, and likewise when structuring trips.
func TestScoringMonotonicity(t *testing.T) {
	e, clk := newTestEngine(DefaultWeights)
	prev := -1.0
	for i := 0; i < 25; i++ {
		clk.advance(time.Millisecond)
		res := e.Score([]byte("steady"), 1_000_000)
		if res.Score < prev {
			t.Fatalf("score decreased with velocity: %f -> %f", prev, res.Score)
		}
		prev = res.Score
	}

	e2, _ := newTestEngine(DefaultWeights)
	plain := e2.Score([]byte("a"), 1_000_000).Score
	e3, _ := newTestEngine(DefaultWeights)
	structured := e3.Score([]byte("a"), 9_000_000_000).Score
	if structured < plain {
		t.Errorf("structuring lowered score: %f < %f", structured, plain)
	}
}

func TestVelocityDecayThroughEngine(t *testing.T) {
	e, clk := newTestEngine(DefaultWeights)

	for i := 0; i < 10; i++ {
		clk.advance(time.Millisecond)
		e.Score([]byte("burst"), 1_000_000)
	}
	clk.advance(2 * time.Second)
	res := e.Score([]byte("burst"), 1_000_000)
	if res.Velocity != 1 {
		t.Errorf("velocity after idle second = %f, want 1", res.Velocity)
	}
}

func TestPublishSwapsWeights(t *testing.T) {
	e, _ := newTestEngine(DefaultWeights)

	next := Weights{
		VelocityWeight:       0.8,
		StructuringWeight:    0.1,
		VelocityThreshold:    3,
		StructuringThreshold: 8000,
		Baseline:             0.05,
	}
	gen := e.Publish(next)
	if gen != 1 {
		t.Errorf("generation = %d, want 1", gen)
	}
	if got := e.ActiveWeights(); got != next {
		t.Errorf("active weights = %+v, want %+v", got, next)
	}

	// New thresholds take effect: 8500.00 now trips structuring.
	res := e.Score([]byte("x"), 8_500_000_000)
	want := 0.05 + 0.8*(1.0/6.0) + 0.1
	if !approxEqual(res.Score, want) {
		t.Errorf("score under new weights = %f, want %f", res.Score, want)
	}
}

// TestRuleSwapAtomicity publishes weight sets whose five fields all carry
// the generation number while a reader continuously snapshots the active
// set. A mixed tuple or a generation going backwards fails.
func TestRuleSwapAtomicity(t *testing.T) {
	e, _ := newTestEngine(DefaultWeights)

	const publishes = 10000
	var wg sync.WaitGroup
	wg.Add(2)
	stop := make(chan struct{})

	go func() {
		defer wg.Done()
		defer close(stop)
		for i := 1; i <= publishes; i++ {
			v := float64(i)
			e.Publish(Weights{
				VelocityWeight:       v,
				StructuringWeight:    v,
				VelocityThreshold:    v,
				StructuringThreshold: v,
				Baseline:             v,
			})
		}
	}()

	go func() {
		defer wg.Done()
		var lastGen uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			rs := e.slots[e.active.Load()].Load()
			w := rs.Weights
			if w.VelocityWeight != w.StructuringWeight ||
				w.VelocityWeight != w.VelocityThreshold ||
				w.VelocityWeight != w.StructuringThreshold ||
				w.VelocityWeight != w.Baseline {
				// Generation zero is the initial uniform default set.
				if rs.gen != 0 {
					t.Errorf("torn weight set observed: %+v", w)
					return
				}
			}
			if rs.gen < lastGen {
				t.Errorf("generation went backwards: %d -> %d", lastGen, rs.gen)
				return
			}
			lastGen = rs.gen
		}
	}()

	wg.Wait()
}

func approxEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
