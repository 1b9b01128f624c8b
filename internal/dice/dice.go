// Package dice provides the server-side roller used for NPC initiative and
// world-turn checks. Player rolls never come from here; they arrive through
// the roll handshake so players keep authorship of their own dice.
package dice

import (
	"errors"
	"math/rand"
)

// ErrInvalidSpec is returned for a non-positive side or count.
var ErrInvalidSpec = errors.New("invalid dice spec")

// Spec describes a set of identical dice to roll.
type Spec struct {
	Sides int
	Count int
}

// Roll is the outcome for one Spec, in request order.
type Roll struct {
	Sides   int
	Results []int
	Total   int
}

// Roller produces rolls from a seedable source so tests and replays are
// deterministic for a fixed seed.
type Roller struct {
	rng *rand.Rand
}

// NewRoller creates a roller seeded with the given value.
func NewRoller(seed int64) *Roller {
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// RollDice rolls every spec in order and returns per-spec results.
func (r *Roller) RollDice(specs ...Spec) ([]Roll, error) {
	if len(specs) == 0 {
		return nil, ErrInvalidSpec
	}
	rolls := make([]Roll, 0, len(specs))
	for _, spec := range specs {
		if spec.Sides <= 0 || spec.Count <= 0 {
			return nil, ErrInvalidSpec
		}
		results := make([]int, spec.Count)
		total := 0
		for i := 0; i < spec.Count; i++ {
			v := r.rng.Intn(spec.Sides) + 1
			results[i] = v
			total += v
		}
		rolls = append(rolls, Roll{Sides: spec.Sides, Results: results, Total: total})
	}
	return rolls, nil
}

// D20 rolls a single d20 and returns the natural value.
func (r *Roller) D20() int {
	return r.rng.Intn(20) + 1
}
