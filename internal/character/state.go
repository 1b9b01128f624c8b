package character

import (
	"fmt"
)

// Consciousness tracks where a character sits in the death-save machine.
type Consciousness string

const (
	Conscious  Consciousness = "CONSCIOUS"
	Dying      Consciousness = "DYING"
	Stabilized Consciousness = "STABILIZED"
	Dead       Consciousness = "DEAD"
)

// DeathSaves holds the nested death-save counters. Both stay within [0, 3].
type DeathSaves struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// SpellSlots tracks used versus maximum slots for one spell level.
type SpellSlots struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

// LiveState is the session-scoped mutable resource ledger for one
// participant, distinct from their permanent character record. It is
// initialized from the record at session activation and synced back at
// session end.
type LiveState struct {
	CharacterID string `json:"character_id"`
	Name        string `json:"name"`

	HPCurrent int `json:"hp_current"`
	HPMax     int `json:"hp_max"`
	HPTemp    int `json:"hp_temp"`

	Conditions     map[string]bool    `json:"conditions"`
	SpellSlots     map[int]SpellSlots `json:"spell_slots"`
	HitDice        int                `json:"hit_dice"`
	ClassResources map[string]int     `json:"class_resources"`
	Inspiration    bool               `json:"inspiration"`

	Consciousness Consciousness `json:"consciousness"`
	DeathSaves    DeathSaves    `json:"death_saves"`

	// Stat summary consulted by the budget tracker and the adjudicator.
	Speed      float64        `json:"speed"`
	ArmorClass int            `json:"armor_class"`
	Abilities  map[string]int `json:"abilities"`
}

// Clone returns a deep copy so patches can be staged and committed
// all-or-nothing.
func (s *LiveState) Clone() *LiveState {
	out := *s
	out.Conditions = make(map[string]bool, len(s.Conditions))
	for k, v := range s.Conditions {
		out.Conditions[k] = v
	}
	out.SpellSlots = make(map[int]SpellSlots, len(s.SpellSlots))
	for k, v := range s.SpellSlots {
		out.SpellSlots[k] = v
	}
	out.ClassResources = make(map[string]int, len(s.ClassResources))
	for k, v := range s.ClassResources {
		out.ClassResources[k] = v
	}
	out.Abilities = make(map[string]int, len(s.Abilities))
	for k, v := range s.Abilities {
		out.Abilities[k] = v
	}
	return &out
}

// ChangeKind enumerates the closed set of patch operations. Patches are
// tagged variants rather than free-form dictionaries so application code can
// switch exhaustively.
type ChangeKind string

const (
	ChangeDamage           ChangeKind = "DAMAGE"
	ChangeHeal             ChangeKind = "HEAL"
	ChangeTempHP           ChangeKind = "TEMP_HP"
	ChangeConditionAdd     ChangeKind = "CONDITION_ADD"
	ChangeConditionRemove  ChangeKind = "CONDITION_REMOVE"
	ChangeSpellSlotSpend   ChangeKind = "SPELL_SLOT_SPEND"
	ChangeSpellSlotRestore ChangeKind = "SPELL_SLOT_RESTORE"
	ChangeHitDiceSpend     ChangeKind = "HIT_DICE_SPEND"
	ChangeResourceSpend    ChangeKind = "RESOURCE_SPEND"
	ChangeResourceRestore  ChangeKind = "RESOURCE_RESTORE"
	ChangeInspiration      ChangeKind = "INSPIRATION"
	ChangeDeathSaveRoll    ChangeKind = "DEATH_SAVE_ROLL"
)

// Change is one patch operation against a live state.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	Amount    int        `json:"amount,omitempty"`
	Condition string     `json:"condition,omitempty"`
	SlotLevel int        `json:"slot_level,omitempty"`
	Resource  string     `json:"resource,omitempty"`
	Flag      bool       `json:"flag,omitempty"`
	// Natural die value for DEATH_SAVE_ROLL; Amount carries the total.
	Natural int `json:"natural,omitempty"`
}

const deathSaveDC = 10

// Apply mutates the state with a single change. Callers stage changes on a
// Clone and commit only when every change applies cleanly.
func (s *LiveState) Apply(c Change) error {
	switch c.Kind {
	case ChangeDamage:
		return s.applyDamage(c.Amount)
	case ChangeHeal:
		return s.applyHeal(c.Amount)
	case ChangeTempHP:
		if c.Amount < 0 {
			return fmt.Errorf("negative temp hp %d", c.Amount)
		}
		// Temporary HP does not stack; keep the larger pool.
		if c.Amount > s.HPTemp {
			s.HPTemp = c.Amount
		}
	case ChangeConditionAdd:
		if c.Condition == "" {
			return fmt.Errorf("condition name required")
		}
		s.Conditions[c.Condition] = true
	case ChangeConditionRemove:
		delete(s.Conditions, c.Condition)
	case ChangeSpellSlotSpend:
		slots, ok := s.SpellSlots[c.SlotLevel]
		if !ok || slots.Used >= slots.Max {
			return fmt.Errorf("no level %d slot available", c.SlotLevel)
		}
		slots.Used++
		s.SpellSlots[c.SlotLevel] = slots
	case ChangeSpellSlotRestore:
		slots, ok := s.SpellSlots[c.SlotLevel]
		if !ok {
			return fmt.Errorf("unknown slot level %d", c.SlotLevel)
		}
		if slots.Used > 0 {
			slots.Used--
		}
		s.SpellSlots[c.SlotLevel] = slots
	case ChangeHitDiceSpend:
		if s.HitDice <= 0 {
			return fmt.Errorf("no hit dice remaining")
		}
		s.HitDice--
	case ChangeResourceSpend:
		current := s.ClassResources[c.Resource]
		if current < c.Amount {
			return fmt.Errorf("resource %s: %d < %d", c.Resource, current, c.Amount)
		}
		s.ClassResources[c.Resource] = current - c.Amount
	case ChangeResourceRestore:
		s.ClassResources[c.Resource] += c.Amount
	case ChangeInspiration:
		s.Inspiration = c.Flag
	case ChangeDeathSaveRoll:
		return s.applyDeathSave(c.Natural, c.Amount)
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
	return nil
}

func (s *LiveState) applyDamage(amount int) error {
	if amount < 0 {
		return fmt.Errorf("negative damage %d", amount)
	}
	if s.Consciousness == Dead {
		return nil
	}
	// Temporary HP absorbs first.
	if s.HPTemp > 0 {
		if amount <= s.HPTemp {
			s.HPTemp -= amount
			return nil
		}
		amount -= s.HPTemp
		s.HPTemp = 0
	}
	overflow := amount - s.HPCurrent
	s.HPCurrent -= amount
	if s.HPCurrent > 0 {
		return nil
	}
	s.HPCurrent = 0
	if overflow >= s.HPMax {
		// Lethal overflow kills outright.
		s.Consciousness = Dead
		return nil
	}
	if s.Consciousness == Conscious || s.Consciousness == Stabilized {
		s.Consciousness = Dying
		s.DeathSaves = DeathSaves{}
	}
	return nil
}

func (s *LiveState) applyHeal(amount int) error {
	if amount < 0 {
		return fmt.Errorf("negative healing %d", amount)
	}
	if s.Consciousness == Dead {
		return fmt.Errorf("cannot heal a dead character")
	}
	// Healing while dying or stabilized returns the character to
	// consciousness and clears both counters.
	if s.Consciousness == Dying || s.Consciousness == Stabilized {
		s.Consciousness = Conscious
		s.DeathSaves = DeathSaves{}
	}
	s.HPCurrent += amount
	if s.HPCurrent > s.HPMax {
		s.HPCurrent = s.HPMax
	}
	return nil
}

func (s *LiveState) applyDeathSave(natural, total int) error {
	if s.Consciousness != Dying {
		return fmt.Errorf("death save rolled while %s", s.Consciousness)
	}
	switch {
	case natural == 20:
		// Natural 20: back on your feet with 1 HP.
		s.Consciousness = Conscious
		s.HPCurrent = 1
		s.DeathSaves = DeathSaves{}
		return nil
	case natural == 1:
		s.DeathSaves.Failures += 2
	case total >= deathSaveDC:
		s.DeathSaves.Successes++
	default:
		s.DeathSaves.Failures++
	}
	if s.DeathSaves.Failures >= 3 {
		s.DeathSaves.Failures = 3
		s.Consciousness = Dead
	} else if s.DeathSaves.Successes >= 3 {
		s.DeathSaves.Successes = 3
		s.Consciousness = Stabilized
	}
	return nil
}
