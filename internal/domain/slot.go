package domain

import "fmt"

// Slot identifies one of the fixed roles in the cascade.
type Slot int

const (
	SlotShell Slot = iota
	SlotPeeledDuration
	SlotUnpeeledDuration
	SlotColor

	// SlotCount is the number of slots a pipeline carries.
	SlotCount = 4
)

// Slots lists every slot in cascade order.
func Slots() []Slot {
	return []Slot{SlotShell, SlotPeeledDuration, SlotUnpeeledDuration, SlotColor}
}

// String returns the configuration key of the slot.
func (s Slot) String() string {
	switch s {
	case SlotShell:
		return "shell"
	case SlotPeeledDuration:
		return "peeled_duration"
	case SlotUnpeeledDuration:
		return "unpeeled_duration"
	case SlotColor:
		return "color"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Valid reports whether s names a known slot.
func (s Slot) Valid() bool {
	return s >= SlotShell && s <= SlotColor
}

// ParseSlot resolves a configuration key back to its slot.
func ParseSlot(name string) (Slot, error) {
	for _, s := range Slots() {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown slot %q", name)
}
