package domain

// ShellCondition is the outcome of the shell-condition classifier. Each variant
// owns the duration slot that has to run after it.
type ShellCondition int

const (
	Unpeeled ShellCondition = iota
	Peeled
)

// ShellConditionOf maps the shell classifier's top label onto a variant.
// Anything other than the peeled sentinel counts as unpeeled.
func ShellConditionOf(label, peeledLabel string) ShellCondition {
	if label == peeledLabel {
		return Peeled
	}
	return Unpeeled
}

// DurationSlot returns the duration classifier bound to the variant.
func (c ShellCondition) DurationSlot() Slot {
	switch c {
	case Peeled:
		return SlotPeeledDuration
	default:
		return SlotUnpeeledDuration
	}
}

func (c ShellCondition) String() string {
	if c == Peeled {
		return "peeled"
	}
	return "unpeeled"
}
