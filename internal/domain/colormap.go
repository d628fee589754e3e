package domain

// RoastingStatus is the verdict derived from the bean colour.
type RoastingStatus string

const (
	StatusUnderRoasted    RoastingStatus = "under-roasted"
	StatusProperlyRoasted RoastingStatus = "properly roasted"
	StatusOverRoasted     RoastingStatus = "over-roasted"
	StatusUnknown         RoastingStatus = "unknown"
)

// Presentation colour names.
const (
	ColorLightBrown = "Light Brown"
	ColorBrown      = "Brown"
	ColorDarkBrown  = "Dark Brown"
)

var colorNames = map[string]string{
	"cokelat_muda": ColorLightBrown,
	"cokelat":      ColorBrown,
	"hitam":        ColorDarkBrown,
}

var colorStatus = map[string]RoastingStatus{
	ColorLightBrown: StatusUnderRoasted,
	ColorBrown:      StatusProperlyRoasted,
	ColorDarkBrown:  StatusOverRoasted,
}

var localizedStatus = map[RoastingStatus]string{
	StatusUnderRoasted:    "Belum Matang",
	StatusProperlyRoasted: "Matang",
	StatusOverRoasted:     "Terlalu Matang",
	StatusUnknown:         "Status Tidak Diketahui",
}

// MapColor resolves a raw colour label into its presentation name and the
// roasting status. Unknown labels pass through unchanged with StatusUnknown.
func MapColor(rawLabel string) (string, RoastingStatus) {
	formatted, ok := colorNames[rawLabel]
	if !ok {
		return rawLabel, StatusUnknown
	}
	return formatted, StatusForColor(formatted)
}

// StatusForColor looks up the roasting status of a presentation colour name.
func StatusForColor(formatted string) RoastingStatus {
	if status, ok := colorStatus[formatted]; ok {
		return status
	}
	return StatusUnknown
}

// KnownColorLabels returns the raw labels the colour table covers.
func KnownColorLabels() []string {
	return []string{"cokelat_muda", "cokelat", "hitam"}
}

// Canonical reports whether s is one of the three roast buckets.
func (s RoastingStatus) Canonical() bool {
	return s == StatusUnderRoasted || s == StatusProperlyRoasted || s == StatusOverRoasted
}

// Localized returns the Indonesian verdict shown to operators.
func (s RoastingStatus) Localized() string {
	if v, ok := localizedStatus[s]; ok {
		return v
	}
	return localizedStatus[StatusUnknown]
}
