package domain

// ScoreVector is the raw output of one classifier invocation, one score per
// label index. Scores are not assumed to be normalized.
type ScoreVector []float32

// Tensor is a row-major H x W x C float input for a classifier.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// Shape returns the tensor dimensions in HWC order.
func (t Tensor) Shape() []int {
	return []int{t.Height, t.Width, t.Channels}
}

// Recognition is a single ranked candidate.
type Recognition struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// RankedResult is ordered by descending confidence; the top entry is at index 0.
type RankedResult []Recognition

// Top returns the highest ranked recognition.
func (r RankedResult) Top() (Recognition, bool) {
	if len(r) == 0 {
		return Recognition{}, false
	}
	return r[0], true
}

// ScanResult is the aggregate verdict of one full cascade run.
type ScanResult struct {
	ShellResult       Recognition    `json:"shell_result"`
	DurationResult    Recognition    `json:"duration_result"`
	ColorResult       Recognition    `json:"color_result"`
	FormattedColor    string         `json:"formatted_color"`
	RoastingStatus    RoastingStatus `json:"roasting_status"`
	AverageConfidence float32        `json:"average_confidence"`
}
