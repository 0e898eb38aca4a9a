package capture

// CapturedResponse is the file obtained from a matched network response.
type CapturedResponse struct {
	Bytes             []byte
	SourceResponseURL string
	ContentType       string
}

// Size returns the number of captured bytes.
func (c CapturedResponse) Size() int {
	return len(c.Bytes)
}

// Element describes one interactive element in a page snapshot.
type Element struct {
	Index   int    `json:"index"`
	Tag     string `json:"tag"`
	Role    string `json:"role"`
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

// ClickStatus is the coarse result of a click attempt.
type ClickStatus string

// Click statuses reported by the Resolver.
const (
	ClickStatusClicked       ClickStatus = "clicked"
	ClickStatusNoTargetFound ClickStatus = "no_target_found"
	ClickStatusClickFailed   ClickStatus = "click_failed"
)

// Strategy names which fallback step selected the element.
type Strategy string

// Strategies, in the order they are tried.
const (
	StrategyNone         Strategy = "none"
	StrategyDownloadText Strategy = "download_text"
	StrategyFirstVisible Strategy = "first_visible"
)

// ClickOutcome reports what the Resolver did. It is informational only.
type ClickOutcome struct {
	Status   ClickStatus
	Element  *Element
	Strategy Strategy
	Reason   string
}
