package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const indexAttr = "data-pdfcapture-idx"

const defaultClickTimeout = 10 * time.Second

// snapshotScript tags every interactive element with its index and returns
// a description of each. Visibility means the element has an offsetParent.
var snapshotScript = `() => {
	const selector = 'a[href], button, input[type="button"], input[type="submit"], [role="button"], [role="link"], [onclick]';
	return Array.from(document.querySelectorAll(selector)).map((el, i) => {
		el.setAttribute('` + indexAttr + `', String(i));
		const text = (el.innerText || el.value || el.getAttribute('aria-label') || el.title || '').trim();
		return {
			index: i,
			tag: el.tagName.toLowerCase(),
			role: el.getAttribute('role') || '',
			text: text.slice(0, 200),
			visible: el.offsetParent !== null,
		};
	});
}`

func clickScript(index int) string {
	return fmt.Sprintf(`() => {
	const el = document.querySelector('[%s="%d"]');
	if (!el) {
		throw new Error('element %d is no longer attached');
	}
	el.click();
	return true;
}`, indexAttr, index, index)
}

// SelectTarget picks the element to activate from a page snapshot. The first
// visible element mentioning "download" wins; otherwise the first visible
// element is used.
func SelectTarget(elements []Element) (Element, Strategy, bool) {
	for _, el := range elements {
		if el.Visible && strings.Contains(strings.ToLower(el.Text), "download") {
			return el, StrategyDownloadText, true
		}
	}
	for _, el := range elements {
		if el.Visible {
			return el, StrategyFirstVisible, true
		}
	}
	return Element{}, StrategyNone, false
}

// Resolver clicks the most likely download control on a live page.
type Resolver struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver builds a Resolver whose page scripts are bounded by timeout.
func NewResolver(timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = defaultClickTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{timeout: timeout, logger: logger}
}

// Resolve snapshots the page, selects a target and clicks it. It never
// returns an error; every failure becomes ClickStatusClickFailed.
func (r *Resolver) Resolve(ctx context.Context, session Session) (outcome ClickOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = ClickOutcome{
				Status:   ClickStatusClickFailed,
				Element:  outcome.Element,
				Strategy: outcome.Strategy,
				Reason:   fmt.Sprintf("panic: %v", rec),
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var elements []Element
	if err := session.Evaluate(ctx, snapshotScript, &elements); err != nil {
		return ClickOutcome{
			Status:   ClickStatusClickFailed,
			Strategy: StrategyNone,
			Reason:   fmt.Sprintf("snapshot elements: %v", err),
		}
	}
	r.logger.Debug("page snapshot", zap.Int("elements", len(elements)))

	target, strategy, ok := SelectTarget(elements)
	if !ok {
		return ClickOutcome{Status: ClickStatusNoTargetFound, Strategy: StrategyNone}
	}
	outcome = ClickOutcome{Element: &target, Strategy: strategy}
	if err := session.Evaluate(ctx, clickScript(target.Index), nil); err != nil {
		outcome.Status = ClickStatusClickFailed
		outcome.Reason = err.Error()
		return outcome
	}
	outcome.Status = ClickStatusClicked
	return outcome
}
