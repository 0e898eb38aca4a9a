package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSelectTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		elements  []Element
		wantIndex int
		wantStrat Strategy
		wantOK    bool
	}{
		{
			name: "download text wins over earlier elements",
			elements: []Element{
				{Index: 0, Tag: "a", Text: "Home", Visible: true},
				{Index: 1, Tag: "button", Text: "DOWNLOAD resume", Visible: true},
			},
			wantIndex: 1, wantStrat: StrategyDownloadText, wantOK: true,
		},
		{
			name: "hidden download falls back to first visible",
			elements: []Element{
				{Index: 0, Tag: "button", Text: "Download", Visible: false},
				{Index: 1, Tag: "a", Text: "Contact", Visible: true},
				{Index: 2, Tag: "a", Text: "About", Visible: true},
			},
			wantIndex: 1, wantStrat: StrategyFirstVisible, wantOK: true,
		},
		{
			name: "no download text uses first visible",
			elements: []Element{
				{Index: 0, Tag: "a", Text: "Menu", Visible: false},
				{Index: 1, Tag: "button", Text: "Get the file", Visible: true},
			},
			wantIndex: 1, wantStrat: StrategyFirstVisible, wantOK: true,
		},
		{
			name:      "nothing visible",
			elements:  []Element{{Index: 0, Tag: "a", Text: "Download", Visible: false}},
			wantStrat: StrategyNone,
		},
		{
			name:      "empty page",
			wantStrat: StrategyNone,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			el, strategy, ok := SelectTarget(tc.elements)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantStrat, strategy)
			if ok {
				require.Equal(t, tc.wantIndex, el.Index)
			}
		})
	}
}

const landingPage = `<html><body>
<nav style="display:none"><a href="/menu">Download menu</a></nav>
<a href="/">Home</a>
<div role="button">Share</div>
<button onclick="fetchCV()">Download CV</button>
</body></html>`

const bareLandingPage = `<html><body>
<a href="/x" hidden>Download</a>
<button>Open document</button>
</body></html>`

// snapshotFromHTML mimics the in-page snapshot script over a static
// document. Elements under display:none or the hidden attribute count as
// having no offsetParent.
func snapshotFromHTML(t *testing.T, html string) []Element {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	var out []Element
	doc.Find(`a[href], button, input[type="button"], input[type="submit"], [role="button"], [role="link"], [onclick]`).
		Each(func(i int, sel *goquery.Selection) {
			hidden := isHidden(sel)
			sel.ParentsUntil("body").Each(func(_ int, parent *goquery.Selection) {
				hidden = hidden || isHidden(parent)
			})
			role, _ := sel.Attr("role")
			out = append(out, Element{
				Index:   i,
				Tag:     goquery.NodeName(sel),
				Role:    role,
				Text:    strings.TrimSpace(sel.Text()),
				Visible: !hidden,
			})
		})
	return out
}

func isHidden(sel *goquery.Selection) bool {
	if _, ok := sel.Attr("hidden"); ok {
		return true
	}
	style, _ := sel.Attr("style")
	return strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none")
}

func TestSelectTargetFromHTMLFixtures(t *testing.T) {
	t.Parallel()

	el, strategy, ok := SelectTarget(snapshotFromHTML(t, landingPage))
	require.True(t, ok)
	require.Equal(t, StrategyDownloadText, strategy)
	require.Equal(t, "Download CV", el.Text)
	require.Equal(t, "button", el.Tag)

	el, strategy, ok = SelectTarget(snapshotFromHTML(t, bareLandingPage))
	require.True(t, ok)
	require.Equal(t, StrategyFirstVisible, strategy)
	require.Equal(t, "Open document", el.Text)
}

func TestResolverFallbackReportsClicked(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.elements = []Element{
		{Index: 0, Tag: "a", Text: "Download", Visible: false},
		{Index: 1, Tag: "button", Text: "Continue", Visible: true},
	}

	outcome := NewResolver(time.Second, zap.NewNop()).Resolve(context.Background(), session)

	want := ClickOutcome{
		Status:   ClickStatusClicked,
		Element:  &Element{Index: 1, Tag: "button", Text: "Continue", Visible: true},
		Strategy: StrategyFirstVisible,
	}
	if diff := cmp.Diff(want, outcome); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []int{1}, session.clicks())
}

func TestResolverNoTargetFound(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	outcome := NewResolver(time.Second, nil).Resolve(context.Background(), session)

	require.Equal(t, ClickStatusNoTargetFound, outcome.Status)
	require.Nil(t, outcome.Element)
	require.Empty(t, session.clicks())
}

func TestResolverClickErrorBecomesClickFailed(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.elements = []Element{{Index: 3, Tag: "a", Text: "Download PDF", Visible: true}}
	session.clickErr = errors.New("Error: element 3 is no longer attached")

	outcome := NewResolver(time.Second, nil).Resolve(context.Background(), session)

	require.Equal(t, ClickStatusClickFailed, outcome.Status)
	require.Equal(t, StrategyDownloadText, outcome.Strategy)
	require.NotNil(t, outcome.Element)
	require.Equal(t, 3, outcome.Element.Index)
	require.Contains(t, outcome.Reason, "no longer attached")
}

func TestResolverSnapshotErrorBecomesClickFailed(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.snapshotErr = errors.New("execution context was destroyed")

	outcome := NewResolver(time.Second, nil).Resolve(context.Background(), session)

	require.Equal(t, ClickStatusClickFailed, outcome.Status)
	require.Contains(t, outcome.Reason, "execution context was destroyed")
}

func TestResolverRecoversFromPanics(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.panicOnEval = true

	outcome := NewResolver(time.Second, nil).Resolve(context.Background(), session)

	require.Equal(t, ClickStatusClickFailed, outcome.Status)
	require.Contains(t, outcome.Reason, "evaluate exploded")
}

func TestClickScriptTargetsIndex(t *testing.T) {
	t.Parallel()

	script := clickScript(7)
	require.Contains(t, script, `[data-pdfcapture-idx="7"]`)
	require.Contains(t, script, "el.click()")
	require.Contains(t, snapshotScript, "offsetParent !== null")
}
