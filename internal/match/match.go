// Package match resolves a spoken element description ("click diseases and
// parasites") to one clickable element of a page snapshot.
//
// Every visible element gets a base score from how well one of its labels
// (text, aria-label, title, id, name) matches the query, adjusted by what
// kind of element it is and where it sits: buttons and main-content links
// win, while PDF and download links, table-of-contents entries, navigation
// and headings lose. [FindBestClickable] then applies a selection policy on
// the sorted candidates.
package match

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/voxnav/internal/page"
)

var (
	// ErrAmbiguousQuery is wrapped by [*AmbiguousQueryError].
	ErrAmbiguousQuery = errors.New("match: ambiguous query")

	// ErrNotFound is wrapped by [*NotFoundError].
	ErrNotFound = errors.New("match: no acceptable element")
)

// MinScore is the lowest score a selected candidate may have.
const MinScore = -200

// Base scores.
const (
	scoreExact    = 1000
	scoreWord     = 500
	scoreAllWords = 400
	scorePrefix   = 200
	scoreFallback = 100
)

// MatchKind says how the query matched a candidate's labels.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchWord
	MatchAllWords
	MatchPrefix
	// MatchExternalFallback marks the first visible external link picked
	// for an "external" query that matched nothing by text.
	MatchExternalFallback
)

var matchKindNames = [...]string{"none", "exact", "word-boundary", "all-words", "prefix", "external-fallback"}

func (k MatchKind) String() string {
	if k < 0 || int(k) >= len(matchKindNames) {
		return "MatchKind(" + strconv.Itoa(int(k)) + ")"
	}
	return matchKindNames[k]
}

// Candidate is a scored element.
type Candidate struct {
	Element page.Element
	Score   float64
	Match   MatchKind
	// Label is the text shown in diagnostics: the first non-empty of text,
	// aria-label, title, id, name.
	Label string

	PDF            bool
	Download       bool
	InternalAnchor bool
	External       bool
	ScrollAnchor   bool
	TOC            bool
	Navigation     bool
	SectionHeader  bool
	MainContent    bool
}

// content reports whether c is an ordinary content element: not a PDF, not
// part of a table of contents or navigation, not a scroll anchor.
func (c Candidate) content() bool {
	return !c.PDF && !c.TOC && !c.Navigation && !c.ScrollAnchor
}

// AmbiguousQueryError is returned for queries too short to resolve safely.
type AmbiguousQueryError struct {
	Query string
}

func (e *AmbiguousQueryError) Error() string {
	return fmt.Sprintf("Search term %q is too short or ambiguous. Please be more specific (e.g., \"click diseases and parasites\" instead of \"click on\").", e.Query)
}

func (e *AmbiguousQueryError) Unwrap() error { return ErrAmbiguousQuery }

// NotFoundError is returned when no candidate is acceptable. Top holds up to
// five of the best rejected candidates.
type NotFoundError struct {
	Query string
	Top   []Candidate
}

func (e *NotFoundError) Error() string {
	if len(e.Top) == 0 {
		return "Could not find element: " + e.Query
	}
	parts := make([]string, len(e.Top))
	for i, c := range e.Top {
		parts[i] = fmt.Sprintf("%s (%s, PDF:%t)", truncate(c.Label, 30), formatScore(c.Score), c.PDF)
	}
	return fmt.Sprintf("Could not find a good match for: %s. Found: %s", e.Query, strings.Join(parts, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Normalize lower-cases s, drops everything but letters, digits, '_' and
// whitespace, and collapses whitespace runs into single spaces.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// CheckQuery returns the normalized query or an [*AmbiguousQueryError].
func CheckQuery(query string) (string, error) {
	q := Normalize(query)
	if q == "on" || q == "the" || utf8.RuneCountInString(q) < 3 {
		return "", &AmbiguousQueryError{Query: strings.TrimSpace(query)}
	}
	return q, nil
}

// Score scores every visible element of snap against query and returns the
// matching candidates, best first. The query must already be normalized.
func Score(snap page.Snapshot, query string) []Candidate {
	words := strings.Fields(query)
	var out []Candidate
	for _, el := range snap.Elements {
		if !el.Visible() {
			continue
		}
		labels := labelsOf(el)
		if len(labels) == 0 {
			continue
		}
		base, kind := baseScore(labels, query, words)
		if kind == MatchNone {
			continue
		}
		c := classify(el, snap.Host)
		c.Match = kind
		c.Score = float64(base) + adjustment(c, query)
		out = append(out, c)

		slog.Debug("match: candidate",
			"label", truncate(c.Label, 50),
			"score", c.Score,
			"match", c.Match,
			"pdf", c.PDF,
			"external", c.External,
			"toc", c.TOC,
			"nav", c.Navigation,
			"main", c.MainContent,
		)
	}
	slices.SortStableFunc(out, compare)
	return out
}

// FindBestClickable picks the element of snap that query most plausibly
// refers to.
func FindBestClickable(snap page.Snapshot, query string) (Candidate, error) {
	q, err := CheckQuery(query)
	if err != nil {
		return Candidate{}, err
	}
	ranked := Score(snap, q)
	best, ok := selectBest(snap, ranked, q)
	if !ok || best.Score < MinScore {
		top := ranked[:min(5, len(ranked))]
		return Candidate{}, &NotFoundError{Query: strings.TrimSpace(query), Top: slices.Clone(top)}
	}
	return best, nil
}

func selectBest(snap page.Snapshot, ranked []Candidate, q string) (Candidate, bool) {
	if strings.Contains(q, "external") {
		for _, c := range ranked {
			if c.External && !c.PDF && !c.TOC && !c.Navigation {
				return c, true
			}
		}
		if c, ok := firstExternal(snap); ok {
			return c, true
		}
	}

	for _, c := range ranked {
		if c.content() {
			return c, true
		}
	}

	bestNonPDF, hasNonPDF := first(ranked, func(c Candidate) bool { return !c.PDF })
	bestPDF, hasPDF := first(ranked, func(c Candidate) bool { return c.PDF })
	switch {
	case hasNonPDF && hasPDF:
		if bestNonPDF.Score >= bestPDF.Score-200 || bestNonPDF.Score >= 200 {
			return bestNonPDF, true
		}
		return bestPDF, true
	case hasNonPDF:
		return bestNonPDF, true
	case len(ranked) > 0:
		return ranked[0], true
	}
	return Candidate{}, false
}

// firstExternal returns the first visible off-site, non-PDF link in
// document order.
func firstExternal(snap page.Snapshot) (Candidate, bool) {
	for _, el := range snap.Elements {
		if el.Tag != "a" || el.Rect.Width <= 0 || el.Rect.Height <= 0 ||
			el.Visibility == "hidden" || el.Display == "none" {
			continue
		}
		href := el.Href
		if !strings.HasPrefix(href, "http") || strings.Contains(href, snap.Host) ||
			strings.HasSuffix(strings.ToLower(href), ".pdf") {
			continue
		}
		c := classify(el, snap.Host)
		c.Match = MatchExternalFallback
		c.Score = scoreFallback
		return c, true
	}
	return Candidate{}, false
}

func first(cs []Candidate, pred func(Candidate) bool) (Candidate, bool) {
	for _, c := range cs {
		if pred(c) {
			return c, true
		}
	}
	return Candidate{}, false
}

// compare orders candidates best first.
func compare(a, b Candidate) int {
	if a.Score != b.Score {
		return cmp.Compare(b.Score, a.Score)
	}
	if a.PDF != b.PDF {
		return boolLast(a.PDF)
	}
	if a.TOC != b.TOC {
		return boolLast(a.TOC)
	}
	if a.Navigation != b.Navigation {
		return boolLast(a.Navigation)
	}
	if a.MainContent != b.MainContent {
		return -boolLast(a.MainContent)
	}
	return cmp.Compare(a.Element.Rect.Top(), b.Element.Rect.Top())
}

// boolLast sorts the true side after the false side.
func boolLast(v bool) int {
	if v {
		return 1
	}
	return -1
}

func labelsOf(el page.Element) []string {
	var labels []string
	for _, s := range []string{el.Text, el.AriaLabel, el.Title, el.ID, el.Name} {
		if n := Normalize(s); n != "" {
			labels = append(labels, n)
		}
	}
	return labels
}

func baseScore(labels []string, q string, words []string) (int, MatchKind) {
	for _, l := range labels {
		if l == q {
			return scoreExact, MatchExact
		}
	}
	for _, l := range labels {
		if containsWords(l, q) {
			return scoreWord, MatchWord
		}
	}
	if len(words) > 1 {
		all := true
		for _, w := range words {
			if !slices.ContainsFunc(labels, func(l string) bool { return containsWords(l, w) }) {
				all = false
				break
			}
		}
		if all {
			return scoreAllWords, MatchAllWords
		}
	}
	if utf8.RuneCountInString(q) >= 4 {
		for _, l := range labels {
			if strings.HasPrefix(l, q) {
				return scorePrefix, MatchPrefix
			}
		}
	}
	return 0, MatchNone
}

// containsWords reports whether phrase occurs in text on word boundaries.
// Both must be normalized, so words are separated by single spaces.
func containsWords(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

func classify(el page.Element, host string) Candidate {
	href := el.Href
	lowerHref := strings.ToLower(href)
	text := Normalize(el.Text)

	c := Candidate{
		Element:       el,
		Label:         displayLabel(el),
		PDF:           strings.Contains(lowerHref, ".pdf") || strings.Contains(text, "pdf"),
		Download:      strings.Contains(lowerHref, "download") || el.Download,
		External:      strings.HasPrefix(href, "http") && !strings.Contains(href, host),
		TOC:           el.InTOC,
		SectionHeader: el.InHeading,
		MainContent:   el.InMain,
	}
	c.InternalAnchor = strings.HasPrefix(href, "#") || href == "" ||
		(strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//"))
	c.Navigation = c.TOC || el.InNav || el.Role == "navigation"
	c.ScrollAnchor = strings.HasPrefix(href, "#") && (el.InNav || c.TOC)
	return c
}

// adjustment is everything added to the base score.
func adjustment(c Candidate, q string) float64 {
	var s float64
	el := c.Element
	pdfOrDownload := c.PDF || c.Download

	switch el.Tag {
	case "button", "input":
		s += 150
	case "a":
		switch {
		case pdfOrDownload:
			s -= 500
		case c.ScrollAnchor:
			s -= 400
		case c.Navigation:
			s -= 300
		case c.InternalAnchor:
			s -= 150
		case c.External:
			s += 100
		default:
			s += 30
		}
	}

	if c.SectionHeader || c.TOC || c.Navigation {
		s -= 300
	}
	if c.MainContent && !c.Navigation {
		s += 150
	}
	if pdfOrDownload {
		s -= 300
	}

	text := Normalize(el.Text)
	textLen, qLen := utf8.RuneCountInString(text), utf8.RuneCountInString(q)
	if textLen > 0 && abs(textLen-qLen) < 15 {
		s += 50
	}
	if strings.Contains(text, q) && !c.PDF {
		if c.External && strings.Contains(q, "external") {
			s += 200
		} else {
			s += 100
		}
	}
	if el.InViewport {
		s += 100
	}
	s -= math.Max(0, el.Rect.Top()) / 20
	return s
}

func displayLabel(el page.Element) string {
	for _, s := range []string{el.Text, el.AriaLabel, el.Title, el.ID, el.Name} {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}

// VisibleLabels returns the distinct display labels of the visible
// elements in snap, in document order.
func VisibleLabels(snap page.Snapshot) []string {
	seen := make(map[string]bool)
	var out []string
	for _, el := range snap.Elements {
		if !el.Visible() {
			continue
		}
		l := displayLabel(el)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
