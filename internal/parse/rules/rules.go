// Package rules implements the deterministic, offline command parser.
//
// The parser lower-cases and trims a transcript, then tests it against an
// ordered list of patterns. The first matching pattern wins, so patterns that
// carry free text (click, search, open) and specific phrases ("scroll to top",
// "fast forward") come before the short keywords they contain ("back",
// "forward"). Parse never fails: a transcript nothing recognises is
// [action.Unknown].
package rules

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/MrWong99/voxnav/internal/action"
)

// MinTargetLen is the shortest click target considered specific. Shorter
// names, and the bare filler words "on" and "the", are too ambiguous to
// resolve on a page; they still parse as Click so the matcher can reject them
// with its ambiguity guidance.
const MinTargetLen = 3

// Pattern pairs a compiled regex with the action it produces.
type Pattern struct {
	// Name is a human-readable label for logging.
	Name string

	// Regex is matched against the normalised transcript.
	Regex *regexp.Regexp

	// Build turns the submatches into an action. Returning false lets the
	// next pattern try, which is how a click with an unusable target falls
	// through.
	Build func(matches []string) (action.Action, bool)
}

// Parser is a stateless rule-based parser. It is safe for concurrent use.
type Parser struct {
	patterns []Pattern
}

// New returns a Parser with the built-in pattern table.
func New() *Parser {
	return &Parser{patterns: defaultPatterns()}
}

var std = New()

// Parse classifies transcript with the default pattern table.
func Parse(transcript string) action.Action {
	return std.Parse(transcript)
}

// IsSpeechIntent reports whether transcript is a read/stop-class command that
// should bypass the remote parser.
func IsSpeechIntent(transcript string) bool {
	return std.Parse(transcript).Kind.IsSpeech()
}

// Parse classifies transcript. It is pure and deterministic.
func (p *Parser) Parse(transcript string) action.Action {
	t := normalize(transcript)
	if t == "" {
		return action.Action{Kind: action.Unknown}
	}
	for _, pat := range p.patterns {
		m := pat.Regex.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		a, ok := pat.Build(m)
		if !ok {
			continue
		}
		slog.Debug("rules: matched", "pattern", pat.Name, "transcript", t, "action", a.String())
		return a.Normalize()
	}
	return action.Action{Kind: action.Unknown}
}

var trailingPunct = regexp.MustCompile(`[\s.!?,;:]+$`)

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return trailingPunct.ReplaceAllString(s, "")
}

// ValidTarget reports whether name is specific enough to search the page for.
func ValidTarget(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "on" || n == "the" {
		return false
	}
	return len([]rune(n)) >= MinTargetLen
}

// SiteURL turns a spoken site name into an https URL. Names without a dot get
// "www." and ".com" added.
func SiteURL(site string) string {
	site = strings.TrimSpace(site)
	site = strings.TrimRight(site, ".,")
	if strings.HasPrefix(site, "http://") || strings.HasPrefix(site, "https://") {
		return site
	}
	site = strings.ReplaceAll(site, " ", "")
	if strings.Contains(site, ".") {
		return "https://" + site
	}
	return "https://www." + site + ".com"
}

func fixed(a action.Action) func([]string) (action.Action, bool) {
	return func([]string) (action.Action, bool) { return a, true }
}

func clickTarget(m []string) (action.Action, bool) {
	name := strings.TrimSpace(m[1])
	name = strings.TrimSuffix(name, " button")
	name = strings.TrimSuffix(name, " link")
	for _, filler := range []string{"on ", "the "} {
		name = strings.TrimPrefix(name, filler)
	}
	name = strings.TrimSpace(name)
	if !ValidTarget(name) {
		raw := strings.TrimSpace(m[1])
		if raw == "" {
			return action.Action{}, false
		}
		name = raw
	}
	return action.Action{Kind: action.Click, ButtonName: name}, true
}

// defaultPatterns returns the built-in pattern table in priority order.
func defaultPatterns() []Pattern {
	return []Pattern{
		// Named sites.
		{
			Name:  "open-youtube",
			Regex: regexp.MustCompile(`\b(?:open|go to|visit) youtube\b`),
			Build: fixed(action.Action{Kind: action.OpenURL, URL: "https://www.youtube.com"}),
		},
		{
			Name:  "open-gmail",
			Regex: regexp.MustCompile(`\b(?:open|go to|visit) (?:gmail|my email|email)\b`),
			Build: fixed(action.Action{Kind: action.OpenURL, URL: "https://mail.google.com"}),
		},
		{
			Name:  "open-google",
			Regex: regexp.MustCompile(`\b(?:open|go to|visit) google\b`),
			Build: fixed(action.Action{Kind: action.OpenURL, URL: "https://www.google.com"}),
		},

		// Target size.
		{
			Name: "increase-target-size",
			Regex: regexp.MustCompile(`\b(?:increase|enlarge)\s+(?:the\s+)?(?:click\s+)?(?:targets?|buttons?)(?:\s*size)?\b` +
				`|\b(?:larger|bigger)\s+(?:click\s+)?(?:targets?|buttons?|text)\b` +
				`|\b(?:targets?|buttons?|text)\s+(?:larger|bigger)\b|\bzoom in\b`),
			Build: fixed(action.Action{Kind: action.IncreaseTargetSize}),
		},
		{
			Name: "decrease-target-size",
			Regex: regexp.MustCompile(`\b(?:decrease|reduce|shrink)\s+(?:the\s+)?(?:click\s+)?(?:targets?|buttons?)(?:\s*size)?\b` +
				`|\bsmaller\s+(?:click\s+)?(?:targets?|buttons?|text)\b` +
				`|\b(?:targets?|buttons?|text)\s+smaller\b|\bzoom out\b`),
			Build: fixed(action.Action{Kind: action.DecreaseTargetSize}),
		},

		// Free-text commands.
		{
			Name:  "click",
			Regex: regexp.MustCompile(`\b(?:click|tap)\s+(?:on\s+)?(?:the\s+)?(.+?)(?:\s+button|\s+link)?$`),
			Build: clickTarget,
		},
		{
			Name:  "search",
			Regex: regexp.MustCompile(`\b(?:search for|search|google|look up)\s+(.+)$`),
			Build: func(m []string) (action.Action, bool) {
				q := strings.TrimSpace(m[1])
				if q == "" {
					return action.Action{}, false
				}
				return action.Action{Kind: action.Search, Query: q}, true
			},
		},

		// Readback control. These come before back/forward so that "fast
		// forward" and "go back a bit" do not navigate.
		{
			Name:  "fast-forward",
			Regex: regexp.MustCompile(`\b(?:fast ?forward|skip (?:ahead|forward)|next (?:part|section|chunk))\b`),
			Build: fixed(action.Action{Kind: action.FastForward}),
		},
		{
			Name:  "rewind",
			Regex: regexp.MustCompile(`\b(?:rewind|skip back|go back a bit|previous (?:part|section|chunk))\b`),
			Build: fixed(action.Action{Kind: action.Rewind}),
		},
		{
			Name:  "pause",
			Regex: regexp.MustCompile(`\bpause\b`),
			Build: fixed(action.Action{Kind: action.PauseReading}),
		},
		{
			Name:  "resume",
			Regex: regexp.MustCompile(`\b(?:resume|unpause|continue reading|keep reading)\b`),
			Build: fixed(action.Action{Kind: action.ResumeReading}),
		},
		{
			Name:  "stop-reading",
			Regex: regexp.MustCompile(`\b(?:stop (?:the )?read(?:ing)?|stop speaking|stop talking|cancel reading|be quiet)\b|^(?:stop|quiet|silence)$`),
			Build: fixed(action.Action{Kind: action.StopReading}),
		},
		{
			Name:  "read-page",
			Regex: regexp.MustCompile(`\b(?:read (?:this |the )?(?:page|article|text)|read (?:it )?aloud|read (?:this|it)(?: to me| out)?$|speak (?:page|this)|start reading)\b`),
			Build: fixed(action.Action{Kind: action.ReadPage}),
		},

		// Scrolling, most specific first. Bare "scroll" means down.
		{
			Name:  "scroll-top",
			Regex: regexp.MustCompile(`\b(?:scroll|go|jump) to (?:the )?top\b`),
			Build: fixed(action.Action{Kind: action.ScrollTop}),
		},
		{
			Name:  "scroll-bottom",
			Regex: regexp.MustCompile(`\b(?:scroll|go|jump) to (?:the )?bottom\b`),
			Build: fixed(action.Action{Kind: action.ScrollBottom}),
		},
		{
			Name:  "scroll-up",
			Regex: regexp.MustCompile(`\b(?:scroll up|page up)\b`),
			Build: fixed(action.Action{Kind: action.Scroll, Direction: action.Up}),
		},
		{
			Name:  "scroll-down",
			Regex: regexp.MustCompile(`\b(?:scroll down|page down|scroll)\b`),
			Build: fixed(action.Action{Kind: action.Scroll, Direction: action.Down}),
		},

		// Describe before open so "describe this page" is not a site.
		{
			Name:  "describe",
			Regex: regexp.MustCompile(`\bdescribe\b.*\b(?:page|this|screen|image)\b|\bwhat does .+ look like\b|\bwhat(?:'s| is) on (?:the |my )?screen\b`),
			Build: fixed(action.Action{Kind: action.DescribePage}),
		},

		{
			Name:  "open-site",
			Regex: regexp.MustCompile(`^(?:please )?(?:open|visit|go to|navigate to)\s+(.+)$`),
			Build: func(m []string) (action.Action, bool) {
				return action.Action{Kind: action.OpenURL, URL: SiteURL(m[1])}, true
			},
		},

		// History navigation.
		{
			Name:  "back",
			Regex: regexp.MustCompile(`\bback\b`),
			Build: fixed(action.Action{Kind: action.Back}),
		},
		{
			Name:  "forward",
			Regex: regexp.MustCompile(`\bforward\b`),
			Build: fixed(action.Action{Kind: action.Forward}),
		},
		{
			Name:  "refresh",
			Regex: regexp.MustCompile(`\b(?:refresh|reload)\b`),
			Build: fixed(action.Action{Kind: action.Refresh}),
		},
	}
}
