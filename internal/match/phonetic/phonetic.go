// Package phonetic corrects a mis-heard click target against the labels that
// are actually visible on the page.
//
// Speech recognisers often return a sound-alike ("click sign in" heard as
// "click sine inn"). When the matcher finds nothing, the dispatcher asks
// [Corrector.Suggest] for the visible label that sounds most like the query
// and retries once with it.
//
// A label is a phonetic candidate when any Double Metaphone code of its words
// overlaps with one of the query's; candidates are ranked by Jaro-Winkler
// similarity. Labels without a phonetic overlap can still win on spelling
// alone, but need a higher similarity.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultSoundThreshold    = 0.70
	defaultSpellingThreshold = 0.85
)

// Suggestion is a label proposed as the intended click target.
type Suggestion struct {
	Label string
	// Score is the Jaro-Winkler similarity in [0, 1].
	Score float64
	// Phonetic is true when the label also sounds like the query.
	Phonetic bool
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithSoundThreshold sets the minimum similarity for a label that sounds
// like the query. Default: 0.70.
func WithSoundThreshold(v float64) Option {
	return func(c *Corrector) { c.sound = v }
}

// WithSpellingThreshold sets the minimum similarity for a label that only
// looks like the query. Default: 0.85.
func WithSpellingThreshold(v float64) Option {
	return func(c *Corrector) { c.spelling = v }
}

// Corrector is safe for concurrent use.
type Corrector struct {
	sound    float64
	spelling float64
}

// New returns a Corrector with the given options applied.
func New(opts ...Option) *Corrector {
	c := &Corrector{sound: defaultSoundThreshold, spelling: defaultSpellingThreshold}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Suggest returns the label the query most plausibly meant. Labels equal to
// the query (ignoring case) are skipped because the caller already tried
// them. Long labels are compared window by window, so "sine inn" can find
// "Sign in" inside "Sign in to your account".
func (c *Corrector) Suggest(query string, labels []string) (Suggestion, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Suggestion{}, false
	}
	qWords := strings.Fields(q)
	qCodes := codes(qWords)

	var best Suggestion
	for _, label := range labels {
		l := strings.ToLower(strings.TrimSpace(label))
		if l == "" || l == q {
			continue
		}
		lWords := strings.Fields(l)
		sounds := overlaps(qCodes, codes(lWords))
		score := similarity(qWords, lWords)

		switch {
		case sounds && score >= c.sound:
			if !best.Phonetic || score > best.Score {
				best = Suggestion{Label: label, Score: score, Phonetic: true}
			}
		case !sounds && !best.Phonetic && score >= c.spelling && score > best.Score:
			best = Suggestion{Label: label, Score: score}
		}
	}
	return best, best.Label != ""
}

func codes(words []string) map[string]struct{} {
	set := make(map[string]struct{}, 2*len(words))
	for _, w := range words {
		primary, secondary := matchr.DoubleMetaphone(w)
		for _, code := range []string{primary, secondary} {
			if code != "" {
				set[code] = struct{}{}
			}
		}
	}
	return set
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score of the query against the label
// as a whole, against each window of the label as long as the query, and
// against both with spaces removed.
func similarity(query, label []string) float64 {
	q := strings.Join(query, " ")
	best := matchr.JaroWinkler(q, strings.Join(label, " "), false)

	if n := len(query); n < len(label) {
		for i := 0; i+n <= len(label); i++ {
			window := label[i : i+n]
			if s := matchr.JaroWinkler(q, strings.Join(window, " "), false); s > best {
				best = s
			}
		}
	}
	if s := matchr.JaroWinkler(strings.Join(query, ""), strings.Join(label, ""), false); s > best {
		best = s
	}
	return best
}
