// Package action defines the canonical vocabulary of browser actions shared by
// the parsers, the mapper and the dispatcher.
//
// An [Action] is a tagged value: [Kind] selects the variant and only the
// fields relevant to that kind are populated. Both the remote (LLM) parser and
// the rule-based parser produce values of this type, so either can feed the
// mapper.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of recognised actions.
type Kind int

const (
	Unknown Kind = iota
	OpenURL
	Scroll
	ScrollTop
	ScrollBottom
	Click
	Search
	ReadPage
	Back
	Forward
	Refresh
	DescribePage
	StopReading
	PauseReading
	ResumeReading
	FastForward
	Rewind
	IncreaseTargetSize
	DecreaseTargetSize
)

var kindNames = [...]string{
	Unknown:            "UNKNOWN",
	OpenURL:            "OPEN_URL",
	Scroll:             "SCROLL",
	ScrollTop:          "SCROLL_TOP",
	ScrollBottom:       "SCROLL_BOTTOM",
	Click:              "CLICK",
	Search:             "SEARCH",
	ReadPage:           "READ_PAGE",
	Back:               "BACK",
	Forward:            "FORWARD",
	Refresh:            "REFRESH",
	DescribePage:       "DESCRIBE_PAGE",
	StopReading:        "STOP_READING",
	PauseReading:       "PAUSE_READING",
	ResumeReading:      "RESUME_READING",
	FastForward:        "FAST_FORWARD",
	Rewind:             "REWIND",
	IncreaseTargetSize: "INCREASE_TARGET_SIZE",
	DecreaseTargetSize: "DECREASE_TARGET_SIZE",
}

// Kinds returns every kind in declaration order, Unknown first.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

// String returns the wire name of k (e.g. "OPEN_URL").
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[Unknown]
	}
	return kindNames[k]
}

// ParseKind maps a wire name to its Kind. Matching is case-insensitive and
// tolerates surrounding whitespace. Anything unrecognised is Unknown.
func ParseKind(s string) Kind {
	s = strings.ToUpper(strings.TrimSpace(s))
	if k, ok := kindAliases[s]; ok {
		return k
	}
	for i, name := range kindNames {
		if name == s {
			return Kind(i)
		}
	}
	return Unknown
}

// kindAliases are older wire names some models still emit.
var kindAliases = map[string]Kind{
	"CLICK_BUTTON":     Click,
	"ENLARGE_TARGETS":  IncreaseTargetSize,
	"SCROLL_TO_TOP":    ScrollTop,
	"SCROLL_TO_BOTTOM": ScrollBottom,
	"PAUSE":            PauseReading,
	"RESUME":           ResumeReading,
}

// IsSpeech reports whether k controls page readback rather than the page itself.
func (k Kind) IsSpeech() bool {
	switch k {
	case ReadPage, StopReading, PauseReading, ResumeReading, FastForward, Rewind:
		return true
	}
	return false
}

// Direction is the scroll direction of a [Scroll] action.
type Direction string

const (
	Down Direction = "down"
	Up   Direction = "up"
)

// IsValid reports whether d is a recognised direction.
func (d Direction) IsValid() bool {
	return d == Down || d == Up
}

// Action is a parsed user intent.
type Action struct {
	Kind Kind

	// URL is the destination for OpenURL.
	URL string

	// Query is the search text for Search.
	Query string

	// Direction applies to Scroll. Empty means the default (down).
	Direction Direction

	// TargetText and ButtonName both describe the element for Click. The
	// mapper prefers ButtonName when both are set.
	TargetText string
	ButtonName string
}

// Normalize returns a copy of a with fields irrelevant to its kind cleared.
func (a Action) Normalize() Action {
	out := Action{Kind: a.Kind}
	switch a.Kind {
	case OpenURL:
		out.URL = a.URL
	case Search:
		out.Query = a.Query
	case Scroll:
		out.Direction = a.Direction
	case Click:
		out.TargetText = a.TargetText
		out.ButtonName = a.ButtonName
	}
	return out
}

// Wire is the JSON shape exchanged with the remote parser and API clients:
// {action, url?, query?, direction?, targetText?, buttonName?}.
type Wire struct {
	Action     string `json:"action"`
	URL        string `json:"url,omitempty"`
	Query      string `json:"query,omitempty"`
	Direction  string `json:"direction,omitempty"`
	TargetText string `json:"targetText,omitempty"`
	ButtonName string `json:"buttonName,omitempty"`
}

// ErrMissingAction is returned when decoded JSON has no "action" field.
var ErrMissingAction = errors.New("action: missing \"action\" field")

// ToWire converts a into its JSON shape.
func (a Action) ToWire() Wire {
	n := a.Normalize()
	return Wire{
		Action:     n.Kind.String(),
		URL:        n.URL,
		Query:      n.Query,
		Direction:  string(n.Direction),
		TargetText: n.TargetText,
		ButtonName: n.ButtonName,
	}
}

// FromWire converts the JSON shape into an Action. An unrecognised action name
// yields Unknown. Direction values other than up/down are dropped so the mapper
// falls back to its default.
func FromWire(w Wire) (Action, error) {
	if strings.TrimSpace(w.Action) == "" {
		return Action{}, ErrMissingAction
	}
	a := Action{
		Kind:       ParseKind(w.Action),
		URL:        strings.TrimSpace(w.URL),
		Query:      strings.TrimSpace(w.Query),
		TargetText: strings.TrimSpace(w.TargetText),
		ButtonName: strings.TrimSpace(w.ButtonName),
	}
	if d := Direction(strings.ToLower(strings.TrimSpace(w.Direction))); d.IsValid() {
		a.Direction = d
	}
	return a.Normalize(), nil
}

// MarshalJSON implements json.Marshaler using the [Wire] shape.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.ToWire())
}

// UnmarshalJSON implements json.Unmarshaler using the [Wire] shape.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("action: decode: %w", err)
	}
	decoded, err := FromWire(w)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// String renders a compactly for logs.
func (a Action) String() string {
	var b strings.Builder
	b.WriteString(a.Kind.String())
	add := func(k, v string) {
		if v == "" {
			return
		}
		fmt.Fprintf(&b, " %s=%q", k, v)
	}
	add("url", a.URL)
	add("query", a.Query)
	add("direction", string(a.Direction))
	add("targetText", a.TargetText)
	add("buttonName", a.ButtonName)
	return b.String()
}
