// Package mapper translates a parsed [action.Action] into the operation the
// dispatcher executes, its parameters, and the status message read back to
// the user.
package mapper

import (
	"fmt"

	"github.com/MrWong99/voxnav/internal/action"
)

// Operation is an executable step.
type Operation int

const (
	OpNone Operation = iota
	OpOpenURL
	OpScroll
	OpScrollTop
	OpScrollBottom
	OpClick
	OpSearch
	OpReadPage
	OpStopReading
	OpPauseReading
	OpResumeReading
	OpFastForward
	OpRewind
	OpBack
	OpForward
	OpRefresh
	OpDescribePage
	OpIncreaseTargetSize
	OpDecreaseTargetSize
)

var opNames = [...]string{
	OpNone:               "none",
	OpOpenURL:            "open_url",
	OpScroll:             "scroll",
	OpScrollTop:          "scroll_top",
	OpScrollBottom:       "scroll_bottom",
	OpClick:              "click",
	OpSearch:             "search",
	OpReadPage:           "read_page",
	OpStopReading:        "stop_reading",
	OpPauseReading:       "pause_reading",
	OpResumeReading:      "resume_reading",
	OpFastForward:        "fast_forward",
	OpRewind:             "rewind",
	OpBack:               "back",
	OpForward:            "forward",
	OpRefresh:            "refresh",
	OpDescribePage:       "describe_page",
	OpIncreaseTargetSize: "increase_target_size",
	OpDecreaseTargetSize: "decrease_target_size",
}

func (o Operation) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return "none"
	}
	return opNames[o]
}

// IsSpeech reports whether o is handled by the speech controller.
func (o Operation) IsSpeech() bool {
	switch o {
	case OpReadPage, OpStopReading, OpPauseReading, OpResumeReading, OpFastForward, OpRewind:
		return true
	}
	return false
}

// Params carries the operation arguments. Only the fields relevant to the
// operation are set.
type Params struct {
	URL       string           `json:"url,omitempty"`
	Query     string           `json:"query,omitempty"`
	Direction action.Direction `json:"direction,omitempty"`
	Target    string           `json:"target,omitempty"`
}

// Mapped is the result of [Map].
type Mapped struct {
	Op      Operation
	Params  Params
	Message string
}

// NotRecognized is the message for anything that maps to [OpNone].
const NotRecognized = "Command not recognized."

// Map converts a into its operation. It never fails: an Unknown action, or
// one missing the parameter its kind needs, maps to OpNone.
func Map(a action.Action) Mapped {
	switch a.Kind {
	case action.OpenURL:
		if a.URL == "" {
			return none()
		}
		return Mapped{Op: OpOpenURL, Params: Params{URL: a.URL}, Message: "Opening " + a.URL}
	case action.Scroll:
		dir := a.Direction
		if !dir.IsValid() {
			dir = action.Down
		}
		return Mapped{Op: OpScroll, Params: Params{Direction: dir}, Message: fmt.Sprintf("Scrolling %s", dir)}
	case action.ScrollTop:
		return Mapped{Op: OpScrollTop, Message: "Scrolling to top"}
	case action.ScrollBottom:
		return Mapped{Op: OpScrollBottom, Message: "Scrolling to bottom"}
	case action.Click:
		target := a.ButtonName
		if target == "" {
			target = a.TargetText
		}
		if target == "" {
			return none()
		}
		return Mapped{Op: OpClick, Params: Params{Target: target}, Message: "Clicking " + target}
	case action.Search:
		if a.Query == "" {
			return none()
		}
		return Mapped{Op: OpSearch, Params: Params{Query: a.Query}, Message: "Searching for " + a.Query}
	case action.ReadPage:
		return Mapped{Op: OpReadPage, Message: "Reading page content"}
	case action.StopReading:
		return Mapped{Op: OpStopReading, Message: "Stopping reading"}
	case action.PauseReading:
		return Mapped{Op: OpPauseReading, Message: "Pausing reading"}
	case action.ResumeReading:
		return Mapped{Op: OpResumeReading, Message: "Resuming reading"}
	case action.FastForward:
		return Mapped{Op: OpFastForward, Message: "Fast forwarding"}
	case action.Rewind:
		return Mapped{Op: OpRewind, Message: "Rewinding"}
	case action.Back:
		return Mapped{Op: OpBack, Message: "Going back"}
	case action.Forward:
		return Mapped{Op: OpForward, Message: "Going forward"}
	case action.Refresh:
		return Mapped{Op: OpRefresh, Message: "Refreshing page"}
	case action.DescribePage:
		return Mapped{Op: OpDescribePage, Message: "Describing the page visually"}
	case action.IncreaseTargetSize:
		return Mapped{Op: OpIncreaseTargetSize, Message: "Increasing target size"}
	case action.DecreaseTargetSize:
		return Mapped{Op: OpDecreaseTargetSize, Message: "Decreasing target size"}
	case action.Unknown:
		return none()
	}
	return none()
}

func none() Mapped {
	return Mapped{Op: OpNone, Message: NotRecognized}
}
