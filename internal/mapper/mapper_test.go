package mapper

import (
	"testing"

	"github.com/MrWong99/voxnav/internal/action"
)

func TestMap(t *testing.T) {
	tests := []struct {
		name    string
		in      action.Action
		wantOp  Operation
		wantP   Params
		wantMsg string
	}{
		{"open", action.Action{Kind: action.OpenURL, URL: "https://www.youtube.com"}, OpOpenURL, Params{URL: "https://www.youtube.com"}, "Opening https://www.youtube.com"},
		{"open without url", action.Action{Kind: action.OpenURL}, OpNone, Params{}, NotRecognized},
		{"scroll down", action.Action{Kind: action.Scroll, Direction: action.Down}, OpScroll, Params{Direction: action.Down}, "Scrolling down"},
		{"scroll up", action.Action{Kind: action.Scroll, Direction: action.Up}, OpScroll, Params{Direction: action.Up}, "Scrolling up"},
		{"scroll no direction", action.Action{Kind: action.Scroll}, OpScroll, Params{Direction: action.Down}, "Scrolling down"},
		{"scroll bad direction", action.Action{Kind: action.Scroll, Direction: "sideways"}, OpScroll, Params{Direction: action.Down}, "Scrolling down"},
		{"top", action.Action{Kind: action.ScrollTop}, OpScrollTop, Params{}, "Scrolling to top"},
		{"bottom", action.Action{Kind: action.ScrollBottom}, OpScrollBottom, Params{}, "Scrolling to bottom"},
		{"click text", action.Action{Kind: action.Click, TargetText: "sign in"}, OpClick, Params{Target: "sign in"}, "Clicking sign in"},
		{"click prefers button", action.Action{Kind: action.Click, TargetText: "on the submit", ButtonName: "submit"}, OpClick, Params{Target: "submit"}, "Clicking submit"},
		{"click empty", action.Action{Kind: action.Click}, OpNone, Params{}, NotRecognized},
		{"search", action.Action{Kind: action.Search, Query: "cats"}, OpSearch, Params{Query: "cats"}, "Searching for cats"},
		{"search empty", action.Action{Kind: action.Search}, OpNone, Params{}, NotRecognized},
		{"read", action.Action{Kind: action.ReadPage}, OpReadPage, Params{}, "Reading page content"},
		{"stop", action.Action{Kind: action.StopReading}, OpStopReading, Params{}, "Stopping reading"},
		{"pause", action.Action{Kind: action.PauseReading}, OpPauseReading, Params{}, "Pausing reading"},
		{"resume", action.Action{Kind: action.ResumeReading}, OpResumeReading, Params{}, "Resuming reading"},
		{"ff", action.Action{Kind: action.FastForward}, OpFastForward, Params{}, "Fast forwarding"},
		{"rw", action.Action{Kind: action.Rewind}, OpRewind, Params{}, "Rewinding"},
		{"back", action.Action{Kind: action.Back}, OpBack, Params{}, "Going back"},
		{"forward", action.Action{Kind: action.Forward}, OpForward, Params{}, "Going forward"},
		{"refresh", action.Action{Kind: action.Refresh}, OpRefresh, Params{}, "Refreshing page"},
		{"describe", action.Action{Kind: action.DescribePage}, OpDescribePage, Params{}, "Describing the page visually"},
		{"bigger", action.Action{Kind: action.IncreaseTargetSize}, OpIncreaseTargetSize, Params{}, "Increasing target size"},
		{"smaller", action.Action{Kind: action.DecreaseTargetSize}, OpDecreaseTargetSize, Params{}, "Decreasing target size"},
		{"unknown", action.Action{Kind: action.Unknown}, OpNone, Params{}, NotRecognized},
		{"out of range", action.Action{Kind: action.Kind(999)}, OpNone, Params{}, NotRecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Map(tt.in)
			if got.Op != tt.wantOp {
				t.Errorf("op = %v, want %v", got.Op, tt.wantOp)
			}
			if got.Params != tt.wantP {
				t.Errorf("params = %+v, want %+v", got.Params, tt.wantP)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", got.Message, tt.wantMsg)
			}
		})
	}
}

func TestMap_EveryKindHandled(t *testing.T) {
	for _, k := range action.Kinds() {
		if k == action.Unknown {
			continue
		}
		a := action.Action{Kind: k, URL: "https://x.org", Query: "q", TargetText: "target"}
		if got := Map(a); got.Op == OpNone {
			t.Errorf("kind %v mapped to OpNone", k)
		}
	}
}

func TestOperation_IsSpeech(t *testing.T) {
	speech := map[Operation]bool{
		OpReadPage: true, OpStopReading: true, OpPauseReading: true,
		OpResumeReading: true, OpFastForward: true, OpRewind: true,
	}
	for op := OpNone; op <= OpDecreaseTargetSize; op++ {
		if op.IsSpeech() != speech[op] {
			t.Errorf("%v.IsSpeech() = %v", op, op.IsSpeech())
		}
	}
}

func TestOperation_String(t *testing.T) {
	if OpFastForward.String() != "fast_forward" {
		t.Errorf("String = %q", OpFastForward.String())
	}
	if Operation(-1).String() != "none" {
		t.Errorf("out of range = %q", Operation(-1).String())
	}
}
