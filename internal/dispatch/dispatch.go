// Package dispatch turns a spoken transcript into a browser effect.
//
// A [Dispatcher] parses the transcript (rule parser fast path for speech
// control, the remote parser otherwise), maps the action to an operation and
// runs it against the page driver, the speech controller or the vision
// describer. Whatever happens, Execute returns an [ExecutionResult] whose
// Message is suitable for reading back to the user; failures never escape as
// Go errors.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxnav/internal/action"
	"github.com/MrWong99/voxnav/internal/history"
	"github.com/MrWong99/voxnav/internal/mapper"
	"github.com/MrWong99/voxnav/internal/match"
	"github.com/MrWong99/voxnav/internal/match/phonetic"
	"github.com/MrWong99/voxnav/internal/observe"
	"github.com/MrWong99/voxnav/internal/page"
	"github.com/MrWong99/voxnav/internal/parse/remote"
	"github.com/MrWong99/voxnav/internal/parse/rules"
	"github.com/MrWong99/voxnav/internal/speech"
)

// ErrNotConfigured is returned for operations whose backend was not wired.
var ErrNotConfigured = errors.New("dispatch: not configured")

// ExecutionResult is what a command produced. A failed command has a nil
// Action and the error text as Message.
type ExecutionResult struct {
	ID            string         `json:"id"`
	Time          time.Time      `json:"time"`
	Transcript    string         `json:"transcript"`
	Message       string         `json:"message"`
	Action        *action.Action `json:"action"`
	Content       string         `json:"content,omitempty"`
	Description   string         `json:"description,omitempty"`
	Source        string         `json:"source,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// Failed reports whether the command ended in an error.
func (r ExecutionResult) Failed() bool {
	return r.Action == nil
}

// Parser is the remote parser. *remote.Parser implements it.
type Parser interface {
	ParseDetailed(ctx context.Context, transcript, systemPrompt string) remote.Result
}

// Speech is the part of *speech.Controller the dispatcher drives.
type Speech interface {
	Start(ctx context.Context, text string) (speech.Status, error)
	Pause() speech.Status
	Resume() (speech.Status, error)
	Stop() speech.Status
	FastForward() (speech.Status, error)
	Rewind() (speech.Status, error)
}

// Describer turns a screenshot data URL into text. *vision.Describer
// implements it.
type Describer interface {
	Describe(ctx context.Context, imageData string) (string, error)
}

// ResultFunc is called with every finished result.
type ResultFunc func(ExecutionResult)

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithParser sets the remote parser. Without one every transcript goes
// through the rule parser.
func WithParser(p Parser) Option {
	return func(d *Dispatcher) { d.parser = p }
}

// WithSpeech sets the speech controller.
func WithSpeech(s Speech) Option {
	return func(d *Dispatcher) { d.speech = s }
}

// WithDescriber sets the page describer.
func WithDescriber(v Describer) Option {
	return func(d *Dispatcher) { d.describer = v }
}

// WithCorrector replaces the phonetic corrector used when a click target is
// not found. Passing nil disables correction.
func WithCorrector(c *phonetic.Corrector) Option {
	return func(d *Dispatcher) { d.corrector = c }
}

// WithHistory sets the store results are appended to.
func WithHistory(h *history.Store[ExecutionResult]) Option {
	return func(d *Dispatcher) { d.history = h }
}

// WithMetrics records command outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithResultFunc registers fn to observe every result.
func WithResultFunc(fn ResultFunc) Option {
	return func(d *Dispatcher) { d.onResult = append(d.onResult, fn) }
}

// Dispatcher executes voice commands. It is safe for concurrent use; the
// page driver serialises page access itself.
type Dispatcher struct {
	page      page.Driver
	parser    Parser
	speech    Speech
	describer Describer
	corrector *phonetic.Corrector
	history   *history.Store[ExecutionResult]
	metrics   *observe.Metrics
	onResult  []ResultFunc
}

// New returns a Dispatcher driving driver.
func New(driver page.Driver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		page:      driver,
		corrector: phonetic.New(),
		history:   history.New[ExecutionResult](history.DefaultSize),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// History returns the result store.
func (d *Dispatcher) History() *history.Store[ExecutionResult] {
	return d.history
}

// Parse classifies transcript without executing it. A non-empty
// systemPrompt replaces the remote parser's prompt for this call.
func (d *Dispatcher) Parse(ctx context.Context, transcript, systemPrompt string) remote.Result {
	if d.parser == nil {
		return remote.Result{Action: rules.Parse(transcript), Source: remote.SourceRules}
	}
	return d.parser.ParseDetailed(ctx, transcript, systemPrompt)
}

// Execute parses transcript and carries out the resulting action.
func (d *Dispatcher) Execute(ctx context.Context, transcript string) ExecutionResult {
	ctx, span := observe.StartSpan(ctx, "dispatch.Execute")
	defer span.End()

	start := time.Now()
	transcript = strings.TrimSpace(transcript)

	var parsed remote.Result
	if rules.IsSpeechIntent(transcript) {
		parsed = remote.Result{Action: rules.Parse(transcript), Source: remote.SourceRules}
	} else {
		parsed = d.Parse(ctx, transcript, "")
	}

	a := parsed.Action
	m := mapper.Map(a)
	res := ExecutionResult{
		ID:            uuid.NewString(),
		Time:          start,
		Transcript:    transcript,
		Message:       m.Message,
		Action:        &a,
		Source:        string(parsed.Source),
		CorrelationID: observe.CorrelationID(ctx),
	}
	span.SetAttributes(
		attribute.String("action", a.Kind.String()),
		attribute.String("op", m.Op.String()),
		attribute.String("source", res.Source),
	)

	status := "ok"
	if m.Op == mapper.OpNone {
		status = "unrecognized"
	} else if err := d.run(ctx, m, &res); err != nil {
		status = "error"
		res.Message = err.Error()
		res.Action = nil
		res.Content = ""
		res.Description = ""
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Error("dispatch: command failed",
			"transcript", transcript, "op", m.Op.String(), "err", err)
	} else {
		observe.Logger(ctx).Info("dispatch: command executed",
			"transcript", transcript, "op", m.Op.String(), "source", res.Source)
	}

	if d.metrics != nil {
		d.metrics.RecordCommand(ctx, a.Kind.String(), res.Source, status, time.Since(start))
	}
	if d.history != nil {
		d.history.Add(res)
	}
	for _, fn := range d.onResult {
		fn(res)
	}
	return res
}

func (d *Dispatcher) run(ctx context.Context, m mapper.Mapped, res *ExecutionResult) error {
	p := m.Params
	switch m.Op {
	case mapper.OpOpenURL:
		return d.withPage(ctx, func() error { return d.page.Open(ctx, p.URL) })
	case mapper.OpScroll:
		return d.withPage(ctx, func() error { return d.page.Scroll(ctx, p.Direction) })
	case mapper.OpScrollTop:
		return d.withPage(ctx, func() error { return d.page.ScrollTop(ctx) })
	case mapper.OpScrollBottom:
		return d.withPage(ctx, func() error { return d.page.ScrollBottom(ctx) })
	case mapper.OpBack:
		return d.withPage(ctx, func() error { return d.page.Back(ctx) })
	case mapper.OpForward:
		return d.withPage(ctx, func() error { return d.page.Forward(ctx) })
	case mapper.OpRefresh:
		return d.withPage(ctx, func() error { return d.page.Refresh(ctx) })
	case mapper.OpSearch:
		return d.withPage(ctx, func() error { return d.page.Search(ctx, p.Query) })
	case mapper.OpIncreaseTargetSize:
		return d.scale(ctx, page.TargetScaleStep, res)
	case mapper.OpDecreaseTargetSize:
		return d.scale(ctx, -page.TargetScaleStep, res)
	case mapper.OpClick:
		return d.click(ctx, p.Target, res)
	case mapper.OpReadPage:
		return d.readPage(ctx, res)
	case mapper.OpDescribePage:
		return d.describe(ctx, res)
	}
	if m.Op.IsSpeech() {
		return d.speechOp(m.Op)
	}
	return fmt.Errorf("dispatch: unhandled operation %s", m.Op)
}

// withPage runs op and, if the page lost its helper script (typically after
// a navigation), injects it again and retries exactly once.
func (d *Dispatcher) withPage(ctx context.Context, op func() error) error {
	err := op()
	if !errors.Is(err, page.ErrHelperMissing) {
		return err
	}
	observe.Logger(ctx).Info("dispatch: page helper missing, injecting")
	if ierr := d.page.Inject(ctx); ierr != nil {
		return fmt.Errorf("dispatch: inject page helper: %w", ierr)
	}
	return op()
}

// click rejects ambiguous targets before the page is scanned.
func (d *Dispatcher) click(ctx context.Context, target string, res *ExecutionResult) error {
	if _, err := match.CheckQuery(target); err != nil {
		return err
	}
	return d.withPage(ctx, func() error {
		snap, err := d.page.Elements(ctx)
		if err != nil {
			return err
		}
		if d.metrics != nil {
			d.metrics.ClickCandidates.Record(ctx, int64(countVisible(snap)))
		}

		c, err := match.FindBestClickable(snap, target)
		if errors.Is(err, match.ErrNotFound) {
			var ok bool
			if c, ok = d.correct(ctx, snap, target); ok {
				err = nil
				res.Message = "Clicking " + c.Label
			}
		}
		if err != nil {
			return err
		}
		return d.page.Click(ctx, c.Element.Ref)
	})
}

// correct retries a failed click with the visible label that sounds most
// like target.
func (d *Dispatcher) correct(ctx context.Context, snap page.Snapshot, target string) (match.Candidate, bool) {
	if d.corrector == nil {
		return match.Candidate{}, false
	}
	s, ok := d.corrector.Suggest(target, match.VisibleLabels(snap))
	if !ok {
		return match.Candidate{}, false
	}
	c, err := match.FindBestClickable(snap, s.Label)
	if err != nil {
		return match.Candidate{}, false
	}
	observe.Logger(ctx).Warn("dispatch: click target corrected",
		"query", target, "label", s.Label, "score", s.Score, "phonetic", s.Phonetic)
	return c, true
}

func (d *Dispatcher) readPage(ctx context.Context, res *ExecutionResult) error {
	if d.speech == nil {
		return fmt.Errorf("%w: speech output", ErrNotConfigured)
	}
	var content string
	err := d.withPage(ctx, func() error {
		var err error
		content, err = d.page.ReadContent(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if content == "" {
		content = page.NoReadableText
	}
	res.Content = content
	res.Message = fmt.Sprintf("Reading page content (%d characters)", utf8.RuneCountInString(content))
	_, err = d.speech.Start(ctx, content)
	return err
}

func (d *Dispatcher) speechOp(op mapper.Operation) error {
	if d.speech == nil {
		return fmt.Errorf("%w: speech output", ErrNotConfigured)
	}
	var err error
	switch op {
	case mapper.OpStopReading:
		d.speech.Stop()
	case mapper.OpPauseReading:
		d.speech.Pause()
	case mapper.OpResumeReading:
		_, err = d.speech.Resume()
	case mapper.OpFastForward:
		_, err = d.speech.FastForward()
	case mapper.OpRewind:
		_, err = d.speech.Rewind()
	}
	return err
}

func (d *Dispatcher) scale(ctx context.Context, delta float64, res *ExecutionResult) error {
	var scale float64
	err := d.withPage(ctx, func() error {
		var err error
		scale, err = d.page.ScaleTargets(ctx, delta)
		return err
	})
	if err != nil {
		return err
	}
	res.Message = fmt.Sprintf("%s (%d%%)", res.Message, int(scale*100+0.5))
	return nil
}

func (d *Dispatcher) describe(ctx context.Context, res *ExecutionResult) error {
	if d.describer == nil {
		return fmt.Errorf("%w: page description", ErrNotConfigured)
	}
	var shot string
	err := d.withPage(ctx, func() error {
		var err error
		shot, err = d.page.Screenshot(ctx)
		return err
	})
	if err != nil {
		return err
	}
	desc, err := d.describer.Describe(ctx, shot)
	if err != nil {
		return err
	}
	res.Description = desc
	return nil
}

func countVisible(snap page.Snapshot) int {
	n := 0
	for _, el := range snap.Elements {
		if el.Visible() {
			n++
		}
	}
	return n
}
