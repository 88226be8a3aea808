package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fcinq/genchat/internal/cost"
	"github.com/fcinq/genchat/internal/imagectx"
	"github.com/fcinq/genchat/internal/provider"
	"github.com/fcinq/genchat/internal/resolver"
	"github.com/fcinq/genchat/internal/session"
	"github.com/fcinq/genchat/pkg/models"
)

type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Input is one user submission.
type Input struct {
	Prompt           string
	IsVideoMode      bool
	RequestedModelID string
}

// Outcome describes a finished submission.
type Outcome struct {
	State        State
	Plan         resolver.Plan
	Request      *models.GenerationRequest
	Response     *models.GenerationResponse
	Err          *GenerationError
	SessionTotal float64
	Duration     time.Duration
}

// Renderer displays a successful result. It runs before the image context is cleared.
type Renderer interface {
	Render(ctx context.Context, out *Outcome)
}

// ProgressTracker shows advisory progress for d. The returned func ends it.
type ProgressTracker interface {
	Begin(label string, d time.Duration) func(success bool)
}

type Observer interface {
	OnStateChange(from, to State)
}

type SessionSource interface {
	GetOrCreateSessionID(ctx context.Context) string
}

type Ledger interface {
	LogCost(ctx context.Context, entry *session.CostEntry)
}

type Options struct {
	Resolver   *resolver.Resolver
	Context    *imagectx.Manager
	Session    SessionSource
	Dispatcher provider.Dispatcher
	Renderer   Renderer
	Progress   ProgressTracker
	Costs      *cost.Tracker
	Ledger     Ledger
	Observer   Observer
	Log        logrus.FieldLogger
}

// Orchestrator runs at most one generation at a time.
type Orchestrator struct {
	resolver   *resolver.Resolver
	imgctx     *imagectx.Manager
	session    SessionSource
	dispatcher provider.Dispatcher
	renderer   Renderer
	progress   ProgressTracker
	costs      *cost.Tracker
	ledger     Ledger
	observer   Observer
	log        logrus.FieldLogger
	now        func() time.Time
	deadline   func(resolver.Plan) time.Duration

	mu    sync.Mutex
	state State
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		resolver:   opts.Resolver,
		imgctx:     opts.Context,
		session:    opts.Session,
		dispatcher: opts.Dispatcher,
		renderer:   opts.Renderer,
		progress:   opts.Progress,
		costs:      opts.Costs,
		ledger:     opts.Ledger,
		observer:   opts.Observer,
		log:        opts.Log,
		now:        time.Now,
		deadline: func(p resolver.Plan) time.Duration {
			return p.Timeout
		},
	}
	if o.resolver == nil {
		o.resolver = resolver.New(nil)
	}
	if o.imgctx == nil {
		o.imgctx = imagectx.New()
	}
	if o.costs == nil {
		o.costs = cost.NewTracker()
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether a submission is outstanding.
func (o *Orchestrator) Busy() bool {
	return o.State() != StateIdle
}

func (o *Orchestrator) Configured() bool {
	return o.dispatcher != nil && provider.IsConfigured(o.dispatcher.Endpoint())
}

func (o *Orchestrator) Resolver() *resolver.Resolver {
	return o.resolver
}

func (o *Orchestrator) Context() *imagectx.Manager {
	return o.imgctx
}

func (o *Orchestrator) Costs() *cost.Tracker {
	return o.costs
}

// Submit validates and dispatches one generation. An empty prompt returns a
// validation error and changes nothing. While another submission is in
// flight it returns ErrInFlight. Every accepted submission ends in exactly
// one terminal state and then returns to Idle.
func (o *Orchestrator) Submit(ctx context.Context, in Input) (*Outcome, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, &GenerationError{Kind: KindValidation, Err: models.ErrEmptyPrompt}
	}

	if !o.acquire() {
		return nil, ErrInFlight
	}

	// The path and the sent refs both come from this snapshot. Images added
	// while the request is in flight belong to the next submission.
	snapshot := o.imgctx.List()
	plan := o.resolver.Plan(in.IsVideoMode, len(snapshot) > 0, in.RequestedModelID)
	out := &Outcome{State: StateFailed, Plan: plan}
	start := o.now()
	defer func() {
		out.Duration = o.now().Sub(start)
		o.release(out.State)
	}()

	log := o.log.WithFields(logrus.Fields{
		"path":  plan.Path,
		"model": plan.Model,
	})

	if !o.Configured() {
		out.Err = &GenerationError{Kind: KindConfiguration, Err: provider.ErrEndpointRequired}
		log.Warn("webhook endpoint is not configured")
		return out, out.Err
	}

	out.Request = o.buildRequest(ctx, prompt, plan, snapshot)
	if err := out.Request.Validate(); err != nil {
		out.Err = &GenerationError{Kind: KindValidation, Err: err}
		log.WithError(err).Warn("rejected invalid request")
		return out, out.Err
	}

	var done func(bool)
	if o.progress != nil {
		done = o.progress.Begin(progressLabel(plan), plan.Progress)
	}
	finish := func(ok bool) {
		if done != nil {
			done(ok)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.deadline(plan))
	defer cancel()

	log.WithField("timeout", plan.Timeout).Info("submitting generation")

	resp, err := o.dispatcher.Dispatch(reqCtx, out.Request)
	if err == nil {
		err = checkResponse(out.Request, resp)
	}
	if err != nil {
		finish(false)
		out.Err = classify(ctx, reqCtx, err)
		out.State = terminalState(out.Err.Kind)
		log.WithError(err).WithField("kind", out.Err.Kind).Warn("generation failed")
		return out, out.Err
	}
	finish(true)

	out.State = StateSucceeded
	out.Response = resp
	out.SessionTotal = o.costs.Add(resp.CurrentCost())

	if o.ledger != nil {
		o.ledger.LogCost(ctx, &session.CostEntry{
			SessionID:  out.Request.SessionID,
			Path:       plan.Path.String(),
			Model:      plan.Model,
			Cost:       resp.CurrentCost(),
			ImageCount: len(resp.Images()),
			Timestamp:  o.now(),
		})
	}

	log.WithFields(logrus.Fields{
		"cost":   resp.CurrentCost(),
		"images": len(resp.Images()),
	}).Info("generation complete")

	if o.renderer != nil {
		o.renderer.Render(ctx, out)
	}
	o.imgctx.RemoveAll(contextIDs(snapshot))

	return out, nil
}

// SelectResult adds a generated image to the context. A result without an
// id is keyed by its url.
func (o *Orchestrator) SelectResult(img models.ResultImage) bool {
	id := img.ID
	if id == "" {
		id = img.URL
	}
	return o.imgctx.Add(models.ContextImage{
		ID:     id,
		URL:    img.URL,
		Source: models.SourceGenerated,
	})
}

func (o *Orchestrator) buildRequest(ctx context.Context, prompt string, plan resolver.Plan, snapshot []models.ContextImage) *models.GenerationRequest {
	req := &models.GenerationRequest{
		Prompt:         prompt,
		GenerationType: plan.Path.GenerationType(),
		SelectedModel:  plan.Model,
	}
	if plan.Path.UsesContext() {
		req.ImageContext = make([]models.ContextRef, 0, len(snapshot))
		for _, img := range snapshot {
			req.ImageContext = append(req.ImageContext, img.Ref())
		}
	}
	if o.session != nil {
		req.SessionID = o.session.GetOrCreateSessionID(ctx)
	}
	if plan.Path == models.PathT2I {
		req.NumImages = models.NumImagesImage
	}
	return req
}

func contextIDs(images []models.ContextImage) []string {
	ids := make([]string, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	return ids
}

func checkResponse(req *models.GenerationRequest, resp *models.GenerationResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: empty body", models.ErrMalformedResponse)
	}
	if err := resp.Validate(); err != nil {
		return err
	}
	if resp.Type != req.GenerationType {
		return fmt.Errorf("%w: asked for %s, got %s", models.ErrMalformedResponse, req.GenerationType, resp.Type)
	}
	return nil
}

func progressLabel(plan resolver.Plan) string {
	secs := int(plan.Progress / time.Second)
	if plan.Path.IsVideo() {
		return fmt.Sprintf("Generating video... This may take about %d seconds", secs)
	}
	return fmt.Sprintf("Generating images... This may take about %d seconds", secs)
}

func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return false
	}
	o.state = StateSubmitting
	o.mu.Unlock()

	o.notify(StateIdle, StateSubmitting)
	return true
}

// release records the terminal state and returns to Idle.
func (o *Orchestrator) release(terminal State) {
	o.mu.Lock()
	o.state = terminal
	o.mu.Unlock()
	o.notify(StateSubmitting, terminal)

	o.mu.Lock()
	o.state = StateIdle
	o.mu.Unlock()
	o.notify(terminal, StateIdle)
}

func (o *Orchestrator) notify(from, to State) {
	if o.observer != nil {
		o.observer.OnStateChange(from, to)
	}
}

// LogObserver writes state transitions at debug level.
type LogObserver struct {
	Log logrus.FieldLogger
}

func (l LogObserver) OnStateChange(from, to State) {
	l.Log.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Debug("orchestrator state change")
}
