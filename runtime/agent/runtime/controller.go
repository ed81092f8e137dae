package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/hooks"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/interrupt"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/telemetry"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/tools"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transcript"
)

// errStop tells the transport to stop reading: the run reached a terminal
// state or the attempt was superseded.
var errStop = errors.New("stop streaming")

// Controller runs the AG-UI runs of one thread, one at a time. All methods are
// safe for concurrent use.
type Controller struct {
	transport  Transport
	interrupts *interrupt.Registry
	tools      *tools.Registry
	bus        hooks.Bus
	storeSub   hooks.Subscription
	store      run.Store
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	tracer     telemetry.Tracer

	mu         sync.Mutex
	req        RunRequest
	status     run.Status
	ledger     *transcript.Ledger
	state      json.RawMessage
	agentState *agent.State
	pending    *agui.Interrupt
)	attempts   int
	gen        int
	err        error
	startedAt  time.Time
	updatedAt  time.Time
	ctx        context.Context
	cancel     context.CancelCauseFunc

	busy    int
	settled chan struct{}
}

// New returns an idle controller.
func New(opts Options) (*Controller, error) {
	if opts.Transport == nil {
		return nil, errors.New("runtime: transport is required")
	}
	c := &Controller{
		transport:  opts.Transport,
		interrupts: opts.Interrupts,
		tools:      opts.Tools,
		bus:        opts.Bus,
		store:      opts.Store,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		status:     run.StatusIdle,
		ledger:     transcript.NewLedger(),
		settled:    make(chan struct{}),
	}
	close(c.settled)
	if c.interrupts == nil {
		c.interrupts = interrupt.NewRegistry()
	}
	if c.tools == nil {
		c.tools = tools.NewRegistry()
	}
	if c.bus == nil {
		c.bus = hooks.NewBus()
	}
	if c.logger == nil {
		c.logger = telemetry.NewNoopLogger()
	}
	if c.metrics == nil {
		c.metrics = telemetry.NewNoopMetrics()
	}
	if c.tracer == nil {
		c.tracer = telemetry.NewNoopTracer()
	}
	if c.store != nil {
		sub, err := c.bus.Register(hooks.SubscriberFunc(c.handleRunStoreEvent))
		if err != nil {
			return nil, fmt.Errorf("register run store subscriber: %w", err)
		}
		c.storeSub = sub
	}
	return c, nil
}

// Bus returns the bus the controller publishes hook events on.
func (c *Controller) Bus() hooks.Bus { return c.bus }

// Interrupts returns the interrupt registry.
func (c *Controller) Interrupts() *interrupt.Registry { return c.interrupts }

// Close aborts any active run and detaches the run store.
func (c *Controller) Close() error {
	c.Abort(errors.New("controller closed"))
	if c.storeSub != nil {
		return c.storeSub.Close()
	}
	return nil
}

// Start sends the initial request of a new run and returns once the stream is
// being consumed. It fails with ErrRunActive unless the controller is idle or
// the previous run is terminal.
func (c *Controller) Start(ctx context.Context, req RunRequest) error {
	if req.ThreadID == "" || req.RunID == "" {
		return fmt.Errorf("%w: threadId and runId are required", agui.ErrInvalidInput)
	}
	c.mu.Lock()
	if c.status != run.StatusIdle && !c.status.Terminal() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s/%s is %s", ErrRunActive, c.req.ThreadID, c.req.RunID, c.status)
	}
	req.Messages = slices.Clone(req.Messages)
	c.req = req
	c.status = run.StatusIdle
	c.ledger = transcript.NewLedger(req.Messages...)
	c.state = slices.Clone(req.State)
	c.agentState = nil
	c.pending = nil
	c.attempts = 0
	c.err = nil
	c.startedAt = time.Now()
	if c.cancel != nil {
		c.cancel(nil)
	}
	c.ctx, c.cancel = context.WithCancelCause(context.WithoutCancel(ctx))
	input, err := c.inputLocked(nil)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	var evts []hooks.Event
	attempt := c.openLocked(&evts)
	runCtx := c.ctx
	c.mu.Unlock()

	c.logger.Info(ctx, "run started", "thread_id", req.ThreadID, "run_id", req.RunID)
	c.publish(runCtx, evts)
	go c.stream(runCtx, input, attempt)
	return nil
}

// Resume resolves the pending interrupt interruptID with payload, a
// ResumePayload document, and reopens the stream for the same run. Tool
// results carried by payload are recorded in the transcript first.
func (c *Controller) Resume(ctx context.Context, interruptID string, payload json.RawMessage) error {
	c.mu.Lock()
	if c.status != run.StatusInterrupted {
		c.mu.Unlock()
		return fmt.Errorf("%w: run is %s", ErrNotInterrupted, c.status)
	}
	if c.pending == nil || c.pending.ID != interruptID {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownInterrupt, interruptID)
	}
	resume := &agui.Resume{InterruptID: interruptID, Payload: slices.Clone(payload)}
	decoded, err := resume.Decode()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.recordResultsLocked(decoded.ToolResults); err != nil {
		c.mu.Unlock()
		return err
	}
	c.pending = nil
	input, err := c.inputLocked(resume)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	var evts []hooks.Event
	attempt := c.openLocked(&evts)
	runCtx, n := c.ctx, c.attempts
	c.mu.Unlock()

	c.logger.Info(ctx, "run resumed", "thread_id", input.ThreadID, "run_id", input.RunID, "interrupt_id", interruptID, "attempt", n)
	c.publish(runCtx, evts)
	go c.stream(runCtx, input, attempt)
	return nil
}

// Abort stops the run: the stream and in-flight tool executions are canceled,
// results not yet resumed are discarded and the run errors with a cause
// wrapping ErrCanceled. Abort of an idle or terminal run does nothing.
func (c *Controller) Abort(cause error) {
	err := ErrCanceled
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrCanceled, cause)
	}
	c.fail(context.Background(), err)
}

// Wait blocks until no stream or interrupt handler is in flight and returns
// the run status and, for errored runs, the cause. A run waiting on a human
// response settles as interrupted.
func (c *Controller) Wait(ctx context.Context) (run.Status, error) {
	for {
		c.mu.Lock()
		if c.busy == 0 {
			status, err := c.status, c.err
			c.mu.Unlock()
			return status, err
		}
		ch := c.settled
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return c.Status(), ctx.Err()
		}
	}
}

// Status returns the run status.
func (c *Controller) Status() run.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the cause of an errored run.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// AgentState returns a copy of the agent state, nil when cleared.
func (c *Controller) AgentState() *agent.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentState.Clone()
}

// SetAgentState replaces the agent state. The last write wins. It is ignored
// once the run is terminal.
func (c *Controller) SetAgentState(s *agent.State) {
	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	var evts []hooks.Event
	c.setAgentStateLocked(s.Clone(), &evts)
	ctx := c.ctx
	c.mu.Unlock()
	c.publish(ctx, evts)
}

// State returns a copy of the shared state document.
func (c *Controller) State() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.state)
}

// Messages returns a copy of the transcript.
func (c *Controller) Messages() []transcript.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Messages()
}

// PendingInterrupt returns the outstanding interrupt, nil when there is none.
func (c *Controller) PendingInterrupt() *agui.Interrupt {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	in := *c.pending
	return &in
}

// Snapshot returns a consistent view of the run.
func (c *Controller) Snapshot() run.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.ledger.Messages()
	var calls []transcript.ToolCall
	for _, m := range msgs {
		calls = append(calls, c.ledger.ToolCalls(m.ID)...)
	}
	snap := run.Snapshot{
		Record:     c.recordLocked(),
		Messages:   msgs,
		ToolCalls:  calls,
		AgentState: c.agentState.Clone(),
		State:      slices.Clone(c.state),
	}
	if c.pending != nil {
		in := *c.pending
		snap.Interrupt = &in
	}
	return snap
}

// ToolStatus records a frontend tool call status change. It has the signature
// of tools.StatusFunc so an executor can report to the controller directly.
// Terminal statuses advance the agent state progress; the transcript records
// them when the results are resumed.
func (c *Controller) ToolStatus(toolCallID string, status transcript.ToolCallStatus) {
	c.mu.Lock()
	if c.status != run.StatusInterrupted {
		c.mu.Unlock()
		return
	}
	var evts []hooks.Event
	if status.Terminal() {
		if c.agentState != nil && c.agentState.Progress != nil {
			s := c.agentState.Clone()
			s.Progress.Current = min(s.Progress.Current+1, s.Progress.Total)
			c.setAgentStateLocked(s, &evts)
		}
	} else if err := c.ledger.SetToolCallStatus(toolCallID, status); err != nil {
		c.logger.Warn(c.ctx, "tool call status ignored", "tool_call_id", toolCallID, "status", string(status), "err", err)
	}
	evts = append(evts, hooks.NewToolCallStatusChangedEvent(c.req.ThreadID, c.req.RunID, toolCallID, status))
	ctx := c.ctx
	c.mu.Unlock()
	c.publish(ctx, evts)
}

// stream consumes one stream attempt, then dispatches the interrupt the run
// paused on, if any.
func (c *Controller) stream(ctx context.Context, input agui.RunAgentInput, attempt int) {
	defer c.untrack()

	ctx, span := c.tracer.Start(ctx, "agui.run.stream", trace.WithAttributes(
		attribute.String("agui.thread_id", input.ThreadID),
		attribute.String("agui.run_id", input.RunID),
		attribute.Int("agui.generation", attempt),
	))
	defer span.End()
	c.metrics.IncCounter(telemetry.MetricRunsStarted, 1, "resume", strconv.FormatBool(input.Resume != nil))

	err := c.transport.Run(ctx, input, func(evt agui.Event) error {
		return c.apply(ctx, attempt, evt)
	})
	if err != nil && !errors.Is(err, errStop) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.failAttempt(ctx, attempt, err)
		return
	}

	in, err := c.endAttempt(attempt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.failAttempt(ctx, attempt, err)
		return
	}
	if in != nil {
		span.AddEvent("interrupt", "reason", in.Reason, "interrupt_id", in.ID)
		c.dispatch(ctx, attempt, *in)
	}
}

// apply folds one event into the run.
func (c *Controller) apply(ctx context.Context, attempt int, evt agui.Event) error {
	c.mu.Lock()
	if attempt != c.gen || c.status.Terminal() {
		c.mu.Unlock()
		return errStop
	}
	var evts []hooks.Event
	stop, err := c.applyLocked(ctx, evt, &evts)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := c.publish(ctx, evts); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type(), err)
	}
	if stop {
		return errStop
	}
	return nil
}

func (c *Controller) applyLocked(ctx context.Context, evt agui.Event, evts *[]hooks.Event) (bool, error) {
	if c.status == run.StatusInterrupted {
		if fin, ok := evt.(*agui.RunFinishedEvent); ok && isInterrupt(fin) {
			id := ""
			if fin.Interrupt != nil {
				id = fin.Interrupt.ID
			}
			return false, &transcript.ProtocolError{Event: evt.Type(), ID: id, Err: ErrDuplicateInterrupt}
		}
		c.logger.Warn(ctx, "event ignored while interrupted", "type", string(evt.Type()))
		return false, nil
	}
	if err := c.ledger.Apply(evt); err != nil {
		return false, err
	}
	*evts = append(*evts, hooks.NewEventAppliedEvent(c.req.ThreadID, c.req.RunID, evt))

	switch e := evt.(type) {
	case *agui.RunStartedEvent:
		if e.RunID != "" && e.RunID != c.req.RunID {
			c.logger.Debug(ctx, "server run id differs", "run_id", c.req.RunID, "server_run_id", e.RunID)
		}
	case *agui.RunErrorEvent:
		c.terminateLocked(run.StatusErrored, &RunError{Code: e.Code, Message: e.Message}, evts)
		return true, nil
	case *agui.RunFinishedEvent:
		return c.finishLocked(ctx, e, evts)
	case *agui.StepStartedEvent:
		c.setAgentStateLocked(c.thinkingLocked().WithStep(e.StepName), evts)
	case *agui.StepFinishedEvent:
		if c.agentState != nil && c.agentState.CurrentStep == e.StepName {
			s := c.agentState.Clone()
			s.CurrentStep = ""
			c.setAgentStateLocked(s, evts)
		}
	case *agui.StateSnapshotEvent:
		c.state = slices.Clone(e.Snapshot)
	case *agui.StateDeltaEvent:
		doc, err := transcript.ApplyPatch(c.state, e.Delta)
		if err != nil {
			return false, &transcript.ProtocolError{Event: e.Type(), Err: fmt.Errorf("%w: %v", ErrInvalidStateDelta, err)}
		}
		c.state = doc
	}
	return false, nil
}

func (c *Controller) finishLocked(ctx context.Context, e *agui.RunFinishedEvent, evts *[]hooks.Event) (bool, error) {
	if isInterrupt(e) {
		in := agui.Interrupt{}
		if e.Interrupt != nil {
			in = *e.Interrupt
		}
		if in.ID == "" {
			return false, &transcript.ProtocolError{Event: e.Type(), Err: fmt.Errorf("%w: interrupt id", agui.ErrMissingField)}
		}
		c.pending = &in
		c.transitionLocked(run.StatusInterrupted, nil, evts)
		*evts = append(*evts, hooks.NewInterruptObservedEvent(c.req.ThreadID, c.req.RunID, in))
		c.metrics.IncCounter(telemetry.MetricInterrupts, 1, "reason", in.Reason)
		c.logger.Info(ctx, "run interrupted", "thread_id", c.req.ThreadID, "run_id", c.req.RunID, "interrupt_id", in.ID, "reason", in.Reason)
		// Keep reading until the server closes the stream so a second
		// interrupt is detected.
		return false, nil
	}
	if agui.NormalizeOutcome(e.Outcome) == agui.OutcomeError {
		c.terminateLocked(run.StatusErrored, &RunError{Message: e.Error}, evts)
		return true, nil
	}
	c.terminateLocked(run.StatusFinished, nil, evts)
	c.logger.Info(ctx, "run finished", "thread_id", c.req.ThreadID, "run_id", c.req.RunID)
	return true, nil
}

// endAttempt closes open chunk sequences once the stream of attempt ended and
// returns the interrupt to dispatch.
func (c *Controller) endAttempt(attempt int) (*agui.Interrupt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if attempt != c.gen || c.status.Terminal() {
		return nil, nil
	}
	if err := c.ledger.Flush(); err != nil {
		return nil, err
	}
	switch c.status {
	case run.StatusStreaming:
		return nil, ErrStreamEnded
	case run.StatusInterrupted:
		in := *c.pending
		return &in, nil
	}
	return nil, nil
}

// dispatch runs the handler selected for in. A handler error errors the run
// unless the run was aborted meanwhile.
func (c *Controller) dispatch(ctx context.Context, attempt int, in agui.Interrupt) {
	ctx, span := c.tracer.Start(ctx, "agui.interrupt.dispatch", trace.WithAttributes(
		attribute.String("agui.interrupt.reason", in.Reason),
		attribute.String("agui.interrupt.id", in.ID),
	))
	defer span.End()

	c.mu.Lock()
	if attempt != c.gen || c.status != run.StatusInterrupted || c.pending == nil || c.pending.ID != in.ID {
		c.mu.Unlock()
		return
	}
	last := c.ledger.LastAssistantMessageID()
	ic := &interrupt.Context{
		ThreadID:               c.req.ThreadID,
		RunID:                  c.req.RunID,
		Messages:               c.ledger.Messages(),
		LastAssistantMessageID: last,
		ToolCalls:              c.ledger.ToolCalls(last),
		SetAgentState:          c.SetAgentState,
		Resume: func(ctx context.Context, payload json.RawMessage) error {
			return c.Resume(ctx, in.ID, payload)
		},
	}
	c.mu.Unlock()

	if err := c.interrupts.Dispatch(ctx, in, ic); err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.failAttempt(ctx, attempt, fmt.Errorf("interrupt %q (%s): %w", in.ID, in.Reason, err))
	}
}

// fail errors the run with err unless it is already terminal, cancels the
// run context and publishes a synthesized RUN_ERROR.
func (c *Controller) fail(ctx context.Context, err error) {
	c.failAttempt(ctx, 0, err)
}

// failAttempt is fail for the stream attempt attempt. It does nothing once a
// later attempt or run has been opened. Zero matches any attempt.
func (c *Controller) failAttempt(ctx context.Context, attempt int, err error) {
	c.mu.Lock()
	if attempt != 0 && attempt != c.gen {
		c.mu.Unlock()
		return
	}
	if c.status == run.StatusIdle || c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	runErr := &agui.RunErrorEvent{
		BaseEvent: agui.BaseEvent{Timestamp: time.Now().UnixMilli()},
		Message:   err.Error(),
		Code:      errorCode(err),
	}
	evts := []hooks.Event{hooks.NewEventAppliedEvent(c.req.ThreadID, c.req.RunID, runErr)}
	c.terminateLocked(run.StatusErrored, err, &evts)
	cancel, runCtx := c.cancel, c.ctx
	c.mu.Unlock()

	cancel(err)
	if errors.Is(err, ErrCanceled) {
		c.logger.Info(ctx, "run aborted", "err", err)
	} else {
		c.logger.Error(ctx, "run failed", "err", err)
	}
	c.publish(runCtx, evts)
}

// openLocked increments the attempt counters, moves the run to streaming and
// tracks the stream task. The returned generation identifies the attempt
// across runs: it is never reset.
func (c *Controller) openLocked(evts *[]hooks.Event) int {
	c.attempts++
	c.gen++
	c.transitionLocked(run.StatusStreaming, nil, evts)
	c.setAgentStateLocked(agent.NewState(agent.StatusThinking), evts)
	c.track()
	return c.gen
}

func (c *Controller) terminateLocked(status run.Status, err error, evts *[]hooks.Event) {
	c.err = err
	c.pending = nil
	c.transitionLocked(status, err, evts)
	c.setAgentStateLocked(nil, evts)
}

func (c *Controller) transitionLocked(to run.Status, err error, evts *[]hooks.Event) {
	from := c.status
	if !run.CanTransition(from, to) {
		c.logger.Warn(c.ctx, "invalid run transition", "from", string(from), "to", string(to))
	}
	c.status = to
	c.updatedAt = time.Now()
	*evts = append(*evts, hooks.NewRunStatusChangedEvent(c.req.ThreadID, c.req.RunID, from, to, c.attempts, err))
}

func (c *Controller) setAgentStateLocked(s *agent.State, evts *[]hooks.Event) {
	if s == nil && c.agentState == nil {
		return
	}
	c.agentState = s
	*evts = append(*evts, hooks.NewAgentStateChangedEvent(c.req.ThreadID, c.req.RunID, s))
}

func (c *Controller) thinkingLocked() *agent.State {
	if c.agentState == nil {
		return agent.NewState(agent.StatusThinking)
	}
	return c.agentState
}

// recordResultsLocked checks every result references an unfinished tool call
// before recording any of them.
func (c *Controller) recordResultsLocked(results []agui.ToolResult) error {
	for _, res := range results {
		call, ok := c.ledger.ToolCall(res.ToolCallID)
		if !ok {
			return fmt.Errorf("%w: %q", transcript.ErrUnknownToolCall, res.ToolCallID)
		}
		if call.Status.Terminal() {
			return fmt.Errorf("%w: %q already has a result", transcript.ErrInvalidTransition, res.ToolCallID)
		}
	}
	for _, res := range results {
		if _, err := c.ledger.RecordToolResult(res); err != nil {
			return err
		}
	}
	return nil
}

// inputLocked builds the request of the next stream attempt.
func (c *Controller) inputLocked(resume *agui.Resume) (agui.RunAgentInput, error) {
	props, err := forwardedProps(c.req.ForwardedProps, c.tools.Metadata())
	if err != nil {
		return agui.RunAgentInput{}, err
	}
	ctxItems := c.req.Context
	if ctxItems == nil {
		ctxItems = []agui.ContextItem{}
	}
	return agui.RunAgentInput{
		ThreadID:       c.req.ThreadID,
		RunID:          c.req.RunID,
		ParentRunID:    c.req.ParentRunID,
		State:          slices.Clone(c.state),
		Messages:       c.ledger.WireMessages(),
		Tools:          c.tools.Definitions(),
		Context:        ctxItems,
		ForwardedProps: props,
		Resume:         resume,
	}, nil
}

func (c *Controller) recordLocked() run.Record {
	rec := run.Record{
		ThreadID:  c.req.ThreadID,
		RunID:     c.req.RunID,
		Status:    c.status,
		Attempts:  c.attempts,
		StartedAt: c.startedAt,
		UpdatedAt: c.updatedAt,
		Labels:    c.req.Labels,
	}
	if c.pending != nil {
		rec.PendingInterruptID = c.pending.ID
		rec.PendingReason = c.pending.Reason
	}
	if c.err != nil {
		rec.Error = c.err.Error()
	}
	return rec
}

// publish delivers evts in order. Delivery uses a context that outlives the
// run so terminal events reach subscribers after an abort.
func (c *Controller) publish(ctx context.Context, evts []hooks.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)
	for _, evt := range evts {
		if err := c.bus.Publish(ctx, evt); err != nil {
			c.logger.Error(ctx, "hook subscriber failed", "event", string(evt.Type()), "err", err)
			return err
		}
	}
	return nil
}

// track and untrack count in-flight tasks; Wait returns when none is left.
// track must be called with c.mu held.
func (c *Controller) track() {
	if c.busy == 0 {
		c.settled = make(chan struct{})
	}
	c.busy++
}

func (c *Controller) untrack() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy--
	if c.busy == 0 {
		close(c.settled)
	}
}

func isInterrupt(e *agui.RunFinishedEvent) bool {
	return agui.NormalizeOutcome(e.Outcome) == agui.OutcomeInterrupt || e.Interrupt != nil
}

func errorCode(err error) string {
	var (
		pe *transcript.ProtocolError
		de *agui.DecodeError
	)
	switch {
	case errors.Is(err, ErrCanceled):
		return CodeCanceled
	case errors.As(err, &pe), errors.As(err, &de), errors.Is(err, ErrStreamEnded):
		return CodeProtocolError
	}
	return CodeClientError
}

// forwardedProps merges the frontend tool metadata into the caller's
// forwarded props under "toolMetadata".
func forwardedProps(raw json.RawMessage, meta []agui.ToolMetadata) (json.RawMessage, error) {
	if len(meta) == 0 {
		return slices.Clone(raw), nil
	}
	props := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &props); err != nil {
			return nil, fmt.Errorf("decode forwardedProps: %w", err)
		}
		if props == nil {
			props = map[string]any{}
		}
	}
	props["toolMetadata"] = meta
	out, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode forwardedProps: %w", err)
	}
	return out, nil
}
