package drivemover

import (
	"context"
	"time"
)

// Result statuses and reasons.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	ReasonNotEmpty = "notEmpty"
)

// Result is the outcome of one invocation of Start.
type Result struct {
	Status string `json:"status"`

	// Reason is set for expected refusals, e.g. "notEmpty".
	Reason string `json:"reason,omitempty"`

	// Type classifies an unexpected failure; see ErrorKind.
	Type string `json:"type,omitempty"`

	// Complete is true when no work is left. A successful but incomplete
	// invocation is resumed by calling Start again with the same request.
	Complete bool `json:"complete"`

	// Pending is the number of contexts left on the worklist.
	Pending int `json:"pending,omitempty"`

	// Errors lists every item that failed since the move began.
	Errors []MoveError `json:"errors,omitempty"`
}

// Start runs one invocation of the move described by req.
//
// On the first invocation it checks that the destination is empty (unless
// req.NotEmptyOverride is set) and refuses with Reason "notEmpty" otherwise,
// without writing anything. It then processes folders until the move is
// done, the WithBudget budget is used up or ctx ends, and persists the
// checkpoint. When the move is done without errors the checkpoint is
// deleted; with errors it is kept so they can be inspected until Cancel.
//
// Unexpected failures are reported both as an error Result and as the
// returned error.
func Start(ctx context.Context, d Drive, store Store, req Request, opts ...Option) (*Result, error) {
	o := newOptions(opts...)
	logger := o.logger.With("source", req.SourceID, "destination", req.DestinationID)

	fail := func(err error) (*Result, error) {
		logger.Error("move failed", "error", err)
		return &Result{Status: StatusError, Type: ErrorKind(err)}, err
	}

	if err := req.Validate(); err != nil {
		return fail(err)
	}

	state := NewMoveState(store, req.Params(), WithStateLogger(logger))
	if err := state.LoadState(ctx); err != nil {
		return fail(err)
	}

	if state.IsNull() {
		empty, err := IsDestinationEmpty(ctx, d, req.DestinationID, req.NotEmptyOverride)
		if err != nil {
			return fail(err)
		}
		if !empty {
			logger.Info("destination is not empty")
			return &Result{Status: StatusError, Reason: ReasonNotEmpty}, nil
		}
		state.AddPath(req.SourceID, req.DestinationID, nil)
		logger.Info("starting move", "key", state.Key())
	} else {
		logger.Info("resuming move", "key", state.Key(), "pending", len(state.Pending()))
	}

	mover := NewMover(d, state, req, opts...)
	started := o.now()
	var runErr error
	for steps := 0; ; steps++ {
		if steps > 0 && o.budget > 0 && o.now().Sub(started) >= o.budget {
			logger.Info("time budget used up", "budget", o.budget)
			break
		}
		more, err := mover.Step(ctx)
		if err != nil {
			runErr = err
			break
		}
		if !more {
			break
		}
	}

	if runErr != nil {
		// Keep whatever progress was made. ctx may already be done.
		if err := state.SaveState(context.WithoutCancel(ctx)); err != nil {
			logger.Error("saving checkpoint", "error", err)
		}
		return fail(runErr)
	}

	_, more := state.NextPath()
	res := &Result{
		Status:   StatusSuccess,
		Complete: !more,
		Pending:  len(state.Pending()),
		Errors:   state.Errors(),
	}
	switch {
	case more:
		if err := state.SaveState(ctx); err != nil {
			return fail(err)
		}
	case len(res.Errors) == 0:
		if err := state.DestroyState(ctx); err != nil {
			return fail(err)
		}
	default:
		if err := state.SaveState(ctx); err != nil {
			return fail(err)
		}
	}

	logger.Info("move invocation finished",
		"complete", res.Complete,
		"pending", res.Pending,
		"errors", len(res.Errors),
		"elapsed", o.now().Sub(started).Round(time.Millisecond))
	return res, nil
}

// Cancel deletes the checkpoint of req, abandoning the move.
func Cancel(ctx context.Context, store Store, req Request) error {
	return NewMoveState(store, req.Params()).DestroyState(ctx)
}

// Status reports the checkpoint of req without changing it. The Result is
// Complete when no checkpoint exists.
func Status(ctx context.Context, store Store, req Request) (*Result, error) {
	state := NewMoveState(store, req.Params())
	if err := state.LoadState(ctx); err != nil {
		return nil, err
	}
	_, more := state.NextPath()
	return &Result{
		Status:   StatusSuccess,
		Complete: !more,
		Pending:  len(state.Pending()),
		Errors:   state.Errors(),
	}, nil
}
