package drivemover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/grokify/mogo/log/slogutil"
)

// Params identifies a move. Two invocations with equal Params share a checkpoint.
type Params struct {
	SourceID      string
	DestinationID string
	CopyComments  bool
	MergeFolders  bool
}

// keyRecord fixes the field order of the digested JSON.
type keyRecord struct {
	CopyComments  bool   `json:"copyComments"`
	DestinationID string `json:"destinationID"`
	MergeFolders  bool   `json:"mergeFolders"`
	SourceID      string `json:"sourceID"`
}

// Key returns the checkpoint key: the SHA-256 of the parameters serialized
// as JSON with keys in sorted order.
func (p Params) Key() string {
	data, _ := json.Marshal(keyRecord{
		CopyComments:  p.CopyComments,
		DestinationID: p.DestinationID,
		MergeFolders:  p.MergeFolders,
		SourceID:      p.SourceID,
	})
	return HashBytes(data, HashSHA256)
}

// checkpoint is the persisted form of a MoveState.
type checkpoint struct {
	Errors         []MoveError   `json:"errors"`
	PathsToDelete  []MoveContext `json:"pathsToDelete"`
	PathsToProcess []MoveContext `json:"pathsToProcess"`
}

// StateOption configures a MoveState.
type StateOption func(*MoveState)

// WithStateLogger sets the logger used when an error entry cannot be persisted.
func WithStateLogger(logger *slog.Logger) StateOption {
	return func(s *MoveState) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// MoveState is the durable record of a move: a LIFO worklist of pending
// MoveContexts and an ErrorLog.
//
// A MoveState is uninitialized (never started) until the first AddPath or
// a LoadState that finds a record. An uninitialized state is never written.
type MoveState struct {
	store  Store
	key    string
	logger *slog.Logger

	errors ErrorLog

	mu    sync.Mutex
	paths []MoveContext // nil while uninitialized
}

// NewMoveState returns an uninitialized state for params persisted in store.
func NewMoveState(store Store, params Params, opts ...StateOption) *MoveState {
	s := &MoveState{
		store:  store,
		key:    params.Key(),
		logger: slogutil.Null(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the checkpoint key.
func (s *MoveState) Key() string { return s.key }

// IsNull reports whether the state is uninitialized.
func (s *MoveState) IsNull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths == nil
}

// AddPath pushes a context on top of the worklist, initializing it if needed.
func (s *MoveState) AddPath(sourceID, destinationID string, path []string) {
	s.push(MoveContext{
		SourceID:      sourceID,
		DestinationID: destinationID,
		Path:          append([]string{}, path...),
	})
}

func (s *MoveState) push(c MoveContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paths == nil {
		s.paths = []MoveContext{}
	}
	s.paths = append(s.paths, c)
}

// replaceTop overwrites the top of the worklist with c when they describe
// the same folder pair.
func (s *MoveState) replaceTop(c MoveContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.paths)
	if n == 0 || !s.paths[n-1].Same(c) {
		return
	}
	c.Done = slices.Clone(c.Done)
	s.paths[n-1] = c
}

// insertBelowTop places c directly under the top of the worklist.
func (s *MoveState) insertBelowTop(c MoveContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.paths)
	if n == 0 {
		s.paths = []MoveContext{c}
		return
	}
	s.paths = slices.Insert(s.paths, n-1, c)
}

// hasSource reports whether a pending context moves the folder sourceID.
func (s *MoveState) hasSource(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.paths, func(c MoveContext) bool { return c.SourceID == sourceID })
}

// expandTop marks the top context as expanded and moves it under the
// contexts of its child folders, which sit directly beneath it.
func (s *MoveState) expandTop(c MoveContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.paths)
	if n == 0 || !s.paths[n-1].Same(c) {
		return
	}
	top := s.paths[n-1]
	top.Expanded = true
	top.Done = nil
	i := n - 1
	for i > 0 && s.paths[i-1].isChildOf(top) {
		i--
	}
	copy(s.paths[i+1:n], s.paths[i:n-1])
	s.paths[i] = top
}

// NextPath returns the top of the worklist without removing it.
// It returns false when the state is uninitialized or the worklist is empty.
func (s *MoveState) NextPath() (MoveContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.paths) == 0 {
		return MoveContext{}, false
	}
	return s.paths[len(s.paths)-1], true
}

// RemovePath removes the first entry whose (SourceID, DestinationID) pair
// matches c. It does nothing if there is no such entry.
func (s *MoveState) RemovePath(c MoveContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.paths {
		if p.Same(c) {
			s.paths = append(s.paths[:i], s.paths[i+1:]...)
			return
		}
	}
}

// Pending returns a copy of the worklist, bottom first.
func (s *MoveState) Pending() []MoveContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paths == nil {
		return nil
	}
	out := make([]MoveContext, len(s.paths))
	copy(out, s.paths)
	return out
}

// Errors returns the logged errors.
func (s *MoveState) Errors() []MoveError {
	return s.errors.Get()
}

// LogError appends an error entry and persists the state.
func (s *MoveState) LogError(ctx context.Context, file []string, message string) error {
	s.errors.Log(file, message)
	return s.SaveState(ctx)
}

// Try runs fn and reports whether it succeeded. A failure is logged under
// c's path, extended by filename when given; see TryOrLog.
func (s *MoveState) Try(ctx context.Context, c MoveContext, fn func() error, filename ...string) bool {
	_, ok := TryOrLog(ctx, s, c, func() (struct{}, error) {
		return struct{}{}, fn()
	}, filename...)
	return ok
}

// TryOrLog runs fn. On success it returns fn's value and true. On failure it
// records the error message under c's path (extended by filename when given)
// and returns the zero value and false; the failure is never propagated.
//
// A failure caused by ctx ending is not recorded, since the item was not
// actually attempted to completion and will be retried on resume.
func TryOrLog[T any](ctx context.Context, s *MoveState, c MoveContext, fn func() (T, error), filename ...string) (T, bool) {
	v, err := fn()
	if err == nil {
		return v, true
	}
	var zero T
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return zero, false
	}

	var name string
	if len(filename) > 0 {
		name = filename[0]
	}
	file := c.ItemPath(name)
	s.logger.Warn("item failed", "path", MoveError{File: file}.Path(), "error", err)
	if serr := s.LogError(ctx, file, err.Error()); serr != nil {
		s.logger.Error("persisting error log", "key", s.key, "error", serr)
	}
	return zero, false
}

// SaveState persists the state. It writes nothing while the state is uninitialized.
func (s *MoveState) SaveState(ctx context.Context) error {
	s.mu.Lock()
	if s.paths == nil {
		s.mu.Unlock()
		return nil
	}
	rec := checkpoint{
		Errors:         s.errors.Get(),
		PathsToDelete:  []MoveContext{},
		PathsToProcess: append([]MoveContext{}, s.paths...),
	}
	s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := s.store.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", s.key, err)
	}
	return nil
}

// LoadState replaces the in-memory state with the persisted record.
// When there is no record the state becomes uninitialized with no errors.
func (s *MoveState) LoadState(ctx context.Context) error {
	data, err := s.store.Load(ctx, s.key)
	if IsNotFound(err) {
		s.reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading checkpoint %s: %w", s.key, err)
	}

	var rec checkpoint
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decoding checkpoint %s: %w", s.key, err)
	}
	s.errors.Set(rec.Errors)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = rec.PathsToProcess
	if s.paths == nil {
		s.paths = []MoveContext{}
	}
	return nil
}

// DestroyState deletes the persisted record and resets the state.
func (s *MoveState) DestroyState(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("deleting checkpoint %s: %w", s.key, err)
	}
	s.reset()
	return nil
}

func (s *MoveState) reset() {
	s.errors.Set(nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = nil
}
