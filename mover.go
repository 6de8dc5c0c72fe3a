package drivemover

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/grokify/drivemover/filter"
)

// Request describes a move.
type Request struct {
	// SourceID is the folder whose contents are moved.
	SourceID string

	// DestinationID is the folder (or shared drive) receiving the contents.
	DestinationID string

	// CopyComments copies comment threads onto items that had to be copied.
	CopyComments bool

	// NotEmptyOverride skips the check that the destination is empty.
	NotEmptyOverride bool

	// MergeFolders is part of the checkpoint key only.
	MergeFolders bool
}

// Params returns the checkpoint parameters of the request.
func (r Request) Params() Params {
	return Params{
		SourceID:      r.SourceID,
		DestinationID: r.DestinationID,
		CopyComments:  r.CopyComments,
		MergeFolders:  r.MergeFolders,
	}
}

// Validate checks that the request names both folders.
func (r Request) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return fmt.Errorf("%w: source folder ID is required", ErrInvalidPath)
	}
	if strings.TrimSpace(r.DestinationID) == "" {
		return fmt.Errorf("%w: destination folder ID is required", ErrInvalidPath)
	}
	return nil
}

// Mover works through the contexts of a MoveState, one folder per Step.
//
// Each context is visited twice. The first visit moves the folder's files
// and pushes a context for every child folder above it; the second visit,
// once all of those are done, deletes the source folder if it is empty.
// Folders are therefore deleted bottom-up, possibly across invocations.
type Mover struct {
	drive  Drive
	state  *MoveState
	req    Request
	logger *slog.Logger
	filter *filter.Filter

	pageSize int64
}

// NewMover returns a Mover for req working on state.
func NewMover(d Drive, state *MoveState, req Request, opts ...Option) *Mover {
	o := newOptions(opts...)
	return &Mover{
		drive:    d,
		state:    state,
		req:      req,
		logger:   o.logger,
		filter:   o.filter,
		pageSize: o.pageSize,
	}
}

// Step processes the context on top of the worklist and persists the state.
// It returns false when the worklist is empty.
//
// Failures on individual items are recorded in the error log. Step only
// returns an error when a folder listing, ctx or the checkpoint store fails;
// the context then stays on the worklist and is retried on resume.
func (m *Mover) Step(ctx context.Context) (bool, error) {
	c, ok := m.state.NextPath()
	if !ok {
		return false, nil
	}

	var err error
	if c.Expanded {
		err = m.finish(ctx, c)
	} else {
		err = m.expand(ctx, c)
	}
	if err != nil {
		return true, err
	}
	if err := m.state.SaveState(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// expand moves the files of c and queues its child folders. Progress is
// persisted as it goes, so a repeated expansion after an interruption
// neither copies a file nor creates a folder twice.
func (m *Mover) expand(ctx context.Context, c MoveContext) error {
	m.logger.Debug("moving folder contents", "path", c.String(), "source", c.SourceID, "destination", c.DestinationID)

	if !c.FilesMoved {
		var err error
		if c, err = m.moveFiles(ctx, c); err != nil {
			return err
		}
		c.FilesMoved = true
		c.Done = nil
		m.state.replaceTop(c)
		if err := m.state.SaveState(ctx); err != nil {
			return err
		}
	}

	folders, err := ListFiles(ctx, m.drive, ListRequest{ParentID: c.SourceID, Kind: FoldersOnly, PageSize: m.pageSize})
	if err != nil {
		return fmt.Errorf("listing folders of %s: %w", c, err)
	}

	// Each child goes under c as soon as its folder exists. Walking the
	// listing backwards leaves the first listed folder on top.
	for i := len(folders) - 1; i >= 0; i-- {
		f := folders[i]
		if !m.included(c, f) {
			m.logger.Debug("skipping filtered folder", "path", c.String(), "name", f.Name)
			continue
		}
		if slices.Contains(c.Done, f.ID) || m.state.hasSource(f.ID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		newID, ok := TryOrLog(ctx, m.state, c, func() (string, error) {
			return m.drive.CreateFolder(ctx, f.Name, c.DestinationID)
		}, f.Name)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.Done = append(c.Done, f.ID)
			m.state.replaceTop(c)
		} else {
			m.state.insertBelowTop(c.ChildContext(f.ID, newID, f.Name))
		}
		if err := m.state.SaveState(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.state.expandTop(c)
	return nil
}

// moveFiles handles every file of c. Files that stay in the source folder
// are recorded in c.Done and persisted one by one.
func (m *Mover) moveFiles(ctx context.Context, c MoveContext) (MoveContext, error) {
	files, err := ListFiles(ctx, m.drive, ListRequest{ParentID: c.SourceID, Kind: FilesOnly, PageSize: m.pageSize})
	if err != nil {
		return c, fmt.Errorf("listing files of %s: %w", c, err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		if slices.Contains(c.Done, f.ID) {
			continue
		}
		if !m.included(c, f) {
			m.logger.Debug("skipping filtered file", "path", c.String(), "name", f.Name)
			continue
		}
		if !m.moveFile(ctx, c, f) {
			continue
		}
		c.Done = append(c.Done, f.ID)
		m.state.replaceTop(c)
		if err := m.state.SaveState(ctx); err != nil {
			return c, err
		}
	}
	return c, ctx.Err()
}

// finish deletes the source folder of c when empty and then removes c from
// the worklist. The root folder of a move is never deleted. When ctx ends
// before the deletion could be attempted, c stays for the next invocation.
func (m *Mover) finish(ctx context.Context, c MoveContext) error {
	if !c.IsRoot() {
		ok := m.state.Try(ctx, c, func() error {
			return m.deleteFolderIfEmpty(ctx, c.SourceID)
		})
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	m.state.RemovePath(c)
	return nil
}

func (m *Mover) included(c MoveContext, f File) bool {
	if m.filter.IsEmpty() {
		return true
	}
	return m.filter.Match(filter.Item{
		Path:    strings.Join(c.ItemPath(f.Name), "/"),
		Size:    f.Size,
		ModTime: f.ModTime,
		IsDir:   f.IsDir,
	})
}

// moveFile re-parents f when the service allows it and copies it otherwise.
// The original of a copied file stays in the source folder. It reports
// whether f stays in the source folder and is settled: copied, or failed
// with the failure logged.
func (m *Mover) moveFile(ctx context.Context, c MoveContext, f File) bool {
	if f.CanMoveOutOfDrive {
		if m.state.Try(ctx, c, func() error {
			return m.drive.Reparent(ctx, f.ID, c.DestinationID, c.SourceID)
		}, f.Name) {
			m.logger.Debug("moved file", "path", c.String(), "name", f.Name)
			return false
		}
		return ctx.Err() == nil
	}

	copyID, ok := TryOrLog(ctx, m.state, c, func() (string, error) {
		return m.drive.Copy(ctx, f.ID, f.Name, c.DestinationID)
	}, f.Name)
	if !ok {
		return ctx.Err() == nil
	}
	m.logger.Debug("copied file", "path", c.String(), "name", f.Name, "copy", copyID)
	if m.req.CopyComments {
		m.copyComments(ctx, c, f, copyID)
	}
	return true
}

// copyComments recreates the comment threads of f on copyID. Every comment
// and every reply succeeds or fails on its own.
func (m *Mover) copyComments(ctx context.Context, c MoveContext, f File, copyID string) {
	comments, ok := TryOrLog(ctx, m.state, c, func() ([]Comment, error) {
		return ListComments(ctx, m.drive, f.ID)
	}, f.Name)
	if !ok {
		return
	}

	for _, comment := range comments {
		replies := comment.Replies
		comment.Replies = nil
		comment.Content = Attribute(comment.Author, comment.Content)

		commentID, ok := TryOrLog(ctx, m.state, c, func() (string, error) {
			return m.drive.CreateComment(ctx, copyID, comment)
		}, f.Name)
		if !ok {
			continue
		}
		for _, reply := range replies {
			reply.Content = Attribute(reply.Author, reply.Content)
			m.state.Try(ctx, c, func() error {
				return m.drive.CreateReply(ctx, copyID, commentID, reply)
			}, f.Name)
		}
	}
}

// Attribute prefixes content written by someone other than the acting
// identity with the original author's name.
func Attribute(a Author, content string) string {
	if a.Me {
		return content
	}
	return "*" + a.DisplayName + ":*\n" + content
}

// deleteFolderIfEmpty deletes folderID when a fresh listing shows no
// children and the acting identity may delete it.
func (m *Mover) deleteFolderIfEmpty(ctx context.Context, folderID string) error {
	page, err := m.drive.List(ctx, ListRequest{ParentID: folderID, Kind: AnyItem, PageSize: 1}, "")
	if err != nil {
		return err
	}
	if page != nil && len(page.Items) > 0 {
		m.logger.Debug("keeping non-empty source folder", "folder", folderID)
		return nil
	}

	role, err := m.drive.Role(ctx, folderID)
	if err != nil {
		return err
	}
	if !role.CanDelete() {
		m.logger.Debug("keeping source folder", "folder", folderID, "role", string(role))
		return nil
	}
	if err := m.drive.Delete(ctx, folderID); err != nil {
		return err
	}
	m.logger.Debug("deleted source folder", "folder", folderID)
	return nil
}

// IsDestinationEmpty reports whether the destination folder has no children.
// With override it returns true without calling the service.
func IsDestinationEmpty(ctx context.Context, d Drive, destinationID string, override bool) (bool, error) {
	if override {
		return true, nil
	}
	page, err := d.List(ctx, ListRequest{ParentID: destinationID, Kind: AnyItem, PageSize: 1}, "")
	if err != nil {
		return false, err
	}
	return page == nil || len(page.Items) == 0, nil
}
