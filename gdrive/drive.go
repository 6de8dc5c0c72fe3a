// Package gdrive implements drivemover.Drive on the Google Drive API.
//
// Listing, copying, re-parenting, folder creation, deletion and comments
// use Drive API v3. The caller's role on an item is read from the v2
// userPermission field, which v3 does not expose.
//
// Every call goes through a Pacer that rate-limits requests and retries
// server errors and rate-limit responses with exponential backoff.
package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/grokify/mogo/log/slogutil"
	"golang.org/x/oauth2"
	drivev2 "google.golang.org/api/drive/v2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/grokify/drivemover"
)

const (
	listFields    = "nextPageToken, files(id, name, size, modifiedTime, mimeType, capabilities(canMoveItemOutOfDrive))"
	authorFields  = "author(displayName, me)"
	commentFields = "nextPageToken, comments(" + authorFields + ", content, anchor, quotedFileContent(mimeType, value), resolved, deleted, replies(" + authorFields + ", content, action, deleted))"

	commentPageSize = 100
)

// Drive implements drivemover.Drive.
type Drive struct {
	v3     *drive.Service
	v2     *drivev2.Service
	pacer  *Pacer
	logger *slog.Logger
}

// Option configures a Drive.
type Option func(*Drive)

// WithPacer replaces the default pacer.
func WithPacer(p *Pacer) Option {
	return func(d *Drive) {
		if p != nil {
			d.pacer = p
		}
	}
}

// WithLogger sets the logger used for retry messages.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Drive) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates both API services from clientOpts.
func New(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Drive, error) {
	v3, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating v3 service: %w", err)
	}
	v2, err := drivev2.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating v2 service: %w", err)
	}
	return NewWithServices(v3, v2, opts...), nil
}

// NewFromConfig authenticates as described by cfg.
func NewFromConfig(ctx context.Context, cfg Config, opts ...Option) (*Drive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ts, err := cfg.TokenSource(ctx)
	if err != nil {
		return nil, err
	}

	retry := DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	pacer := NewPacer(cfg.RequestsPerSecond, cfg.Burst, retry)

	return New(ctx,
		[]option.ClientOption{option.WithTokenSource(oauth2.ReuseTokenSource(nil, ts))},
		append([]Option{WithPacer(pacer)}, opts...)...,
	)
}

// NewWithServices wraps existing services.
func NewWithServices(v3 *drive.Service, v2 *drivev2.Service, opts ...Option) *Drive {
	d := &Drive{
		v3:     v3,
		v2:     v2,
		pacer:  NewPacer(10, 10, DefaultRetryConfig()),
		logger: slogutil.Null(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pacer.onRetry = func(attempt int, delay time.Duration, err error) {
		d.logger.Warn("retrying drive call", "attempt", attempt, "delay", delay, "error", err)
	}
	return d
}

// List returns one page of the non-trashed children of req.ParentID.
func (d *Drive) List(ctx context.Context, req drivemover.ListRequest, pageToken string) (*drivemover.FilePage, error) {
	call := d.v3.Files.List().
		Q(childrenQuery(req.ParentID, req.Kind)).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Fields(googleapi.Field(listFields))
	if req.PageSize > 0 {
		call.PageSize(req.PageSize)
	}
	if pageToken != "" {
		call.PageToken(pageToken)
	}

	var res *drive.FileList
	err := d.pacer.Call(ctx, func() (err error) {
		res, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, translateError("list", err)
	}

	page := &drivemover.FilePage{NextPageToken: res.NextPageToken}
	for _, f := range res.Files {
		page.Items = append(page.Items, toFile(f))
	}
	return page, nil
}

// Copy copies fileID into parentID as name.
func (d *Drive) Copy(ctx context.Context, fileID, name, parentID string) (string, error) {
	call := d.v3.Files.Copy(fileID, &drive.File{Name: name, Parents: []string{parentID}}).
		SupportsAllDrives(true).
		Fields("id")

	var res *drive.File
	err := d.pacer.Call(ctx, func() (err error) {
		res, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", translateError("copy", err)
	}
	return res.Id, nil
}

// Reparent moves fileID from removeParent to addParent.
func (d *Drive) Reparent(ctx context.Context, fileID, addParent, removeParent string) error {
	call := d.v3.Files.Update(fileID, &drive.File{}).
		AddParents(addParent).
		RemoveParents(removeParent).
		SupportsAllDrives(true).
		Fields("id")

	err := d.pacer.Call(ctx, func() error {
		_, err := call.Context(ctx).Do()
		return err
	})
	return translateError("move", err)
}

// CreateFolder creates a folder inside parentID.
func (d *Drive) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	call := d.v3.Files.Create(&drive.File{
		Name:     name,
		MimeType: drivemover.FolderMimeType,
		Parents:  []string{parentID},
	}).SupportsAllDrives(true).Fields("id")

	var res *drive.File
	err := d.pacer.Call(ctx, func() (err error) {
		res, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", translateError("create folder", err)
	}
	return res.Id, nil
}

// Role returns the caller's role on fileID.
func (d *Drive) Role(ctx context.Context, fileID string) (drivemover.Role, error) {
	call := d.v2.Files.Get(fileID).
		SupportsAllDrives(true).
		Fields("userPermission(role)")

	var res *drivev2.File
	err := d.pacer.Call(ctx, func() (err error) {
		res, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", translateError("get role", err)
	}
	if res.UserPermission == nil {
		return "", nil
	}
	return drivemover.Role(res.UserPermission.Role), nil
}

// Delete permanently deletes fileID.
func (d *Drive) Delete(ctx context.Context, fileID string) error {
	call := d.v3.Files.Delete(fileID).SupportsAllDrives(true)
	err := d.pacer.Call(ctx, func() error {
		return call.Context(ctx).Do()
	})
	return translateError("delete", err)
}

// ListComments returns one page of the comment threads on fileID.
// Deleted comments and replies are skipped.
func (d *Drive) ListComments(ctx context.Context, fileID, pageToken string) (*drivemover.CommentPage, error) {
	call := d.v3.Comments.List(fileID).
		PageSize(commentPageSize).
		Fields(googleapi.Field(commentFields))
	if pageToken != "" {
		call.PageToken(pageToken)
	}

	var res *drive.CommentList
	err := d.pacer.Call(ctx, func() (err error) {
		res, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, translateError("list comments", err)
	}

	page := &drivemover.CommentPage{NextPageToken: res.NextPageToken}
	for _, c := range res.Comments {
		if c.Deleted {
			continue
		}
		page.Items = append(page.Items, toComment(c))
	}
	return page, nil
}

// CreateComment adds c, without its replies, to fileID.
func (d *Drive) CreateComment(ctx context.Context, fileID string, c drivemover.Comment) (string, error) {
	comment := &drive.Comment{Content: c.Content, Anchor: c.Anchor}
	if c.QuotedFileContent != "" {
		comment.QuotedFileContent = &drive.CommentQuotedFileContent{Value: c.QuotedFileContent}
	}
	call := d.v3.Comments.Create(fileID, comment).Fields("id")

	var res *drive.Comment
	err := d.pacer.Call(ctx, func() (err error) {
		res, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", translateError("create comment", err)
	}
	return res.Id, nil
}

// CreateReply adds r to the comment commentID on fileID.
func (d *Drive) CreateReply(ctx context.Context, fileID, commentID string, r drivemover.Reply) error {
	call := d.v3.Replies.Create(fileID, commentID, &drive.Reply{Content: r.Content, Action: r.Action}).Fields("id")
	err := d.pacer.Call(ctx, func() error {
		_, err := call.Context(ctx).Do()
		return err
	})
	return translateError("create reply", err)
}

// childrenQuery selects the non-trashed children of parentID.
func childrenQuery(parentID string, kind drivemover.ItemKind) string {
	q := []string{fmt.Sprintf("'%s' in parents", escapeQuery(parentID)), "trashed = false"}
	switch kind {
	case drivemover.FilesOnly:
		q = append(q, fmt.Sprintf("mimeType != '%s'", drivemover.FolderMimeType))
	case drivemover.FoldersOnly:
		q = append(q, fmt.Sprintf("mimeType = '%s'", drivemover.FolderMimeType))
	}
	return strings.Join(q, " and ")
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func toFile(f *drive.File) drivemover.File {
	file := drivemover.File{
		ID:    f.Id,
		Name:  f.Name,
		Size:  f.Size,
		IsDir: f.MimeType == drivemover.FolderMimeType,
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		file.ModTime = t
	}
	if f.Capabilities != nil {
		file.CanMoveOutOfDrive = f.Capabilities.CanMoveItemOutOfDrive
	}
	return file
}

func toAuthor(u *drive.User) drivemover.Author {
	if u == nil {
		return drivemover.Author{}
	}
	return drivemover.Author{DisplayName: u.DisplayName, Me: u.Me}
}

func toComment(c *drive.Comment) drivemover.Comment {
	comment := drivemover.Comment{
		Author:   toAuthor(c.Author),
		Content:  c.Content,
		Anchor:   c.Anchor,
		Resolved: c.Resolved,
	}
	if c.QuotedFileContent != nil {
		comment.QuotedFileContent = c.QuotedFileContent.Value
	}
	for _, r := range c.Replies {
		if r.Deleted {
			continue
		}
		comment.Replies = append(comment.Replies, drivemover.Reply{
			Author:  toAuthor(r.Author),
			Content: r.Content,
			Action:  r.Action,
		})
	}
	return comment
}

// translateError converts a googleapi.Error into a drivemover.APIError.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		apiErr := &drivemover.APIError{Code: gerr.Code, Message: gerr.Message}
		if len(gerr.Errors) > 0 {
			apiErr.Reason = gerr.Errors[0].Reason
			if apiErr.Message == "" {
				apiErr.Message = gerr.Errors[0].Message
			}
		}
		return fmt.Errorf("gdrive: %s: %w", op, apiErr)
	}
	return fmt.Errorf("gdrive: %s: %w", op, err)
}

func readToken(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("gdrive: reading token: %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("gdrive: parsing token: %w", err)
	}
	return tok, nil
}

var _ drivemover.Drive = (*Drive)(nil)
