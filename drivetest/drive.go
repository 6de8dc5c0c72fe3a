// Package drivetest provides an in-memory drivemover.Drive for tests.
//
// The fake keeps a tree of files and folders, paginates listings, records
// every call and can be told to fail specific calls:
//
//	d := drivetest.New()
//	src := d.AddFolder("", "My Drive")
//	dst := d.AddFolder("", "Shared")
//	d.AddFile(src, "a.txt")
//	d.FailOn(drivetest.OpReparent, "a.txt", errors.New("boom"))
package drivetest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/grokify/drivemover"
)

// Op names a Drive method.
type Op string

const (
	OpList          Op = "List"
	OpCopy          Op = "Copy"
	OpReparent      Op = "Reparent"
	OpCreateFolder  Op = "CreateFolder"
	OpRole          Op = "Role"
	OpDelete        Op = "Delete"
	OpListComments  Op = "ListComments"
	OpCreateComment Op = "CreateComment"
	OpCreateReply   Op = "CreateReply"
)

// Item is a file or folder held by the fake.
type Item struct {
	ID                string
	Name              string
	ParentID          string
	IsDir             bool
	CanMoveOutOfDrive bool
	Size              int64
	ModTime           time.Time

	seq int
}

// Call is one recorded method call.
type Call struct {
	Op Op

	// Key is the item name for item operations, the parent ID for List,
	// and the content for CreateComment and CreateReply.
	Key string
}

// FileOption configures a file added with AddFile.
type FileOption func(*Item)

// Unmovable marks the file as not movable out of its drive, forcing a copy.
func Unmovable() FileOption {
	return func(it *Item) { it.CanMoveOutOfDrive = false }
}

// WithSize sets the file size.
func WithSize(n int64) FileOption {
	return func(it *Item) { it.Size = n }
}

// WithModTime sets the file modification time.
func WithModTime(t time.Time) FileOption {
	return func(it *Item) { it.ModTime = t }
}

type thread struct {
	id      string
	comment drivemover.Comment
}

// Drive is an in-memory drivemover.Drive. It is safe for concurrent use.
type Drive struct {
	// OnCall, when set, runs at the start of every call before failures are
	// injected. Tests use it to cancel a context mid-run.
	OnCall func(op Op, key string)

	mu       sync.Mutex
	items    map[string]*Item
	comments map[string][]thread
	roles    map[string]drivemover.Role
	failures map[Call]error
	calls    []Call
	seq      int
}

// New returns an empty fake drive.
func New() *Drive {
	return &Drive{
		items:    make(map[string]*Item),
		comments: make(map[string][]thread),
		roles:    make(map[string]drivemover.Role),
		failures: make(map[Call]error),
	}
}

var _ drivemover.Drive = (*Drive)(nil)

func (d *Drive) newID(prefix string) string {
	d.seq++
	return prefix + strconv.Itoa(d.seq)
}

func (d *Drive) add(it *Item) string {
	it.seq = d.seq
	d.items[it.ID] = it
	return it.ID
}

// AddFolder adds a folder under parentID ("" for a top-level folder) and returns its ID.
func (d *Drive) AddFolder(parentID, name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&Item{ID: d.newID("folder"), Name: name, ParentID: parentID, IsDir: true})
}

// AddFile adds a movable file under parentID and returns its ID.
func (d *Drive) AddFile(parentID, name string, opts ...FileOption) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	it := &Item{ID: d.newID("file"), Name: name, ParentID: parentID, CanMoveOutOfDrive: true}
	for _, opt := range opts {
		opt(it)
	}
	return d.add(it)
}

// AddComment attaches a comment thread to fileID.
func (d *Drive) AddComment(fileID string, c drivemover.Comment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.comments[fileID] = append(d.comments[fileID], thread{id: d.newID("comment"), comment: c})
}

// SetRole sets the role reported for id. Items default to owner.
func (d *Drive) SetRole(id string, role drivemover.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[id] = role
}

// FailOn makes every call of op with the given key return err.
// A nil err removes the failure.
func (d *Drive) FailOn(op Op, key string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := Call{Op: op, Key: key}
	if err == nil {
		delete(d.failures, c)
		return
	}
	d.failures[c] = err
}

// Calls returns the recorded calls in order.
func (d *Drive) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallCount returns how many times op was called.
func (d *Drive) CallCount(op Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Get returns the item with the given ID.
func (d *Drive) Get(id string) (Item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	it, ok := d.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Children returns the items directly under parentID in creation order.
func (d *Drive) Children(parentID string) []Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.children(parentID)
}

func (d *Drive) children(parentID string) []Item {
	var out []Item
	for _, it := range d.items {
		if it.ParentID == parentID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Child returns the item named name directly under parentID.
func (d *Drive) Child(parentID, name string) (Item, bool) {
	for _, it := range d.Children(parentID) {
		if it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

// Comments returns the comment threads on fileID.
func (d *Drive) Comments(fileID string) []drivemover.Comment {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []drivemover.Comment
	for _, t := range d.comments[fileID] {
		c := t.comment
		c.Replies = append([]drivemover.Reply(nil), c.Replies...)
		out = append(out, c)
	}
	return out
}

// begin records the call and returns the injected failure, if any.
func (d *Drive) begin(ctx context.Context, op Op, key string) error {
	if hook := d.OnCall; hook != nil {
		hook(op, key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c := Call{Op: op, Key: key}
	d.calls = append(d.calls, c)
	return d.failures[c]
}

func notFound(id string) error {
	return &drivemover.APIError{Code: 404, Reason: "notFound", Message: fmt.Sprintf("File not found: %s.", id)}
}

// List implements drivemover.Drive. The page token is the offset of the next item.
func (d *Drive) List(ctx context.Context, req drivemover.ListRequest, pageToken string) (*drivemover.FilePage, error) {
	if err := d.begin(ctx, OpList, req.ParentID); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[req.ParentID]; !ok {
		return nil, notFound(req.ParentID)
	}

	var matched []Item
	for _, it := range d.children(req.ParentID) {
		switch {
		case req.Kind == drivemover.FilesOnly && it.IsDir:
		case req.Kind == drivemover.FoldersOnly && !it.IsDir:
		default:
			matched = append(matched, it)
		}
	}

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 || n > len(matched) {
			return nil, &drivemover.APIError{Code: 400, Reason: "invalidPageToken"}
		}
		start = n
	}
	end := len(matched)
	if req.PageSize > 0 && start+int(req.PageSize) < end {
		end = start + int(req.PageSize)
	}

	page := &drivemover.FilePage{}
	for _, it := range matched[start:end] {
		page.Items = append(page.Items, drivemover.File{
			ID:                it.ID,
			Name:              it.Name,
			Size:              it.Size,
			ModTime:           it.ModTime,
			IsDir:             it.IsDir,
			CanMoveOutOfDrive: it.CanMoveOutOfDrive,
		})
	}
	if end < len(matched) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// Copy implements drivemover.Drive. Comments are not copied.
func (d *Drive) Copy(ctx context.Context, fileID, name, parentID string) (string, error) {
	if err := d.begin(ctx, OpCopy, name); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	src, ok := d.items[fileID]
	if !ok {
		return "", notFound(fileID)
	}
	if _, ok := d.items[parentID]; !ok {
		return "", notFound(parentID)
	}
	cp := *src
	cp.ID = d.newID("file")
	cp.Name = name
	cp.ParentID = parentID
	return d.add(&cp), nil
}

// Reparent implements drivemover.Drive.
func (d *Drive) Reparent(ctx context.Context, fileID, addParent, removeParent string) error {
	if err := d.begin(ctx, OpReparent, d.nameOf(fileID)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	it, ok := d.items[fileID]
	if !ok {
		return notFound(fileID)
	}
	if _, ok := d.items[addParent]; !ok {
		return notFound(addParent)
	}
	if it.ParentID != removeParent {
		return &drivemover.APIError{Code: 400, Reason: "invalidParent"}
	}
	it.ParentID = addParent
	return nil
}

// CreateFolder implements drivemover.Drive.
func (d *Drive) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	if err := d.begin(ctx, OpCreateFolder, name); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[parentID]; !ok {
		return "", notFound(parentID)
	}
	return d.add(&Item{ID: d.newID("folder"), Name: name, ParentID: parentID, IsDir: true}), nil
}

// Role implements drivemover.Drive.
func (d *Drive) Role(ctx context.Context, fileID string) (drivemover.Role, error) {
	if err := d.begin(ctx, OpRole, d.nameOf(fileID)); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[fileID]; !ok {
		return "", notFound(fileID)
	}
	if r, ok := d.roles[fileID]; ok {
		return r, nil
	}
	return drivemover.RoleOwner, nil
}

// Delete implements drivemover.Drive. Children of a deleted folder are deleted too.
func (d *Drive) Delete(ctx context.Context, fileID string) error {
	if err := d.begin(ctx, OpDelete, d.nameOf(fileID)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[fileID]; !ok {
		return notFound(fileID)
	}
	d.deleteTree(fileID)
	return nil
}

func (d *Drive) deleteTree(id string) {
	for _, child := range d.children(id) {
		d.deleteTree(child.ID)
	}
	delete(d.items, id)
	delete(d.comments, id)
}

func (d *Drive) nameOf(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if it, ok := d.items[id]; ok {
		return it.Name
	}
	return id
}

// commentPageSize is small so tests exercise comment pagination.
const commentPageSize = 2

// ListComments implements drivemover.Drive.
func (d *Drive) ListComments(ctx context.Context, fileID, pageToken string) (*drivemover.CommentPage, error) {
	if err := d.begin(ctx, OpListComments, d.nameOf(fileID)); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[fileID]; !ok {
		return nil, notFound(fileID)
	}
	threads := d.comments[fileID]

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 || n > len(threads) {
			return nil, &drivemover.APIError{Code: 400, Reason: "invalidPageToken"}
		}
		start = n
	}
	end := min(start+commentPageSize, len(threads))

	page := &drivemover.CommentPage{}
	for _, t := range threads[start:end] {
		c := t.comment
		c.Replies = append([]drivemover.Reply(nil), c.Replies...)
		page.Items = append(page.Items, c)
	}
	if end < len(threads) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// CreateComment implements drivemover.Drive.
func (d *Drive) CreateComment(ctx context.Context, fileID string, c drivemover.Comment) (string, error) {
	if err := d.begin(ctx, OpCreateComment, c.Content); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[fileID]; !ok {
		return "", notFound(fileID)
	}
	c.Replies = nil
	id := d.newID("comment")
	d.comments[fileID] = append(d.comments[fileID], thread{id: id, comment: c})
	return id, nil
}

// CreateReply implements drivemover.Drive.
func (d *Drive) CreateReply(ctx context.Context, fileID, commentID string, r drivemover.Reply) error {
	if err := d.begin(ctx, OpCreateReply, r.Content); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	threads := d.comments[fileID]
	for i := range threads {
		if threads[i].id == commentID {
			threads[i].comment.Replies = append(threads[i].comment.Replies, r)
			return nil
		}
	}
	return notFound(commentID)
}
