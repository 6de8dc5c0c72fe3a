package drivemover

import (
	"context"
	"time"
)

// FolderMimeType is the MIME type the drive service uses for folders.
const FolderMimeType = "application/vnd.google-apps.folder"

// ItemKind selects which children a listing returns.
type ItemKind int

const (
	// AnyItem lists files and folders.
	AnyItem ItemKind = iota

	// FilesOnly lists non-folder items.
	FilesOnly

	// FoldersOnly lists folders.
	FoldersOnly
)

// ListRequest describes one listing of the direct, non-trashed children of a folder.
type ListRequest struct {
	ParentID string
	Kind     ItemKind

	// PageSize is the maximum number of items per page.
	PageSize int64
}

// File is one item returned by a listing.
type File struct {
	ID      string
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool

	// CanMoveOutOfDrive reports whether the item can be re-parented
	// across drive boundaries. When false it has to be copied.
	CanMoveOutOfDrive bool
}

// FilePage is one page of a file listing.
type FilePage struct {
	Items         []File
	NextPageToken string
}

// PageToken returns the cursor for the next page, or "" on the last page.
func (p *FilePage) PageToken() string { return p.NextPageToken }

// Author identifies who wrote a comment or reply.
type Author struct {
	DisplayName string

	// Me is true when the author is the identity making the API calls.
	Me bool
}

// Reply is a reply in a comment thread.
type Reply struct {
	Author  Author
	Content string

	// Action is "resolve" or "reopen" for replies that changed the thread state.
	Action string
}

// Comment is a comment thread attached to a file.
type Comment struct {
	Author            Author
	Content           string
	Anchor            string
	QuotedFileContent string
	Resolved          bool
	Replies           []Reply
}

// CommentPage is one page of a comment listing.
type CommentPage struct {
	Items         []Comment
	NextPageToken string
}

// PageToken returns the cursor for the next page, or "" on the last page.
func (p *CommentPage) PageToken() string { return p.NextPageToken }

// Role is the acting identity's permission role on an item.
type Role string

// Roles known to the drive service.
const (
	RoleOwner         Role = "owner"
	RoleOrganizer     Role = "organizer"
	RoleFileOrganizer Role = "fileOrganizer"
	RoleWriter        Role = "writer"
	RoleCommenter     Role = "commenter"
	RoleReader        Role = "reader"
)

// CanDelete reports whether the role allows deleting the item.
func (r Role) CanDelete() bool {
	return r == RoleOwner || r == RoleOrganizer
}

// Drive is the remote storage service the mover works against.
//
// Implementations handle authentication, rate limiting and retries.
// The mover itself never retries a failed call.
type Drive interface {
	// List returns one page of the children described by req.
	List(ctx context.Context, req ListRequest, pageToken string) (*FilePage, error)

	// Copy duplicates fileID into parentID under name and returns the new ID.
	Copy(ctx context.Context, fileID, name, parentID string) (string, error)

	// Reparent adds the item to addParent and removes it from removeParent.
	Reparent(ctx context.Context, fileID, addParent, removeParent string) error

	// CreateFolder creates a folder named name inside parentID and returns its ID.
	CreateFolder(ctx context.Context, name, parentID string) (string, error)

	// Role returns the acting identity's role on fileID.
	Role(ctx context.Context, fileID string) (Role, error)

	// Delete permanently removes fileID.
	Delete(ctx context.Context, fileID string) error

	// ListComments returns one page of comment threads on fileID, replies included.
	ListComments(ctx context.Context, fileID, pageToken string) (*CommentPage, error)

	// CreateComment adds a comment (without replies) to fileID and returns its ID.
	CreateComment(ctx context.Context, fileID string, c Comment) (string, error)

	// CreateReply adds a reply to the comment commentID on fileID.
	CreateReply(ctx context.Context, fileID, commentID string, r Reply) error
}
