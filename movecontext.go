package drivemover

import (
	"slices"
	"strings"
)

// MoveContext is one unit of pending work: move the contents of the source
// folder SourceID into the destination folder DestinationID.
type MoveContext struct {
	SourceID      string `json:"sourceID"`
	DestinationID string `json:"destinationID"`

	// Path is the breadcrumb of folder names from the move root to SourceID.
	// It is empty for the root context.
	Path []string `json:"path"`

	// FilesMoved is set once every file of the folder has been handled.
	// Only the child folders remain to be created.
	FilesMoved bool `json:"filesMoved,omitempty"`

	// Done lists the items of the current phase that stay in the source
	// folder and were already handled: copied files and logged failures.
	// They are skipped when an interrupted phase is repeated.
	Done []string `json:"done,omitempty"`

	// Expanded is set once the folder's files have been moved and its child
	// folders pushed. An expanded context on top of the stack only needs its
	// source folder cleaned up.
	Expanded bool `json:"expanded,omitempty"`
}

// ChildContext returns the context for a child folder named childName.
// The receiver's path is never shared with the child.
func (c MoveContext) ChildContext(sourceID, destinationID, childName string) MoveContext {
	path := make([]string, len(c.Path), len(c.Path)+1)
	copy(path, c.Path)
	return MoveContext{
		SourceID:      sourceID,
		DestinationID: destinationID,
		Path:          append(path, childName),
	}
}

// Same reports whether c and other describe the same folder pair.
func (c MoveContext) Same(other MoveContext) bool {
	return c.SourceID == other.SourceID && c.DestinationID == other.DestinationID
}

// isChildOf reports whether c is the context of a folder directly inside parent.
func (c MoveContext) isChildOf(parent MoveContext) bool {
	if len(c.Path) != len(parent.Path)+1 {
		return false
	}
	return slices.Equal(c.Path[:len(parent.Path)], parent.Path)
}

// IsRoot reports whether c is the top-level context of a move.
func (c MoveContext) IsRoot() bool {
	return len(c.Path) == 0
}

// ItemPath returns the breadcrumb for an item inside the folder,
// or the folder's own path when name is empty.
func (c MoveContext) ItemPath(name string) []string {
	out := make([]string, len(c.Path), len(c.Path)+1)
	copy(out, c.Path)
	if name != "" {
		out = append(out, name)
	}
	return out
}

func (c MoveContext) String() string {
	if c.IsRoot() {
		return "/"
	}
	return "/" + strings.Join(c.Path, "/")
}
