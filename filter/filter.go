// Package filter decides which items of a drive folder tree take part in a move.
//
// Items are matched by their breadcrumb path relative to the move root,
// joined with "/". Items that do not pass the filter stay in the source,
// which also keeps their parent folder from being deleted.
//
// Basic usage:
//
//	f := filter.New(
//	    filter.Exclude("*.tmp"),
//	    filter.Exclude("Archive/"),
//	    filter.MaxSize(100 * filter.MB),
//	)
//
//	if f.Match(filter.Item{Path: "Reports/q3.pdf", Size: 2048}) {
//	    // move it
//	}
package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

// Filter determines whether items are moved.
//
// Include patterns and size rules apply to files only, so a folder is
// always descended into unless an exclude pattern names it. Exclude patterns
// ending in "/" match folders only.
type Filter struct {
	rules []rule
	now   func() time.Time
}

type ruleType int

const (
	ruleInclude ruleType = iota
	ruleExclude
	ruleMinSize
	ruleMaxSize
	ruleMinAge
	ruleMaxAge
)

type rule struct {
	ruleType    ruleType
	pattern     string
	foldersOnly bool
	size        int64
	duration    time.Duration
}

// Item describes a file or folder being considered for a move.
type Item struct {
	// Path is the "/"-joined breadcrumb from the move root, ending with the item name.
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Option configures a Filter.
type Option func(*Filter)

// New creates a new Filter with the given options.
func New(opts ...Option) *Filter {
	f := &Filter{now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Include adds an include pattern.
// When any include pattern is present, files must match one of them.
// Patterns use path.Match syntax (*, ?, [...]).
func Include(pattern string) Option {
	return func(f *Filter) {
		f.rules = append(f.rules, rule{ruleType: ruleInclude, pattern: pattern})
	}
}

// Exclude adds an exclude pattern. Exclude rules take precedence over
// include rules. A trailing "/" restricts the pattern to folders.
func Exclude(pattern string) Option {
	return func(f *Filter) {
		r := rule{ruleType: ruleExclude, pattern: pattern}
		if strings.HasSuffix(pattern, "/") {
			r.pattern = strings.TrimSuffix(pattern, "/")
			r.foldersOnly = true
		}
		f.rules = append(f.rules, r)
	}
}

// MinSize excludes files smaller than size bytes.
func MinSize(size int64) Option {
	return func(f *Filter) {
		f.rules = append(f.rules, rule{ruleType: ruleMinSize, size: size})
	}
}

// MaxSize excludes files larger than size bytes.
func MaxSize(size int64) Option {
	return func(f *Filter) {
		f.rules = append(f.rules, rule{ruleType: ruleMaxSize, size: size})
	}
}

// MinAge excludes files modified less than d ago.
func MinAge(d time.Duration) Option {
	return func(f *Filter) {
		f.rules = append(f.rules, rule{ruleType: ruleMinAge, duration: d})
	}
}

// MaxAge excludes files modified more than d ago.
func MaxAge(d time.Duration) Option {
	return func(f *Filter) {
		f.rules = append(f.rules, rule{ruleType: ruleMaxAge, duration: d})
	}
}

// WithClock replaces time.Now for age rules.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) {
		if now != nil {
			f.now = now
		}
	}
}

// FromReader parses filter rules, one per line. Lines starting with "+ "
// are includes, lines starting with "- " are excludes, and any other
// non-comment line is an exclude. Empty lines and lines starting with #
// are ignored.
//
//	# Only documents
//	+ *.pdf
//	+ *.docx
//	# Skip the archive folder
//	- Archive/
func FromReader(r io.Reader) (Option, error) {
	var opts []Option
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "+ "):
			opts = append(opts, Include(strings.TrimSpace(line[2:])))
		case strings.HasPrefix(line, "- "):
			opts = append(opts, Exclude(strings.TrimSpace(line[2:])))
		default:
			opts = append(opts, Exclude(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading filter rules: %w", err)
	}

	return func(f *Filter) {
		for _, opt := range opts {
			opt(f)
		}
	}, nil
}

// FromFile loads filter rules from a file in the FromReader format.
func FromFile(name string) (Option, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	return FromReader(file)
}

// Match reports whether the item passes the filter.
//
//  1. An item matching an exclude pattern fails.
//  2. A folder that is not excluded passes.
//  3. A file fails if include patterns exist and none match.
//  4. A file fails size or age constraints.
func (f *Filter) Match(it Item) bool {
	if f.IsEmpty() {
		return true
	}

	for _, r := range f.rules {
		if r.ruleType != ruleExclude || (r.foldersOnly && !it.IsDir) {
			continue
		}
		if matchPattern(r.pattern, it.Path) {
			return false
		}
	}
	if it.IsDir {
		return true
	}

	hasIncludes, matchesInclude := false, false
	for _, r := range f.rules {
		if r.ruleType == ruleInclude {
			hasIncludes = true
			if matchPattern(r.pattern, it.Path) {
				matchesInclude = true
			}
		}
	}
	if hasIncludes && !matchesInclude {
		return false
	}

	now := f.now
	if now == nil {
		now = time.Now
	}
	for _, r := range f.rules {
		switch r.ruleType {
		case ruleMinSize:
			if it.Size < r.size {
				return false
			}
		case ruleMaxSize:
			if it.Size > r.size {
				return false
			}
		case ruleMinAge:
			if now().Sub(it.ModTime) < r.duration {
				return false
			}
		case ruleMaxAge:
			if now().Sub(it.ModTime) > r.duration {
				return false
			}
		}
	}
	return true
}

// MatchPath matches a file by path only.
func (f *Filter) MatchPath(p string) bool {
	return f.Match(Item{Path: p})
}

// IsEmpty returns true if the filter has no rules.
func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.rules) == 0
}

// matchPattern matches against the full path and against the last element.
// "**" is treated as "*".
func matchPattern(pattern, p string) bool {
	base := path.Base(p)
	candidates := []string{pattern}
	if strings.Contains(pattern, "**") {
		candidates = append(candidates, strings.ReplaceAll(pattern, "**", "*"))
	}
	for _, pat := range candidates {
		if matched, _ := path.Match(pat, p); matched {
			return true
		}
		if matched, _ := path.Match(pat, base); matched {
			return true
		}
	}
	return false
}

// Size units for MinSize and MaxSize.
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)
