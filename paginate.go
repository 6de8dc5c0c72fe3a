package drivemover

import (
	"context"
	"reflect"
)

// Page is one page of a paginated listing.
type Page interface {
	// PageToken returns the cursor for the next page, or "" when there is none.
	PageToken() string
}

// Paginate requests pages until the service stops returning a next-page
// cursor and concatenates transform(page) in page order.
//
// The first request is issued with an empty token. A request error is
// returned unchanged and the partial result is discarded; there is no retry
// at this level. A nil page ends the listing.
func Paginate[P Page, T any](
	ctx context.Context,
	request func(ctx context.Context, pageToken string) (P, error),
	transform func(P) []T,
) ([]T, error) {
	var (
		out   []T
		token string
	)
	for {
		page, err := request(ctx, token)
		if err != nil {
			return nil, err
		}
		if isNilPage(page) {
			return out, nil
		}
		out = append(out, transform(page)...)

		token = page.PageToken()
		if token == "" {
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func isNilPage[P Page](p P) bool {
	v := reflect.ValueOf(p)
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// ListFiles lists all children of a folder described by req.
func ListFiles(ctx context.Context, d Drive, req ListRequest) ([]File, error) {
	return Paginate(ctx,
		func(ctx context.Context, token string) (*FilePage, error) {
			return d.List(ctx, req, token)
		},
		func(p *FilePage) []File { return p.Items },
	)
}

// ListComments lists all comment threads on a file.
func ListComments(ctx context.Context, d Drive, fileID string) ([]Comment, error) {
	return Paginate(ctx,
		func(ctx context.Context, token string) (*CommentPage, error) {
			return d.ListComments(ctx, fileID, token)
		},
		func(p *CommentPage) []Comment { return p.Items },
	)
}
