package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	drivev2 "google.golang.org/api/drive/v2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/grokify/drivemover"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func newTestDrive(t *testing.T, mux *http.ServeMux) *Drive {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	v3, err := drive.NewService(ctx, option.WithEndpoint(srv.URL+"/drive/v3/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	v2, err := drivev2.NewService(ctx, option.WithEndpoint(srv.URL+"/drive/v2/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	return NewWithServices(v3, v2, WithPacer(NewPacer(0, 1, fastRetry())))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, code int, reason string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	})
}

func TestChildrenQuery(t *testing.T) {
	assert.Equal(t, "'abc' in parents and trashed = false", childrenQuery("abc", drivemover.AnyItem))
	assert.Equal(t,
		"'abc' in parents and trashed = false and mimeType != 'application/vnd.google-apps.folder'",
		childrenQuery("abc", drivemover.FilesOnly))
	assert.Equal(t,
		"'abc' in parents and trashed = false and mimeType = 'application/vnd.google-apps.folder'",
		childrenQuery("abc", drivemover.FoldersOnly))
	assert.Equal(t, `'it\'s\\x' in parents and trashed = false`, childrenQuery(`it's\x`, drivemover.AnyItem))
}

func TestList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "'src' in parents and trashed = false and mimeType != 'application/vnd.google-apps.folder'", q.Get("q"))
		assert.Equal(t, "true", q.Get("supportsAllDrives"))
		assert.Equal(t, "true", q.Get("includeItemsFromAllDrives"))
		assert.Equal(t, "50", q.Get("pageSize"))
		assert.Equal(t, "tok1", q.Get("pageToken"))
		writeJSON(w, http.StatusOK, map[string]any{
			"nextPageToken": "tok2",
			"files": []map[string]any{
				{
					"id": "f1", "name": "report.pdf", "size": "2048",
					"modifiedTime": "2024-03-01T10:00:00.000Z",
					"mimeType":     "application/pdf",
					"capabilities": map[string]bool{"canMoveItemOutOfDrive": true},
				},
				{"id": "f2", "name": "notes", "mimeType": drivemover.FolderMimeType},
			},
		})
	})
	d := newTestDrive(t, mux)

	page, err := d.List(context.Background(), drivemover.ListRequest{ParentID: "src", Kind: drivemover.FilesOnly, PageSize: 50}, "tok1")
	require.NoError(t, err)
	assert.Equal(t, "tok2", page.PageToken())
	require.Len(t, page.Items, 2)

	f := page.Items[0]
	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, "report.pdf", f.Name)
	assert.Equal(t, int64(2048), f.Size)
	assert.True(t, f.CanMoveOutOfDrive)
	assert.False(t, f.IsDir)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), f.ModTime.UTC())

	assert.True(t, page.Items[1].IsDir)
	assert.False(t, page.Items[1].CanMoveOutOfDrive)
}

func TestCopy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /drive/v3/files/{id}/copy", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "f1", r.PathValue("id"))
		assert.Equal(t, "true", r.URL.Query().Get("supportsAllDrives"))
		var body drive.File
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "report.pdf", body.Name)
		assert.Equal(t, []string{"dst"}, body.Parents)
		writeJSON(w, http.StatusOK, map[string]string{"id": "copy1"})
	})
	d := newTestDrive(t, mux)

	id, err := d.Copy(context.Background(), "f1", "report.pdf", "dst")
	require.NoError(t, err)
	assert.Equal(t, "copy1", id)
}

func TestReparent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /drive/v3/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "f1", r.PathValue("id"))
		q := r.URL.Query()
		assert.Equal(t, "dst", q.Get("addParents"))
		assert.Equal(t, "src", q.Get("removeParents"))
		writeJSON(w, http.StatusOK, map[string]string{"id": "f1"})
	})
	d := newTestDrive(t, mux)

	require.NoError(t, d.Reparent(context.Background(), "f1", "dst", "src"))
}

func TestCreateFolder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		var body drive.File
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Reports", body.Name)
		assert.Equal(t, drivemover.FolderMimeType, body.MimeType)
		assert.Equal(t, []string{"dst"}, body.Parents)
		writeJSON(w, http.StatusOK, map[string]string{"id": "folder1"})
	})
	d := newTestDrive(t, mux)

	id, err := d.CreateFolder(context.Background(), "Reports", "dst")
	require.NoError(t, err)
	assert.Equal(t, "folder1", id)
}

func TestRole(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /drive/v2/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "userPermission(role)", r.URL.Query().Get("fields"))
		switch r.PathValue("id") {
		case "mine":
			writeJSON(w, http.StatusOK, map[string]any{"userPermission": map[string]string{"role": "organizer"}})
		default:
			writeJSON(w, http.StatusOK, map[string]any{})
		}
	})
	d := newTestDrive(t, mux)

	role, err := d.Role(context.Background(), "mine")
	require.NoError(t, err)
	assert.Equal(t, drivemover.RoleOrganizer, role)
	assert.True(t, role.CanDelete())

	role, err = d.Role(context.Background(), "other")
	require.NoError(t, err)
	assert.False(t, role.CanDelete())
}

func TestDelete(t *testing.T) {
	var deleted atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /drive/v3/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleted.Store(r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	d := newTestDrive(t, mux)

	require.NoError(t, d.Delete(context.Background(), "folder1"))
	assert.Equal(t, "folder1", deleted.Load())
}

func TestComments(t *testing.T) {
	var created []drive.Comment
	var replies []drive.Reply
	mux := http.NewServeMux()
	mux.HandleFunc("GET /drive/v3/files/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"comments": []map[string]any{
				{
					"author":            map[string]any{"displayName": "Ada", "me": false},
					"content":           "Check this",
					"anchor":            "kix.1",
					"quotedFileContent": map[string]string{"value": "quoted"},
					"resolved":          true,
					"replies": []map[string]any{
						{"author": map[string]any{"displayName": "Me", "me": true}, "content": "Done", "action": "resolve"},
						{"author": map[string]any{"displayName": "Bob"}, "content": "gone", "deleted": true},
					},
				},
				{"author": map[string]any{"displayName": "Old"}, "content": "removed", "deleted": true},
			},
		})
	})
	mux.HandleFunc("POST /drive/v3/files/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		var c drive.Comment
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		created = append(created, c)
		writeJSON(w, http.StatusOK, map[string]string{"id": "c1"})
	})
	mux.HandleFunc("POST /drive/v3/files/{id}/comments/{cid}/replies", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c1", r.PathValue("cid"))
		var rep drive.Reply
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rep))
		replies = append(replies, rep)
		writeJSON(w, http.StatusOK, map[string]string{"id": "r1"})
	})
	d := newTestDrive(t, mux)
	ctx := context.Background()

	page, err := d.ListComments(ctx, "f1", "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	c := page.Items[0]
	assert.Equal(t, drivemover.Author{DisplayName: "Ada"}, c.Author)
	assert.Equal(t, "quoted", c.QuotedFileContent)
	assert.True(t, c.Resolved)
	require.Len(t, c.Replies, 1)
	assert.True(t, c.Replies[0].Author.Me)
	assert.Equal(t, "resolve", c.Replies[0].Action)

	id, err := d.CreateComment(ctx, "copy1", c)
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
	require.Len(t, created, 1)
	assert.Equal(t, "Check this", created[0].Content)
	assert.Equal(t, "kix.1", created[0].Anchor)
	assert.Equal(t, "quoted", created[0].QuotedFileContent.Value)

	require.NoError(t, d.CreateReply(ctx, "copy1", id, c.Replies[0]))
	require.Len(t, replies, 1)
	assert.Equal(t, "Done", replies[0].Content)
	assert.Equal(t, "resolve", replies[0].Action)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			apiError(w, http.StatusServiceUnavailable, "backendError")
		case 2:
			apiError(w, http.StatusForbidden, "userRateLimitExceeded")
		default:
			writeJSON(w, http.StatusOK, map[string]string{"id": "folder1"})
		}
	})
	d := newTestDrive(t, mux)

	id, err := d.CreateFolder(context.Background(), "Reports", "dst")
	require.NoError(t, err)
	assert.Equal(t, "folder1", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /drive/v3/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		apiError(w, http.StatusNotFound, "notFound")
	})
	d := newTestDrive(t, mux)

	err := d.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, err, drivemover.ErrNotFound)
	assert.Equal(t, "notFound", drivemover.ErrorKind(err))

	var apiErr *drivemover.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Code)
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /drive/v3/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		apiError(w, http.StatusForbidden, "rateLimitExceeded")
	})
	d := newTestDrive(t, mux)

	err := d.Delete(context.Background(), "f1")
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())

	assert.Contains(t, err.Error(), "failed after 4 attempts")
	assert.Equal(t, "rateLimitExceeded", drivemover.ErrorKind(err))
	assert.NotErrorIs(t, err, drivemover.ErrPermissionDenied)
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"500", &googleapi.Error{Code: 500}, true},
		{"502", &googleapi.Error{Code: 502}, true},
		{"429", &googleapi.Error{Code: 429}, true},
		{"rate limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, true},
		{"user rate limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, true},
		{"forbidden", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "insufficientFilePermissions"}}}, false},
		{"not found", &googleapi.Error{Code: 404}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, shouldRetry(tc.err), tc.name)
	}
}

func TestPacerStopsOnCancel(t *testing.T) {
	p := NewPacer(0, 1, RetryConfig{MaxRetries: 10, InitialDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.Call(ctx, func() error {
		calls++
		cancel()
		return &googleapi.Error{Code: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10.0, cfg.RequestsPerSecond)

	cfg.TokenFile = "token.json"
	assert.ErrorIs(t, cfg.Validate(), ErrTokenNeedsCredentials)

	cfg = DefaultConfig()
	cfg.MaxRetries = -1
	assert.Error(t, cfg.Validate())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DRIVEMOVER_GDRIVE_CREDENTIALS", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/keys/sa.json")
	t.Setenv("DRIVEMOVER_GDRIVE_SUBJECT", "admin@example.com")
	t.Setenv("DRIVEMOVER_GDRIVE_QPS", "2.5")

	cfg := ConfigFromEnv()
	assert.Equal(t, "/keys/sa.json", cfg.CredentialsFile)
	assert.Equal(t, "admin@example.com", cfg.Subject)
	assert.Equal(t, 2.5, cfg.RequestsPerSecond)
}

func TestTokenSourceFromUserToken(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "client_secret.json")
	require.NoError(t, os.WriteFile(secret, []byte(`{"installed":{
		"client_id":"id.apps.googleusercontent.com",
		"client_secret":"shh",
		"redirect_uris":["http://localhost"],
		"auth_uri":"https://accounts.google.com/o/oauth2/auth",
		"token_uri":"https://oauth2.googleapis.com/token"}}`), 0600))
	token := filepath.Join(dir, "token.json")
	expiry := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, os.WriteFile(token, []byte(`{"access_token":"at","token_type":"Bearer","refresh_token":"rt","expiry":"`+expiry+`"}`), 0600))

	ts, err := Config{CredentialsFile: secret, TokenFile: token}.TokenSource(context.Background())
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
}

func TestTokenSourceErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Config{CredentialsFile: filepath.Join(dir, "missing.json")}.TokenSource(context.Background())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"type":"authorized_user"}`), 0600))
	_, err = Config{CredentialsFile: bad}.TokenSource(context.Background())
	assert.Error(t, err)
}
