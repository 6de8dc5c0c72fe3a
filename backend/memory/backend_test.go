package memory

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/grokify/drivemover"
)

func writeObject(t *testing.T, b *Backend, p, content string, opts ...drivemover.WriterOption) {
	t.Helper()
	w, err := b.NewWriter(context.Background(), p, opts...)
	if err != nil {
		t.Fatalf("NewWriter(%q) failed: %v", p, err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func readObject(t *testing.T, b *Backend, p string) string {
	t.Helper()
	r, err := b.NewReader(context.Background(), p)
	if err != nil {
		t.Fatalf("NewReader(%q) failed: %v", p, err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return string(data)
}

func TestWriteRead(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	writeObject(t, backend, "checkpoints/abc.json", `{"errors":[]}`, drivemover.WithContentType("application/json"))

	if got := readObject(t, backend, "checkpoints/abc.json"); got != `{"errors":[]}` {
		t.Errorf("Read data = %q", got)
	}
	if ct, _ := backend.ContentType("checkpoints/abc.json"); ct != "application/json" {
		t.Errorf("ContentType = %q, want application/json", ct)
	}
	if _, ok := backend.ModTime("checkpoints/abc.json"); !ok {
		t.Error("ModTime not recorded")
	}
}

func TestWriterVisibleOnClose(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	ctx := context.Background()

	w, err := backend.NewWriter(ctx, "pending.json")
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	_, _ = w.Write([]byte("partial"))

	if exists, _ := backend.Exists(ctx, "pending.json"); exists {
		t.Error("object visible before Close")
	}
	_ = w.Close()
	if exists, _ := backend.Exists(ctx, "pending.json"); !exists {
		t.Error("object missing after Close")
	}
}

func TestNewReaderNotFound(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	_, err := backend.NewReader(context.Background(), "nonexistent.json")
	if !errors.Is(err, drivemover.ErrNotFound) {
		t.Errorf("NewReader error = %v, want ErrNotFound", err)
	}
}

func TestExistsDelete(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	ctx := context.Background()

	if exists, err := backend.Exists(ctx, "a.json"); err != nil || exists {
		t.Fatalf("Exists = %v, %v before write", exists, err)
	}
	writeObject(t, backend, "a.json", "{}")
	if exists, err := backend.Exists(ctx, "a.json"); err != nil || !exists {
		t.Fatalf("Exists = %v, %v after write", exists, err)
	}

	if err := backend.Delete(ctx, "a.json"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if exists, _ := backend.Exists(ctx, "a.json"); exists {
		t.Error("object should not exist after delete")
	}
	if err := backend.Delete(ctx, "a.json"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestList(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	for _, p := range []string{"checkpoints/b.json", "checkpoints/a.json.gz", "reports/a.ndjson"} {
		writeObject(t, backend, p, "x")
	}

	all, err := backend.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List returned %d paths, want 3", len(all))
	}

	got, err := backend.List(context.Background(), "checkpoints")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"checkpoints/a.json.gz", "checkpoints/b.json"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClose(t *testing.T) {
	backend := New()
	ctx := context.Background()

	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := backend.NewWriter(ctx, "a.json"); err != drivemover.ErrBackendClosed {
		t.Errorf("NewWriter after Close error = %v, want ErrBackendClosed", err)
	}
	if _, err := backend.NewReader(ctx, "a.json"); err != drivemover.ErrBackendClosed {
		t.Errorf("NewReader after Close error = %v, want ErrBackendClosed", err)
	}
	if _, err := backend.Exists(ctx, "a.json"); err != drivemover.ErrBackendClosed {
		t.Errorf("Exists after Close error = %v, want ErrBackendClosed", err)
	}
	if err := backend.Delete(ctx, "a.json"); err != drivemover.ErrBackendClosed {
		t.Errorf("Delete after Close error = %v, want ErrBackendClosed", err)
	}
	if _, err := backend.List(ctx, ""); err != drivemover.ErrBackendClosed {
		t.Errorf("List after Close error = %v, want ErrBackendClosed", err)
	}
}

func TestContextCancellation(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := backend.NewWriter(ctx, "a.json"); err != context.Canceled {
		t.Errorf("NewWriter error = %v, want context.Canceled", err)
	}
	if _, err := backend.NewReader(ctx, "a.json"); err != context.Canceled {
		t.Errorf("NewReader error = %v, want context.Canceled", err)
	}
	if err := backend.Delete(ctx, "a.json"); err != context.Canceled {
		t.Errorf("Delete error = %v, want context.Canceled", err)
	}
	if _, err := backend.List(ctx, ""); err != context.Canceled {
		t.Errorf("List error = %v, want context.Canceled", err)
	}
}

func TestValidatePath(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	ctx := context.Background()

	for _, p := range []string{"", "../escape.json"} {
		if _, err := backend.NewWriter(ctx, p); err != drivemover.ErrInvalidPath {
			t.Errorf("NewWriter(%q) error = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestPathNormalization(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	writeObject(t, backend, "/checkpoints/./k.json", "test")
	if got := readObject(t, backend, "checkpoints/k.json"); got != "test" {
		t.Errorf("Data = %q, want %q", got, "test")
	}
}

func TestWriterReaderClosed(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	ctx := context.Background()

	w, _ := backend.NewWriter(ctx, "a.json")
	_ = w.Close()
	if _, err := w.Write([]byte("x")); err != drivemover.ErrWriterClosed {
		t.Errorf("Write after Close error = %v, want ErrWriterClosed", err)
	}

	r, _ := backend.NewReader(ctx, "a.json")
	_ = r.Close()
	if _, err := r.Read(make([]byte, 4)); err != drivemover.ErrReaderClosed {
		t.Errorf("Read after Close error = %v, want ErrReaderClosed", err)
	}
}

func TestRegistry(t *testing.T) {
	backend, err := drivemover.Open("memory", nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = backend.Close() }()

	if _, ok := backend.(*Backend); !ok {
		t.Errorf("Open returned %T, want *memory.Backend", backend)
	}
}
