package report

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grokify/drivemover"
	"github.com/grokify/drivemover/backend/memory"
)

var sample = []drivemover.MoveError{
	{File: []string{"Reports", "q1.xlsx"}, Error: "googleapi: Error 403: rateLimitExceeded"},
	{File: []string{"Reports"}, Error: "cannot create folder"},
	{File: []string{}, Error: "cannot list root"},
}

func TestPath(t *testing.T) {
	assert.Equal(t, "reports/abc.ndjson", Path("abc", drivemover.CompressionNone))
	assert.Equal(t, "reports/abc.ndjson.gz", Path("abc", drivemover.CompressionGzip))
	assert.Equal(t, "reports/abc.ndjson.zst", Path("abc", drivemover.CompressionZstd))
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, c := range []drivemover.Compression{drivemover.CompressionNone, drivemover.CompressionGzip, drivemover.CompressionZstd} {
		t.Run(string(c), func(t *testing.T) {
			b := memory.New()
			p := Path("key", c)

			require.NoError(t, WriteErrors(ctx, b, p, sample))

			got, err := ReadErrors(ctx, b, p)
			require.NoError(t, err)
			require.Len(t, got, len(sample))
			assert.Equal(t, sample[0], got[0])
			assert.Equal(t, "Reports", got[1].Path())
			assert.Empty(t, got[2].File)

			ct, ok := b.ContentType(p)
			require.True(t, ok)
			assert.Equal(t, c.ContentType("application/x-ndjson"), ct)
		})
	}
}

func TestPlainReportIsLineDelimited(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	p := Path("key", drivemover.CompressionNone)
	require.NoError(t, WriteErrors(ctx, b, p, sample[:2]))

	r, err := b.NewReader(ctx, p)
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, 4096)
	n, _ := r.Read(buf)

	want := `{"file":["Reports","q1.xlsx"],"error":"googleapi: Error 403: rateLimitExceeded"}` + "\n" +
		`{"file":["Reports"],"error":"cannot create folder"}` + "\n"
	assert.Equal(t, want, string(buf[:n]))
}

func TestEmptyReport(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	p := Path("key", drivemover.CompressionGzip)

	require.NoError(t, WriteErrors(ctx, b, p, nil))
	got, err := ReadErrors(ctx, b, p)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadMissing(t *testing.T) {
	_, err := ReadErrors(context.Background(), memory.New(), "reports/none.ndjson")
	assert.True(t, errors.Is(err, drivemover.ErrNotFound))
}
