package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/sink/memory"
)

func seededReader(t *testing.T, n int) *memory.Sink {
	t.Helper()
	m := memory.New(memory.Config{Capacity: 200})
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rec := core.TrapRecord{
			ID:            fmt.Sprintf("t%03d", i),
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			SourceAddress: "10.0.0.1",
			SourcePort:    162,
			SNMPVersion:   core.VersionV2c,
			Community:     "public",
			PDUKind:       core.PDUTrapV2,
			RequestInfo:   core.RequestInfo{V2: &core.TrapV2Info{RequestID: int64(i)}},
			VarBinds:      []core.VarBind{{OID: "1.3.6.1.2.1.1.3.0", Name: "1.3.6.1.2.1.1.3.0", Value: "TimeTicks(1)"}},
			FullHex:       "30 00",
		}
		if i%10 == 0 {
			rec.Diagnostics = "non-zero error-status 2"
		}
		require.NoError(t, m.Store(context.Background(), rec))
	}
	return m
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestIndexShowsNewestPage(t *testing.T) {
	s := New(Config{}, seededReader(t, 60))
	rr := get(t, s.Handler(), "/")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")

	body := rr.Body.String()
	assert.Equal(t, DefaultPageSize, strings.Count(body, `<td class="hex">`))
	assert.Contains(t, body, "2024-05-01 12:00:59")
	assert.NotContains(t, body, "2024-05-01 12:00:09")
	assert.Less(t, strings.Index(body, "12:00:59"), strings.Index(body, "12:00:58"))
}

func TestIndexEscapesContent(t *testing.T) {
	m := memory.New(memory.Config{})
	require.NoError(t, m.Store(context.Background(), core.TrapRecord{
		ID:            "x",
		SourceAddress: "10.0.0.9",
		SourcePort:    162,
		Community:     "<script>alert(1)</script>",
	}))

	body := get(t, New(Config{}, m).Handler(), "/").Body.String()
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestUnknownPath(t *testing.T) {
	rr := get(t, New(Config{}, seededReader(t, 1)).Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRefresh(t *testing.T) {
	s := New(Config{PageSize: 5}, seededReader(t, 20))
	rr := get(t, s.Handler(), "/refresh")
	require.Equal(t, http.StatusOK, rr.Code)

	var rows []Row
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 5)
	assert.Equal(t, "t019", rows[0].ID)
	assert.Equal(t, "10.0.0.1:162", rows[0].Location)
	assert.Equal(t, "RequestID: 19, ErrorStatus: 0, ErrorIndex: 0", rows[0].Request)
	assert.Equal(t, "1.3.6.1.2.1.1.3.0: TimeTicks(1)", rows[0].VarBind)
	assert.Equal(t, "2024-05-01 12:00:19", rows[0].Date)
}

func TestAPIFilterAndLimit(t *testing.T) {
	h := New(Config{}, seededReader(t, 50)).Handler()

	rr := get(t, h, "/api/traps?limit=3&filter="+urlEscape("has_diagnostics"))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, "has_diagnostics", resp.Filter)
	require.Len(t, resp.Traps, 3)
	assert.Equal(t, []string{"t040", "t030", "t020"}, []string{resp.Traps[0].ID, resp.Traps[1].ID, resp.Traps[2].ID})
}

func TestAPIBadRequests(t *testing.T) {
	h := New(Config{}, seededReader(t, 1)).Handler()

	for _, target := range []string{
		"/api/traps?limit=abc",
		"/api/traps?limit=-1",
		"/api/traps?filter=" + urlEscape("version =="),
	} {
		rr := get(t, h, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		assert.Contains(t, rr.Body.String(), "error", target)
	}
}

func TestNoReader(t *testing.T) {
	h := New(Config{}, nil).Handler()

	rr := get(t, h, "/refresh")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = get(t, h, "/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "no readable sink configured")
}

type countingReader struct {
	calls int
	err   error
}

func (c *countingReader) Recent(context.Context, int) ([]core.TrapRecord, error) {
	c.calls++
	return nil, c.err
}

func TestRecentIsCached(t *testing.T) {
	r := &countingReader{}
	h := New(Config{CacheTTL: time.Minute}, r).Handler()

	get(t, h, "/refresh")
	get(t, h, "/refresh")
	assert.Equal(t, 1, r.calls)

	uncached := &countingReader{}
	h = New(Config{}, uncached).Handler()
	get(t, h, "/refresh")
	get(t, h, "/refresh")
	assert.Equal(t, 2, uncached.calls)
}

func TestReaderErrorNotCached(t *testing.T) {
	r := &countingReader{err: errors.New("disk gone")}
	h := New(Config{CacheTTL: time.Minute}, r).Handler()

	rr := get(t, h, "/refresh")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "disk gone")
	get(t, h, "/refresh")
	assert.Equal(t, 2, r.calls)
}

func TestHealthz(t *testing.T) {
	rr := get(t, New(Config{}, nil).Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestStartStop(t *testing.T) {
	s := New(Config{Listen: "127.0.0.1:0"}, seededReader(t, 2))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")
}

func TestStartMissingCertificate(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{
		Listen:   "127.0.0.1:0",
		CertFile: filepath.Join(dir, "cert.pem"),
		KeyFile:  filepath.Join(dir, "key.pem"),
	}, nil)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS key pair")
	assert.Nil(t, s.Addr())
}

func urlEscape(s string) string {
	return strings.NewReplacer(" ", "%20", "=", "%3D", "&", "%26").Replace(s)
}
