package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openviewer/gridman/internal/grid"
	"github.com/openviewer/gridman/internal/logger"
)

// scriptedDoer answers requests from a per-URL-suffix queue of canned
// responses and records every URL it was asked for.
type scriptedDoer struct {
	mu      sync.Mutex
	scripts map[string][]scripted
	urls    []string
}

type scripted struct {
	status int
	body   string
	err    error
}

func newScriptedDoer() *scriptedDoer {
	return &scriptedDoer{scripts: make(map[string][]scripted)}
}

func (d *scriptedDoer) on(suffix string, responses ...scripted) {
	d.scripts[suffix] = append(d.scripts[suffix], responses...)
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	url := req.URL.String()
	d.urls = append(d.urls, url)
	for suffix, queue := range d.scripts {
		if strings.HasSuffix(url, suffix) && len(queue) > 0 {
			next := queue[0]
			d.scripts[suffix] = queue[1:]
			if next.err != nil {
				return nil, next.err
			}
			return &http.Response{
				StatusCode: next.status,
				Body:       io.NopCloser(bytes.NewReader([]byte(next.body))),
			}, nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func (d *scriptedDoer) requestCount(suffix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, u := range d.urls {
		if strings.HasSuffix(u, suffix) {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(gridKey, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, reason)
}

func (n *recordingNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.messages) == 0 {
		return ""
	}
	return n.messages[len(n.messages)-1]
}

type recordingSink struct {
	mu       sync.Mutex
	resolved []*grid.Record
	failed   []string
}

func (s *recordingSink) GridResolved(rec *grid.Record, setCurrent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resolved = append(s.resolved, rec)
}

func (s *recordingSink) GridFailed(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failed = append(s.failed, key)
}

func newTestFetcher(doer Doer) (*Fetcher, *recordingNotifier, *recordingSink) {
	notifier := &recordingNotifier{}
	sink := &recordingSink{}
	f := New(doer, notifier, logger.Nop(), 2*time.Second)
	f.SetSink(sink)
	return f, notifier, sink
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("resolution did not finish in time")
		return Result{}
	}
}

const exampleGridInfo = `<?xml version="1.0"?>
<gridinfo>
  <login>https://login.osgrid.example.org/</login>
  <gridname>Example OS Grid</gridname>
  <gridnick>osgrid</gridnick>
  <welcome>https://osgrid.example.org/welcome</welcome>
  <economy>https://osgrid.example.org/economy</economy>
  <platform>OpenSim</platform>
</gridinfo>`

func TestResolveFromGridInfo(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/get_grid_info", scripted{status: http.StatusOK, body: exampleGridInfo})
	f, _, sink := newTestFetcher(doer)

	res := await(t, f.Resolve(context.Background(), Request{
		Record: &grid.Record{Key: "https://osgrid.example.org/"},
	}))

	if res.State != StateFinish {
		t.Fatalf("State = %v, want %v (err: %v)", res.State, StateFinish, res.Err)
	}
	rec := res.Record
	if rec.Key != "login.osgrid.example.org" {
		t.Errorf("Key = %q, want the login authority %q", rec.Key, "login.osgrid.example.org")
	}
	if rec.PrimaryLoginURI() != "https://login.osgrid.example.org/" {
		t.Errorf("PrimaryLoginURI() = %q", rec.PrimaryLoginURI())
	}
	if rec.Label != "Example OS Grid" || rec.Nickname != "osgrid" {
		t.Errorf("Label/Nickname = %q/%q", rec.Label, rec.Nickname)
	}
	if rec.LoginPage != "https://osgrid.example.org/welcome" {
		t.Errorf("LoginPage = %q", rec.LoginPage)
	}
	if rec.HelperURI != "https://osgrid.example.org/economy" {
		t.Errorf("HelperURI = %q (economy alias not applied)", rec.HelperURI)
	}
	if rec.LastModified == nil {
		t.Error("LastModified not stamped on resolution")
	}
	if len(rec.LoginIdentifierTypes) != 2 {
		t.Errorf("LoginIdentifierTypes = %v, want both defaults", rec.LoginIdentifierTypes)
	}
	if len(sink.resolved) != 1 {
		t.Errorf("sink received %d resolutions, want 1", len(sink.resolved))
	}
}

func TestResolveRetriesOnceAfterGatewayTimeout(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/get_grid_info",
		scripted{status: http.StatusGatewayTimeout},
		scripted{status: http.StatusOK, body: exampleGridInfo},
	)
	f, _, _ := newTestFetcher(doer)

	res := await(t, f.Resolve(context.Background(), Request{
		Record: &grid.Record{Key: "osgrid.example.org"},
	}))

	if res.State != StateFinish {
		t.Fatalf("State = %v, want %v", res.State, StateFinish)
	}
	if got := doer.requestCount("/get_grid_info"); got != 2 {
		t.Errorf("info endpoint hit %d times, want 2", got)
	}
}

func TestResolveDoubleGatewayTimeoutFallsToLegacy(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/get_grid_info",
		scripted{status: http.StatusGatewayTimeout},
		scripted{status: http.StatusGatewayTimeout},
	)
	doer.on("/cgi-bin/login.cgi", scripted{status: http.StatusNotFound})
	f, notifier, _ := newTestFetcher(doer)

	res := await(t, f.Resolve(context.Background(), Request{
		Record: &grid.Record{Key: "osgrid.example.org"},
	}))

	if res.State != StateFail {
		t.Fatalf("State = %v, want %v", res.State, StateFail)
	}
	if got := doer.requestCount("/get_grid_info"); got != 2 {
		t.Errorf("info endpoint hit %d times, want exactly one retry", got)
	}
	if notifier.last() == "" {
		t.Error("failure produced no user-facing notification")
	}
}

func TestResolveLegacyGrid(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/get_grid_info", scripted{status: http.StatusServiceUnavailable})
	doer.on("/cgi-bin/login.cgi", scripted{status: http.StatusOK, body: "ok"})
	f, _, _ := newTestFetcher(doer)

	res := await(t, f.Resolve(context.Background(), Request{
		Record: &grid.Record{Key: "legacy.example.org"},
	}))

	if res.State != StateFinish {
		t.Fatalf("State = %v, want %v (err: %v)", res.State, StateFinish, res.Err)
	}
	rec := res.Record
	if got := rec.PrimaryLoginURI(); got != "https://legacy.example.org/cgi-bin/login.cgi" {
		t.Errorf("PrimaryLoginURI() = %q, want synthesized legacy endpoint", got)
	}
	if rec.LoginPage != "http://legacy.example.org/app/login/" {
		t.Errorf("LoginPage = %q", rec.LoginPage)
	}
	if rec.HelperURI != "https://legacy.example.org/helpers/" {
		t.Errorf("HelperURI = %q", rec.HelperURI)
	}
}

// A grid under local development may answer its info endpoint with 500
// and still be a perfectly good login target.
func TestResolveLocalGridServerErrorStillFinishes(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/get_grid_info", scripted{status: http.StatusInternalServerError})
	f, _, sink := newTestFetcher(doer)

	res := await(t, f.Resolve(context.Background(), Request{
		Record: &grid.Record{Key: "localhost:9000"},
	}))

	if res.State != StateFinish {
		t.Fatalf("State = %v, want %v (err: %v)", res.State, StateFinish, res.Err)
	}
	if got := res.Record.PrimaryLoginURI(); got != "http://localhost:9000" {
		t.Errorf("PrimaryLoginURI() = %q, want the provisional local endpoint", got)
	}
	if got := doer.requestCount("/get_grid_info"); got != 1 {
		t.Errorf("info endpoint hit %d times, want 1 (no retry, no legacy probe)", got)
	}
	if got := doer.requestCount("/cgi-bin/login.cgi"); got != 0 {
		t.Errorf("legacy endpoint hit %d times, want 0", got)
	}
	if len(sink.resolved) != 1 {
		t.Errorf("sink received %d resolutions, want 1", len(sink.resolved))
	}
}

// The same 500 from a remote grid is not forgiven; it falls through to
// the legacy probe.
func TestResolveRemoteGridServerErrorFallsToLegacy(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/get_grid_info", scripted{status: http.StatusInternalServerError})
	doer.on("/cgi-bin/login.cgi", scripted{status: http.StatusNotFound})
	f, _, _ := newTestFetcher(doer)

	res := await(t, f.Resolve(context.Background(), Request{
		Record: &grid.Record{Key: "osgrid.example.org"},
	}))

	if res.State != StateFail {
		t.Fatalf("State = %v, want %v", res.State, StateFail)
	}
	if got := doer.requestCount("/cgi-bin/login.cgi"); got != 1 {
		t.Errorf("legacy endpoint hit %d times, want 1", got)
	}
}

func TestResolveBrokenInfoDocumentFails(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/get_grid_info", scripted{status: http.StatusOK, body: "<gridinfo><login>unterminated"})
	f, notifier, sink := newTestFetcher(doer)

	res := await(t, f.Resolve(context.Background(), Request{
		Record: &grid.Record{Key: "broken.example.org"},
	}))

	if res.State != StateFail || res.Err == nil {
		t.Fatalf("State = %v, Err = %v, want failure with error", res.State, res.Err)
	}
	if !strings.Contains(notifier.last(), "broken grid info") {
		t.Errorf("notification = %q, want a broken-xml message", notifier.last())
	}
	if len(sink.failed) != 1 {
		t.Errorf("sink received %d failures, want 1", len(sink.failed))
	}
}

func TestResolveNotModifiedKeepsCachedRecord(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/get_grid_info", scripted{status: http.StatusNotModified})
	f, _, _ := newTestFetcher(doer)

	cachedAt := time.Now().Add(-time.Hour)
	res := await(t, f.Resolve(context.Background(), Request{
		Record: &grid.Record{
			Key:          "osgrid.example.org",
			Label:        "Cached OS Grid",
			LoginURIs:    []string{"https://osgrid.example.org/login"},
			LastModified: &cachedAt,
		},
	}))

	if res.State != StateFinish {
		t.Fatalf("State = %v, want %v", res.State, StateFinish)
	}
	if res.Record.Label != "Cached OS Grid" {
		t.Errorf("Label = %q, cached record was not kept", res.Record.Label)
	}
	if got := res.Record.PrimaryLoginURI(); got != "https://osgrid.example.org/login" {
		t.Errorf("PrimaryLoginURI() = %q, cached login uri was not kept", got)
	}
}

func TestResolveTrustedOperatorSkipsNetwork(t *testing.T) {
	doer := newScriptedDoer()
	f, _, _ := newTestFetcher(doer)

	res := await(t, f.Resolve(context.Background(), Request{
		Record: &grid.Record{Key: "util.foobar.lindenlab.com"},
	}))

	if res.State != StateFinish {
		t.Fatalf("State = %v, want %v", res.State, StateFinish)
	}
	if len(doer.urls) != 0 {
		t.Errorf("trusted-operator resolution made %d requests, want 0", len(doer.urls))
	}
	if got := res.Record.PrimaryLoginURI(); !strings.Contains(got, "lindenlab.com") {
		t.Errorf("PrimaryLoginURI() = %q", got)
	}
}

func TestResolveInvalidToken(t *testing.T) {
	doer := newScriptedDoer()
	f, _, _ := newTestFetcher(doer)

	res := await(t, f.Resolve(context.Background(), Request{
		Record: &grid.Record{Key: "bad token!"},
	}))

	if res.State != StateFail || res.Err == nil {
		t.Fatalf("State = %v, Err = %v, want validation failure", res.State, res.Err)
	}
	if len(doer.urls) != 0 {
		t.Errorf("invalid token made %d requests, want 0", len(doer.urls))
	}
}

func TestResolveNormalizesKey(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantKey string
		wantHG  bool
	}{
		{"scheme and slash stripped", "HTTP://Grid.Example.org/", "grid.example.org", false},
		{"hypergrid region trimmed", "grid.example.org:8002:lbsa plaza", "grid.example.org:8002", true},
		{"port kept", "grid.example.org:8002", "grid.example.org:8002", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _, _ := newTestFetcher(newScriptedDoer())
			rec := &grid.Record{Key: tt.token}
			if _, err := f.prepare(rec, false); err != nil {
				t.Fatalf("prepare(%q) error: %v", tt.token, err)
			}
			if rec.Key != tt.wantKey {
				t.Errorf("Key = %q, want %q", rec.Key, tt.wantKey)
			}
			if rec.IsHypergrid != tt.wantHG {
				t.Errorf("IsHypergrid = %v, want %v", rec.IsHypergrid, tt.wantHG)
			}
		})
	}
}

// A resolve arriving while one is in flight for the same key must wait
// for it; a third request supersedes the queued second one.
func TestResolveSerializesPerKey(t *testing.T) {
	release := make(chan struct{})
	doer := &blockingDoer{release: release}
	f, _, _ := newTestFetcher(doer)

	first := f.Resolve(context.Background(), Request{Record: &grid.Record{Key: "slow.example.org"}})
	second := f.Resolve(context.Background(), Request{Record: &grid.Record{Key: "slow.example.org"}})
	third := f.Resolve(context.Background(), Request{Record: &grid.Record{Key: "slow.example.org"}})

	res := await(t, second)
	if res.State != StateFail {
		t.Errorf("superseded request State = %v, want %v", res.State, StateFail)
	}

	close(release)
	if res := await(t, first); res.State != StateFinish {
		t.Errorf("first request State = %v, want %v (err: %v)", res.State, StateFinish, res.Err)
	}
	if res := await(t, third); res.State != StateFinish {
		t.Errorf("queued request State = %v, want %v (err: %v)", res.State, StateFinish, res.Err)
	}
}

// blockingDoer holds every request until released, then answers 200
// with a minimal info document.
type blockingDoer struct {
	release chan struct{}
}

func (d *blockingDoer) Do(req *http.Request) (*http.Response, error) {
	select {
	case <-d.release:
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(exampleGridInfo)),
	}, nil
}
