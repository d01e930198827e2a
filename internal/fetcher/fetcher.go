package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openviewer/gridman/internal/grid"
	"github.com/openviewer/gridman/internal/logger"
	"github.com/openviewer/gridman/internal/utils"
)

// State of one grid resolution attempt.
type State int

const (
	// StateFetch issues the structured get_grid_info request.
	StateFetch State = iota
	// StateRetry is the single allowed re-fetch after a gateway timeout.
	StateRetry
	// StateTryLegacy probes the legacy CGI login endpoint for
	// reachability after the info fetch failed.
	StateTryLegacy
	// StateLocal marks a grid on the local machine; it still fetches,
	// but a 500 response is accepted as "exists".
	StateLocal
	// StateSystem short-circuits to the synthetic finalize without any
	// network round trip.
	StateSystem
	// StateFinish is the success terminal.
	StateFinish
	// StateFail is the failure terminal; the provisional record is
	// discarded.
	StateFail
)

func (s State) String() string {
	switch s {
	case StateFetch:
		return "fetch"
	case StateRetry:
		return "retry"
	case StateTryLegacy:
		return "try-legacy"
	case StateLocal:
		return "local"
	case StateSystem:
		return "system"
	case StateFinish:
		return "finish"
	case StateFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ErrInvalidToken is returned when a grid token fails the character-set
// validator. No network activity happens for such tokens.
var ErrInvalidToken = errors.New("invalid grid token")

// maxInfoBytes caps how much of a grid info response is read. The
// document is a handful of short elements; anything larger is garbage.
const maxInfoBytes = 1 << 20

// Doer is the injected HTTP transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Notifier receives user-facing resolution messages (the login UI
// collaborator). Errors never propagate past it.
type Notifier interface {
	Notify(gridKey, reason string)
}

// Sink receives finished resolutions. The selector implements it and
// routes records into the registry.
type Sink interface {
	GridResolved(rec *grid.Record, setCurrent bool)
	GridFailed(key string)
}

// Request asks for one grid to be resolved.
type Request struct {
	// Record is the provisional record; Key is required. Re-fetches
	// should seed it from the existing registry entry so a 304 response
	// can finish with the cached data unchanged.
	Record *grid.Record
	// SetCurrent selects the grid once resolution succeeds.
	SetCurrent bool
	// Temporary marks the result as never-persisted (speculative
	// fetches made while only building a display string).
	Temporary bool
}

// Result reports the terminal state of a resolution.
type Result struct {
	Record *grid.Record
	State  State
	Err    error
}

type queued struct {
	ctx        context.Context
	rec        *grid.Record
	setCurrent bool
	seed       State
	done       chan Result
}

type flight struct {
	next *queued // at most one pending follower; the latest wins
}

// Fetcher drives the asynchronous multi-stage grid resolution protocol.
// Resolutions for distinct keys run concurrently; per key at most one
// fetch is outstanding, so a stale result can never overwrite a newer
// one.
type Fetcher struct {
	mu       sync.Mutex
	inflight map[string]*flight

	client   Doer
	notifier Notifier
	sink     Sink
	logger   logger.Logger
	timeout  time.Duration

	localHostname string
}

// New creates a fetcher. The sink must be bound via SetSink before the
// first Resolve call.
func New(client Doer, notifier Notifier, log logger.Logger, timeout time.Duration) *Fetcher {
	hostname, _ := os.Hostname()
	return &Fetcher{
		inflight:      make(map[string]*flight),
		client:        client,
		notifier:      notifier,
		logger:        log,
		timeout:       timeout,
		localHostname: strings.ToLower(hostname),
	}
}

// SetSink binds the resolution sink. Separate from New because the
// selector and the fetcher reference each other.
func (f *Fetcher) SetSink(s Sink) {
	f.sink = s
}

// Resolve starts (or queues) an asynchronous resolution for req. The
// returned channel receives exactly one Result. Token validation happens
// synchronously; invalid tokens fail without touching the network.
func (f *Fetcher) Resolve(ctx context.Context, req Request) <-chan Result {
	done := make(chan Result, 1)

	rec := req.Record.Clone()
	seed, err := f.prepare(rec, req.Temporary)
	if err != nil {
		f.notifier.Notify(rec.Key, "invalid grid identifier")
		f.logger.Warn("rejecting invalid grid token", logger.String("token", req.Record.Key))
		done <- Result{Record: rec, State: StateFail, Err: err}
		return done
	}

	f.mu.Lock()
	if fl, ok := f.inflight[rec.Key]; ok {
		// A fetch for this key is already running: queue behind it
		// instead of racing it. Only the latest follower is kept.
		if fl.next != nil {
			fl.next.done <- Result{Record: fl.next.rec, State: StateFail, Err: errors.New("superseded by a newer request")}
		}
		fl.next = &queued{ctx: ctx, rec: rec, setCurrent: req.SetCurrent, seed: seed, done: done}
		f.mu.Unlock()
		return done
	}
	f.inflight[rec.Key] = &flight{}
	f.mu.Unlock()

	go f.run(ctx, rec, req.SetCurrent, seed, done)
	return done
}

func (f *Fetcher) run(ctx context.Context, rec *grid.Record, setCurrent bool, seed State, done chan Result) {
	key := rec.Key
	res := f.resolve(ctx, rec, seed)

	if res.State == StateFinish {
		f.sink.GridResolved(res.Record, setCurrent)
	} else {
		f.sink.GridFailed(res.Record.Key)
	}
	done <- res

	f.mu.Lock()
	fl := f.inflight[key]
	var next *queued
	if fl != nil {
		next = fl.next
	}
	if next != nil {
		f.inflight[key] = &flight{}
	} else {
		delete(f.inflight, key)
	}
	f.mu.Unlock()

	if next != nil {
		f.run(next.ctx, next.rec, next.setCurrent, next.seed, next.done)
	}
}

// prepare validates and normalizes the requested key and picks the seed
// state: trusted-operator hosts synthesize without fetching, local hosts
// fetch with relaxed error handling, everything else fetches normally.
func (f *Fetcher) prepare(rec *grid.Record, temporary bool) (State, error) {
	key := strings.ToLower(strings.TrimSpace(rec.Key))
	if key == "" {
		return StateFail, errors.New("empty grid key")
	}
	if !grid.ValidToken(key) {
		return StateFail, ErrInvalidToken
	}

	key = grid.StripScheme(key)
	key = grid.TrimTrailingSlash(key)
	if trimmed, hg := grid.TrimHypergrid(key); hg {
		key = trimmed
		rec.IsHypergrid = true
	}
	rec.Key = key
	if temporary {
		rec.IsTemporary = true
	}

	if grid.TrustedOperatorHost(grid.Authority("http://" + key)) {
		return StateSystem, nil
	}

	// Seed a provisional login URI so even a grid that never answers a
	// structured info request has something to finalize with. A
	// re-fetch keeps whatever the registry already knows.
	if len(rec.LoginURIs) == 0 {
		rec.LoginURIs = []string{"http://" + key}
	}

	if f.isLocal(key) {
		return StateLocal, nil
	}
	return StateFetch, nil
}

func (f *Fetcher) isLocal(key string) bool {
	if strings.Contains(key, "127.0.0.1") || strings.Contains(key, "localhost") {
		return true
	}
	return f.localHostname != "" && strings.Contains(key, f.localHostname)
}

func (f *Fetcher) resolve(ctx context.Context, rec *grid.Record, state State) Result {
	seed := state
	var failErr error

	for {
		switch state {
		case StateSystem:
			synthesizeEndpoints(rec)
			state = StateFinish

		case StateFetch, StateRetry, StateLocal:
			url := infoURL(rec.Key)
			f.logger.Debug("fetching grid info",
				logger.String("key", rec.Key),
				logger.String("url", url),
				logger.String("state", state.String()))
			status, body, err := f.get(ctx, url, rec.LastModified)
			state = f.handleInfoResponse(rec, state, seed, status, body, err, &failErr)

		case StateTryLegacy:
			url := legacyURL(rec.Key)
			f.logger.Warn("no grid info found, probing legacy login endpoint",
				logger.String("key", rec.Key),
				logger.String("url", url))
			status, _, err := f.get(ctx, url, nil)
			if err == nil && status == http.StatusOK {
				// The host answers the legacy CGI endpoint: treat it as
				// a legacy grid and synthesize default endpoints in
				// place of the provisional ones.
				rec.LoginURIs = nil
				state = StateSystem
				break
			}
			reason := fmt.Sprintf("server didn't provide grid info: %s; please check if the login uri is correct", rec.LastHTTPError)
			f.notifier.Notify(rec.Key, reason)
			failErr = fmt.Errorf("grid unreachable: %s", rec.LastHTTPError)
			state = StateFail

		case StateFinish:
			f.finalize(rec)
			f.logger.Info("grid resolved",
				logger.String("key", rec.Key),
				logger.String("login_uri", rec.PrimaryLoginURI()))
			return Result{Record: rec, State: StateFinish}

		case StateFail:
			f.logger.Warn("grid resolution failed",
				logger.String("key", rec.Key),
				logger.Error(failErr))
			return Result{Record: rec, State: StateFail, Err: failErr}
		}
	}
}

// handleInfoResponse maps one info-endpoint response onto the next
// state. seed is the state the resolution started in; it decides the
// local-grid 500 special case.
func (f *Fetcher) handleInfoResponse(rec *grid.Record, state, seed State, status int, body []byte, err error, failErr *error) State {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && state == StateFetch {
			// gateway timeout, retry once
			return StateRetry
		}
		rec.LastHTTPError = err.Error()
		return StateTryLegacy
	}

	switch {
	case status == http.StatusOK:
		if perr := ParseGridInfo(body, rec); perr != nil {
			f.notifier.Notify(rec.Key, "server provided broken grid info xml")
			*failErr = perr
			return StateFail
		}
		return StateFinish

	case status == http.StatusNotModified:
		// cached record still valid, finish with it unchanged
		return StateFinish

	case status == http.StatusInternalServerError && seed == StateLocal:
		// a local dev grid may answer 500 yet still exist
		return StateFinish

	case status == http.StatusGatewayTimeout && state == StateFetch:
		return StateRetry

	default:
		rec.LastHTTPError = fmt.Sprintf("%d %s", status, http.StatusText(status))
		return StateTryLegacy
	}
}

func (f *Fetcher) get(ctx context.Context, url string, lastModified *time.Time) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	if lastModified != nil {
		req.Header.Set("If-Modified-Since", lastModified.UTC().Format(http.TimeFormat))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer utils.Close(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInfoBytes))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// synthesizeEndpoints default-populates the endpoints of a grid that
// has no structured info document, without clobbering known fields.
func synthesizeEndpoints(rec *grid.Record) {
	if len(rec.LoginURIs) == 0 {
		rec.LoginURIs = []string{"https://" + rec.Key + "/cgi-bin/login.cgi"}
	}
	if rec.LoginPage == "" {
		rec.LoginPage = "http://" + rec.Key + "/app/login/"
	}
	if rec.HelperURI == "" {
		rec.HelperURI = "https://" + rec.Key + "/helpers/"
	}
	if rec.LastModified == nil {
		now := time.Now()
		rec.LastModified = &now
	}
}

// finalize normalizes a successfully resolved record before it is handed
// to the registry. The key becomes the authority of the primary login
// URI: the grid is named after what the service answers as, not what the
// user happened to type.
func (f *Fetcher) finalize(rec *grid.Record) {
	if auth := grid.Authority(rec.PrimaryLoginURI()); auth != "" && auth != rec.Key && !rec.MarkedDeleted {
		trimmed, hg := grid.TrimHypergrid(auth)
		if hg {
			rec.IsHypergrid = true
		}
		rec.Key = trimmed
	}

	if rec.Label == "" {
		rec.Label = rec.Key
	}
	if rec.Nickname == "" {
		rec.Nickname = rec.Key
	}
	if len(rec.LoginIdentifierTypes) == 0 && !rec.MarkedDeleted {
		// grids that haven't been configured otherwise accept both
		// credential forms
		rec.LoginIdentifierTypes = []string{grid.CredIdentifierAgent, grid.CredIdentifierAccount}
	}
	if rec.SlurlBase == "" {
		rec.SlurlBase = fmt.Sprintf(grid.DefaultHopBase, rec.Key)
	}
	if rec.AppSlurlBase == "" {
		rec.AppSlurlBase = fmt.Sprintf(grid.DefaultAppSlurlBase, rec.Key)
	}
}

func infoURL(key string) string {
	base := "http://" + key
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + "get_grid_info"
}

func legacyURL(key string) string {
	base := "https://" + key
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + "cgi-bin/login.cgi"
}
