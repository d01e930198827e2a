package selector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openviewer/gridman/internal/fetcher"
	"github.com/openviewer/gridman/internal/grid"
	"github.com/openviewer/gridman/internal/logger"
	"github.com/openviewer/gridman/internal/registry"
	"github.com/openviewer/gridman/internal/settings"
	"github.com/openviewer/gridman/internal/sources/gridfile"
)

// Overrides are the command-line-equivalent endpoint overrides. Each
// takes precedence over the corresponding field of the selected record.
// LoginURI wins over GridChoice when both are set.
type Overrides struct {
	GridChoice       string
	LoginURI         string
	LoginPage        string
	HelperURI        string
	UpdateServiceURL string
}

// Selector is the public face of grid resolution: it resolves
// human-supplied tokens against the registry, lazily triggers the
// fetcher for unknown grids, and owns the single "currently selected
// grid" state.
type Selector struct {
	reg       *registry.Registry
	fetch     *fetcher.Fetcher
	settings  settings.Store
	overrides Overrides
	userFile  string
	logger    logger.Logger

	// Authenticated reports whether a login flow already succeeded;
	// selection is only meaningful pre-login. Nil means "not logged in".
	Authenticated func() bool

	// CacheWrite, when set, mirrors resolved records into the external
	// cache (best effort).
	CacheWrite func(rec *grid.Record)

	// CacheDelete, when set, evicts a removed grid from the external
	// cache so the entry cannot outlive its tombstone there.
	CacheDelete func(key string)

	mu           sync.Mutex
	current      string
	readyToLogin bool
	inFlagship   bool
	inBeta       bool
	inThirdParty bool
	platform     string
}

// New wires a selector and binds it as the fetcher's sink.
func New(reg *registry.Registry, f *fetcher.Fetcher, st settings.Store, ov Overrides, userFile string, log logger.Logger) *Selector {
	s := &Selector{
		reg:       reg,
		fetch:     f,
		settings:  st,
		overrides: ov,
		userFile:  userFile,
		logger:    log,
	}
	f.SetSink(s)
	return s
}

// Bootstrap seeds the registry from its three layered sources and
// applies the startup selection: login-URI override first, then
// grid-choice override, then the persisted last selection, then the
// flagship default.
func (s *Selector) Bootstrap(ctx context.Context, fallbackFile string) error {
	s.reg.SeedSystemGrids(grid.SystemGrids())

	if fallbackFile != "" {
		if err := s.mergeFile(fallbackFile, "fallback"); err != nil {
			return err
		}
	}
	if err := s.mergeFile(s.userFile, "user"); err != nil {
		return err
	}

	switch {
	case s.overrides.LoginURI != "":
		s.logger.Info("selecting grid from login uri override",
			logger.String("uri", s.overrides.LoginURI))
		s.SetGridChoice(ctx, s.overrides.LoginURI)
	case s.overrides.GridChoice != "":
		s.logger.Info("selecting grid from grid override",
			logger.String("grid", s.overrides.GridChoice))
		s.SetGridChoice(ctx, s.overrides.GridChoice)
	default:
		last := s.settings.GetString(settings.KeyCurrentGrid)
		if last == "" {
			last = grid.MainGridKey
		}
		s.logger.Info("selecting last used grid", logger.String("grid", last))
		s.SetGridChoice(ctx, last)
	}

	return nil
}

func (s *Selector) mergeFile(path, layer string) error {
	records, err := gridfile.NewLoader(path).LoadRecords()
	if err != nil {
		return fmt.Errorf("failed to load %s grid list: %w", layer, err)
	}
	for _, rec := range records {
		outcome := s.reg.Upsert(rec)
		s.logger.Debug("merged grid list entry",
			logger.String("layer", layer),
			logger.String("key", rec.Key),
			logger.String("outcome", outcome.String()))
	}
	if len(records) > 0 {
		s.logger.Info("merged grid list",
			logger.String("layer", layer),
			logger.Int("count", len(records)))
	}
	return nil
}

// SetGridChoice resolves token via exact key, nickname, label and
// hostname matching, in that order, and selects the result. Unknown
// tokens start an asynchronous fetch that selects the grid once it
// resolves. A no-op after a successful login.
func (s *Selector) SetGridChoice(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if s.Authenticated != nil && s.Authenticated() {
		s.logger.Debug("ignoring grid selection after successful login",
			logger.String("token", token))
		return
	}

	key := s.resolveToken(token)
	if key == "" {
		s.logger.Debug("unknown grid, fetching", logger.String("token", token))
		s.fetch.Resolve(ctx, fetcher.Request{
			Record:     &grid.Record{Key: token},
			SetCurrent: true,
		})
		return
	}

	s.mu.Lock()
	s.selectLocked(key)
	s.mu.Unlock()
}

// resolveToken maps a human-supplied token to a registry key, or "".
func (s *Selector) resolveToken(token string) string {
	if _, ok := s.reg.Lookup(strings.ToLower(token)); ok {
		return strings.ToLower(token)
	}
	if key := s.reg.KeyByNickname(token); key != "" {
		return key
	}
	if key := s.reg.KeyByLabel(token); key != "" {
		return key
	}
	if key := s.reg.KeyByHostname(token); key != "" {
		return key
	}
	return ""
}

// selectLocked makes key current and recomputes the trust flags.
// Callers hold s.mu.
func (s *Selector) selectLocked(key string) {
	s.current = key
	s.readyToLogin = true
	s.settings.SetString(settings.KeyCurrentGrid, key)
	s.logger.Info("grid selected", logger.String("key", key))
	s.updateTrustLocked()
}

// GridResolved implements fetcher.Sink: a finished resolution is merged
// into the registry, persisted, and optionally selected.
func (s *Selector) GridResolved(rec *grid.Record, setCurrent bool) {
	outcome := s.reg.Upsert(rec)
	s.logger.Debug("resolved grid merged",
		logger.String("key", rec.Key),
		logger.String("outcome", outcome.String()),
		logger.Bool("set_current", setCurrent))

	if outcome == registry.MergeChanged && !rec.IsTemporary {
		s.persist()
		if s.CacheWrite != nil {
			s.CacheWrite(rec)
		}
	}

	if setCurrent {
		if s.Authenticated != nil && s.Authenticated() {
			return
		}
		s.mu.Lock()
		s.selectLocked(rec.Key)
		s.mu.Unlock()
	}
}

// GridFailed implements fetcher.Sink. The provisional record was
// discarded by the fetcher; nothing reaches the registry.
func (s *Selector) GridFailed(key string) {
	s.logger.Warn("grid could not be resolved", logger.String("key", key))
}

func (s *Selector) persist() {
	if s.userFile == "" {
		return
	}
	if err := gridfile.Save(s.userFile, s.reg.PersistList()); err != nil {
		s.logger.Error("failed to persist grid list", logger.Error(err))
	}
}

// CurrentGrid returns the key of the selected grid, or "".
func (s *Selector) CurrentGrid() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current
}

// ReadyToLogin reports whether a resolved grid is selected.
func (s *Selector) ReadyToLogin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readyToLogin
}

func (s *Selector) currentRecord() *grid.Record {
	s.mu.Lock()
	key := s.current
	s.mu.Unlock()

	if key == "" {
		return nil
	}
	rec, ok := s.reg.Lookup(key)
	if !ok {
		return nil
	}
	return rec
}

// LoginURIs returns the selected grid's login endpoints; empty while
// unresolved.
func (s *Selector) LoginURIs() []string {
	rec := s.currentRecord()
	if rec == nil {
		return nil
	}
	uris := make([]string, 0, len(rec.LoginURIs))
	for _, u := range rec.LoginURIs {
		if u != "" {
			uris = append(uris, u)
		}
	}
	return uris
}

// HelperURI returns the economy/helper base of the selected grid,
// unless overridden.
func (s *Selector) HelperURI() string {
	if s.overrides.HelperURI != "" {
		return s.overrides.HelperURI
	}
	if rec := s.currentRecord(); rec != nil {
		return rec.HelperURI
	}
	return ""
}

// LoginPage returns the splash page of the selected grid, unless
// overridden. The override is attacker-reachable configuration; the
// trust classification guards against it claiming the wrong identity.
func (s *Selector) LoginPage() string {
	if s.overrides.LoginPage != "" {
		return s.overrides.LoginPage
	}
	if rec := s.currentRecord(); rec != nil {
		return rec.LoginPage
	}
	return ""
}

// UpdateServiceURL returns the update-check base. Order: explicit
// override, the operator default for trusted nicknames (so trusted-grid
// users always get update checks), then the record's own field.
func (s *Selector) UpdateServiceURL() string {
	if s.overrides.UpdateServiceURL != "" {
		return s.overrides.UpdateServiceURL
	}

	rec := s.currentRecord()
	if rec == nil {
		return ""
	}
	nick := strings.ToLower(rec.Nickname)
	if nick == "agni" || nick == "aditi" {
		return grid.DefaultUpdateServiceURL
	}
	if rec.UpdateServiceURL != "" {
		return rec.UpdateServiceURL
	}

	s.logger.Warn("no update service url configured for grid",
		logger.String("key", rec.Key))
	return ""
}

// KnownGrids returns key -> display label for every listable grid. The
// current grid is always included, even when temporary.
func (s *Selector) KnownGrids() map[string]string {
	out := make(map[string]string)
	for _, rec := range s.reg.All() {
		if rec.MarkedDeleted || rec.DeprecatedFallback {
			continue
		}
		out[rec.Key] = rec.DisplayLabel()
	}

	if rec := s.currentRecord(); rec != nil {
		out[rec.Key] = rec.DisplayLabel()
	}
	return out
}

// AddGrid resolves the grid behind loginURI and selects it on success.
func (s *Selector) AddGrid(ctx context.Context, loginURI string) <-chan fetcher.Result {
	return s.fetch.Resolve(ctx, fetcher.Request{
		Record:     &grid.Record{Key: loginURI},
		SetCurrent: true,
	})
}

// RemoveGrid tombstones key so a later fallback merge cannot resurrect
// it, and persists the change.
func (s *Selector) RemoveGrid(key string) bool {
	if !s.reg.Remove(key) {
		return false
	}
	s.persist()
	if s.CacheDelete != nil {
		s.CacheDelete(key)
	}
	return true
}

// ReFetchGrid re-runs resolution for a known grid, seeding the request
// from the current registry entry so a 304 finishes with cached data.
func (s *Selector) ReFetchGrid(ctx context.Context, key string, setCurrent bool) <-chan fetcher.Result {
	seed := &grid.Record{Key: key}
	if rec, ok := s.reg.Lookup(key); ok {
		seed = rec
	}
	return s.fetch.Resolve(ctx, fetcher.Request{
		Record:     seed,
		SetCurrent: setCurrent,
	})
}

// SLURLBase returns the location-link prefix for gridKey, fetching the
// grid speculatively (and temporarily) when it is unknown.
func (s *Selector) SLURLBase(ctx context.Context, gridKey string) string {
	key, _ := grid.TrimHypergrid(gridKey)
	if rec, ok := s.reg.Lookup(key); ok && rec.SlurlBase != "" {
		return rec.SlurlBase
	}

	s.fetch.Resolve(ctx, fetcher.Request{
		Record:    &grid.Record{Key: gridKey},
		Temporary: true,
	})
	return fmt.Sprintf(grid.DefaultHopBase, grid.TrimTrailingSlash(gridKey))
}

// AppSLURLBase returns the app-link prefix for gridKey.
func (s *Selector) AppSLURLBase(gridKey string) string {
	rec, ok := s.reg.Lookup(gridKey)
	if ok && rec.AppSlurlBase != "" {
		return rec.AppSlurlBase
	}

	base := grid.DefaultAppSlurlBase
	if ok && strings.HasPrefix(rec.SlurlBase, "hop://") {
		base = grid.DefaultHopBase + "app"
	}
	return fmt.Sprintf(base, grid.TrimTrailingSlash(gridKey))
}

// InFlagshipGrid reports whether the selected grid is the operator's
// main production grid.
func (s *Selector) InFlagshipGrid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inFlagship
}

// InBetaGrid reports whether the selected grid is an operator beta/test
// grid.
func (s *Selector) InBetaGrid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inBeta
}

// InThirdPartyGrid reports whether the selected grid is operated by a
// third party.
func (s *Selector) InThirdPartyGrid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inThirdParty
}

// PlatformTag returns the coarse platform classification of the
// selected grid.
func (s *Selector) PlatformTag() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.platform
}

// UpdateTrustClassification recomputes the trust flags from the
// resolved login authority of the current grid.
func (s *Selector) UpdateTrustClassification() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updateTrustLocked()
}

// updateTrustLocked classifies the current grid. The login URI, not the
// label or the splash page, decides trust: a splash page claiming the
// trusted operator while the login authority points elsewhere is a
// spoof attempt and forces reselection of the flagship grid instead of
// honoring the claim.
func (s *Selector) updateTrustLocked() {
	s.inFlagship = false
	s.inBeta = false
	s.inThirdParty = false
	s.platform = ""

	rec, ok := s.reg.Lookup(s.current)
	if !ok || !rec.Resolved() {
		s.logger.Debug("no login uri, no grid type set")
		return
	}

	authority := grid.Authority(strings.ToLower(rec.PrimaryLoginURI()))

	// Whole-label matching: "login.agni.lindenlab.com.evil.net" and
	// "agni.nastyfraud.com" must not classify as trusted.
	if grid.Host(authority) == grid.MainGridLoginAuthority {
		s.inFlagship = true
		s.platform = grid.PlatformSecondLife
		s.logger.Debug("selected grid classified as flagship",
			logger.String("authority", authority))
		return
	}
	if grid.TrustedOperatorHost(authority) {
		s.inBeta = true
		s.platform = grid.PlatformSecondLife
		s.logger.Debug("selected grid classified as operator beta",
			logger.String("authority", authority))
		return
	}

	// A trusted-operator login screen must connect to the trusted
	// operator. The splash page can come from an override, so a
	// mismatch here means someone is dressing a hostile endpoint in
	// trusted branding: reselect the flagship grid.
	loginPage := s.overrides.LoginPage
	if loginPage == "" {
		loginPage = rec.LoginPage
	}
	if grid.TrustedOperatorHost(grid.Authority(loginPage)) {
		s.logger.Warn("login page claims trusted operator but login uri does not, reselecting flagship grid",
			logger.String("authority", authority),
			logger.String("login_page", loginPage))
		s.selectLocked(grid.MainGridKey)
		return
	}

	s.inThirdParty = true
	s.platform = grid.PlatformOpenSim
	if rec.Platform != "" {
		s.platform = rec.Platform
	}
	s.logger.Debug("selected grid classified as third party",
		logger.String("authority", authority))
}
