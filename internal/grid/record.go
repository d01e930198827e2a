package grid

import "time"

// Credential identifier types a grid may accept at login.
const (
	CredIdentifierAgent   = "agent"
	CredIdentifierAccount = "account"
)

// Platform tags derived from the resolved login authority.
const (
	PlatformSecondLife = "SecondLife"
	PlatformOpenSim    = "OpenSim"
)

// Well-known endpoints of the operator's own grids. These are compiled in
// and never loaded from a modifiable file, so an attacker cannot repoint
// the default grid by editing the grid list on disk.
const (
	MainGridKey            = "util.agni.lindenlab.com"
	BetaGridKey            = "util.aditi.lindenlab.com"
	MainGridLoginURI       = "https://login.agni.lindenlab.com/cgi-bin/login.cgi"
	MainGridLoginAuthority = "login.agni.lindenlab.com"
	TrustedOperatorDomain  = "lindenlab.com"

	DefaultLoginPage        = "http://viewer-login.agni.lindenlab.com/"
	DefaultUpdateServiceURL = "https://update.secondlife.com/update"

	MainGridSlurlBase      = "http://maps.secondlife.com/secondlife/"
	SystemGridSlurlBase    = "secondlife://%s/secondlife/"
	SystemGridAppSlurlBase = "secondlife:///app"
	DefaultHopBase         = "hop://%s/"
	DefaultAppSlurlBase    = "x-grid-location-info://%s/app"
)

// Record is the canonical description of one grid: the set of service
// endpoints needed to log in and operate there, plus merge metadata.
//
// A Record is uniquely identified by Key, the lowercased hostname (or
// host:port) the grid answers as.
type Record struct {
	// Key is the canonical lowercase identifier and the registry map key.
	Key string

	// Label is the human-readable display name. Defaults to Key.
	Label string

	// Nickname is a short case-insensitive alias used for command-line
	// and UI matching. Defaults to Key.
	Nickname string

	// LoginID is the identifier used on the --grid command line argument.
	LoginID string

	// LoginURIs is the ordered list of login endpoints; the first entry
	// is primary. An empty list means resolution is pending or failed.
	LoginURIs []string

	// HelperURI is the economy/helper service base.
	HelperURI string

	// LoginPage is the splash page shown before login.
	LoginPage string

	// UpdateServiceURL is the base for update-check queries.
	UpdateServiceURL string

	// SlurlBase and AppSlurlBase are templates for building location links.
	SlurlBase    string
	AppSlurlBase string

	// Optional service links advertised by the grid-info document.
	Gatekeeper   string
	RegisterPage string
	PasswordPage string
	HelpPage     string
	AboutPage    string
	SearchPage   string
	ProfileURI   string

	// Platform is the simulator platform tag reported by the grid.
	Platform string

	// Message is the grid's message of the day.
	Message string

	SendGridInfoToViewer bool
	DirectoryFee         bool

	// LoginIdentifierTypes lists the credential forms the grid accepts.
	LoginIdentifierTypes []string

	// IsSystemGrid is true only for the compiled-in trusted grids.
	// It is never settable by network or user data.
	IsSystemGrid bool

	// LastModified distinguishes provenance: user- and remote-sourced
	// records carry a timestamp, shipped fallback records do not.
	// A record without one always loses a merge against one with.
	LastModified *time.Time

	// MarkedDeleted is the user-removal tombstone. Tombstones are kept
	// so a fallback re-merge cannot resurrect a removed grid.
	MarkedDeleted bool

	// DeprecatedFallback marks an entry the shipped fallback list
	// retired. Such keys reject any later upsert.
	DeprecatedFallback bool

	// IsTemporary marks speculatively fetched records that must never
	// be persisted.
	IsTemporary bool

	// IsHypergrid is set when a region suffix was trimmed off the key.
	IsHypergrid bool

	// LastHTTPError records the last failed fetch status for the
	// user-facing failure message.
	LastHTTPError string
}

// Clone returns a deep copy. Registry readers always get clones so no
// caller can observe a half-updated record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.LoginURIs != nil {
		c.LoginURIs = append([]string(nil), r.LoginURIs...)
	}
	if r.LoginIdentifierTypes != nil {
		c.LoginIdentifierTypes = append([]string(nil), r.LoginIdentifierTypes...)
	}
	if r.LastModified != nil {
		t := *r.LastModified
		c.LastModified = &t
	}
	return &c
}

// Resolved reports whether the record carries at least one login URI.
func (r *Record) Resolved() bool {
	return len(r.LoginURIs) > 0
}

// PrimaryLoginURI returns the first login URI, or "" when unresolved.
func (r *Record) PrimaryLoginURI() string {
	if len(r.LoginURIs) == 0 {
		return ""
	}
	return r.LoginURIs[0]
}

// DisplayLabel returns the label, falling back to the key.
func (r *Record) DisplayLabel() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Key
}

// Tombstone builds a user-deletion marker for key. The timestamp matters:
// it makes the tombstone newer than any fallback entry, so re-merging the
// shipped list cannot bring the grid back.
func Tombstone(key string) *Record {
	now := time.Now()
	return &Record{
		Key:           key,
		MarkedDeleted: true,
		LastModified:  &now,
	}
}

// SystemGrids returns the compiled table of operator-trusted grids.
// Seeded once at startup; immutable thereafter.
func SystemGrids() []*Record {
	return []*Record{
		{
			Key:                  MainGridKey,
			Label:                "Second Life Main Grid (Agni)",
			Nickname:             "Agni",
			LoginID:              "Agni",
			LoginURIs:            []string{MainGridLoginURI},
			HelperURI:            "https://secondlife.com/helpers/",
			LoginPage:            DefaultLoginPage,
			UpdateServiceURL:     DefaultUpdateServiceURL,
			SlurlBase:            MainGridSlurlBase,
			AppSlurlBase:         SystemGridAppSlurlBase,
			LoginIdentifierTypes: []string{CredIdentifierAgent},
			Platform:             PlatformSecondLife,
			IsSystemGrid:         true,
		},
		{
			Key:                  BetaGridKey,
			Label:                "Second Life Beta Test Grid (Aditi)",
			Nickname:             "Aditi",
			LoginID:              "Aditi",
			LoginURIs:            []string{"https://login.aditi.lindenlab.com/cgi-bin/login.cgi"},
			HelperURI:            "http://aditi-secondlife.webdev.lindenlab.com/helpers/",
			LoginPage:            DefaultLoginPage,
			UpdateServiceURL:     DefaultUpdateServiceURL,
			SlurlBase:            "secondlife://Aditi/secondlife/",
			AppSlurlBase:         SystemGridAppSlurlBase,
			LoginIdentifierTypes: []string{CredIdentifierAgent},
			Platform:             PlatformSecondLife,
			IsSystemGrid:         true,
		},
	}
}
