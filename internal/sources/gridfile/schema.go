package gridfile

// File is the on-disk grid list: a map from grid key to entry. Both the
// shipped fallback list and the user-editable list use this shape.
type File map[string]Entry

// Entry mirrors one grid definition as persisted. Field names follow the
// historical grid-list format so hand-edited files keep working.
type Entry struct {
	KeyName          string   `yaml:"keyname"`
	Label            string   `yaml:"label,omitempty"`
	Nickname         string   `yaml:"gridnick,omitempty"`
	LoginID          string   `yaml:"grid_login_id,omitempty"`
	LoginURIs        []string `yaml:"login_uri,omitempty"`
	HelperURI        string   `yaml:"helper_uri,omitempty"`
	LoginPage        string   `yaml:"login_page,omitempty"`
	UpdateServiceURL string   `yaml:"update_query_url_base,omitempty"`
	SlurlBase        string   `yaml:"slurl_base,omitempty"`
	AppSlurlBase     string   `yaml:"app_slurl_base,omitempty"`

	Gatekeeper   string `yaml:"gatekeeper,omitempty"`
	RegisterPage string `yaml:"register,omitempty"`
	PasswordPage string `yaml:"password,omitempty"`
	HelpPage     string `yaml:"help,omitempty"`
	AboutPage    string `yaml:"about,omitempty"`
	SearchPage   string `yaml:"search,omitempty"`
	ProfileURI   string `yaml:"profileuri,omitempty"`
	Platform     string `yaml:"platform,omitempty"`
	Message      string `yaml:"message,omitempty"`

	SendGridInfoToViewer bool `yaml:"send_grid_info_to_viewer,omitempty"`
	DirectoryFee         bool `yaml:"directory_fee,omitempty"`

	LoginIdentifierTypes []string `yaml:"login_identifier_types,omitempty"`

	// LastModified is RFC 3339. Absent on fallback-sourced entries;
	// that absence is what makes them lose every merge.
	LastModified string `yaml:"LastModified,omitempty"`

	UserDeleted bool `yaml:"user_deleted,omitempty"`
	Deprecated  bool `yaml:"deprecated,omitempty"`
	Hypergrid   bool `yaml:"hypergrid,omitempty"`
}
