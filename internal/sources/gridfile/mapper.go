package gridfile

import (
	"sort"
	"strings"
	"time"

	"github.com/openviewer/gridman/internal/grid"
)

// MapRecords converts a parsed grid file into domain records, in key
// order so merges are deterministic. Entries without a usable key are
// skipped.
func MapRecords(f File) []*grid.Record {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]*grid.Record, 0, len(keys))
	for _, k := range keys {
		e := f[k]
		key := strings.ToLower(e.KeyName)
		if key == "" {
			key = strings.ToLower(k)
		}
		if key == "" {
			continue
		}

		rec := &grid.Record{
			Key:                  key,
			Label:                e.Label,
			Nickname:             e.Nickname,
			LoginID:              e.LoginID,
			LoginURIs:            append([]string(nil), e.LoginURIs...),
			HelperURI:            e.HelperURI,
			LoginPage:            e.LoginPage,
			UpdateServiceURL:     e.UpdateServiceURL,
			SlurlBase:            e.SlurlBase,
			AppSlurlBase:         e.AppSlurlBase,
			Gatekeeper:           e.Gatekeeper,
			RegisterPage:         e.RegisterPage,
			PasswordPage:         e.PasswordPage,
			HelpPage:             e.HelpPage,
			AboutPage:            e.AboutPage,
			SearchPage:           e.SearchPage,
			ProfileURI:           e.ProfileURI,
			Platform:             e.Platform,
			Message:              e.Message,
			SendGridInfoToViewer: e.SendGridInfoToViewer,
			DirectoryFee:         e.DirectoryFee,
			LoginIdentifierTypes: append([]string(nil), e.LoginIdentifierTypes...),
			MarkedDeleted:        e.UserDeleted,
			DeprecatedFallback:   e.Deprecated,
			IsHypergrid:          e.Hypergrid,
		}

		if e.LastModified != "" {
			if t, err := time.Parse(time.RFC3339, e.LastModified); err == nil {
				rec.LastModified = &t
			}
		}

		records = append(records, rec)
	}
	return records
}

// MapEntry converts a domain record back into its persisted form.
func MapEntry(rec *grid.Record) Entry {
	e := Entry{
		KeyName:              rec.Key,
		Label:                rec.Label,
		Nickname:             rec.Nickname,
		LoginID:              rec.LoginID,
		LoginURIs:            append([]string(nil), rec.LoginURIs...),
		HelperURI:            rec.HelperURI,
		LoginPage:            rec.LoginPage,
		UpdateServiceURL:     rec.UpdateServiceURL,
		SlurlBase:            rec.SlurlBase,
		AppSlurlBase:         rec.AppSlurlBase,
		Gatekeeper:           rec.Gatekeeper,
		RegisterPage:         rec.RegisterPage,
		PasswordPage:         rec.PasswordPage,
		HelpPage:             rec.HelpPage,
		AboutPage:            rec.AboutPage,
		SearchPage:           rec.SearchPage,
		ProfileURI:           rec.ProfileURI,
		Platform:             rec.Platform,
		Message:              rec.Message,
		SendGridInfoToViewer: rec.SendGridInfoToViewer,
		DirectoryFee:         rec.DirectoryFee,
		LoginIdentifierTypes: append([]string(nil), rec.LoginIdentifierTypes...),
		UserDeleted:          rec.MarkedDeleted,
		Deprecated:           rec.DeprecatedFallback,
		Hypergrid:            rec.IsHypergrid,
	}
	if rec.LastModified != nil {
		e.LastModified = rec.LastModified.Format(time.RFC3339)
	}
	return e
}
