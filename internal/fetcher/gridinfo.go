package fetcher

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/openviewer/gridman/internal/grid"
)

type xmlNode struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

type infoDoc struct {
	Nodes []xmlNode `xml:",any"`
}

// ParseGridInfo applies a get_grid_info response document to rec.
// Unrecognized elements are ignored; "economy" is a historical alias of
// "helperuri".
func ParseGridInfo(body []byte, rec *grid.Record) error {
	var doc infoDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("failed to parse grid info document: %w", err)
	}

	for _, n := range doc.Nodes {
		text := strings.TrimSpace(n.Text)
		switch n.XMLName.Local {
		case "login":
			// Allow redirect but not spoofing: only the authority
			// component of the returned login URL may rename the grid.
			if auth := grid.Authority(text); auth != "" {
				rec.Key = auth
			}
			rec.LoginURIs = []string{text}
		case "gridname":
			rec.Label = text
		case "gridnick":
			rec.Nickname = text
		case "gatekeeper":
			rec.Gatekeeper = grid.Authority(text)
		case "welcome":
			rec.LoginPage = text
		case "register":
			rec.RegisterPage = text
		case "password":
			rec.PasswordPage = text
		case "help":
			rec.HelpPage = text
		case "about":
			rec.AboutPage = text
		case "search":
			rec.SearchPage = text
		case "profileuri":
			rec.ProfileURI = text
		case "SendGridInfoToViewerOnLogin":
			rec.SendGridInfoToViewer = parseBool(text)
		case "DirectoryFee":
			rec.DirectoryFee = parseBool(text)
		case "platform":
			rec.Platform = text
		case "message":
			rec.Message = text
		case "helperuri", "economy":
			rec.HelperURI = text
		}
	}

	rec.SlurlBase = fmt.Sprintf(grid.DefaultHopBase, rec.Key)
	now := time.Now()
	rec.LastModified = &now
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
