package opix

import (
	"regexp"
	"strings"
)

// Browser classifies user-agent strings.
type Browser interface {
	// NameAndVersion returns e.g. "Chrome 120", or "" if unknown.
	NameAndVersion(ua string) string

	// IsMobile reports whether ua looks like a phone or tablet.
	IsMobile(ua string) bool
}

var (
	browserPattern  = regexp.MustCompile(`(?i)(opera|chrome|safari|firefox|msie|trident(?:/))/?\s*(\d+)`)
	tridentRevision = regexp.MustCompile(`\brv[ :]+(\d+)`)
	chromiumFork    = regexp.MustCompile(`\b(OPR|Edg)/(\d+)`)
	versionToken    = regexp.MustCompile(`(?i)version/(\d+)`)
	mobilePattern   = regexp.MustCompile(`(?i)(android|bb\d+|meego).+mobile|avantgo|bada/|blackberry|blazer|compal|elaine|fennec|hiptop|iemobile|ip(hone|od|ad)|iris|kindle|lge |maemo|midp|mmp|mobile.+firefox|netfront|opera m(ob|in)i|palm( os)?|phone|p(ixi|re)/|plucker|pocket|psp|series(4|6)0|symbian|treo|up\.(browser|link)|vodafone|wap|windows ce|xda|xiino`)
)

// RegexBrowser is the default [Browser]: a small set of regular expressions
// covering mainstream engines.
type RegexBrowser struct{}

// NameAndVersion implements [Browser].
func (RegexBrowser) NameAndVersion(ua string) string {
	m := browserPattern.FindStringSubmatch(ua)
	if m == nil {
		return ""
	}
	name, major := m[1], m[2]

	if strings.HasPrefix(strings.ToLower(name), "trident") {
		rv := tridentRevision.FindStringSubmatch(ua)
		if rv == nil {
			return "IE"
		}
		return "IE " + rv[1]
	}
	if name == "Chrome" {
		if fork := chromiumFork.FindStringSubmatch(ua); fork != nil {
			label := map[string]string{"OPR": "Opera", "Edg": "Edge"}[fork[1]]
			return label + " " + fork[2]
		}
	}
	if v := versionToken.FindStringSubmatch(ua); v != nil {
		major = v[1]
	}
	return name + " " + major
}

// IsMobile implements [Browser].
func (RegexBrowser) IsMobile(ua string) bool {
	return mobilePattern.MatchString(ua)
}
