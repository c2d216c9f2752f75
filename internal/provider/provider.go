// Package provider maps an MX hostname set to a provider identity and a
// prior confidence, per spec §4.3.
package provider

import "strings"

// Tag identifies a mail provider family.
type Tag string

const (
	Google    Tag = "google"
	Microsoft Tag = "microsoft365"
	Yahoo     Tag = "yahoo"
	ICloud    Tag = "icloud"
	Proofpoint Tag = "proofpoint"
	Mimecast  Tag = "mimecast"
	Generic   Tag = "generic"
)

// rule matches an MX host substring to a provider and its RCPT-reliability
// prior. Priors reflect how trustworthy a 250 from that provider is.
type rule struct {
	substr   string
	tag      Tag
	prior    float64
}

var rules = []rule{
	{"aspmx.l.google.com", Google, 0.97},
	{"google.com", Google, 0.95},
	{"googlemail.com", Google, 0.95},
	{"mail.protection.outlook.com", Microsoft, 0.88},
	{"outlook.com", Microsoft, 0.85},
	{"yahoodns.net", Yahoo, 0.75},
	{"yahoo.com", Yahoo, 0.72},
	{"icloud.com", ICloud, 0.70},
	{"pphosted.com", Proofpoint, 0.55},
	{"mimecast.com", Mimecast, 0.50},
}

// Classify returns the provider tag and prior for the given MX hostnames.
// The first matching rule wins; an unmatched set is Generic with a low
// prior (spec §4.3: "generic low").
func Classify(mxHosts []string) (Tag, float64) {
	for _, h := range mxHosts {
		lower := strings.ToLower(h)
		for _, rl := range rules {
			if strings.Contains(lower, rl.substr) {
				return rl.tag, rl.prior
			}
		}
	}
	return Generic, 0.30
}
