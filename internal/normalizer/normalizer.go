// Package normalizer implements the pure address normalizer and classifier
// of spec §4.1. It performs no I/O and is deterministic.
package normalizer

import (
	"regexp"
	"strings"
)

// Address is the canonical representation of an email after normalization.
type Address struct {
	Raw        string
	Local      string
	Domain     string
	Normalized string
}

// Flags carries the classification bits alongside an Address.
type Flags struct {
	SyntacticOK bool
	Role        bool
	Free        bool
	Disposable  bool
}

// emailRegex is the teacher's RFC-5322-practical-subset matcher, unchanged.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// roleLocalParts is the fixed set of local parts treated as role accounts.
var roleLocalParts = map[string]bool{
	"admin": true, "administrator": true, "support": true, "info": true,
	"sales": true, "noreply": true, "no-reply": true, "contact": true,
	"help": true, "billing": true, "abuse": true, "postmaster": true,
	"webmaster": true, "hostmaster": true, "marketing": true, "hr": true,
	"jobs": true, "careers": true, "press": true, "security": true,
	"privacy": true, "legal": true, "accounts": true, "office": true,
	"team": true, "hello": true, "newsletter": true, "subscribe": true,
	"unsubscribe": true, "feedback": true,
}

// freeProviderDomains is the fixed set of consumer-free-mail domains.
var freeProviderDomains = map[string]bool{
	"gmail.com": true, "googlemail.com": true, "yahoo.com": true,
	"hotmail.com": true, "outlook.com": true, "live.com": true,
	"aol.com": true, "icloud.com": true, "me.com": true,
	"protonmail.com": true, "proton.me": true, "mail.com": true,
	"zoho.com": true, "yandex.com": true, "gmx.com": true,
	"inbox.com": true, "fastmail.com": true,
}

// disposableDomains is the fixed set of known disposable-mail domains.
var disposableDomains = map[string]bool{
	"mailinator.com": true, "tempmail.com": true, "10minutemail.com": true,
	"guerrillamail.com": true, "throwawaymail.com": true, "yopmail.com": true,
	"trashmail.com": true, "getnada.com": true, "maildrop.cc": true,
	"dispostable.com": true, "sharklasers.com": true, "mintemail.com": true,
	"fakeinbox.com": true, "tempinbox.com": true, "spamgourmet.com": true,
}

// aliasingDomains lists the providers with Gmail-style local-part aliasing:
// normalization drops everything from the first "+" and strips the dots
// from the local part before the @.
var aliasingDomains = map[string]bool{
	"gmail.com": true, "googlemail.com": true,
}

// Normalize parses raw into an Address and its classification Flags.
// Normalize(Normalize(r).Normalized) == Normalize(r).Normalized: the
// normalized form is a fixed point because normalization only lower-cases
// and strips characters that a second pass will find already absent.
func Normalize(raw string) (Address, Flags) {
	trimmed := strings.TrimSpace(raw)
	addr := Address{Raw: raw}
	var flags Flags

	if !syntacticallyValid(trimmed) {
		return addr, flags
	}
	flags.SyntacticOK = true

	at := strings.LastIndexByte(trimmed, '@')
	local := trimmed[:at]
	domain := strings.ToLower(trimmed[at+1:])

	addr.Local = local
	addr.Domain = domain
	addr.Normalized = normalizedForm(local, domain)

	flags.Role = roleLocalParts[strings.ToLower(local)]
	flags.Free = freeProviderDomains[domain]
	flags.Disposable = disposableDomains[domain]

	return addr, flags
}

func normalizedForm(local, domain string) string {
	normLocal := strings.ToLower(local)
	if aliasingDomains[domain] {
		if i := strings.IndexByte(normLocal, '+'); i >= 0 {
			normLocal = normLocal[:i]
		}
		normLocal = strings.ReplaceAll(normLocal, ".", "")
	}
	return normLocal + "@" + domain
}

// syntacticallyValid applies the practical RFC 5322 subset: length caps,
// exactly one '@', domain label rules. Grounded on the teacher's
// isValidEmailSyntax in worker/main.go.
func syntacticallyValid(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	if strings.Count(email, "@") != 1 {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	localPart, domainPart := parts[0], parts[1]

	if len(localPart) == 0 || len(localPart) > 64 {
		return false
	}
	if strings.Contains(localPart, "..") {
		return false
	}
	if strings.HasPrefix(localPart, ".") || strings.HasSuffix(localPart, ".") {
		return false
	}

	if len(domainPart) == 0 || len(domainPart) > 253 {
		return false
	}
	if strings.Contains(domainPart, "..") {
		return false
	}
	if strings.HasPrefix(domainPart, ".") || strings.HasSuffix(domainPart, ".") {
		return false
	}
	if !strings.Contains(domainPart, ".") {
		return false
	}

	domainParts := strings.Split(domainPart, ".")
	tld := domainParts[len(domainParts)-1]
	if len(tld) < 2 {
		return false
	}

	return emailRegex.MatchString(email)
}
