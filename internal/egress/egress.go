// Package egress implements the outbound data-loss-prevention filter:
// the last stage of the tool-call pipeline, applied to anything about to
// leave the system over HTTP — blocking known paste-bin exfiltration
// endpoints, scanning for secret-shaped content, and checking for leaked
// canary tokens.
package egress

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/san-techie21/gulama-gateway/internal/canary"
)

// Decision is the outcome of one egress check.
type Decision struct {
	Allowed        bool
	Reason         string
	BlockedDomain  string
	MatchedSecrets []string
	CanaryAlerts   []canary.Alert
}

// defaultBlockedDomains are well-known anonymous paste/file-drop services
// frequently used for data exfiltration.
var defaultBlockedDomains = []string{
	"pastebin.com", "hastebin.com", "paste.ee", "ghostbin.co",
	"0x0.st", "file.io", "transfer.sh", "temp.sh",
}

// namedPattern is one labeled secret-detector regex.
type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// sensitivePatterns mirrors the constants the rest of the security
// pipeline's secret scanners use, covering common API key formats,
// private key material, and PII.
var sensitivePatterns = []namedPattern{
	{"openai_api_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"anthropic_api_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9\-_]{20,}`)},
	{"google_api_key", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{"github_token", regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`)},
	{"gitlab_token", regexp.MustCompile(`glpat-[A-Za-z0-9\-_]{20}`)},
	{"slack_token", regexp.MustCompile(`xox[baps]-[A-Za-z0-9-]{10,}`)},
	{"private_key_header", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)},
	{"email_address", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{"aws_access_key_id", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"aws_secret_env", regexp.MustCompile(`(?i)AWS_SECRET_ACCESS_KEY\s*=\s*\S+`)},
	{"aws_access_key_env", regexp.MustCompile(`(?i)AWS_ACCESS_KEY_ID\s*=\s*\S+`)},
	{"azure_key_env", regexp.MustCompile(`(?i)AZURE_[A-Z_]*KEY\s*=\s*\S+`)},
	{"gcp_service_account_key", regexp.MustCompile(`"private_key":\s*"-----BEGIN`)},
}

// headersSkippedFromScan are header names expected to carry
// credential-shaped values; flagging them would just be noise.
var headersSkippedFromScan = map[string]bool{
	"authorization": true,
	"cookie":        true,
}

// Filter is the egress DLP engine. It is safe for concurrent use.
type Filter struct {
	blockedDomains map[string]bool
	canaries       *canary.System
}

// NewFilter returns a Filter seeded with the default blocked-domain list,
// reporting canary leaks against the given canary System (nil disables
// canary checking).
func NewFilter(canaries *canary.System) *Filter {
	f := &Filter{blockedDomains: map[string]bool{}, canaries: canaries}
	for _, d := range defaultBlockedDomains {
		f.blockedDomains[d] = true
	}
	return f
}

// AddBlockedDomain extends the blocklist at runtime.
func (f *Filter) AddBlockedDomain(domain string) {
	f.blockedDomains[strings.ToLower(domain)] = true
}

// AllowDomain removes a domain from the blocklist, for operator
// overrides of the default list.
func (f *Filter) AllowDomain(domain string) {
	delete(f.blockedDomains, strings.ToLower(domain))
}

// CheckRequest evaluates an outbound HTTP request before it is sent:
// domain blocklist, header scan (skipping auth-bearing headers), and
// body scan for secrets and canary leaks.
func (f *Filter) CheckRequest(rawURL, method, body string, headers http.Header) Decision {
	if blocked, host := f.checkDomain(rawURL); blocked {
		return Decision{Allowed: false, Reason: "destination domain is on the egress blocklist", BlockedDomain: host}
	}

	var matched []string
	for name, values := range headers {
		if headersSkippedFromScan[strings.ToLower(name)] {
			continue
		}
		for _, v := range values {
			matched = append(matched, f.scanForSecrets(v)...)
		}
	}
	matched = append(matched, f.scanForSecrets(body)...)

	var canaryAlerts []canary.Alert
	if f.canaries != nil {
		canaryAlerts = append(canaryAlerts, f.canaries.CheckEgress(body)...)
	}

	if len(canaryAlerts) > 0 {
		return Decision{Allowed: false, Reason: "canary token detected in outbound payload", MatchedSecrets: matched, CanaryAlerts: canaryAlerts}
	}
	if len(matched) > 0 {
		return Decision{Allowed: false, Reason: fmt.Sprintf("outbound payload matches %d sensitive pattern(s)", len(matched)), MatchedSecrets: matched}
	}
	return Decision{Allowed: true}
}

// CheckData scans an arbitrary payload (not necessarily an HTTP request)
// for secrets and canary leaks — used for non-HTTP egress paths such as
// writing to a shared file or posting to a messaging channel.
func (f *Filter) CheckData(data string) Decision {
	matched := f.scanForSecrets(data)
	var canaryAlerts []canary.Alert
	if f.canaries != nil {
		canaryAlerts = f.canaries.CheckEgress(data)
	}
	if len(canaryAlerts) > 0 {
		return Decision{Allowed: false, Reason: "canary token detected in data", MatchedSecrets: matched, CanaryAlerts: canaryAlerts}
	}
	if len(matched) > 0 {
		return Decision{Allowed: false, Reason: fmt.Sprintf("data matches %d sensitive pattern(s)", len(matched)), MatchedSecrets: matched}
	}
	return Decision{Allowed: true}
}

func (f *Filter) checkDomain(rawURL string) (bool, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, ""
	}
	host := strings.ToLower(u.Hostname())
	if f.blockedDomains[host] {
		return true, host
	}
	for domain := range f.blockedDomains {
		if strings.HasSuffix(host, "."+domain) {
			return true, host
		}
	}
	return false, ""
}

func (f *Filter) scanForSecrets(text string) []string {
	var hits []string
	for _, p := range sensitivePatterns {
		if p.re.MatchString(text) {
			hits = append(hits, p.name)
		}
	}
	return hits
}
