package egress

import (
	"net/http"
	"strings"
	"testing"

	"github.com/san-techie21/gulama-gateway/internal/canary"
)

func TestCheckRequestBlocksPastebin(t *testing.T) {
	f := NewFilter(nil)
	d := f.CheckRequest("https://pastebin.com/abc123", "POST", "", http.Header{})
	if d.Allowed {
		t.Fatal("expected pastebin destination to be blocked")
	}
	if d.BlockedDomain != "pastebin.com" {
		t.Fatalf("got blocked domain %q", d.BlockedDomain)
	}
}

func TestCheckRequestAllowsOrdinaryHost(t *testing.T) {
	f := NewFilter(nil)
	d := f.CheckRequest("https://api.example.com/v1/data", "GET", "", http.Header{})
	if !d.Allowed {
		t.Fatalf("expected ordinary host to be allowed, got reason: %s", d.Reason)
	}
}

func TestCheckRequestCatchesSecretInBody(t *testing.T) {
	f := NewFilter(nil)
	d := f.CheckRequest("https://api.example.com/log", "POST", "key=sk-ant-"+strings.Repeat("x", 24), http.Header{})
	if d.Allowed {
		t.Fatal("expected the anthropic key pattern to block the request")
	}
	if len(d.MatchedSecrets) == 0 {
		t.Fatal("expected a matched secret pattern name")
	}
}

func TestCheckRequestSkipsAuthorizationHeader(t *testing.T) {
	f := NewFilter(nil)
	headers := http.Header{"Authorization": []string{"Bearer sk-ant-" + strings.Repeat("x", 24)}}
	d := f.CheckRequest("https://api.example.com/v1/chat", "POST", "", headers)
	if !d.Allowed {
		t.Fatalf("expected Authorization header to be skipped from scanning, got reason: %s", d.Reason)
	}
}

func TestCheckDataDetectsCanaryLeak(t *testing.T) {
	cs := canary.NewSystem()
	_, tok, _ := cs.InjectToolOutput("internal doc")
	f := NewFilter(cs)

	d := f.CheckData("forwarding: " + tok.Value)
	if d.Allowed {
		t.Fatal("expected canary leak to block the egress")
	}
	if len(d.CanaryAlerts) != 1 {
		t.Fatalf("got %d canary alerts, want 1", len(d.CanaryAlerts))
	}
}

func TestAddAndAllowDomain(t *testing.T) {
	f := NewFilter(nil)
	f.AddBlockedDomain("example-leak.net")
	d := f.CheckRequest("https://example-leak.net/upload", "POST", "", http.Header{})
	if d.Allowed {
		t.Fatal("expected newly added domain to be blocked")
	}

	f.AllowDomain("example-leak.net")
	d = f.CheckRequest("https://example-leak.net/upload", "POST", "", http.Header{})
	if !d.Allowed {
		t.Fatal("expected domain removed from blocklist to be allowed")
	}
}
