package validator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testKey = "sk-aB3dE5gH7jK9mN1pQ3sT5vW7yZ9bC1dE3fG5hJ7kL9mN1pQ3"

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

// fakeAPI serves the three endpoints with canned responses.
type fakeAPI struct {
	modelsStatus int
	modelsBody   string
	subStatus    int
	subBody      string
	usageBody    string

	lastAuth  atomic.Value
	lastQuery atomic.Value
	hits      atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		modelsStatus: http.StatusOK,
		modelsBody:   `{"data":[{"id":"gpt-4"},{"id":"gpt-3.5-turbo"},{"id":"text-davinci-003"},{"id":"ada"},{"id":"whisper-1"}]}`,
		subStatus:    http.StatusOK,
		subBody:      `{"access_until":1735689600,"hard_limit_usd":120.5,"plan":{"title":"Pay-as-you-go","id":"payg"}}`,
		usageBody:    `{"total_usage":250}`,
	}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	f.lastAuth.Store(r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case modelsPath:
		w.WriteHeader(f.modelsStatus)
		w.Write([]byte(f.modelsBody))
	case subscriptionPath:
		w.WriteHeader(f.subStatus)
		w.Write([]byte(f.subBody))
	case usagePath:
		f.lastQuery.Store(r.URL.RawQuery)
		w.Write([]byte(f.usageBody))
	default:
		http.NotFound(w, r)
	}
}

func newTestValidator(endpoint string) *Validator {
	return New(Options{
		Endpoint:  endpoint,
		UsageDays: 100,
		Timeout:   2 * time.Second,
		Now:       func() time.Time { return fixedNow },
	})
}

func TestValidate_Confirmed(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	out := newTestValidator(srv.URL).Validate(context.Background(), testKey, "")

	if out.Kind != KindConfirmed || out.Phase != PhaseSucceeded || out.Verdict != VerdictValid {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Error != "" {
		t.Errorf("expected empty error, got '%s'", out.Error)
	}
	if out.Key != testKey || out.Proxy != "" {
		t.Errorf("outcome does not carry key/proxy: %+v", out)
	}
	acc := out.Account
	if acc == nil {
		t.Fatal("expected account data on confirmed outcome")
	}
	if acc.UsageUSD != 2.5 {
		t.Errorf("expected usage 2.5, got %v", acc.UsageUSD)
	}
	if acc.HardLimitUSD != 120.5 {
		t.Errorf("expected hard limit 120.5, got %v", acc.HardLimitUSD)
	}
	if !acc.AccessUntil.Equal(time.Unix(1735689600, 0)) {
		t.Errorf("unexpected access_until %v", acc.AccessUntil)
	}
	if acc.Plan() != "Pay-as-you-go: payg" {
		t.Errorf("unexpected plan '%s'", acc.Plan())
	}
	wantTiers := ModelTiers{
		Top:    []string{"gpt-4"},
		Mid:    []string{"gpt-3.5-turbo", "text-davinci-003"},
		Legacy: []string{"ada"},
	}
	if !reflect.DeepEqual(acc.Models, wantTiers) {
		t.Errorf("tiers = %+v, want %+v", acc.Models, wantTiers)
	}
	if got := api.lastAuth.Load(); got != "Bearer "+testKey {
		t.Errorf("unexpected Authorization header %v", got)
	}
	if got := api.lastQuery.Load(); got != "end_date=2024-03-15&start_date=2023-12-06" {
		t.Errorf("unexpected usage query %v", got)
	}
}

func TestValidate_StatusTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      Kind
		phase     QueryPhase
		verdict   Verdict
		errSubstr string
	}{
		{"unauthorized", 401, `{"error":{"message":"invalid_api_key"}}`, KindRejected, PhaseSucceeded, VerdictInvalid, "invalid_api_key"},
		{"rate limited", 429, `{"error":{"message":"quota exceeded"}}`, KindRejected, PhaseSucceeded, VerdictInvalid, "429: quota exceeded"},
		{"server error", 500, `{"error":{"message":"boom"}}`, KindServerError, PhaseFailed, VerdictUnknown, "500: boom"},
		{"unexpected", 404, `{}`, KindUnexpectedStatus, PhaseSucceeded, VerdictUnknown, "404: Not Found"},
		{"forbidden", 403, `{"error":{"message":"region"}}`, KindUnexpectedStatus, PhaseSucceeded, VerdictUnknown, "403: Forbidden"},
		{"embedded error", 200, `{"error":{"message":"account deactivated"}}`, KindEmbeddedAPIError, PhaseSucceeded, VerdictInvalid, "account deactivated"},
		{"unauthorized without body", 401, ``, KindRejected, PhaseSucceeded, VerdictInvalid, "401: Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.modelsStatus = tt.status
			api.modelsBody = tt.body
			srv := httptest.NewServer(api)
			defer srv.Close()

			out := newTestValidator(srv.URL).Validate(context.Background(), testKey, "")
			if out.Kind != tt.kind || out.Phase != tt.phase || out.Verdict != tt.verdict {
				t.Errorf("got kind=%s phase=%s verdict=%s", out.Kind, out.Phase, out.Verdict)
			}
			if !strings.Contains(out.Error, tt.errSubstr) {
				t.Errorf("error '%s' does not contain '%s'", out.Error, tt.errSubstr)
			}
			if out.Account != nil {
				t.Error("account must only be set on confirmed outcomes")
			}
			if api.hits.Load() != 1 {
				t.Errorf("expected only the model listing call, got %d calls", api.hits.Load())
			}
		})
	}
}

func TestValidate_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	out := newTestValidator(endpoint).Validate(context.Background(), testKey, "")
	if out.Kind != KindTransportFailure || out.Phase != PhaseFailed || out.Verdict != VerdictNone {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if out.Error == "" {
		t.Error("expected error description")
	}
}

func TestValidate_MalformedBillingIsTransportFailure(t *testing.T) {
	api := newFakeAPI()
	api.subBody = `{"plan":null}`
	srv := httptest.NewServer(api)
	defer srv.Close()

	out := newTestValidator(srv.URL).Validate(context.Background(), testKey, "")
	if out.Kind != KindTransportFailure || out.Verdict != VerdictNone {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestValidate_BillingRejectedIsTransportFailure(t *testing.T) {
	api := newFakeAPI()
	api.subStatus = http.StatusForbidden
	api.subBody = `{"error":{"message":"session key required"}}`
	srv := httptest.NewServer(api)
	defer srv.Close()

	out := newTestValidator(srv.URL).Validate(context.Background(), testKey, "")
	if out.Kind != KindTransportFailure || !strings.Contains(out.Error, "session key required") {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestValidate_ThroughHTTPProxy(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	var proxied atomic.Int32
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		api.ServeHTTP(w, r)
	}))
	defer proxySrv.Close()

	out := newTestValidator(srv.URL).Validate(context.Background(), testKey, proxySrv.URL)
	if out.Kind != KindConfirmed {
		t.Fatalf("expected confirmed outcome via proxy, got %+v", out)
	}
	if out.Proxy != proxySrv.URL {
		t.Errorf("expected proxy %s on outcome, got %s", proxySrv.URL, out.Proxy)
	}
	if proxied.Load() != 3 {
		t.Errorf("expected all 3 calls to go through the proxy, got %d", proxied.Load())
	}
}

func TestValidate_UnsupportedProxyScheme(t *testing.T) {
	out := newTestValidator("http://127.0.0.1:1").Validate(context.Background(), testKey, "ftp://127.0.0.1:21")
	if out.Kind != KindTransportFailure || !strings.Contains(out.Error, "unsupported proxy scheme") {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestValidate_PerCallDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	v := New(Options{Endpoint: srv.URL, Timeout: 100 * time.Millisecond})
	start := time.Now()
	out := v.Validate(context.Background(), testKey, "")
	if out.Kind != KindTransportFailure {
		t.Errorf("expected transport failure on deadline, got %+v", out)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("deadline was not enforced, took %v", time.Since(start))
	}
}

func TestParseProxyURL(t *testing.T) {
	u, err := ParseProxyURL("127.0.0.1:8080")
	if err != nil || u.Scheme != "http" || u.Host != "127.0.0.1:8080" {
		t.Errorf("ParseProxyURL bare = %v, %v", u, err)
	}
	u, err = ParseProxyURL("socks5://user:pw@10.0.0.1:1080")
	if err != nil || u.Scheme != "socks5" || u.User.Username() != "user" {
		t.Errorf("ParseProxyURL socks5 = %v, %v", u, err)
	}
	if _, err := ParseProxyURL("http://"); err == nil {
		t.Error("expected error for missing host")
	}
}

func TestNewTransport_Socks5(t *testing.T) {
	tr, err := newTransport("socks5://127.0.0.1:1080", time.Second)
	if err != nil {
		t.Fatalf("newTransport() error = %v", err)
	}
	if tr.Proxy != nil {
		t.Error("SOCKS5 transport must dial through the proxy, not use HTTP proxying")
	}
}

func TestClassifyModels_NonExclusive(t *testing.T) {
	tiers := ClassifyModels([]string{"gpt-4-gpt-3.5-hybrid", "davinci", "curie", "code-davinci-002", "dall-e-3"})
	if !reflect.DeepEqual(tiers.Top, []string{"gpt-4-gpt-3.5-hybrid"}) {
		t.Errorf("top = %v", tiers.Top)
	}
	if !reflect.DeepEqual(tiers.Mid, []string{"gpt-4-gpt-3.5-hybrid", "code-davinci-002"}) {
		t.Errorf("mid = %v", tiers.Mid)
	}
	if !reflect.DeepEqual(tiers.Legacy, []string{"davinci", "curie"}) {
		t.Errorf("legacy = %v", tiers.Legacy)
	}
}
