package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"keyprobe/internal/shared/logger"
	"keyprobe/proxypool"
)

const (
	DefaultEndpoint  = "https://api.openai.com"
	DefaultUsageDays = 100
	DefaultTimeout   = 30 * time.Second

	modelsPath       = "/v1/models"
	subscriptionPath = "/dashboard/billing/subscription"
	usagePath        = "/dashboard/billing/usage"
	dateLayout       = "2006-01-02"
)

// Options configures a Validator. It is copied at construction and never
// changes afterwards.
type Options struct {
	Endpoint  string
	UsageDays int
	// Timeout bounds each remote call separately.
	Timeout time.Duration
	Now     func() time.Time
}

// Validator runs the three step probe (model listing, subscription, usage)
// for one key through one proxy. It is safe for concurrent use.
type Validator struct {
	endpoint  string
	usageDays int
	timeout   time.Duration
	now       func() time.Time

	mu         sync.Mutex
	clients    map[string]*resty.Client
	transports []*http.Transport
}

func New(opts Options) *Validator {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.UsageDays <= 0 {
		opts.UsageDays = DefaultUsageDays
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Validator{
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
		usageDays: opts.UsageDays,
		timeout:   opts.Timeout,
		now:       opts.Now,
		clients:   make(map[string]*resty.Client),
	}
}

type apiError struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type modelsResponse struct {
	Data *[]struct {
		ID string `json:"id"`
	} `json:"data"`
}

type subscriptionResponse struct {
	AccessUntil  *float64 `json:"access_until"`
	HardLimitUSD *float64 `json:"hard_limit_usd"`
	Plan         *struct {
		Title string `json:"title"`
		ID    string `json:"id"`
	} `json:"plan"`
}

type usageResponse struct {
	TotalUsage *float64 `json:"total_usage"`
}

// Validate probes key through proxyAddr ("" for a direct connection). It
// always returns an Outcome; failures are encoded in it.
func (v *Validator) Validate(ctx context.Context, key, proxyAddr string) *Outcome {
	l := logger.WithComponent("Validator").With().
		Str("key", logger.MaskKey(key)).
		Str("proxy", proxyLabel(proxyAddr)).
		Logger()

	out := v.probe(ctx, key, proxyAddr, l)
	out.Key = key
	out.Proxy = proxyAddr
	out.CheckedAt = v.now()

	l.Debug().
		Str("kind", string(out.Kind)).
		Str("phase", string(out.Phase)).
		Str("verdict", string(out.Verdict)).
		Str("error", out.Error).
		Msg("Validation finished.")
	return out
}

func (v *Validator) probe(ctx context.Context, key, proxyAddr string, l zerolog.Logger) *Outcome {
	client, err := v.client(proxyAddr)
	if err != nil {
		return transportFailure(err)
	}

	// Step 1: model listing.
	resp, err := v.get(ctx, client, key, modelsPath, nil)
	if err != nil {
		return transportFailure(err)
	}

	status := resp.StatusCode()
	switch status {
	case http.StatusOK:
		var models modelsResponse
		if err := json.Unmarshal(resp.Body(), &models); err != nil {
			return transportFailure(fmt.Errorf("malformed model listing: %w", err))
		}
		if models.Data == nil {
			return &Outcome{
				Kind:       KindEmbeddedAPIError,
				Phase:      PhaseSucceeded,
				Verdict:    VerdictInvalid,
				StatusCode: status,
				Error:      statusError(status, remoteMessage(resp.Body())),
			}
		}
		ids := make([]string, 0, len(*models.Data))
		for _, m := range *models.Data {
			ids = append(ids, m.ID)
		}
		l.Debug().Int("models", len(ids)).Msg("Model listing retrieved.")
		return v.queryAccount(ctx, client, key, ClassifyModels(ids))

	case http.StatusUnauthorized, http.StatusTooManyRequests:
		return &Outcome{
			Kind:       KindRejected,
			Phase:      PhaseSucceeded,
			Verdict:    VerdictInvalid,
			StatusCode: status,
			Error:      statusError(status, remoteMessage(resp.Body())),
		}

	case http.StatusInternalServerError:
		return &Outcome{
			Kind:       KindServerError,
			Phase:      PhaseFailed,
			Verdict:    VerdictUnknown,
			StatusCode: status,
			Error:      statusError(status, remoteMessage(resp.Body())),
		}

	default:
		return &Outcome{
			Kind:       KindUnexpectedStatus,
			Phase:      PhaseSucceeded,
			Verdict:    VerdictUnknown,
			StatusCode: status,
			Error:      statusError(status, ""),
		}
	}
}

// queryAccount runs steps 2 and 3: subscription and usage. Any failure here
// is a transport failure, the key already passed the model listing.
func (v *Validator) queryAccount(ctx context.Context, client *resty.Client, key string, tiers ModelTiers) *Outcome {
	resp, err := v.get(ctx, client, key, subscriptionPath, nil)
	if err != nil {
		return transportFailure(err)
	}
	if resp.StatusCode() != http.StatusOK {
		return transportFailure(fmt.Errorf("subscription query: %s", statusError(resp.StatusCode(), remoteMessage(resp.Body()))))
	}
	var sub subscriptionResponse
	if err := json.Unmarshal(resp.Body(), &sub); err != nil {
		return transportFailure(fmt.Errorf("malformed subscription response: %w", err))
	}
	if sub.AccessUntil == nil || sub.HardLimitUSD == nil || sub.Plan == nil {
		return transportFailure(fmt.Errorf("malformed subscription response: missing fields"))
	}

	now := v.now()
	params := map[string]string{
		"start_date": now.AddDate(0, 0, -v.usageDays).Format(dateLayout),
		"end_date":   now.Format(dateLayout),
	}
	resp, err = v.get(ctx, client, key, usagePath, params)
	if err != nil {
		return transportFailure(err)
	}
	if resp.StatusCode() != http.StatusOK {
		return transportFailure(fmt.Errorf("usage query: %s", statusError(resp.StatusCode(), remoteMessage(resp.Body()))))
	}
	var usage usageResponse
	if err := json.Unmarshal(resp.Body(), &usage); err != nil {
		return transportFailure(fmt.Errorf("malformed usage response: %w", err))
	}
	if usage.TotalUsage == nil {
		return transportFailure(fmt.Errorf("malformed usage response: missing total_usage"))
	}

	return &Outcome{
		Kind:       KindConfirmed,
		Phase:      PhaseSucceeded,
		Verdict:    VerdictValid,
		StatusCode: http.StatusOK,
		Account: &Account{
			AccessUntil:  time.Unix(int64(*sub.AccessUntil), 0).UTC(),
			HardLimitUSD: *sub.HardLimitUSD,
			UsageUSD:     *usage.TotalUsage / 100,
			UsageDays:    v.usageDays,
			PlanTitle:    sub.Plan.Title,
			PlanID:       sub.Plan.ID,
			Models:       tiers,
		},
	}
}

func (v *Validator) get(ctx context.Context, client *resty.Client, key, path string, params map[string]string) (*resty.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req := client.R().
		SetContext(callCtx).
		SetAuthToken(key)
	if params != nil {
		req.SetQueryParams(params)
	}
	return req.Get(v.endpoint + path)
}

// client returns the cached client for proxyAddr, creating it on first use.
func (v *Validator) client(proxyAddr string) (*resty.Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if c, ok := v.clients[proxyAddr]; ok {
		return c, nil
	}
	transport, err := newTransport(proxyAddr, v.timeout)
	if err != nil {
		return nil, err
	}
	c := resty.NewWithClient(&http.Client{Transport: transport, Timeout: v.timeout}).
		SetLogger(restyLogger{logger.WithComponent("Validator/HTTP")}).
		SetHeader("Accept", "application/json")
	v.clients[proxyAddr] = c
	v.transports = append(v.transports, transport)
	return c, nil
}

// Close releases idle connections held by the cached clients.
func (v *Validator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range v.transports {
		t.CloseIdleConnections()
	}
}

func transportFailure(err error) *Outcome {
	return &Outcome{
		Kind:  KindTransportFailure,
		Phase: PhaseFailed,
		Error: err.Error(),
	}
}

// statusError formats "<code>: <message>", falling back to the reason phrase.
func statusError(code int, message string) string {
	if message == "" {
		message = http.StatusText(code)
	}
	return fmt.Sprintf("%d: %s", code, message)
}

func remoteMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Error == nil {
		return ""
	}
	return e.Error.Message
}

func proxyLabel(addr string) string {
	if addr == "" {
		return "direct"
	}
	return proxypool.RedactAddress(addr)
}

// restyLogger routes resty's own diagnostics into zerolog.
type restyLogger struct {
	l zerolog.Logger
}

func (r restyLogger) Errorf(format string, v ...interface{}) { r.l.Error().Msgf(format, v...) }
func (r restyLogger) Warnf(format string, v ...interface{})  { r.l.Warn().Msgf(format, v...) }
func (r restyLogger) Debugf(format string, v ...interface{}) { r.l.Debug().Msgf(format, v...) }
