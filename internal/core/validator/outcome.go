package validator

import "time"

// Kind discriminates the outcome of one validation attempt.
type Kind string

const (
	KindConfirmed        Kind = "confirmed"         // all data retrieved
	KindRejected         Kind = "rejected"          // 401 / 429
	KindEmbeddedAPIError Kind = "embedded_api_error" // 200 without a model listing
	KindServerError      Kind = "server_error"      // 500
	KindUnexpectedStatus Kind = "unexpected_status"
	KindTransportFailure Kind = "transport_failure"
)

// QueryPhase tells whether the remote service gave a usable answer.
type QueryPhase string

const (
	PhaseSucceeded QueryPhase = "succeeded"
	PhaseFailed    QueryPhase = "failed"
)

// Verdict is the validity classification of a key. The zero value means no
// verdict, which only happens for transport failures.
type Verdict string

const (
	VerdictNone    Verdict = ""
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
	VerdictUnknown Verdict = "unknown"
)

// ModelTiers groups the model ids visible to a key. A model may appear in
// more than one tier.
type ModelTiers struct {
	Top    []string `json:"top" yaml:"top"`
	Mid    []string `json:"mid" yaml:"mid"`
	Legacy []string `json:"legacy" yaml:"legacy"`
}

// Account holds the data only a confirmed key has.
type Account struct {
	AccessUntil  time.Time  `json:"access_until" yaml:"access_until"`
	HardLimitUSD float64    `json:"hard_limit_usd" yaml:"hard_limit_usd"`
	UsageUSD     float64    `json:"usage_usd" yaml:"usage_usd"`
	UsageDays    int        `json:"usage_days" yaml:"usage_days"`
	PlanTitle    string     `json:"plan_title" yaml:"plan_title"`
	PlanID       string     `json:"plan_id" yaml:"plan_id"`
	Models       ModelTiers `json:"models" yaml:"models"`
}

// Plan renders the plan as "title: id".
func (a *Account) Plan() string {
	return a.PlanTitle + ": " + a.PlanID
}

// Outcome is the immutable result of validating one key through one proxy.
// Account is non-nil only when Kind is KindConfirmed.
type Outcome struct {
	Kind       Kind       `json:"kind" yaml:"kind"`
	Key        string     `json:"key" yaml:"key"`
	Proxy      string     `json:"proxy" yaml:"proxy"`
	Phase      QueryPhase `json:"phase" yaml:"phase"`
	Verdict    Verdict    `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	StatusCode int        `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	Account    *Account   `json:"account,omitempty" yaml:"account,omitempty"`
	CheckedAt  time.Time  `json:"checked_at" yaml:"checked_at"`
}

// Succeeded reports whether the query phase succeeded.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Phase == PhaseSucceeded
}
