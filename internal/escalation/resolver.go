// Package escalation implements the three-step resolution waterfall of
// spec §4.4: parent coordinator -> cloud inference -> human escalation.
// Grounded on the teacher's retry-with-backoff dial helpers
// (cmd/utils/nodecmd), generalized to exponential backoff.
package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/edgecoder-mesh/edgecoder/internal/agent"
	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
)

var logger = elog.New("escalation")

// Options configures the waterfall's retry/timeout behaviour (spec §4.4
// defaults: 2 retries, 1s base backoff, 30s per-attempt timeout).
type Options struct {
	ParentCoordinatorURL string
	CloudInferenceURL    string
	CallbackURL          string
	Timeout              time.Duration
	MaxRetries           int
	RetryBaseDelay       time.Duration
}

// DefaultOptions returns spec §4.4's named defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:        30 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: 1 * time.Second,
	}
}

// Resolver drives the waterfall and records terminal human escalations.
type Resolver struct {
	opts       Options
	httpClient *http.Client

	mu     sync.Mutex
	humans []domain.HumanEscalation
}

// NewResolver builds a Resolver over opts.
func NewResolver(opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	return &Resolver{opts: opts, httpClient: &http.Client{Timeout: opts.Timeout}}
}

// sanitisePatterns redact AWS-style access keys and password=/api_key=
// patterns from every string field of an outbound request, per spec §4.4
// "Sanitisation (required before any outbound call)".
var sanitisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)password\s*=\s*\S+`),
	regexp.MustCompile(`(?i)api[_-]?key\s*=\s*\S+`),
}

// Sanitise redacts secret-shaped substrings from every string field of req.
func Sanitise(req domain.EscalationRequest) domain.EscalationRequest {
	req.Prompt = redact(req.Prompt)
	req.Code = redact(req.Code)
	req.Stderr = redact(req.Stderr)
	return req
}

func redact(s string) string {
	for _, p := range sanitisePatterns {
		s = p.ReplaceAllString(s, "[redacted]")
	}
	return s
}

// Resolve runs the waterfall: parent coordinator, then cloud inference, then
// human escalation, short-circuiting on the first step whose result has
// status=="completed" (spec §4.4). The result is best-effort POSTed to the
// originating coordinator's callback URL.
func (r *Resolver) Resolve(ctx context.Context, req domain.EscalationRequest) (domain.EscalationResult, *domain.HumanEscalation, error) {
	sanitised := Sanitise(req)

	if r.opts.ParentCoordinatorURL != "" {
		if result, ok := r.tryStep(ctx, "parent coordinator", r.callParent, sanitised); ok {
			r.callback(result)
			return result, nil, nil
		}
	}

	if r.opts.CloudInferenceURL != "" {
		if result, ok := r.tryStep(ctx, "cloud inference", r.callCloud, sanitised); ok {
			r.callback(result)
			return result, nil, nil
		}
	}

	human := domain.HumanEscalation{
		EscalationID: domain.NewID(),
		TaskID:       req.TaskID,
		Status:       "pending_human",
		Request:      sanitised,
		CreatedAtMs:  time.Now().UnixMilli(),
	}
	r.mu.Lock()
	r.humans = append(r.humans, human)
	r.mu.Unlock()
	logger.Infow("escalated to human", "taskId", req.TaskID, "escalationId", human.EscalationID)
	return domain.EscalationResult{Status: "pending_human"}, &human, nil
}

// HumanEscalations returns every terminal human-escalation record created so
// far, surfaced to operators per spec §4.4.
func (r *Resolver) HumanEscalations() []domain.HumanEscalation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.HumanEscalation, len(r.humans))
	copy(out, r.humans)
	return out
}

type stepFunc func(ctx context.Context, req domain.EscalationRequest) (domain.EscalationResult, error)

// tryStep runs fn with bounded retries and exponential backoff
// (base * 2^attempt), stopping early once a result with status=="completed"
// comes back. It never propagates a step's transport error up the
// waterfall -- a failed automated step simply falls through to the next
// step (spec §4.4/§7 "errors... never abort the enclosing scheduler").
func (r *Resolver) tryStep(ctx context.Context, name string, fn stepFunc, req domain.EscalationRequest) (domain.EscalationResult, bool) {
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.opts.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.EscalationResult{}, false
			}
		}
		result, err := fn(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if result.Status == "completed" {
			return result, true
		}
		return domain.EscalationResult{}, false
	}
	if lastErr != nil {
		logger.Warnw("escalation step exhausted retries", "step", name, "err", lastErr.Error())
	}
	return domain.EscalationResult{}, false
}

func (r *Resolver) callParent(ctx context.Context, req domain.EscalationRequest) (domain.EscalationResult, error) {
	var result domain.EscalationResult
	err := r.postJSON(ctx, r.opts.ParentCoordinatorURL+"/escalate", req, &result)
	return result, err
}

func (r *Resolver) callCloud(ctx context.Context, req domain.EscalationRequest) (domain.EscalationResult, error) {
	var result domain.EscalationResult
	if err := r.postJSON(ctx, r.opts.CloudInferenceURL, req, &result); err != nil {
		return domain.EscalationResult{}, err
	}
	// If the cloud response carries no improvedCode but does carry a raw
	// response, run code extraction on it (spec §4.4 step 2).
	if result.ImprovedCode == "" && result.RawResponse != "" {
		result.ImprovedCode = agent.ExtractCode(result.RawResponse, req.Language)
	}
	if result.ImprovedCode != "" {
		result.Status = "completed"
	}
	return result, nil
}

func (r *Resolver) postJSON(ctx context.Context, url string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "escalation: marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "escalation: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "escalation: call "+url)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("escalation: %s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// callback best-effort POSTs result to the configured callback URL with a
// hard 10s cap; failure never rolls back the resolution (spec §5).
func (r *Resolver) callback(result domain.EscalationResult) {
	if r.opts.CallbackURL == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		raw, err := json.Marshal(result)
		if err != nil {
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.CallbackURL, bytes.NewReader(raw))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			logger.Warnw("escalation callback failed", "err", err.Error())
			return
		}
		resp.Body.Close()
	}()
}
