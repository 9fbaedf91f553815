package levels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/savepop/savepop/pkg/logger"
)

const maxAdvisorBody = 64 << 10

// HTTPAdvisor posts goal summaries to an LLM-backed advisory endpoint.
type HTTPAdvisor struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ Advisor = (*HTTPAdvisor)(nil)

// NewHTTPAdvisor constructs an advisor using the provided endpoint.
func NewHTTPAdvisor(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPAdvisor, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("advisor endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse advisor endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("levels-advisor")
	}
	return &HTTPAdvisor{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (a *HTTPAdvisor) SuggestLevels(ctx context.Context, summary Summary, profile Profile) (Suggestion, error) {
	body, err := json.Marshal(map[string]any{
		"goal":    summary,
		"profile": profile,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("encode advisor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return Suggestion{}, fmt.Errorf("build advisor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Suggestion{}, fmt.Errorf("advisor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Suggestion{}, fmt.Errorf("advisor status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAdvisorBody))
	if err != nil {
		return Suggestion{}, fmt.Errorf("read advisor response: %w", err)
	}
	return ParseSuggestion(raw)
}

// ParseSuggestion reads an advisor reply. Replies may be bare JSON, JSON inside
// a markdown code fence, or an envelope whose "content" field holds either.
// Fields of the wrong type are dropped rather than failing the whole reply.
func ParseSuggestion(raw []byte) (Suggestion, error) {
	doc := unwrap(string(raw))
	if !gjson.Valid(doc) {
		return Suggestion{}, fmt.Errorf("advisor reply is not valid JSON")
	}
	res := gjson.Parse(doc)
	if !res.IsObject() {
		return Suggestion{}, fmt.Errorf("advisor reply is not an object")
	}

	var s Suggestion
	if v := res.Get("total_levels"); v.Type == gjson.Number {
		if f := v.Float(); f == math.Trunc(f) && math.Abs(f) < 1e6 {
			n := int(f)
			s.TotalLevels = &n
		}
	}
	if d, ok := decimalField(res.Get("daily_target")); ok {
		s.DailyTarget = &d
	}
	s.Copy.Tip = stringField(res.Get("tip"))
	s.Copy.Quarter = stringField(res.Get("milestone_message_25"))
	s.Copy.Half = stringField(res.Get("milestone_message_50"))
	s.Copy.ThreeQuart = stringField(res.Get("milestone_message_75"))
	s.Copy.Completion = stringField(res.Get("completion_message"))
	return s, nil
}

func unwrap(body string) string {
	body = strings.TrimSpace(body)
	if gjson.Valid(body) {
		if content := gjson.Get(body, "content"); content.Type == gjson.String {
			body = strings.TrimSpace(content.String())
		}
	}
	if start := strings.Index(body, "```"); start >= 0 {
		rest := body[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		body = strings.TrimSpace(rest)
	}
	return body
}

func decimalField(v gjson.Result) (decimal.Decimal, bool) {
	switch v.Type {
	case gjson.Number:
		d, err := decimal.NewFromString(v.Raw)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	case gjson.String:
		d, err := decimal.NewFromString(strings.TrimSpace(v.String()))
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

func stringField(v gjson.Result) string {
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.String())
}
