package gemini

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/pool"
	"github.com/nijaru/yt-script/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	transcriptHeader = "\n\nTranscript của clip cần biên kịch:\n"
	maxErrorBody     = 500
	apiKeyHeader     = "x-goog-api-key"
)

type leaseContextKey struct{}

// lease is the key and proxy drawn for one call. It rides on the request
// context so a single SDK client can serve every pool entry.
type lease struct {
	key   string
	proxy http.RoundTripper
}

// keyTransport sets the leased API key and sends the request through the
// leased proxy, or base when the call connects directly.
type keyTransport struct {
	base http.RoundTripper
}

func (t keyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	l, _ := req.Context().Value(leaseContextKey{}).(lease)

	rt := l.proxy
	if rt == nil {
		rt = t.base
	}
	req = req.Clone(req.Context())
	if l.key != "" {
		req.Header.Set(apiKeyHeader, l.key)
	}
	return rt.RoundTrip(req)
}

var _ Service = (*Client)(nil)

// Client talks to the Gemini API through the generative-ai-go SDK.
type Client struct {
	genai   *genai.Client
	creds   *pool.CredentialPool
	egress  *pool.EgressPool
	config  Config
	limiter *rate.Limiter
	logger  *logrus.Entry
}

// NewClient returns a Client backed by the given pools. egress may be nil.
func NewClient(creds *pool.CredentialPool, egress *pool.EgressPool, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.VideoTimeout <= 0 {
		cfg.VideoTimeout = DefaultVideoTimeout
	}
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = DefaultTextTimeout
	}

	httpClient := &http.Client{Transport: keyTransport{base: http.DefaultTransport}}

	// The key option only satisfies the SDK's auth check; requests carry the
	// leased key through keyTransport.
	gc, err := genai.NewClient(context.Background(),
		option.WithAPIKey("pooled"),
		option.WithHTTPClient(httpClient),
		option.WithEndpoint(cfg.Endpoint),
	)
	if err != nil {
		return nil, errors.Internal("Gemini.NewClient", err, "failed to create gemini client")
	}

	c := &Client{
		genai:  gc,
		creds:  creds,
		egress: egress,
		config: cfg,
		logger: logrus.WithField("component", "gemini"),
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.genai.Close()
}

func (c *Client) AnalyzeVideo(ctx context.Context, videoURL, prompt, model string, observe retry.Observer) (string, error) {
	const op = "Gemini.AnalyzeVideo"
	if model == "" {
		model = DefaultVideoModel
	}

	parts := []genai.Part{
		genai.Text(prompt),
		genai.FileData{URI: videoURL},
	}
	return retry.Do(ctx, c.config.Retry, op, func(ctx context.Context, attempt int) (string, error) {
		return c.generate(ctx, op, model, parts, c.config.VideoTimeout)
	}, observe)
}

func (c *Client) AnalyzeVideoSegment(ctx context.Context, videoURL, prompt, model string, observe retry.Observer) (string, error) {
	if model == "" {
		model = DefaultSegmentModel
	}
	return c.AnalyzeVideo(ctx, videoURL, prompt, model, observe)
}

func (c *Client) GenerateScript(ctx context.Context, transcript, prompt, model string) (string, error) {
	const op = "Gemini.GenerateScript"
	if model == "" {
		model = DefaultScriptModel
	}
	return c.generate(ctx, op, model, []genai.Part{genai.Text(prompt + transcriptHeader + transcript)}, c.config.TextTimeout)
}

func (c *Client) GenerateText(ctx context.Context, prompt, model string) (string, error) {
	const op = "Gemini.GenerateText"
	if model == "" {
		model = DefaultTextModel
	}
	return c.generate(ctx, op, model, []genai.Part{genai.Text(prompt)}, c.config.TextTimeout)
}

// generate performs one GenerateContent call and feeds the outcome back into
// the pools it drew from.
func (c *Client) generate(ctx context.Context, op, model string, parts []genai.Part, timeout time.Duration) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	key, err := c.creds.Next()
	if err != nil {
		return "", err
	}

	logger := c.logger.WithFields(logrus.Fields{
		"op":     op,
		"model":  model,
		"key_id": key.ID,
	})

	transport, proxyID := c.transport(logger)
	if proxyID != "" {
		logger = logger.WithField("proxy_id", proxyID)
	}

	fail := func(err *errors.AppError) (string, error) {
		c.creds.MarkFailed(key.ID, err)
		if proxyID != "" && isEgressFailure(err) {
			c.egress.MarkFailed(proxyID, err)
		}
		logger.WithFields(logrus.Fields{
			"kind":   err.Kind,
			"status": err.Code,
		}).WithError(err).Warn("Gemini call failed")
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	callCtx = context.WithValue(callCtx, leaseContextKey{}, lease{key: key.Value.Key, proxy: transport})

	logger.Debug("Calling Gemini API")
	resp, err := c.genai.GenerativeModel(model).GenerateContent(callCtx, parts...)
	if err != nil {
		if ctx.Err() != nil {
			// cancelled by the caller, not an upstream fault
			return "", ctx.Err()
		}
		return fail(classifyError(op, err))
	}

	text, perr := extractText(op, resp)
	if perr != nil {
		return fail(perr)
	}

	c.creds.MarkSuccess(key.ID)
	if proxyID != "" {
		c.egress.MarkSuccess(proxyID)
	}
	logger.WithField("chars", len(text)).Debug("Gemini call succeeded")
	return text, nil
}

// transport draws a usable proxy when proxying is enabled. A nil RoundTripper
// means a direct connection.
func (c *Client) transport(logger *logrus.Entry) (http.RoundTripper, string) {
	if !c.config.UseProxies || c.egress == nil || c.egress.Len() == 0 {
		return nil, ""
	}

	for i := c.egress.Len(); i > 0; i-- {
		px, err := c.egress.Next()
		if err != nil {
			logger.WithError(err).Warn("No proxy available, connecting directly")
			return nil, ""
		}
		rt, err := px.Value.Transport()
		if err != nil {
			// permanently disabled, so the next draw skips it
			c.egress.MarkFailed(px.ID, err)
			logger.WithError(err).WithField("proxy_id", px.ID).Warn("Unusable proxy disabled")
			continue
		}
		return rt, px.ID
	}
	logger.Warn("No usable proxy, connecting directly")
	return nil, ""
}

func extractText(op string, resp *genai.GenerateContentResponse) (string, *errors.AppError) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.Upstream(op, errors.KindParse, http.StatusBadGateway, "Invalid response format from Gemini API", nil)
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", errors.Upstream(op, errors.KindParse, http.StatusBadGateway, "Invalid response format from Gemini API", nil)
	}

	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", errors.Upstream(op, errors.KindParse, http.StatusBadGateway, "Empty text in Gemini response", nil)
	}
	return text, nil
}

// classifyError maps an SDK failure onto an error kind. HTTP statuses arrive
// as *googleapi.Error, transport failures as *url.Error or net.Error, and
// anything else is a response the SDK could not decode.
func classifyError(op string, err error) *errors.AppError {
	var apiErr *googleapi.Error
	var blocked *genai.BlockedError
	var urlErr *url.Error
	var netErr net.Error

	switch {
	case stderrors.As(err, &apiErr):
		body := apiErr.Body
		if strings.TrimSpace(body) == "" {
			body = apiErr.Message
		}
		return classifyStatus(op, apiErr.Code, body)
	case stderrors.As(err, &blocked):
		return errors.Upstream(op, errors.KindParse, http.StatusBadGateway, "Gemini blocked the response: "+blocked.Error(), err)
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.As(err, &urlErr), stderrors.As(err, &netErr):
		return errors.FromTransport(op, err)
	}
	return errors.Upstream(op, errors.KindParse, http.StatusBadGateway, "Failed to parse Gemini response", err)
}

func classifyStatus(op string, status int, body string) *errors.AppError {
	lower := strings.ToLower(body)
	msg := fmt.Sprintf("Gemini API error: %d - %s", status, truncate(body, maxErrorBody))

	var kind errors.Kind
	switch {
	case status == http.StatusTooManyRequests && strings.Contains(lower, "quota"):
		kind = errors.KindQuotaExhausted
	case status == http.StatusTooManyRequests:
		kind = errors.KindRateLimited
	case status == http.StatusServiceUnavailable:
		kind = errors.KindServiceUnavailable
	case strings.Contains(lower, "overload"):
		kind = errors.KindModelOverloaded
	case status == http.StatusBadRequest && (strings.Contains(lower, "api key not valid") || strings.Contains(lower, "api_key_invalid")):
		kind = errors.KindInvalidCredential
	case status == http.StatusBadRequest:
		kind = errors.KindBadRequest
	case status == http.StatusUnauthorized:
		kind = errors.KindUnauthorized
	case status == http.StatusForbidden:
		kind = errors.KindForbidden
	case status == http.StatusProxyAuthRequired:
		kind = errors.KindProxyAuth
	case status >= 500:
		kind = errors.KindServiceUnavailable
	default:
		kind = errors.KindUnknown
	}
	return errors.Upstream(op, kind, status, msg, nil)
}

func isEgressFailure(err *errors.AppError) bool {
	switch err.Kind {
	case errors.KindNetwork, errors.KindTimeout, errors.KindProxyAuth, errors.KindProxyUnavailable:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
