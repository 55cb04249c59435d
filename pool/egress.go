package pool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nijaru/yt-script/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const (
	DefaultEgressBaseDelay = 30 * time.Second
	DefaultEgressMaxDelay  = 300 * time.Second

	DefaultProxyTestURL     = "https://httpbin.org/ip"
	DefaultProxyTestTimeout = 10 * time.Second

	unknownMeta = "Unknown"
)

type Scheme string

const (
	SchemeHTTP   Scheme = "http"
	SchemeHTTPS  Scheme = "https"
	SchemeSOCKS4 Scheme = "socks4"
	SchemeSOCKS5 Scheme = "socks5"
)

// Proxy is an outbound egress path.
type Proxy struct {
	URL          string        `json:"url" yaml:"url"`
	Scheme       Scheme        `json:"type" yaml:"type"`
	Username     string        `json:"username,omitempty" yaml:"username"`
	Password     string        `json:"-" yaml:"password"`
	Country      string        `json:"country" yaml:"country"`
	Speed        string        `json:"speed" yaml:"speed"`
	ResponseTime time.Duration `json:"responseTime" yaml:"-"`
	LastTested   time.Time     `json:"lastTested" yaml:"-"`
}

// DetectScheme infers the proxy scheme from its URL prefix, defaulting to http.
func DetectScheme(raw string) Scheme {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(lower, "socks5://"), strings.HasPrefix(lower, "socks5h://"):
		return SchemeSOCKS5
	case strings.HasPrefix(lower, "socks4://"), strings.HasPrefix(lower, "socks4a://"):
		return SchemeSOCKS4
	case strings.HasPrefix(lower, "https://"):
		return SchemeHTTPS
	}
	return SchemeHTTP
}

// Normalize fills defaults and validates the proxy address.
func (px Proxy) Normalize() (Proxy, error) {
	const op = "Proxy.Normalize"

	px.URL = strings.TrimSpace(px.URL)
	if px.URL == "" {
		return px, errors.InvalidInput(op, nil, "Proxy URL is required")
	}
	if px.Scheme == "" {
		px.Scheme = DetectScheme(px.URL)
	}
	switch px.Scheme {
	case SchemeHTTP, SchemeHTTPS, SchemeSOCKS5:
	case SchemeSOCKS4:
		return px, errors.InvalidInput(op, nil, "socks4 proxies are not supported, use socks5 or http")
	default:
		return px, errors.InvalidInput(op, nil, fmt.Sprintf("unsupported proxy type %q", px.Scheme))
	}
	if !strings.Contains(px.URL, "://") {
		px.URL = string(px.Scheme) + "://" + px.URL
	}
	u, err := url.Parse(px.URL)
	if err != nil || u.Host == "" {
		return px, errors.InvalidInput(op, err, "Invalid proxy URL")
	}
	if u.User != nil && px.Username == "" {
		px.Username = u.User.Username()
		px.Password, _ = u.User.Password()
	}
	if px.Country == "" {
		px.Country = unknownMeta
	}
	if px.Speed == "" {
		px.Speed = unknownMeta
	}
	return px, nil
}

// Redacted returns the proxy URL without credentials.
func (px Proxy) Redacted() string {
	u, err := url.Parse(px.URL)
	if err != nil {
		return px.URL
	}
	u.User = nil
	return u.String()
}

// Transport builds a RoundTripper that routes requests through px.
func (px Proxy) Transport() (http.RoundTripper, error) {
	const op = "Proxy.Transport"

	u, err := url.Parse(px.URL)
	if err != nil {
		return nil, errors.InvalidInput(op, err, "Invalid proxy URL")
	}
	if px.Username != "" {
		u.User = url.UserPassword(px.Username, px.Password)
	}

	base := http.DefaultTransport.(*http.Transport).Clone()

	switch px.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		base.Proxy = http.ProxyURL(u)
		return base, nil
	case SchemeSOCKS5:
		var auth *proxy.Auth
		if px.Username != "" {
			auth = &proxy.Auth{User: px.Username, Password: px.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
		if err != nil {
			return nil, errors.Upstream(op, errors.KindProxyUnavailable, 0, "failed to build socks5 dialer", err)
		}
		base.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			base.DialContext = cd.DialContext
		} else {
			base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		return base, nil
	}

	return nil, errors.Configuration(op, fmt.Sprintf("proxy type %s is not supported for outbound requests", px.Scheme))
}

// TestResult is the outcome of a live check through one proxy.
type TestResult struct {
	ID           string        `json:"proxyId"`
	Success      bool          `json:"success"`
	ResponseTime time.Duration `json:"responseTime"`
	Status       int           `json:"status,omitempty"`
	Error        string        `json:"error,omitempty"`
}

type ProxyStats struct {
	EntryStats
	Type         Scheme        `json:"type"`
	Country      string        `json:"country"`
	Speed        string        `json:"speed"`
	ResponseTime time.Duration `json:"responseTime"`
}

type EgressStats struct {
	Total     int          `json:"total"`
	Active    int          `json:"active"`
	Available int          `json:"available"`
	Proxies   []ProxyStats `json:"proxies"`
}

type EgressConfig struct {
	Policy          Policy
	TestURL         string
	TestTimeout     time.Duration
	TestConcurrency int
}

func DefaultEgressConfig() EgressConfig {
	return EgressConfig{
		Policy:          Policy{BaseDelay: DefaultEgressBaseDelay, MaxDelay: DefaultEgressMaxDelay},
		TestURL:         DefaultProxyTestURL,
		TestTimeout:     DefaultProxyTestTimeout,
		TestConcurrency: 5,
	}
}

// EgressPool hands out proxies and can check them.
type EgressPool struct {
	*Pool[Proxy]
	config EgressConfig
	logger *logrus.Entry
}

func NewEgressPool(cfg EgressConfig) *EgressPool {
	if cfg.TestURL == "" {
		cfg.TestURL = DefaultProxyTestURL
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = DefaultProxyTestTimeout
	}
	if cfg.TestConcurrency <= 0 {
		cfg.TestConcurrency = 1
	}
	return &EgressPool{
		Pool: New[Proxy]("proxies", "proxy", cfg.Policy, classifyProxyFailure, func(px Proxy) string {
			return px.Redacted()
		}),
		config: cfg,
		logger: logrus.WithField("component", "egress_pool"),
	}
}

func (p *EgressPool) AddProxy(px Proxy) (string, error) {
	px, err := px.Normalize()
	if err != nil {
		return "", err
	}
	return p.Add(px), nil
}

// LoadProxies adds every valid proxy URL and returns how many were added.
func (p *EgressPool) LoadProxies(raw []string) int {
	added := 0
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		if _, err := p.AddProxy(Proxy{URL: r}); err != nil {
			p.logger.WithError(err).WithField("proxy", r).Warn("Skipping invalid proxy")
			continue
		}
		added++
	}
	return added
}

func (p *EgressPool) EgressStats() EgressStats {
	base := p.Stats()
	values := make(map[string]Proxy)
	for _, e := range p.Entries() {
		values[e.ID] = e.Value
	}

	out := EgressStats{
		Total:     base.Total,
		Active:    base.Active,
		Available: base.Available,
		Proxies:   make([]ProxyStats, 0, len(base.Entries)),
	}
	for _, es := range base.Entries {
		px := values[es.ID]
		out.Proxies = append(out.Proxies, ProxyStats{
			EntryStats:   es,
			Type:         px.Scheme,
			Country:      px.Country,
			Speed:        px.Speed,
			ResponseTime: px.ResponseTime,
		})
	}
	return out
}

// Test checks one proxy and feeds the outcome back into the pool.
func (p *EgressPool) Test(ctx context.Context, id string) (TestResult, error) {
	const op = "EgressPool.Test"

	entry, ok := p.Get(id)
	if !ok {
		return TestResult{}, errors.NotFound(op, nil, "Proxy not found")
	}

	result := TestResult{ID: id}
	logger := p.logger.WithFields(logrus.Fields{
		"proxy_id": id,
		"proxy":    entry.Value.Redacted(),
	})

	transport, err := entry.Value.Transport()
	if err != nil {
		result.Error = err.Error()
		p.MarkFailed(id, err)
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.TestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.TestURL, nil)
	if err != nil {
		return result, errors.Internal(op, err, "failed to build check request")
	}

	client := &http.Client{Transport: transport, Timeout: p.config.TestTimeout}
	start := time.Now()
	resp, err := client.Do(req)
	result.ResponseTime = time.Since(start)

	if err != nil {
		failure := errors.FromTransport(op, err)
		result.Error = failure.Error()
		p.MarkFailed(id, failure)
		logger.WithError(err).Warn("Proxy check failed")
		return result, nil
	}
	defer resp.Body.Close()
	result.Status = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		failure := classifyCheckStatus(op, resp.StatusCode)
		result.Error = failure.Error()
		p.MarkFailed(id, failure)
		logger.WithField("status", resp.StatusCode).Warn("Proxy check returned non-200")
		return result, nil
	}

	result.Success = true
	p.MarkSuccess(id)
	p.Update(id, func(px *Proxy) {
		px.ResponseTime = result.ResponseTime
		px.LastTested = time.Now()
	})
	logger.WithField("response_time", result.ResponseTime).Info("Proxy check succeeded")
	return result, nil
}

// TestAll checks every proxy with bounded concurrency.
func (p *EgressPool) TestAll(ctx context.Context) []TestResult {
	entries := p.Entries()
	results := make([]TestResult, len(entries))

	sem := make(chan struct{}, p.config.TestConcurrency)
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := p.Test(ctx, id)
			if err != nil {
				res = TestResult{ID: id, Error: err.Error()}
			}
			results[i] = res
		}(i, e.ID)
	}
	wg.Wait()

	return results
}

func classifyCheckStatus(op string, status int) *errors.AppError {
	switch status {
	case http.StatusProxyAuthRequired:
		return errors.Upstream(op, errors.KindProxyAuth, status, "proxy authentication failed", nil)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return errors.Upstream(op, errors.KindProxyUnavailable, status, "proxy unavailable", nil)
	}
	return errors.Upstream(op, errors.KindNetwork, status, fmt.Sprintf("proxy check returned HTTP %d", status), nil)
}

func classifyProxyFailure(err error) Verdict {
	kind := errors.KindOf(err)
	switch kind {
	case errors.KindProxyAuth, errors.KindConfiguration, errors.KindInvalidInput:
		return Verdict{Reason: kind, Disable: true, Permanent: true}
	case errors.KindProxyUnavailable:
		return Verdict{Reason: kind, Disable: true}
	case errors.KindTimeout, errors.KindNetwork:
		return Verdict{Reason: kind}
	}
	return Verdict{Reason: errors.KindUnknown}
}
