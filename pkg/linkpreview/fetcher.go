// Package linkpreview resolves a URL to the title and images used for a
// link card.
package linkpreview

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/harun/streamrun/internal/observability"
	"github.com/harun/streamrun/internal/tracing"
)

const (
	DefaultTimeout      = 3 * time.Second
	DefaultUserAgent    = "Mozilla/5.0 (compatible; streamrun-linkpreview/1.0)"
	DefaultMaxBodyBytes = 2 << 20

	maxRedirects = 10

	// images strictly larger than this in both dimensions rank first
	largeImageMinSide = 100
)

// Config configures a Fetcher
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64

	// AllowPrivateHosts disables the loopback/private address guard
	AllowPrivateHosts bool
}

// Fetcher fetches pages over HTTP. It never fails: any problem yields an
// empty title and no images.
type Fetcher struct {
	cfg    Config
	client *http.Client
	lookup func(ctx context.Context, host string) ([]net.IPAddr, error)
	logger zerolog.Logger
}

// New creates a Fetcher
func New(cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	f := &Fetcher{
		cfg:    cfg,
		lookup: net.DefaultResolver.LookupIPAddr,
		logger: logger.With().Str("component", "linkpreview").Logger(),
	}
	f.client = &http.Client{
		Timeout:       cfg.Timeout,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// Fetch returns the page title and its image URLs, large images first
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (title string, images []string) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "streamrun.linkpreview", "linkpreview.fetch",
		attribute.String("url", rawURL))
	var fetchErr error
	defer func() {
		observability.RecordLinkPreview(time.Since(start))
		tracing.EndSpan(span, fetchErr)
	}()

	page, err := f.get(ctx, rawURL)
	if err != nil {
		fetchErr = err
		f.logger.Debug().Err(err).Str("url", rawURL).Msg("Link preview unavailable")
		return "", nil
	}
	defer page.Body.Close()

	base := page.Request.URL
	title, large, other := parse(io.LimitReader(page.Body, f.cfg.MaxBodyBytes), base)
	return title, append(large, other...)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if !f.cfg.AllowPrivateHosts {
		if err := f.checkHost(ctx, parsed.Hostname()); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp, nil
}

// checkRedirect applies the host guard to every redirect target
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("unsupported redirect scheme %q", req.URL.Scheme)
	}
	if f.cfg.AllowPrivateHosts {
		return nil
	}
	return f.checkHost(req.Context(), req.URL.Hostname())
}

// checkHost rejects hosts that resolve to loopback, private or link-local
// addresses. Resolution is bounded by ctx; unresolvable hosts are left to
// the HTTP client.
func (f *Fetcher) checkHost(ctx context.Context, host string) error {
	if host == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	var addrs []net.IPAddr
	if ip := net.ParseIP(host); ip != nil {
		addrs = []net.IPAddr{{IP: ip}}
	} else {
		resolved, err := f.lookup(ctx, host)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("resolve %s: %w", host, ctx.Err())
			}
			return nil
		}
		addrs = resolved
	}
	for _, addr := range addrs {
		ip := addr.IP
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
			return fmt.Errorf("URL resolves to private/reserved IP address")
		}
	}
	return nil
}

// parse walks the document once, collecting the first <title> and every
// <img src>. Relative sources are resolved against base.
func parse(r io.Reader, base *url.URL) (title string, large, other []string) {
	z := html.NewTokenizer(r)
	inTitle := false
	titleDone := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(title), large, other

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Title:
				inTitle = !titleDone
			case atom.Img:
				src, big := imageAttrs(tok)
				if src == "" {
					continue
				}
				src = resolve(base, src)
				if big {
					large = append(large, src)
				} else {
					other = append(other, src)
				}
			}

		case html.TextToken:
			if inTitle {
				title += string(z.Text())
			}

		case html.EndTagToken:
			if inTitle {
				if name, _ := z.TagName(); atom.Lookup(name) == atom.Title {
					inTitle = false
					titleDone = true
				}
			}
		}
	}
}

func imageAttrs(tok html.Token) (src string, large bool) {
	var width, height int
	for _, attr := range tok.Attr {
		switch attr.Key {
		case "src":
			src = strings.TrimSpace(attr.Val)
		case "width":
			width, _ = strconv.Atoi(strings.TrimSpace(attr.Val))
		case "height":
			height, _ = strconv.Atoi(strings.TrimSpace(attr.Val))
		}
	}
	return src, width > largeImageMinSide && height > largeImageMinSide
}

func resolve(base *url.URL, src string) string {
	if base == nil {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(ref).String()
}
