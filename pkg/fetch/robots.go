package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsGate checks robots.txt permission for page URLs, caching the
// parsed rules per host. A robots.txt that cannot be fetched or parsed
// fails open: the host is treated as fully allowed.
type RobotsGate struct {
	client    *http.Client
	userAgent string
	cache     map[string]*robotstxt.RobotsData // hostname -> parsed data (or nil)
	cacheMu   sync.Mutex
	log       *logrus.Entry
}

// NewRobotsGate creates a RobotsGate. The gate fetches robots.txt over
// plain HTTP; the rendered-page pipeline is not involved.
func NewRobotsGate(userAgent string, log *logrus.Entry) *RobotsGate {
	return &RobotsGate{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// Allowed reports whether the gate's user agent may fetch pageURL.
// Unparseable URLs and unobtainable robots files are allowed.
func (g *RobotsGate) Allowed(ctx context.Context, pageURL string) bool {
	target, err := url.Parse(pageURL)
	if err != nil || target.Hostname() == "" {
		return true
	}

	data := g.robotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), g.userAgent)
}

// robotsData returns cached rules for the target's host, fetching on a
// cache miss. Failures cache nil so each host is fetched at most once.
func (g *RobotsGate) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Hostname()
	hostLog := g.log.WithField("host", host)

	g.cacheMu.Lock()
	data, found := g.cache[host]
	g.cacheMu.Unlock()
	if found {
		return data
	}

	robotsURL := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	if target.Scheme != "http" && target.Scheme != "https" {
		hostLog.Warnf("Invalid scheme '%s', defaulting to https for robots.txt", target.Scheme)
		robotsURL.Scheme = "https"
	}
	robotsURLStr := robotsURL.String()
	hostLog.WithField("robots_url", robotsURLStr).Info("Fetching robots.txt...")

	data = g.fetchAndParse(ctx, robotsURLStr, hostLog)

	g.cacheMu.Lock()
	g.cache[host] = data
	g.cacheMu.Unlock()
	return data
}

func (g *RobotsGate) fetchAndParse(ctx context.Context, robotsURL string, hostLog *logrus.Entry) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		hostLog.Errorf("Error creating robots.txt request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		hostLog.Errorf("Fetching robots.txt failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		hostLog.Debugf("robots.txt returned status %d, treating host as allowed", resp.StatusCode)
		return nil
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		hostLog.Errorf("Error reading robots.txt body: %v", err)
		return nil
	}

	data, err := robotstxt.FromBytes(bodyBytes)
	if err != nil {
		hostLog.Errorf("Error parsing robots.txt: %v", err)
		return nil
	}

	hostLog.Info("Successfully fetched and parsed robots.txt")
	return data
}
