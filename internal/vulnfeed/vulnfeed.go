// Package vulnfeed queries a vulnerability feed for known advisories against
// a target library version and enforces the abort policy: critical or high
// severity blocks the upgrade before any system state changes.
package vulnfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/osslup/internal/strategy"
)

// ErrPolicyAbort marks a target version with critical or high advisories.
// It is the only pre-execution hard abort; no mutation has occurred when it
// is raised.
var ErrPolicyAbort = errors.New("target version has blocking vulnerabilities")

// Severity buckets advisories for the abort policy.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityUnknown  Severity = "unknown"
)

// Blocking reports whether this severity aborts the upgrade.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Advisory is one published vulnerability record.
type Advisory struct {
	ID        string   `json:"id"`
	Severity  Severity `json:"severity"`
	Summary   string   `json:"summary"`
	Reference string   `json:"reference"`
}

// Assessment is the policy decision for one target version.
type Assessment struct {
	Advisories []Advisory
	Blocking   []Advisory
	Warnings   []Advisory
	Skipped    bool // feed unavailable, policy not evaluated
}

// Client queries the feed over HTTP.
type Client struct {
	log     zerolog.Logger
	baseURL string
	http    *http.Client
}

// New creates a feed client. An empty baseURL disables the check entirely
// (every assessment is skipped).
func New(log zerolog.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Check queries the feed for the library at the target version and applies
// the policy. Feed unavailability of any kind — network failure, timeout,
// bad status, malformed body — is a skip, never an abort: the feed is
// advisory infrastructure, not a gate the upgrade depends on existing.
func (c *Client) Check(ctx context.Context, library string, target *semver.Version) (*Assessment, error) {
	if c.baseURL == "" {
		c.log.Info().Msg("no vulnerability feed configured, skipping check")
		return &Assessment{Skipped: true}, nil
	}

	advisories, err := c.query(ctx, library, strategy.VersionString(target))
	if err != nil {
		c.log.Warn().Err(err).Msg("vulnerability feed unavailable, skipping check")
		return &Assessment{Skipped: true}, nil
	}

	as := &Assessment{Advisories: advisories}
	for _, adv := range advisories {
		if adv.Severity.Blocking() {
			as.Blocking = append(as.Blocking, adv)
			continue
		}
		as.Warnings = append(as.Warnings, adv)
	}

	for _, adv := range as.Warnings {
		c.log.Warn().Str("id", adv.ID).Str("severity", string(adv.Severity)).
			Msg(adv.Summary)
	}
	if len(as.Blocking) > 0 {
		for _, adv := range as.Blocking {
			c.log.Error().Str("id", adv.ID).Str("severity", string(adv.Severity)).
				Str("reference", adv.Reference).Msg(adv.Summary)
		}
		return as, fmt.Errorf("%w: %s", ErrPolicyAbort, advisoryIDs(as.Blocking))
	}

	return as, nil
}

func (c *Client) query(ctx context.Context, library, version string) ([]Advisory, error) {
	u := fmt.Sprintf("%s/advisories?package=%s&version=%s",
		c.baseURL, url.QueryEscape(library), url.QueryEscape(version))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %s", resp.Status)
	}

	var payload struct {
		Advisories []Advisory `json:"advisories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode feed response: %w", err)
	}

	for i, adv := range payload.Advisories {
		if normalizeSeverity(adv.Severity) != adv.Severity {
			payload.Advisories[i].Severity = normalizeSeverity(adv.Severity)
		}
	}
	return payload.Advisories, nil
}

// normalizeSeverity folds feed variants into the policy buckets. Anything
// unrecognized is unknown, which warns rather than aborts.
func normalizeSeverity(s Severity) Severity {
	switch Severity(strings.ToLower(string(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium, "moderate":
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

func advisoryIDs(advs []Advisory) string {
	ids := make([]string, len(advs))
	for i, a := range advs {
		ids[i] = a.ID
	}
	return strings.Join(ids, ", ")
}
