package services

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

// PlatformBlockingCapability is the collaborator that actually restricts
// apps and sites. Implementations are per platform and selected at startup;
// the enforcement engine only drives the upsert call and treats failures as
// retryable, never fatal.
type PlatformBlockingCapability interface {
	Name() string
	Apply(ctx context.Context, targets []model.RestrictionTarget) error
}

// NewBlockingCapability selects the platform strategy from BLOCKING_DRIVER.
func NewBlockingCapability() PlatformBlockingCapability {
	switch os.Getenv("BLOCKING_DRIVER") {
	case "agent":
		return newAgentBlocker()
	default:
		return &noopBlocker{}
	}
}

// noopBlocker is used where no platform agent is available (tests, CI,
// headless installs). Restrictions are logged and accepted.
type noopBlocker struct{}

func (b *noopBlocker) Name() string { return "noop" }

func (b *noopBlocker) Apply(_ context.Context, targets []model.RestrictionTarget) error {
	log.WithField("targets", len(targets)).Debug("Blocking driver is noop, restriction set not enforced")
	return nil
}

// agentBlocker talks to the local platform helper (the process holding the
// OS screen-time / firewall entitlements) over loopback HTTP.
type agentBlocker struct {
	httpClient *http.Client
	baseURL    string
}

func newAgentBlocker() *agentBlocker {
	baseURL := os.Getenv("BLOCKING_AGENT_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:9123"
	}
	return &agentBlocker{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

func (b *agentBlocker) Name() string { return "agent" }

type agentApplyRequest struct {
	Targets []model.RestrictionTarget `json:"targets"`
}

// Apply upserts the full effective set; the agent replaces whatever it held
// before, so a shrinking set lifts restrictions too.
func (b *agentBlocker) Apply(ctx context.Context, targets []model.RestrictionTarget) error {
	body, err := shared.MarshalJSON(agentApplyRequest{Targets: targets})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.baseURL+"/v1/restrictions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("blocking agent unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("blocking agent rejected restriction set: status %d", resp.StatusCode)
	}
	return nil
}
