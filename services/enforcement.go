package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

type enforcementStore interface {
	GetEnforcementContexts() ([]model.EnforcementContext, error)
	SaveEnforcementContext(ctx *model.EnforcementContext) error
}

// EnforcementService merges every active enforcement context into one
// effective restriction set and drives the platform blocking capability.
// Policy is most-restrictive-wins: a target is blocked while any active
// context blocks it, so deactivating one context never lifts a restriction
// another active context still requires.
type EnforcementService struct {
	appContext.DefaultService

	store   enforcementStore
	blocker PlatformBlockingCapability

	mu        sync.Mutex
	contexts  map[string]*model.EnforcementContext
	listeners []func([]model.RestrictionTarget)

	applyCh chan struct{}
	closed  chan struct{}

	maxBackoff time.Duration
}

const ENFORCEMENT_SVC = "enforcement_svc"

// The fixed context set. Features own their context's content; the engine
// only reads activation and restrictions.
var knownContexts = []string{
	shared.ContextTimer,
	shared.ContextSchedule,
	shared.ContextRegretPrevention,
	shared.ContextHardMode,
}

func (svc *EnforcementService) Id() string {
	return ENFORCEMENT_SVC
}

func (svc *EnforcementService) Configure(ctx *appContext.Context) error {
	svc.contexts = make(map[string]*model.EnforcementContext)
	svc.applyCh = make(chan struct{}, 1)
	svc.closed = make(chan struct{})
	svc.maxBackoff = time.Minute
	return svc.DefaultService.Configure(ctx)
}

func (svc *EnforcementService) Start() error {
	svc.store = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.blocker = NewBlockingCapability()

	if err := svc.restoreContexts(); err != nil {
		return err
	}

	go svc.applyLoop()

	// Re-assert whatever survived the restart.
	svc.requestApply()
	return nil
}

func (svc *EnforcementService) Shutdown() {
	close(svc.closed)
}

// restoreContexts registers the known set and restores persisted activation
// so blocking resumes across a relaunch. Restriction content is re-supplied
// by the owning features as they start.
func (svc *EnforcementService) restoreContexts() error {
	persisted, err := svc.store.GetEnforcementContexts()
	if err != nil {
		return err
	}
	active := make(map[string]bool, len(persisted))
	for _, p := range persisted {
		active[p.Name] = p.Active
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, name := range knownContexts {
		svc.contexts[name] = &model.EnforcementContext{
			Name:      name,
			Active:    active[name],
			UpdatedAt: time.Now(),
		}
	}
	return nil
}

// Activate turns a context on. Unknown names are rejected as a configuration
// error with no state change.
func (svc *EnforcementService) Activate(name string) error {
	return svc.setActive(name, true)
}

func (svc *EnforcementService) Deactivate(name string) error {
	return svc.setActive(name, false)
}

func (svc *EnforcementService) setActive(name string, active bool) error {
	svc.mu.Lock()
	ctx, ok := svc.contexts[name]
	if !ok {
		svc.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrUnknownContext, name)
	}
	changed := ctx.Active != active
	ctx.Active = active
	ctx.UpdatedAt = time.Now()
	snapshot := *ctx
	svc.mu.Unlock()

	if !changed {
		return nil
	}

	if err := svc.store.SaveEnforcementContext(&snapshot); err != nil {
		log.WithError(err).WithField("context", name).Error("Failed to persist context activation")
	}

	log.WithFields(log.Fields{"context": name, "active": active}).Info("Enforcement context toggled")
	svc.requestApply()
	return nil
}

// SetRestrictions replaces a context's restriction set. Owned content only;
// the engine never mutates it beyond storing the copy.
func (svc *EnforcementService) SetRestrictions(name string, targets []model.RestrictionTarget) error {
	svc.mu.Lock()
	ctx, ok := svc.contexts[name]
	if !ok {
		svc.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrUnknownContext, name)
	}
	ctx.Restrictions = append([]model.RestrictionTarget(nil), targets...)
	ctx.UpdatedAt = time.Now()
	active := ctx.Active
	svc.mu.Unlock()

	if active {
		svc.requestApply()
	}
	return nil
}

// IsActive reports a context's current activation.
func (svc *EnforcementService) IsActive(name string) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	ctx, ok := svc.contexts[name]
	return ok && ctx.Active
}

// Recompute returns the union of every active context's restriction set,
// deduplicated and ordered. Pure: same active contexts with same content
// always produce the same effective set.
func (svc *EnforcementService) Recompute() []model.RestrictionTarget {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.effectiveLocked()
}

func (svc *EnforcementService) effectiveLocked() []model.RestrictionTarget {
	seen := make(map[string]model.RestrictionTarget)
	for _, ctx := range svc.contexts {
		if !ctx.Active {
			continue
		}
		for _, t := range ctx.Restrictions {
			seen[t.Key()] = t
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	effective := make([]model.RestrictionTarget, len(keys))
	for i, k := range keys {
		effective[i] = seen[k]
	}
	return effective
}

// Snapshot returns per-context status for observability endpoints.
func (svc *EnforcementService) Snapshot() []model.EnforcementContext {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	out := make([]model.EnforcementContext, 0, len(svc.contexts))
	for _, name := range knownContexts {
		if ctx, ok := svc.contexts[name]; ok {
			c := *ctx
			c.Restrictions = append([]model.RestrictionTarget(nil), ctx.Restrictions...)
			out = append(out, c)
		}
	}
	return out
}

// OnRestrictionsChanged registers a listener invoked after every recompute,
// with the effective set. Decoupled from any rendering layer.
func (svc *EnforcementService) OnRestrictionsChanged(fn func([]model.RestrictionTarget)) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.listeners = append(svc.listeners, fn)
}

// requestApply schedules an asynchronous recompute-and-apply. Callers never
// block on the platform capability; triggers coalesce.
func (svc *EnforcementService) requestApply() {
	select {
	case svc.applyCh <- struct{}{}:
	default:
	}
}

func (svc *EnforcementService) applyLoop() {
	for {
		select {
		case <-svc.closed:
			return
		case <-svc.applyCh:
			svc.applyCurrent()
		}
	}
}

// applyCurrent pushes the effective set to the platform capability, retrying
// with capped backoff until it lands or a newer trigger supersedes it.
// Blocking failures are reported, not fatal: context activation stands and
// the set converges when the capability recovers.
func (svc *EnforcementService) applyCurrent() {
	backoff := 500 * time.Millisecond

	for attempt := 1; ; attempt++ {
		svc.mu.Lock()
		effective := svc.effectiveLocked()
		listeners := make([]func([]model.RestrictionTarget), len(svc.listeners))
		copy(listeners, svc.listeners)
		svc.mu.Unlock()

		if attempt == 1 {
			for _, fn := range listeners {
				fn(effective)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := svc.blocker.Apply(ctx, effective)
		cancel()

		if err == nil {
			enforcementAppliesTotal.WithLabelValues("ok").Inc()
			enforcementEffectiveTargets.Set(float64(len(effective)))
			log.WithField("targets", len(effective)).Debug("Restriction set applied")
			return
		}

		enforcementAppliesTotal.WithLabelValues("error").Inc()
		log.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"driver":  svc.blocker.Name(),
		}).Warn("Blocking capability apply failed, will retry")

		select {
		case <-svc.closed:
			return
		case <-svc.applyCh:
			// Newer state supersedes this attempt; restart with it now.
			backoff = 500 * time.Millisecond
			attempt = 0
		case <-time.After(backoff):
			backoff *= 2
			if backoff > svc.maxBackoff {
				backoff = svc.maxBackoff
			}
		}
	}
}
