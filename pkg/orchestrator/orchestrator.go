package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chomhq/chom/pkg/bridge"
	"github.com/chomhq/chom/pkg/events"
	"github.com/chomhq/chom/pkg/notify"
	"github.com/chomhq/chom/pkg/queue"
	"github.com/chomhq/chom/pkg/storage"
	"github.com/chomhq/chom/pkg/types"
)

// AgentCaller is the slice of the bridge the orchestrator needs.
// *bridge.Bridge satisfies it; tests substitute a fake.
type AgentCaller interface {
	Run(ctx context.Context, node *types.Node, verb, domain string, args []bridge.Arg) (*bridge.Envelope, error)
	Ping(ctx context.Context, node *types.Node) error
}

// Orchestrator owns site lifecycle transitions.
type Orchestrator struct {
	store    storage.Store
	bridge   AgentCaller
	queue    *queue.Queue
	events   *events.Broker
	notifier notify.Notifier
	leaseTTL time.Duration
}

// New creates an orchestrator. A nil notifier falls back to the
// log-backed one.
func New(store storage.Store, caller AgentCaller, q *queue.Queue, broker *events.Broker, notifier notify.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &Orchestrator{
		store:    store,
		bridge:   caller,
		queue:    q,
		events:   broker,
		notifier: notifier,
		leaseTTL: 5 * time.Minute,
	}
}

// CreateSite registers a new desired-state record and enqueues its
// provisioning job.
func (o *Orchestrator) CreateSite(domain string, siteType types.SiteType, runtimeVersion string, ssl bool) (*types.Site, error) {
	if !types.ValidSiteType(siteType) {
		return nil, fmt.Errorf("unknown site type %q", siteType)
	}
	if existing, err := o.store.GetSiteByDomain(domain); err == nil && existing != nil {
		return nil, fmt.Errorf("site %s already exists", domain)
	}

	now := time.Now().UTC()
	site := &types.Site{
		ID:             uuid.NewString(),
		Domain:         domain,
		Type:           siteType,
		RuntimeVersion: runtimeVersion,
		Status:         types.SiteStatusPending,
		SSLEnabled:     ssl,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateSite(site); err != nil {
		return nil, err
	}
	o.queue.Enqueue(&ProvisionJob{orc: o, SiteID: site.ID})
	return site, nil
}

// appendHealing records one healing decision on the site. The log is
// append-only; entries are never rewritten.
func appendHealing(site *types.Site, action string, success bool, result string) {
	site.HealingLog = append(site.HealingLog, types.HealingAttempt{
		ID:        uuid.NewString(),
		Action:    action,
		Success:   success,
		Result:    result,
		Attempt:   site.ProvisionAttempts,
		Timestamp: time.Now().UTC(),
	})
}

func (o *Orchestrator) publish(eventType events.EventType, message string, metadata map[string]string) {
	if o.events == nil {
		return
	}
	o.events.Publish(&events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Metadata:  metadata,
	})
}

func (o *Orchestrator) saveSite(site *types.Site) error {
	site.UpdatedAt = time.Now().UTC()
	return o.store.UpdateSite(site)
}
