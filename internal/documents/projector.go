package documents

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"etmf-portal/portal-backend/pkg/workflows"
)

// Listener is notified after a document projection has been replaced.
// Listeners run outside the projector lock and must not block for long.
type Listener interface {
	DocumentProjected(ctx context.Context, doc *Document, previous workflows.Status)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ctx context.Context, doc *Document, previous workflows.Status)

func (f ListenerFunc) DocumentProjected(ctx context.Context, doc *Document, previous workflows.Status) {
	f(ctx, doc, previous)
}

// View is what a client renders for one document: the projection and the
// actions legal for it, taken together
type View struct {
	Document    *Document    `json:"document"`
	Actions     []ActionSpec `json:"actions"`
	AuditTrail  []AuditEntry `json:"auditTrail"`
	Versions    []Version    `json:"versions"`
	ProjectedAt time.Time    `json:"projectedAt"`
}

type latchKey struct {
	docID   string
	actorID string
	action  workflows.Action
}

// Projector owns the local projections of documents
type Projector struct {
	mu        sync.RWMutex
	cache     *ProjectionCache
	policy    *Policy
	listeners []Listener
	logger    *zap.Logger
	lastGen   uint64

	latchMu  sync.Mutex
	inflight map[latchKey]struct{}
}

func NewProjector(policy *Policy, cache *ProjectionCache, logger *zap.Logger) *Projector {
	return &Projector{
		cache:    cache,
		policy:   policy,
		logger:   logger,
		inflight: make(map[latchKey]struct{}),
	}
}

// Subscribe registers a dependent view
func (p *Projector) Subscribe(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Apply replaces the held document wholesale with doc. The audit trail is the
// one exception: entries already held are kept and new ones appended.
func (p *Projector) Apply(ctx context.Context, doc *Document) {
	p.apply(ctx, doc, nil)
}

// Generation returns the generation of the held projection. Fetches started
// elsewhere record it first and hand it to ApplyIfGeneration.
func (p *Projector) Generation(id string) (uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	held, ok := p.cache.get(id)
	if !ok {
		return 0, false
	}
	return held.generation, true
}

// ApplyIfGeneration applies doc only when the projection is still at
// generation gen. It reports whether doc was applied.
func (p *Projector) ApplyIfGeneration(ctx context.Context, doc *Document, gen uint64) bool {
	return p.apply(ctx, doc, &gen)
}

func (p *Projector) apply(ctx context.Context, doc *Document, expected *uint64) bool {
	next := doc.Clone()

	p.mu.Lock()
	held, ok := p.cache.get(next.ID)
	if expected != nil && (!ok || held.generation != *expected) {
		p.mu.Unlock()
		return false
	}
	previous := workflows.Status("")
	var versions []Version
	var panelsAt time.Time
	if ok {
		previous = held.doc.Status
		next.AuditTrail = MergeAuditTrail(held.doc.AuditTrail, next.AuditTrail)
		versions = held.versions
		panelsAt = held.panelsAt
	}
	if len(next.VersionHistory) > 0 {
		versions = next.VersionHistory
	}
	p.lastGen++
	p.cache.set(next.ID, &projection{
		doc:         next,
		versions:    versions,
		projectedAt: time.Now(),
		panelsAt:    panelsAt,
		generation:  p.lastGen,
	})
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()

	if previous != "" && previous != next.Status {
		p.logger.Info("Document status changed",
			zap.String("document_id", next.ID),
			zap.String("from", string(previous)),
			zap.String("to", string(next.Status)))
	}

	for _, l := range listeners {
		l.DocumentProjected(ctx, next.Clone(), previous)
	}
	return true
}

// UpdatePanels stores freshly fetched dependent views. It is a no-op when the
// document is no longer projected.
func (p *Projector) UpdatePanels(id string, audit []AuditEntry, versions []Version) {
	p.mu.Lock()
	defer p.mu.Unlock()

	held, ok := p.cache.get(id)
	if !ok {
		return
	}
	doc := held.doc.Clone()
	doc.AuditTrail = MergeAuditTrail(doc.AuditTrail, audit)
	updated := &projection{
		doc:         doc,
		versions:    held.versions,
		projectedAt: held.projectedAt,
		panelsAt:    time.Now(),
		generation:  held.generation,
	}
	if versions != nil {
		updated.versions = append([]Version(nil), versions...)
	}
	p.cache.set(id, updated)
}

// Snapshot returns the projection and the actions role may take on it. Both
// are read under one lock so the actions always belong to the returned status.
func (p *Projector) Snapshot(id string, role workflows.Role) (View, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	held, ok := p.cache.get(id)
	if !ok {
		return View{}, false
	}
	doc := held.doc.Clone()
	return View{
		Document:    doc,
		Actions:     p.policy.AvailableActions(doc.Status, role),
		AuditTrail:  SortedForDisplay(doc.AuditTrail),
		Versions:    append([]Version(nil), held.versions...),
		ProjectedAt: held.projectedAt,
	}, true
}

// Document returns a copy of the projected document
func (p *Projector) Document(id string) (*Document, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	held, ok := p.cache.get(id)
	if !ok {
		return nil, false
	}
	return held.doc.Clone(), true
}

// Evict drops a projection, e.g. after the document was deleted
func (p *Projector) Evict(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Delete(id)
}

// ProjectedIDs lists the documents currently projected
func (p *Projector) ProjectedIDs() []string {
	return p.cache.Keys()
}

// Acquire takes the submission latch for one actor's action on a document.
// The returned release must be called once the submission completes.
func (p *Projector) Acquire(docID, actorID string, action workflows.Action) (func(), error) {
	key := latchKey{docID: docID, actorID: actorID, action: action}

	p.latchMu.Lock()
	defer p.latchMu.Unlock()

	if _, busy := p.inflight[key]; busy {
		return nil, ErrSubmissionInFlight
	}
	p.inflight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.latchMu.Lock()
			delete(p.inflight, key)
			p.latchMu.Unlock()
		})
	}, nil
}
