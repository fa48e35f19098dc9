// Package router is the synchronization core: it consumes normalized
// events from the bus, fans each send out to every bridged target, and
// propagates edits and deletes to the recorded copies via the identity map.
package router

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bridgex/internal/bus"
	"bridgex/internal/config"
	"bridgex/internal/domain"
	"bridgex/internal/filter"
	"bridgex/internal/identity"
	"bridgex/internal/media"
	"bridgex/internal/overflow"
	"bridgex/internal/platform"
)

const keyStripes = 256

// keyLocks serializes events sharing one origin key so an edit arriving
// right behind a send cannot race the identity recording. Striped rather
// than per-key: unrelated keys collide only by hash, never by design.
type keyLocks struct {
	mu [keyStripes]sync.Mutex
}

func (k *keyLocks) lock(key domain.OriginKey) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	m := &k.mu[h.Sum32()%keyStripes]
	m.Lock()
	return m
}

// Router owns the fan-out state machine and the identity map.
type Router struct {
	events   <-chan domain.Event
	notifier *bus.Notifier
	adapters map[domain.Platform]domain.Adapter
	ids      *identity.Map
	overflow *overflow.Handler
	media    *media.Relay
	fmtr     *Formatter
	sup      *Supervisor
	table    atomic.Pointer[config.Table]
	keys     keyLocks
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// Options wires a Router.
type Options struct {
	Events   <-chan domain.Event
	Notifier *bus.Notifier
	Adapters []domain.Adapter
	Identity *identity.Map
	Overflow *overflow.Handler
	Media    *media.Relay
	Format   *Formatter
	Dispatch *Supervisor
	Table    *config.Table
	Logger   *slog.Logger
}

// New creates a Router.
func New(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Format == nil {
		opts.Format = NewFormatter(nil)
	}
	r := &Router{
		events:   opts.Events,
		notifier: opts.Notifier,
		adapters: make(map[domain.Platform]domain.Adapter),
		ids:      opts.Identity,
		overflow: opts.Overflow,
		media:    opts.Media,
		fmtr:     opts.Format,
		sup:      opts.Dispatch,
		logger:   opts.Logger,
	}
	for _, a := range opts.Adapters {
		r.adapters[a.Name()] = a
	}
	r.table.Store(opts.Table)
	return r
}

// Table returns the active route table.
func (r *Router) Table() *config.Table {
	return r.table.Load()
}

// SwapTable atomically replaces the route table; in-flight events keep the
// table they resolved against.
func (r *Router) SwapTable(t *config.Table) {
	r.table.Store(t)
	r.logger.Info("route table swapped", "routes", len(t.Routes))
}

// Run consumes events until the bus channel is closed, then waits for
// in-flight dispatches. Each dispatch is bounded by the supervisor's
// attempt cap and call timeout, so Run cannot block indefinitely.
func (r *Router) Run(ctx context.Context) {
	for ev := range r.events {
		r.wg.Add(1)
		go func(ev domain.Event) {
			defer r.wg.Done()
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("event handling panic, event dropped",
						"origin", ev.Origin, "kind", ev.Kind, "panic", p)
				}
			}()
			r.handle(ctx, ev)
		}(ev)
	}
	r.wg.Wait()
}

func (r *Router) handle(ctx context.Context, ev domain.Event) {
	key := ev.OriginKey()
	mu := r.keys.lock(key)
	defer mu.Unlock()

	switch ev.Kind {
	case domain.KindSend:
		r.handleSend(ctx, ev)
	case domain.KindEdit:
		r.handleEdit(ctx, ev)
	case domain.KindDelete:
		r.handleDelete(ctx, ev)
	default:
		r.logger.Warn("unknown event kind, dropped", "kind", ev.Kind, "origin", ev.Origin)
	}
}

// dispatchTarget is one resolved fan-out destination with the rules of the
// route it was reached through.
type dispatchTarget struct {
	endpoint domain.Endpoint
	rules    []filter.Rule
}

// resolveTargets collects the targets of every route containing the origin,
// deduplicated; a target reachable through several routes keeps the first
// route's rules.
func (r *Router) resolveTargets(origin domain.Endpoint) []dispatchTarget {
	table := r.table.Load()
	if table == nil {
		return nil
	}
	seen := make(map[domain.Endpoint]bool)
	var targets []dispatchTarget
	for _, route := range table.RoutesFor(origin) {
		for _, ep := range route.Targets(origin) {
			if seen[ep] {
				continue
			}
			seen[ep] = true
			targets = append(targets, dispatchTarget{endpoint: ep, rules: route.Rules})
		}
	}
	return targets
}

func (r *Router) handleSend(ctx context.Context, ev domain.Event) {
	key := ev.OriginKey()
	resolver := r.resolver(ev.Origin.Platform)

	var accepted []dispatchTarget
	for _, t := range r.resolveTargets(ev.Origin) {
		if !filter.Allow(t.rules, ev, t.endpoint) {
			r.logger.Debug("target filtered", "origin", ev.Origin, "target", t.endpoint)
			r.emit(domain.Outcome{
				Kind: ev.Kind, Origin: key, Target: t.endpoint,
				Status: domain.OutcomeDropped,
			})
			continue
		}
		accepted = append(accepted, t)
	}
	// Fully dropped events never touch the identity map.
	if len(accepted) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, t := range accepted {
		wg.Add(1)
		go func(t dispatchTarget) {
			defer wg.Done()
			r.dispatchSend(ctx, ev, key, t.endpoint, resolver)
		}(t)
	}
	wg.Wait()
}

func (r *Router) dispatchSend(ctx context.Context, ev domain.Event, key domain.OriginKey, target domain.Endpoint, resolver media.Resolver) {
	adapter, ok := r.adapters[target.Platform]
	if !ok {
		r.emitFailed(ev.Kind, key, target, 0, 0, errors.New("no adapter for platform"))
		return
	}

	display, ref := r.overflow.Apply(ctx, r.fmtr.RelayLine(ev, target.Platform), target.Platform)
	out := domain.Outbound{
		Text:  display,
		Media: r.media.PrepareAll(ctx, ev.Media, target.Platform, resolver),
	}

	start := time.Now()
	var msgID string
	attempts, err := r.sup.Do(ctx, target.Platform, "send", func(ctx context.Context) error {
		var sendErr error
		msgID, sendErr = adapter.Send(ctx, target.GroupID, out)
		return sendErr
	})
	if err != nil {
		r.emitFailed(ev.Kind, key, target, attempts, time.Since(start), err)
		return
	}

	// IRC origins have no native message ids; without an origin id there
	// is nothing a later edit or delete could reference.
	if ev.MessageID != "" {
		r.ids.RecordSend(key, target, msgID)
		if ref != "" {
			r.ids.SetOverflow(key, ref)
		}
	}
	r.emit(domain.Outcome{
		Kind: ev.Kind, Origin: key, Target: target, TargetMessageID: msgID,
		Status: domain.OutcomeOK, Attempts: attempts, Elapsed: time.Since(start),
	})
}

// rulesFor finds the filter rules of the route connecting origin to target
// in the active table. Nil if the route disappeared on a reload.
func (r *Router) rulesFor(origin, target domain.Endpoint) ([]filter.Rule, bool) {
	table := r.table.Load()
	if table == nil {
		return nil, false
	}
	for _, route := range table.RoutesFor(origin) {
		for _, ep := range route.Targets(origin) {
			if ep == target {
				return route.Rules, true
			}
		}
	}
	return nil, false
}

func (r *Router) handleEdit(ctx context.Context, ev domain.Event) {
	key := ev.OriginKey()
	targets := r.ids.LookupTargets(key)
	if len(targets) == 0 {
		// Expected: the original send was filtered, or the entry expired.
		r.logger.Debug("edit for unknown origin, dropped", "origin", key)
		r.emit(domain.Outcome{Kind: ev.Kind, Origin: key, Status: domain.OutcomeStale})
		return
	}
	resolver := r.resolver(ev.Origin.Platform)

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t identity.Target) {
			defer wg.Done()
			r.dispatchEdit(ctx, ev, key, t, resolver)
		}(t)
	}
	wg.Wait()
}

func (r *Router) dispatchEdit(ctx context.Context, ev domain.Event, key domain.OriginKey, t identity.Target, resolver media.Resolver) {
	adapter, ok := r.adapters[t.Endpoint.Platform]
	if !ok {
		r.emitFailed(ev.Kind, key, t.Endpoint, 0, 0, errors.New("no adapter for platform"))
		return
	}
	if rules, ok := r.rulesFor(ev.Origin, t.Endpoint); ok {
		if !filter.Allow(rules, ev, t.Endpoint) {
			r.logger.Debug("edit filtered", "origin", key, "target", t.Endpoint)
			r.emit(domain.Outcome{Kind: ev.Kind, Origin: key, Target: t.Endpoint, Status: domain.OutcomeDropped})
			return
		}
	}

	display, ref := r.overflow.Apply(ctx, r.fmtr.RelayLine(ev, t.Endpoint.Platform), t.Endpoint.Platform)
	caps := platform.For(t.Endpoint.Platform)
	start := time.Now()

	var attempts int
	var err error
	if !caps.CanEdit {
		// No in-place edit on this platform: post a visible notice.
		notice := r.fmtr.EditNotice(display)
		attempts, err = r.sup.Do(ctx, t.Endpoint.Platform, "edit-notice", func(ctx context.Context) error {
			_, sendErr := adapter.Send(ctx, t.Endpoint.GroupID, domain.Outbound{Text: notice})
			return sendErr
		})
	} else {
		out := domain.Outbound{
			Text:  display,
			Media: r.media.PrepareAll(ctx, ev.Media, t.Endpoint.Platform, resolver),
		}
		attempts, err = r.sup.Do(ctx, t.Endpoint.Platform, "edit", func(ctx context.Context) error {
			return adapter.Edit(ctx, t.Endpoint.GroupID, t.MessageID, out)
		})
	}

	if err != nil {
		// The copy is gone (deleted by a moderator): drop the mapping so
		// later edits and deletes stop trying.
		if errors.Is(err, domain.ErrNotFound) {
			r.ids.RemoveTarget(key, t.Endpoint)
		}
		r.emitFailed(ev.Kind, key, t.Endpoint, attempts, time.Since(start), err)
		return
	}
	if ref != "" {
		r.ids.SetOverflow(key, ref)
	}
	r.emit(domain.Outcome{
		Kind: ev.Kind, Origin: key, Target: t.Endpoint, TargetMessageID: t.MessageID,
		Status: domain.OutcomeOK, Attempts: attempts, Elapsed: time.Since(start),
	})
}

func (r *Router) handleDelete(ctx context.Context, ev domain.Event) {
	key := ev.OriginKey()
	targets := r.ids.LookupTargets(key)
	if len(targets) == 0 {
		r.logger.Debug("delete for unknown origin, dropped", "origin", key)
		r.emit(domain.Outcome{Kind: ev.Kind, Origin: key, Status: domain.OutcomeStale})
		return
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t identity.Target) {
			defer wg.Done()
			r.dispatchDelete(ctx, ev, key, t)
		}(t)
	}
	wg.Wait()

	// All targets attempted; the origin message no longer needs tracking.
	r.ids.Forget(key)
}

func (r *Router) dispatchDelete(ctx context.Context, ev domain.Event, key domain.OriginKey, t identity.Target) {
	adapter, ok := r.adapters[t.Endpoint.Platform]
	if !ok {
		r.emitFailed(ev.Kind, key, t.Endpoint, 0, 0, errors.New("no adapter for platform"))
		return
	}
	caps := platform.For(t.Endpoint.Platform)
	start := time.Now()

	var attempts int
	var err error
	if !caps.CanDelete {
		notice := r.fmtr.DeleteNotice(key)
		attempts, err = r.sup.Do(ctx, t.Endpoint.Platform, "delete-notice", func(ctx context.Context) error {
			_, sendErr := adapter.Send(ctx, t.Endpoint.GroupID, domain.Outbound{Text: notice})
			return sendErr
		})
	} else {
		attempts, err = r.sup.Do(ctx, t.Endpoint.Platform, "delete", func(ctx context.Context) error {
			return adapter.Delete(ctx, t.Endpoint.GroupID, t.MessageID)
		})
		// Already gone is as good as deleted.
		if errors.Is(err, domain.ErrNotFound) {
			err = nil
		}
	}

	if err != nil {
		r.emitFailed(ev.Kind, key, t.Endpoint, attempts, time.Since(start), err)
		return
	}
	r.emit(domain.Outcome{
		Kind: ev.Kind, Origin: key, Target: t.Endpoint,
		Status: domain.OutcomeOK, Attempts: attempts, Elapsed: time.Since(start),
	})
}

// resolver returns the origin adapter as a media URL resolver, nil when the
// adapter is missing.
func (r *Router) resolver(p domain.Platform) media.Resolver {
	if a, ok := r.adapters[p]; ok {
		return a
	}
	return nil
}

func (r *Router) emit(o domain.Outcome) {
	if o.Status == domain.OutcomeFailed {
		r.logger.Warn("dispatch failed",
			"kind", o.Kind, "origin", o.Origin, "target", o.Target,
			"attempts", o.Attempts, "err", o.Error)
	}
	if r.notifier != nil {
		r.notifier.Emit(o)
	}
}

func (r *Router) emitFailed(kind domain.EventKind, key domain.OriginKey, target domain.Endpoint, attempts int, elapsed time.Duration, err error) {
	r.emit(domain.Outcome{
		Kind: kind, Origin: key, Target: target,
		Status: domain.OutcomeFailed, Error: err.Error(),
		Attempts: attempts, Elapsed: elapsed,
	})
}
