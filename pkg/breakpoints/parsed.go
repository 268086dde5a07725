package breakpoints

import (
	"context"
	"sync"

	"github.com/go-delve/jsdebug/pkg/resource"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

// ScriptParsedHandler binds the registered recipes in every script the
// runtime parses. Each script gets a completion signal, closed once its
// recipes are resolved, that pause handlers can wait on.
type ScriptParsedHandler struct {
	scripts  *scripts.Registry
	status   *StatusRegistry
	resolver *Resolver
	bol      *BreakOnLoad
	queue    *taskQueue

	wg      sync.WaitGroup
	mu      sync.Mutex
	signals map[scripts.ScriptID]chan struct{}
}

// ScriptParsed schedules the reconciliation of script and returns its
// completion signal. Reconciliations run one at a time, in the order
// the scripts were reported, after any breakpoint update already
// scheduled. The signal exists as soon as ScriptParsed returns, so it
// must be called from the goroutine that receives runtime events,
// before any later pause event is handled.
func (h *ScriptParsedHandler) ScriptParsed(ctx context.Context, script *scripts.Script) <-chan struct{} {
	done := make(chan struct{})
	h.mu.Lock()
	if _, dup := h.signals[script.ID]; dup {
		h.mu.Unlock()
		panic("script " + string(script.ID) + " reconciled twice")
	}
	h.signals[script.ID] = done
	h.mu.Unlock()

	h.wg.Add(1)
	h.queue.push(func() {
		defer h.wg.Done()
		defer close(done)
		h.reconcile(ctx, script)
	})
	return done
}

// WaitUntilBreakpointsSet blocks until the recipes of script are
// resolved. Scripts that were never reported, or whose execution
// context is gone, return immediately.
func (h *ScriptParsedHandler) WaitUntilBreakpointsSet(ctx context.Context, script scripts.ScriptID) error {
	h.mu.Lock()
	done, ok := h.signals[script]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forget drops the completion signals of dead scripts.
func (h *ScriptParsedHandler) forget(dead map[scripts.ScriptID]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range dead {
		delete(h.signals, id)
	}
}

// Wait blocks until every reconciliation scheduled so far is done.
func (h *ScriptParsedHandler) Wait() { h.wg.Wait() }

// rolePreference orders the sources of a script when picking the one a
// recipe targets.
var rolePreference = [...]scripts.Role{scripts.RoleMapped, scripts.RoleDevelopment, scripts.RoleRuntime}

func (h *ScriptParsedHandler) reconcile(ctx context.Context, script *scripts.Script) {
	if !h.scripts.IsLive(script.ID) {
		return
	}
	sources := h.scripts.SourcesOf(script.ID)
	loaded := map[string]resource.Identifier{}
	for _, r := range h.status.Recipes() {
		src, ok := h.targetOf(r, sources)
		if !ok {
			continue
		}
		h.resolver.resolve(ctx, r, src, script.ID, true)
		loaded[r.Source.Canonical()] = r.Source
	}
	for _, id := range loaded {
		h.bol.Loaded(ctx, id)
	}
}

// targetOf returns the source of the script that r designates, if any.
func (h *ScriptParsedHandler) targetOf(r ClientRecipe, sources []scripts.Source) (scripts.Source, bool) {
	for _, role := range rolePreference {
		for _, src := range sources {
			if src.Role == role && h.scripts.Matches(r.Source, src) {
				return src, true
			}
		}
	}
	return scripts.Source{}, false
}
