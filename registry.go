package kernel

import (
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/plugkit/kernel/config"
	"github.com/plugkit/kernel/internal/disposer"
	"github.com/plugkit/kernel/internal/graph"
	"go.uber.org/zap"
)

// Registry holds the extension points of a kernel. Each point keeps an
// immutable descriptor set that is replaced on every mutation, so readers
// never observe a half-applied change.
type Registry struct {
	host   *Container
	node   *Node
	env    *environment
	policy config.ConflictPolicy

	mu     sync.RWMutex
	points map[uuid.UUID]*point
}

type point struct {
	key keyRef

	// mu serializes mutations and guards listeners.
	mu        sync.Mutex
	listeners []*listenerEntry

	// lock serializes construction of the resolved list. Its owner is the
	// chain constructing it.
	lock ownedMutex

	state atomic.Pointer[pointState]
}

type listenerEntry struct {
	fn ExtensionListener
}

// pointState is one immutable generation of a point.
type pointState struct {
	descriptors []*descriptor

	orderOnce sync.Once
	order     []*descriptor
	graph     *graph.Graph
	conflicts []ExtensionConstraintError

	resolved atomic.Pointer[[]any]
}

// descriptor is one registered extension. Its instance survives point
// mutations until the descriptor itself is removed.
type descriptor struct {
	id      string
	source  string
	order   Order
	produce func(Resolver) (any, error)

	mu      sync.Mutex
	done    bool
	removed bool
	value   any
	node    *Node
}

// NewRegistry creates a registry whose extension producers resolve from
// host. Disposable extension instances are owned by a node registered under
// the host container, and the registry becomes reachable from every
// container sharing the host's environment.
func NewRegistry(host *Container, policy config.ConflictPolicy) (*Registry, error) {
	if !policy.IsValid() {
		return nil, errors.New("invalid conflict policy")
	}

	r := &Registry{
		host:   host,
		env:    host.env,
		policy: policy,
		points: make(map[uuid.UUID]*point),
	}

	r.node = disposer.New("extensions:"+host.name, nil)
	if err := disposer.Register(host.node, r.node); err != nil {
		return nil, err
	}

	host.env.registry = r
	return r, nil
}

func (r *Registry) extensionRegistry() *Registry { return r }

// Node returns the disposal node owning extension instances and listeners.
func (r *Registry) Node() *Node { return r.node }

// Policy returns the conflict policy.
func (r *Registry) Policy() config.ConflictPolicy { return r.policy }

func (r *Registry) point(k keyRef, create bool) *point {
	r.mu.RLock()
	p := r.points[k.id]
	r.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p = r.points[k.id]; p == nil {
		p = &point{key: k}
		p.state.Store(&pointState{})
		r.points[k.id] = p
	}
	return p
}

func (r *Registry) snapshotPoints() []*point {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ps := make([]*point, 0, len(r.points))
	for _, p := range r.points {
		ps = append(ps, p)
	}
	slices.SortFunc(ps, func(a, b *point) int {
		switch {
		case a.key.name < b.key.name:
			return -1
		case a.key.name > b.key.name:
			return 1
		default:
			return 0
		}
	})
	return ps
}

func (r *Registry) add(k keyRef, d *descriptor) error {
	if r.node.IsDisposed() {
		return AlreadyDisposedError{Name: r.node.Name(), State: r.node.State()}
	}

	p := r.point(k, true)

	p.mu.Lock()
	cur := p.state.Load()
	for _, existing := range cur.descriptors {
		if existing.id == d.id {
			p.mu.Unlock()
			return DuplicateExtensionError{Point: k.name, ID: d.id}
		}
	}

	next := make([]*descriptor, len(cur.descriptors), len(cur.descriptors)+1)
	copy(next, cur.descriptors)
	p.state.Store(&pointState{descriptors: append(next, d)})
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	r.env.logger.Debug("extension added",
		zap.String("point", k.name),
		zap.String("id", d.id),
		zap.String("source", d.source),
	)

	notify(listeners, ExtensionEvent{Kind: ExtensionAdded, Point: k.name, ID: d.id, Source: d.source})
	return nil
}

func (r *Registry) removeWhere(k keyRef, match func(*descriptor) bool) int {
	p := r.point(k, false)
	if p == nil {
		return 0
	}

	p.mu.Lock()
	cur := p.state.Load()
	var kept, removed []*descriptor
	for _, d := range cur.descriptors {
		if match(d) {
			removed = append(removed, d)
		} else {
			kept = append(kept, d)
		}
	}
	if len(removed) == 0 {
		p.mu.Unlock()
		return 0
	}
	p.state.Store(&pointState{descriptors: kept})
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, d := range removed {
		d.mu.Lock()
		d.removed = true
		n := d.node
		d.node = nil
		d.mu.Unlock()

		if n != nil {
			if err := disposer.Dispose(n); err != nil {
				r.env.logger.Error("teardown of removed extension failed",
					zap.String("point", k.name),
					zap.String("id", d.id),
					zap.Error(err),
				)
			}
		}

		r.env.logger.Debug("extension removed",
			zap.String("point", k.name),
			zap.String("id", d.id),
			zap.String("source", d.source),
		)
		notify(listeners, ExtensionEvent{Kind: ExtensionRemoved, Point: k.name, ID: d.id, Source: d.source})
	}

	return len(removed)
}

func (r *Registry) removeBySource(source string) int {
	total := 0
	for _, p := range r.snapshotPoints() {
		total += r.removeWhere(p.key, func(d *descriptor) bool { return d.source == source })
	}
	return total
}

func notify(listeners []*listenerEntry, ev ExtensionEvent) {
	for _, l := range listeners {
		l.fn(ev)
	}
}

func (r *Registry) addListener(k keyRef, fn ExtensionListener) (*Node, error) {
	p := r.point(k, true)
	entry := &listenerEntry{fn: fn}

	n := disposer.New("listener:"+k.name, func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.listeners = slices.DeleteFunc(p.listeners, func(e *listenerEntry) bool { return e == entry })
		return nil
	})
	if err := disposer.Register(r.node, n); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.listeners = append(p.listeners, entry)
	p.mu.Unlock()

	return n, nil
}

// ordered returns the resolved order of st, computing it once.
func (r *Registry) ordered(k keyRef, st *pointState) []*descriptor {
	st.orderOnce.Do(func() {
		st.graph, st.order, st.conflicts = computeOrder(k.name, st.descriptors, r.policy)

		r.env.metrics.RecordRecompute(k.name)
		for _, c := range st.conflicts {
			r.env.metrics.RecordConstraintConflict(k.name)
			r.env.logger.Warn("extension order constraint dropped",
				zap.String("point", k.name),
				zap.Stringer("policy", r.policy),
				zap.Error(c),
			)
		}
	})
	return st.order
}

func (r *Registry) orderIDs(k keyRef) []string {
	p := r.point(k, false)
	if p == nil {
		return []string{}
	}

	order := r.ordered(k, p.state.Load())
	ids := make([]string, len(order))
	for i, d := range order {
		ids[i] = d.id
	}
	return ids
}

// resolve returns the resolved instances of k. The slice is shared and
// must not be modified. A read from a producer continues the caller's
// chain, so a dependency cycle through the point is reported instead of
// blocking.
func (r *Registry) resolve(k keyRef, caller *chain) []any {
	if r.node.IsDisposed() {
		return nil
	}

	p := r.point(k, false)
	if p == nil {
		return nil
	}

	if vs := p.state.Load().resolved.Load(); vs != nil {
		return *vs
	}

	ch := caller
	if ch == nil {
		ch = &chain{}
	}

	if p.lock.owner.Load() == ch {
		r.env.logger.Error("extension producer reads its own extension point",
			zap.String("point", k.name),
			zap.Strings("chain", ch.path()),
		)
		return nil
	}

	if !ch.acquire(&p.lock) {
		err := CircularDependencyError{Path: append(ch.path(), k.name)}
		r.env.logger.Error("extension point read would deadlock",
			zap.String("point", k.name),
			zap.Error(err),
		)
		return nil
	}
	defer ch.release(&p.lock)

	st := p.state.Load()
	if vs := st.resolved.Load(); vs != nil {
		return *vs
	}

	order := r.ordered(k, st)
	values := make([]any, 0, len(order))
	for _, d := range order {
		v, err := r.instantiate(ch, k, d)
		if err != nil {
			r.env.metrics.RecordExtensionFailure(k.name)
			r.env.logger.Error("extension skipped",
				zap.String("point", k.name),
				zap.String("id", d.id),
				zap.String("source", d.source),
				zap.Error(err),
			)
			continue
		}
		values = append(values, v)
	}

	if r.node.IsDisposed() {
		return nil
	}
	st.resolved.Store(&values)
	return values
}

func (r *Registry) instantiate(ch *chain, k keyRef, d *descriptor) (v any, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done {
		return d.value, nil
	}
	if d.removed {
		return nil, AlreadyDisposedError{Name: d.id, State: Disposed}
	}

	if r.host.IsDisposed() {
		return nil, r.host.disposedError()
	}

	name := k.name + "/" + d.id
	ch.push(keyRef{id: k.id, name: name})
	v, err = callProducer(name, d.produce, &resolution{c: r.host, ch: ch})
	ch.pop()
	if err != nil {
		return nil, err
	}

	if teardown := teardownFor(v, nil); teardown != nil {
		n := disposer.New(name, teardown)
		if err := disposer.Register(r.node, n); err != nil {
			if terr := teardown(); terr != nil {
				r.env.logger.Error("teardown of late extension failed", zap.String("id", name), zap.Error(terr))
			}
			return nil, err
		}
		d.node = n
	}

	d.value = v
	d.done = true
	return v, nil
}

func (r *Registry) visualizer(k keyRef) *graph.Visualizer {
	p := r.point(k, true)
	st := p.state.Load()
	r.ordered(k, st)

	v := graph.NewVisualizer(st.graph)
	v.Labels = make(map[string]string, len(st.descriptors))
	for _, d := range st.descriptors {
		if d.source != "" {
			v.Labels[d.id] = d.id + " (" + d.source + ")"
		}
	}
	return v
}

func (r *Registry) writeDOT(k keyRef, w io.Writer) error {
	return r.visualizer(k).WriteDOT(w)
}

func (r *Registry) byName(name string) (keyRef, bool) {
	for _, p := range r.snapshotPoints() {
		if p.key.name == name {
			return p.key, true
		}
	}
	return keyRef{}, false
}

// WriteDOT writes the ordering graph of the point called name in Graphviz
// DOT format. It reports false if no point has that name.
func (r *Registry) WriteDOT(name string, w io.Writer) (bool, error) {
	k, ok := r.byName(name)
	if !ok {
		return false, nil
	}
	return true, r.visualizer(k).WriteDOT(w)
}

// WriteText writes the resolved order of the point called name as a
// numbered list.
func (r *Registry) WriteText(name string, w io.Writer) (bool, error) {
	k, ok := r.byName(name)
	if !ok {
		return false, nil
	}
	return true, r.visualizer(k).WriteText(w)
}

// PointInfo describes one extension point for diagnostics.
type PointInfo struct {
	Name      string   `json:"name"`
	Order     []string `json:"order"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// Points describes every extension point in name order. It computes orders
// but constructs nothing.
func (r *Registry) Points() []PointInfo {
	ps := r.snapshotPoints()
	out := make([]PointInfo, 0, len(ps))
	for _, p := range ps {
		st := p.state.Load()
		order := r.ordered(p.key, st)

		info := PointInfo{Name: p.key.name, Order: make([]string, len(order))}
		for i, d := range order {
			info.Order[i] = d.id
		}
		for _, c := range st.conflicts {
			info.Conflicts = append(info.Conflicts, c.Error())
		}
		out = append(out, info)
	}
	return out
}

// computeOrder sorts descriptors by their constraints. first/last pins are
// applied before explicit before/after edges; an explicit edge that would
// close a cycle is dropped and reported. Ties keep declaration order.
func computeOrder(point string, ds []*descriptor, policy config.ConflictPolicy) (*graph.Graph, []*descriptor, []ExtensionConstraintError) {
	g, conflicts := buildOrderGraph(point, ds, true)
	if len(conflicts) > 0 && policy == config.DeclarationOrder {
		g, _ = buildOrderGraph(point, ds, false)
	}

	byID := make(map[string]*descriptor, len(ds))
	for _, d := range ds {
		byID[d.id] = d
	}

	ids := g.TopologicalSort()
	order := make([]*descriptor, len(ids))
	for i, id := range ids {
		order[i] = byID[id]
	}
	return g, order, conflicts
}

func buildOrderGraph(point string, ds []*descriptor, explicit bool) (*graph.Graph, []ExtensionConstraintError) {
	g := graph.New()
	for _, d := range ds {
		// IDs are unique per point, enforced at registration.
		_ = g.AddNode(d.id)
	}

	// Pins never contradict each other: firsts precede every non-first,
	// every non-last precedes lasts, and an extension pinned both ways
	// counts as first.
	for _, f := range ds {
		if !f.order.First {
			continue
		}
		for _, d := range ds {
			if !d.order.First {
				_ = g.AddEdge(f.id, d.id)
			}
		}
	}
	for _, l := range ds {
		if !l.order.Last || l.order.First {
			continue
		}
		for _, d := range ds {
			if d != l && (!d.order.Last || d.order.First) {
				_ = g.AddEdge(d.id, l.id)
			}
		}
	}

	if !explicit {
		return g, nil
	}

	var conflicts []ExtensionConstraintError
	addEdge := func(from, to string) {
		if from == to || !g.HasNode(from) || !g.HasNode(to) {
			return
		}
		if err := g.AddEdge(from, to); err != nil {
			var cycle graph.CycleError
			if errors.As(err, &cycle) {
				conflicts = append(conflicts, ExtensionConstraintError{
					Point: point,
					From:  from,
					To:    to,
					Path:  cycle.Path,
				})
			}
		}
	}

	for _, d := range ds {
		for _, b := range d.order.Before {
			addEdge(d.id, b)
		}
		for _, a := range d.order.After {
			addEdge(a, d.id)
		}
	}

	return g, conflicts
}
