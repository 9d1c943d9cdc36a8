// Package converge implements the convergence driver: the
// render -> reconcile -> deploy-in-parallel-batches -> fill-outputs ->
// re-render loop, bounded by maxIterations, followed by effects and
// completeDeployment. Grounded on a pulumi-shaped deployment
// executor (other_examples/294bc989_pulumi-pulumi__pkg-resource-deploy-deployment_executor.go.go,
// whose step generator drives a similar plan/apply/observe loop) for the
// overall driver shape, and on internal/engine/internal/execgraph.Graph for
// batch-parallel apply using golang.org/x/sync/errgroup, the library
// execgraph uses for exactly this fan-out-and-join pattern, plus
// golang.org/x/sync/semaphore to cap how many of a batch's applies run at
// once when Options.MaxConcurrency is set.
package converge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cloudrt/cloudrt/internal/addr"
	"github.com/cloudrt/cloudrt/internal/backend"
	"github.com/cloudrt/cloudrt/internal/element"
	"github.com/cloudrt/cloudrt/internal/fiber"
	"github.com/cloudrt/cloudrt/internal/hooks"
	"github.com/cloudrt/cloudrt/internal/idgen"
	"github.com/cloudrt/cloudrt/internal/logging"
	"github.com/cloudrt/cloudrt/internal/node"
	"github.com/cloudrt/cloudrt/internal/provider"
	"github.com/cloudrt/cloudrt/internal/reactive"
	"github.com/cloudrt/cloudrt/internal/reconcile"
	"github.com/cloudrt/cloudrt/internal/retry"
	"github.com/cloudrt/cloudrt/internal/rterrors"
	"github.com/cloudrt/cloudrt/internal/statemachine"
)

// Options configures a Driver. Zero values fall back to sensible defaults
// in New.
type Options struct {
	Stack          string
	Holder         string
	MaxIterations  int
	AsyncTimeout   time.Duration
	PerOpTimeout   time.Duration
	LockTTL        time.Duration
	RetryPolicy    retry.Policy
	MaxConcurrency int64 // bounds concurrent Provider.Apply calls within one batch; <=0 means unbounded
}

// Driver ties the renderer, node registry, reconciler, provider, state
// machine, and backend into a single convergence loop.
type Driver struct {
	Renderer *fiber.Renderer
	Backend  backend.Backend
	Provider provider.Provider
	Machine  *statemachine.Machine
	Options  Options
	Logger   hclog.Logger
}

// New constructs a Driver. r should be freshly constructed (NewRenderer) so
// its node registry starts empty for seeding from the previous snapshot.
func New(r *fiber.Renderer, b backend.Backend, p provider.Provider, opts Options) *Driver {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 25
	}
	if opts.AsyncTimeout <= 0 {
		opts.AsyncTimeout = 10 * time.Minute
	}
	if opts.PerOpTimeout <= 0 {
		opts.PerOpTimeout = 2 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.Holder == "" {
		opts.Holder = idgen.LockHolder()
	}
	if opts.RetryPolicy == (retry.Policy{}) {
		opts.RetryPolicy = retry.DefaultPolicy
	}

	m := statemachine.New(b, opts.Stack)
	m.LockTTL = opts.LockTTL
	m.RetryPolicy = opts.RetryPolicy

	return &Driver{Renderer: r, Backend: b, Provider: p, Machine: m, Options: opts, Logger: logging.For("converge")}
}

// Run executes one full convergence for root against the driver's stack.
func (d *Driver) Run(ctx context.Context, root element.Element) (backend.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Options.AsyncTimeout)
	defer cancel()

	// Step 1: load previous state and seed output signals.
	prev, err := d.readPrevious(ctx)
	if err != nil {
		return backend.Snapshot{}, err
	}
	d.seedPrevious(prev)

	if _, err := d.Machine.Recover(ctx); err != nil {
		return backend.Snapshot{}, err
	}
	if err := d.Machine.StartDeployment(ctx, d.Options.Holder); err != nil {
		return backend.Snapshot{}, err
	}

	lastApplied := recordsToReconcileNodes(prev.Nodes)
	var rootFiber *fiber.Fiber
	converged := false

	for iter := 0; iter < d.Options.MaxIterations; iter++ {
		if rootFiber == nil {
			rootFiber, err = d.Renderer.Render(root)
		} else {
			_, err = d.Renderer.RerenderDirty()
		}
		if err != nil {
			return d.abort(ctx, err)
		}
		if err := d.Renderer.FlushStoreWrites(); err != nil {
			return d.abort(ctx, err)
		}

		current := d.collectNodes(rootFiber)
		cs, err := reconcile.Diff(lastApplied, current)
		if err != nil {
			return d.abort(ctx, err)
		}

		nothingChanged := len(cs.Creates) == 0 && len(cs.Updates) == 0 &&
			len(cs.Deletes) == 0 && len(cs.Replacements) == 0
		if nothingChanged && !d.Renderer.HasDirty() {
			converged = true
			break
		}

		if err := d.deployCreatesAndUpdates(ctx, cs, current); err != nil {
			return d.abort(ctx, err)
		}
		if err := d.deployDeletes(ctx, cs.Deletes); err != nil {
			return d.abort(ctx, err)
		}

		lastApplied = current
	}

	if !converged {
		d.Logger.Warn("convergence did not reach a fixed point", "stack", d.Options.Stack, "maxIterations", d.Options.MaxIterations)
		_ = d.Backend.AppendAudit(ctx, d.Options.Stack, backend.AuditEntry{
			ID: idgen.AuditID(), Stack: d.Options.Stack, At: time.Now(),
			Kind: "max_iterations_exceeded", Detail: rterrors.MaxIterationsExceeded(d.Options.MaxIterations).Error(),
		})
	}

	// Step 3: effects run strictly after convergence, then completeDeployment.
	if rootFiber != nil {
		if err := hooks.RunDueEffects(rootFiber); err != nil {
			d.Logger.Warn("effects reported errors", "stack", d.Options.Stack, "error", err)
		}
	}

	final := d.buildSnapshot(lastApplied)
	if err := d.Machine.CompleteDeployment(ctx, final); err != nil {
		return backend.Snapshot{}, err
	}
	final.Phase = string(statemachine.Deployed)
	return final, nil
}

func (d *Driver) abort(ctx context.Context, cause error) (backend.Snapshot, error) {
	if deadlineErr := ctx.Err(); deadlineErr == context.DeadlineExceeded {
		cause = rterrors.DeploymentTimeout(d.Options.Stack)
	}
	snap := backend.Snapshot{Stack: d.Options.Stack}
	if err := d.Machine.FailDeployment(context.Background(), snap, cause); err != nil {
		d.Logger.Error("failDeployment itself failed", "stack", d.Options.Stack, "error", err)
	}
	return backend.Snapshot{}, cause
}

func (d *Driver) readPrevious(ctx context.Context) (backend.Snapshot, error) {
	var snap backend.Snapshot
	err := retry.Do(ctx, d.Options.RetryPolicy, func() error {
		s, err := d.Backend.Read(ctx, d.Options.Stack)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		return backend.Snapshot{}, rterrors.BackendOperationFailed("read", err)
	}
	return snap, nil
}

// seedPrevious primes the node registry's output/state signals from the
// previously persisted snapshot, so nodes unchanged this run keep their
// outputs without a redundant apply.
func (d *Driver) seedPrevious(prev backend.Snapshot) {
	for _, r := range prev.Nodes {
		n := d.Renderer.Registry.GetOrCreate(r.ID, addr.Path{}, r.ConstructType)
		n.SeedOutputs(r.Outputs)
		n.SeedState(r.State)
	}
}

// collectNodes walks the fiber tree for every node declared by the render
// pass that just completed, attaching each node's Reads dependency set:
// the ids of nodes whose output signals the declaring fiber read.
func (d *Driver) collectNodes(root *fiber.Fiber) []reconcile.Node {
	var out []reconcile.Node
	var walk func(f *fiber.Fiber)
	walk = func(f *fiber.Fiber) {
		declared := f.DeclaredNodes()
		if len(declared) > 0 {
			own := map[string]bool{}
			for _, n := range declared {
				own[n.ID] = true
			}
			var reads []string
			seen := map[string]bool{}
			for _, src := range f.Tracker().Sources() {
				id, ok := d.Renderer.Registry.SignalOwner(src)
				if ok && !own[id] && !seen[id] {
					reads = append(reads, id)
					seen[id] = true
				}
			}
			sort.Strings(reads)
			for _, n := range declared {
				out = append(out, reconcile.Node{
					ID: n.ID, Path: n.Path.String(), ConstructType: n.ConstructType,
					Props: n.Props(), Reads: reads, Immutable: n.Immutable,
				})
			}
		}
		for _, c := range f.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}

// deployCreatesAndUpdates applies every node named in the change-set's
// parallel batches, in order, writing each batch's outputs into the node
// registry under one reactive.Batch before starting the next batch, and
// checkpointing after each batch: checkpointing after every concurrent
// apply within a batch individually would need synchronizing the state
// machine against in-flight goroutines for no real recovery-granularity
// gain, so this driver checkpoints once the whole batch has landed; see
// DESIGN.md.
func (d *Driver) deployCreatesAndUpdates(ctx context.Context, cs reconcile.ChangeSet, current []reconcile.Node) error {
	for _, batch := range cs.ParallelBatches {
		outputs, err := d.applyBatch(ctx, batch)
		if err != nil {
			d.Provider.OnError(ctx, err, d.nodesFor(batch))
			return err
		}
		if err := reactive.Batch(func() {
			for id, out := range outputs {
				n, ok := d.Renderer.Registry.Get(id)
				if !ok {
					continue
				}
				for k, v := range out {
					n.Output(k).Write(v)
				}
			}
		}); err != nil {
			return err
		}
		checkpoint := batch[len(batch)-1]
		if err := d.Machine.Checkpoint(ctx, d.buildSnapshot(current), checkpoint); err != nil {
			return err
		}
	}
	return nil
}

// applyBatch runs Provider.Apply concurrently for every node id in batch;
// the provider may perform I/O concurrently within a batch, and the driver
// awaits the whole batch's completion before continuing.
func (d *Driver) applyBatch(ctx context.Context, batch []string) (map[string]map[string]any, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]map[string]any, len(batch))

	var sem *semaphore.Weighted
	if d.Options.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(d.Options.MaxConcurrency)
	}

	if err := d.Provider.PreDeploy(gctx, d.nodesFor(batch)); err != nil {
		return nil, err
	}

	for i, id := range batch {
		i, id := i, id
		n, ok := d.Renderer.Registry.Get(id)
		if !ok {
			return nil, rterrors.ValidationFailed(fmt.Sprintf("node %q not found in registry at deploy time", id))
		}
		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
			}
			opCtx := gctx
			if d.Options.PerOpTimeout > 0 {
				var cancel context.CancelFunc
				opCtx, cancel = context.WithTimeout(gctx, d.Options.PerOpTimeout)
				defer cancel()
			}
			out, err := d.Provider.Apply(opCtx, n)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]map[string]any, len(batch))
	for i, id := range batch {
		out[id] = results[i]
	}
	if err := d.Provider.PostDeploy(ctx, d.nodesFor(batch), out); err != nil {
		return nil, err
	}
	return out, nil
}

// deployDeletes destroys every deleted node one at a time, in reverse
// lexicographic order of node id. Node ids are hashes of paths, so this
// order is deterministic but does not follow the dependency graph: a
// dependent is not guaranteed to be destroyed before what it depends on
// (see DESIGN.md).
func (d *Driver) deployDeletes(ctx context.Context, deletes []string) error {
	if len(deletes) == 0 {
		return nil
	}
	ordered := append([]string(nil), deletes...)
	sort.Sort(sort.Reverse(sort.StringSlice(ordered)))

	var errs *multierror.Error
	for _, id := range ordered {
		n, ok := d.Renderer.Registry.Get(id)
		if !ok {
			continue
		}
		opCtx := ctx
		cancel := func() {}
		if d.Options.PerOpTimeout > 0 {
			opCtx, cancel = context.WithTimeout(ctx, d.Options.PerOpTimeout)
		}
		err := d.Provider.Destroy(opCtx, n)
		cancel()
		if err != nil {
			errs = multierror.Append(errs, rterrors.ProviderDestroyFailed(id, err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	for _, id := range ordered {
		d.Renderer.Registry.Delete(id)
	}
	return nil
}

func (d *Driver) nodesFor(ids []string) []*node.Node {
	out := make([]*node.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := d.Renderer.Registry.Get(id); ok {
			out = append(out, n)
		}
	}
	return out
}

func (d *Driver) buildSnapshot(nodes []reconcile.Node) backend.Snapshot {
	records := make([]backend.NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		rec := backend.NodeRecord{ID: n.ID, Path: n.Path, ConstructType: n.ConstructType, Props: n.Props}
		if nd, ok := d.Renderer.Registry.Get(n.ID); ok {
			rec.Outputs = nd.Outputs()
			rec.State = nd.State()
		}
		records = append(records, rec)
	}
	return backend.Snapshot{Stack: d.Options.Stack, Nodes: records, UpdatedAt: time.Now()}
}

func recordsToReconcileNodes(records []backend.NodeRecord) []reconcile.Node {
	out := make([]reconcile.Node, len(records))
	for i, r := range records {
		out[i] = reconcile.Node{ID: r.ID, Path: r.Path, ConstructType: r.ConstructType, Props: r.Props}
	}
	return out
}
