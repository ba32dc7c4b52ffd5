// Package kernel is the dependency-injection and lifecycle core of a
// plugin-based application.
//
// # Overview
//
// The kernel provides:
//   - Typed keys and producers instead of reflection
//   - Lazy singletons constructed at most once per container, even under
//     concurrent first access
//   - Hierarchical scopes (process, workspace, module) with parent fallback
//     and child shadowing
//   - An ownership tree that tears resources down children first, in reverse
//     registration order
//   - Ordered extension points that plugins mutate at runtime without
//     disturbing readers
//
// # Basic Usage
//
// Initialize a kernel, bind services and resolve them:
//
//	k, err := kernel.Initialize()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer k.Shutdown()
//
//	var ClockKey = kernel.NewKey[Clock]("clock")
//
//	err = kernel.Bind(k.Process(), ClockKey, func(r kernel.Resolver) (Clock, error) {
//	    return NewSystemClock(), nil
//	}, kernel.Singleton)
//
//	clock, err := kernel.Get(k.Process(), ClockKey)
//
// # Producers
//
// A producer receives a Resolver for its own dependencies:
//
//	kernel.Bind(scope, RepoKey, func(r kernel.Resolver) (*Repo, error) {
//	    db, err := kernel.Get(r, DatabaseKey)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return NewRepo(db), nil
//	}, kernel.Singleton)
//
// Resolving through r lets the kernel report cycles as
// CircularDependencyError instead of deadlocking.
//
// # Cardinality
//
//   - Singleton: constructed on first request, cached in the declaring container
//   - NotLazySingleton: like Singleton, constructed by Preload
//   - Transient: constructed on every request
//
// # Scopes
//
// Every scope owns a container whose parent is the parent scope's
// container, and a disposal root registered under the parent's root:
//
//	ws, _ := k.CreateScope(k.Process(), "workspace")
//	mod, _ := ws.CreateChild("module")
//	defer mod.Close()
//
// # Disposal
//
// Instances implementing Disposable, or bound WithTeardown, are registered
// under their container when constructed. Closing a scope disposes child
// scopes first, then instances in reverse construction order.
//
// # Extensions
//
// Extension points are keys whose extensions are ordered by first/last pins
// and before/after constraints:
//
//	var ActionsPoint = kernel.NewKey[Action]("actions")
//
//	kernel.AddExtension(k, ActionsPoint, kernel.Extension[Action]{
//	    ID:       "commit",
//	    Producer: NewCommitAction,
//	    Order:    kernel.After("save"),
//	})
//
//	for _, a := range kernel.Extensions(k, ActionsPoint) {
//	    a.Run()
//	}
//
// Constraints that contradict each other are dropped and logged; the
// caller always gets a list.
//
// # Plugins
//
// A Plugin bundles service declarations per scope level with extension
// contributions. LoadPlugin applies them to existing and future scopes;
// UnloadPlugin reverses them.
package kernel
