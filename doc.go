// Package livecache implements a reactive in-process cache with fetch
// deduplication, optimistic mutations and push-driven invalidation.
// Consumers read snapshots synchronously, populate them through a shared
// in-flight registry and mutate them speculatively with exact rollback.
//
// Components:
//   - Store[V]: snapshot per key plus an ordered listener registry.
//   - Fetcher[V]: at most one loader in flight per key; waiters share the result.
//   - Mutator[V]: speculative write, remote call, then commit or revert.
//   - Bridge[V]: server events force a refetch through the Fetcher.
//
// Cache[V] bundles all four. Construct one per resource type at startup and hand
// it to every consumer; there is no package-level state.
//
// Fetch pattern:
//
//	items, err := carts.GetOrFetch(ctx, "cart:u1", loadCart)
//
// Mutation pattern:
//
//	err := carts.Mutate(ctx, livecache.Mutation[[]Item]{
//		Key:       "cart:u1",
//		Apply:     func(cur []Item, ok bool) []Item { return bump(cur, "i1") },
//		Remote:    func(ctx context.Context) error { return api.Increment(ctx, "i1") },
//		Reconcile: loadCart,
//	})
//	// on remote failure the cache already holds the pre-mutation snapshot
//
// Values are treated as immutable snapshots: transforms must return a new value
// rather than modifying the one they are given, so rollback is a plain replacement.
package livecache
