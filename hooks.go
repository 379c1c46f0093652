package livecache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths, sometimes while a fetch is being resolved.
type Hooks interface {
	// A loader invocation started for key. forced reports WithForceRefresh.
	FetchStarted(key string, forced bool)

	// A caller joined a fetch already in flight instead of starting a new one.
	FetchJoined(key string)

	// A loader returned an error; the cached value was left untouched.
	FetchFailed(key string, err error)

	// A mutation's remote operation succeeded.
	// reconciled reports whether a forced refresh followed successfully.
	MutationCommitted(key string, reconciled bool)

	// A mutation's remote operation failed and the prior snapshot was restored.
	MutationReverted(key string, err error)

	// A server event arrived for key. handled is false when no loader was known.
	ServerEvent(key string, kind EventKind, handled bool)

	// A listener panicked during notification; remaining listeners still ran.
	ListenerPanic(key string, recovered any)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchStarted(string, bool)           {}
func (NopHooks) FetchJoined(string)                  {}
func (NopHooks) FetchFailed(string, error)           {}
func (NopHooks) MutationCommitted(string, bool)      {}
func (NopHooks) MutationReverted(string, error)      {}
func (NopHooks) ServerEvent(string, EventKind, bool) {}
func (NopHooks) ListenerPanic(string, any)           {}
