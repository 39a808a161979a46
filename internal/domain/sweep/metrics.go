package sweep

// RunMetrics tracks the cumulative counters of a sweep run. Counter
// increments are commutative so concurrent shard outcomes can be folded in
// any completion order.
type RunMetrics struct {
	itemsProcessed  int
	devicesAffected int
	errors          int
	notFound        int
	activeSkips     int
	cacheSkips      int
}

// NewRunMetrics creates zeroed metrics for a fresh run.
func NewRunMetrics() *RunMetrics { return new(RunMetrics) }

// ReconstructRunMetrics creates RunMetrics from persisted counters without
// enforcing creation-time invariants. Only repositories should use this.
func ReconstructRunMetrics(itemsProcessed, devicesAffected, errs, notFound, activeSkips, cacheSkips int) *RunMetrics {
	return &RunMetrics{
		itemsProcessed:  itemsProcessed,
		devicesAffected: devicesAffected,
		errors:          errs,
		notFound:        notFound,
		activeSkips:     activeSkips,
		cacheSkips:      cacheSkips,
	}
}

// ItemsProcessed returns the number of items that reached a terminal,
// non-error outcome.
func (m *RunMetrics) ItemsProcessed() int { return m.itemsProcessed }

// DevicesAffected returns the number of device registrations removed
// (purge) or found (audit) so far, including partial progress on items
// that later failed.
func (m *RunMetrics) DevicesAffected() int { return m.devicesAffected }

// Errors returns the number of items that ended in an error outcome.
func (m *RunMetrics) Errors() int { return m.errors }

// NotFound returns the number of items whose account was missing.
func (m *RunMetrics) NotFound() int { return m.notFound }

// ActiveSkips returns the number of items skipped because the account was
// not suspended.
func (m *RunMetrics) ActiveSkips() int { return m.activeSkips }

// CacheSkips returns the number of items skipped by the scan cache.
func (m *RunMetrics) CacheSkips() int { return m.cacheSkips }
