package pool

import "time"

// Stats is the snapshot view spec §4.2 "Statistics" describes: total
// entries, counts by state, average/max uptime, best-effort byte totals
// across cached forwards.
type Stats struct {
	Total        int
	ByState      map[State]int
	AverageUptime time.Duration
	MaxUptime     time.Duration
	TotalBytesIn  uint64
	TotalBytesOut uint64
}

// ForwardByteCounter is implemented by whatever tracks live forward byte
// counts (internal/forward.Manager); the registry has no forward-package
// import so it depends on this narrow interface instead.
type ForwardByteCounter interface {
	BytesForConnection(connectionID string) (in, out uint64)
}

// GetStats computes a point-in-time snapshot. counters may be nil, in
// which case byte totals are reported as zero (best-effort per spec).
func (r *Registry) GetStats(counters ForwardByteCounter) Stats {
	entries := r.List()

	st := Stats{ByState: make(map[State]int)}
	var totalUptime time.Duration
	uptimeSamples := 0

	for _, e := range entries {
		st.Total++
		st.ByState[e.State()]++

		if up := e.Uptime(); up > 0 {
			totalUptime += up
			uptimeSamples++
			if up > st.MaxUptime {
				st.MaxUptime = up
			}
		}

		if counters != nil {
			in, out := counters.BytesForConnection(e.ConnectionID)
			st.TotalBytesIn += in
			st.TotalBytesOut += out
		}
	}

	if uptimeSamples > 0 {
		st.AverageUptime = totalUptime / time.Duration(uptimeSamples)
	}
	return st
}
