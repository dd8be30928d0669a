package fetch

// Milestones are the only progress percentages forwarded to callers.
var Milestones = [...]int{20, 40, 50, 60, 80, 99}

// milestoneTracker counts written bytes and fires report when the running
// percentage lands inside [m, m+1) for a milestone m not yet reported.
type milestoneTracker struct {
	total   int64
	written int64
	fired   [len(Milestones)]bool
	report  ProgressFunc
}

func newMilestoneTracker(total int64, report ProgressFunc) *milestoneTracker {
	return &milestoneTracker{total: total, report: report}
}

func (m *milestoneTracker) Write(p []byte) (int, error) {
	m.written += int64(len(p))
	m.observe()
	return len(p), nil
}

func (m *milestoneTracker) observe() {
	if m.report == nil || m.total <= 0 {
		return
	}

	percent := float64(m.written) * 100 / float64(m.total)
	if milestone, ok := m.milestoneFor(percent); ok {
		m.report(milestone, m.written, m.total)
	}
}

func (m *milestoneTracker) milestoneFor(percent float64) (int, bool) {
	for i, milestone := range Milestones {
		if m.fired[i] {
			continue
		}
		if percent >= float64(milestone) && percent < float64(milestone+1) {
			m.fired[i] = true
			return milestone, true
		}
	}
	return 0, false
}
