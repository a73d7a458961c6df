package simulate

// history is a bounded FIFO of suite reports.
type history struct {
	limit   int
	reports []TestReport
}

func newHistory(limit int) *history {
	return &history{limit: limit}
}

func (h *history) add(r TestReport) {
	h.reports = append(h.reports, r)
	if over := len(h.reports) - h.limit; over > 0 {
		h.reports = append([]TestReport(nil), h.reports[over:]...)
	}
}

func (h *history) list() []TestReport {
	return append([]TestReport(nil), h.reports...)
}

func (h *history) clear() {
	h.reports = nil
}
