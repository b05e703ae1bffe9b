package opt

import "sync"

var (
	mu    sync.Mutex
	store = map[string]Metrics{}
)

// RecordMetrics keeps the solver metrics of a planning cycle, keyed by
// solution id, for the admin metrics endpoint.
func RecordMetrics(solutionID string, m Metrics) {
	mu.Lock()
	store[solutionID] = m
	mu.Unlock()
}

// GetMetrics returns the recorded metrics for a solution, if any.
func GetMetrics(solutionID string) (Metrics, bool) {
	mu.Lock()
	defer mu.Unlock()
	m, ok := store[solutionID]
	return m, ok
}
