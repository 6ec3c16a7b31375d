package worker

// retryPolicy counts failed attempts per job. The counts live only in memory
// and are touched solely by the worker loop, so a restart grants a job a
// fresh budget.
type retryPolicy struct {
	max      int
	attempts map[string]int
}

func newRetryPolicy(maxRetries int) *retryPolicy {
	return &retryPolicy{max: maxRetries, attempts: make(map[string]int)}
}

// record notes one failed attempt and reports whether another is allowed.
func (p *retryPolicy) record(id string) (attempt int, retry bool) {
	p.attempts[id]++
	attempt = p.attempts[id]
	return attempt, attempt <= p.max
}

// next returns the number the upcoming attempt will carry.
func (p *retryPolicy) next(id string) int {
	return p.attempts[id] + 1
}

func (p *retryPolicy) forget(id string) {
	delete(p.attempts, id)
}
