package jobs

import "time"

// RetentionPolicy decides when a terminal job may be dropped from the table
type RetentionPolicy interface {
	Expired(job Job, now time.Time) bool
}

// KeepForever retains every job for the life of the process
type KeepForever struct{}

// Expired implements RetentionPolicy
func (KeepForever) Expired(Job, time.Time) bool { return false }

type ttlPolicy struct {
	ttl time.Duration
}

// TTL drops terminal jobs once they have been finished for longer than d.
// A non-positive d keeps everything.
func TTL(d time.Duration) RetentionPolicy {
	if d <= 0 {
		return KeepForever{}
	}
	return ttlPolicy{ttl: d}
}

func (p ttlPolicy) Expired(job Job, now time.Time) bool {
	if !job.Status.Terminal() || job.FinishedAt.IsZero() {
		return false
	}
	return now.Sub(job.FinishedAt) > p.ttl
}
