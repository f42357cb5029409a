package bridge

import (
	"fmt"

	"golang.org/x/sync/semaphore"

	"title/internal/domain"
)

// Reservation tracks the memory permits one request scope holds against
// the process-wide semaphore. Permits accumulate in 64 KiB increments as
// bytes arrive and are released in one shot when the scope closes.
type Reservation struct {
	sem  *semaphore.Weighted
	held int64
}

// NewReservation opens an empty reservation against sem.
func NewReservation(sem *semaphore.Weighted) *Reservation {
	return &Reservation{sem: sem}
}

// acquire claims n more bytes; failure to acquire immediately terminates
// the request rather than queueing behind other readers.
func (r *Reservation) acquire(n int64) error {
	if r.sem == nil || n == 0 {
		return nil
	}
	if !r.sem.TryAcquire(n) {
		return fmt.Errorf("%w: memory reservation of %d bytes unavailable", domain.ErrResourceExhausted, n)
	}
	r.held += n
	return nil
}

// Held reports the bytes currently reserved.
func (r *Reservation) Held() int64 { return r.held }

// Release returns every held permit. Safe to call more than once.
func (r *Reservation) Release() {
	if r.sem != nil && r.held > 0 {
		r.sem.Release(r.held)
	}
	r.held = 0
}
