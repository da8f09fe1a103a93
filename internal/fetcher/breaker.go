package fetcher

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrHostSuspended is returned when downloads from a host are rejected
// because the host's breaker is open.
var ErrHostSuspended = eris.New("fetcher: host suspended after repeated failures")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerProbing
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// hostBreaker suspends downloads from one host after repeated failures of
// entire retry cycles. After the cooldown a single probe download is
// allowed; a successful probe reopens the host, a failed one restarts the
// cooldown. Individual retries never count here, only exhausted downloads.
type hostBreaker struct {
	threshold int
	cooldown  time.Duration

	mu        sync.Mutex
	state     breakerState
	failures  int
	suspended time.Time

	now func() time.Time
}

func newHostBreaker(threshold int, cooldown time.Duration) *hostBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 2 * time.Minute
	}
	return &hostBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (b *hostBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen {
		if b.now().Sub(b.suspended) < b.cooldown {
			return ErrHostSuspended
		}
		b.state = breakerProbing
	}
	return nil
}

func (b *hostBreaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.state = breakerClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == breakerProbing || b.failures >= b.threshold {
		b.state = breakerOpen
		b.suspended = b.now()
		b.failures = 0
	}
}

func (b *hostBreaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// hostBreakers keeps one breaker per host.
type hostBreakers struct {
	threshold int
	cooldown  time.Duration

	mu    sync.Mutex
	hosts map[string]*hostBreaker
}

func newHostBreakers(threshold int, cooldown time.Duration) *hostBreakers {
	return &hostBreakers{
		threshold: threshold,
		cooldown:  cooldown,
		hosts:     make(map[string]*hostBreaker),
	}
}

func (s *hostBreakers) get(host string) *hostBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.hosts[host]
	if !ok {
		b = newHostBreaker(s.threshold, s.cooldown)
		s.hosts[host] = b
	}
	return b
}
