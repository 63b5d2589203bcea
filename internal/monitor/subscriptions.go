package monitor

import "sync"

// subscription delivers alerts to one subscriber. Alerts are never
// dropped: when the subscriber channel is full, pending alerts queue in
// order and a pump goroutine drains them as the subscriber catches up.
type subscription struct {
	ch     chan Alert
	notify chan struct{}

	mu      sync.Mutex
	pending []Alert
}

// SubscribeAlerts registers a new alert subscriber. Delivery preserves
// emission order and no alert is dropped; the channel is closed when the
// monitor shuts down.
func (m *Monitor) SubscribeAlerts() <-chan Alert {
	s := &subscription{
		ch:     make(chan Alert, 16),
		notify: make(chan struct{}, 1),
	}
	m.subMu.Lock()
	m.subs = append(m.subs, s)
	m.subMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(s.ch)
		s.pump(m.ctx.Done())
	}()
	return s.ch
}

func (s *subscription) deliver(alert Alert) {
	s.mu.Lock()
	s.pending = append(s.pending, alert)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pump(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			alert := s.pending[0]
			s.pending = append([]Alert(nil), s.pending[1:]...)
			s.mu.Unlock()

			select {
			case s.ch <- alert:
			case <-done:
				return
			}
		}
	}
}

func (m *Monitor) publishAlert(alert Alert) {
	m.subMu.Lock()
	subs := append([]*subscription(nil), m.subs...)
	m.subMu.Unlock()
	for _, s := range subs {
		s.deliver(alert)
	}
}

// SubscribeStatus registers a compliance-status subscriber. Status updates
// carry drop-to-the-newest semantics: a slow subscriber only ever sees the
// latest state.
func (m *Monitor) SubscribeStatus() <-chan ComplianceStatus {
	ch := make(chan ComplianceStatus, 1)
	m.subMu.Lock()
	m.statusChs = append(m.statusChs, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Monitor) publishStatus(status ComplianceStatus) {
	m.subMu.Lock()
	chs := append([]chan ComplianceStatus(nil), m.statusChs...)
	m.subMu.Unlock()
	for _, ch := range chs {
		select {
		case ch <- status:
		default:
			// Evict the stale state, then publish the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- status:
			default:
			}
		}
	}
}
