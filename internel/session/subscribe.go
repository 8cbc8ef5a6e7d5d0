package session

import (
	. "hotline-client/internel/log"
	"hotline-client/internel/wire"
)

// Subscribe registers for server pushes of the given transaction types.
// Events are delivered in server send order per subscriber. A subscriber
// that stops draining its channel has events dropped with a warning; the
// read loop never blocks on a consumer.
func (s *Session) Subscribe(types ...uint16) <-chan *wire.Transaction {
	ch := make(chan *wire.Transaction, subscriberBuffer)
	s.mu.Lock()
	for _, t := range types {
		s.subs[t] = append(s.subs[t], ch)
	}
	s.mu.Unlock()
	return ch
}

func (s *Session) Unsubscribe(ch <-chan *wire.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, list := range s.subs {
		for i, c := range list {
			if c == ch {
				s.subs[t] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// SubscribeState delivers every session state transition.
func (s *Session) SubscribeState() <-chan State {
	ch := make(chan State, 16)
	s.mu.Lock()
	s.stateSubs = append(s.stateSubs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Session) publish(t *wire.Transaction) {
	s.mu.Lock()
	targets := append([]chan *wire.Transaction(nil), s.subs[t.Type]...)
	s.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- t:
		default:
			Log.Warnln("subscriber lagging, dropping push", wire.TranName(t.Type))
		}
	}
}

func (s *Session) notifyState(st State) {
	s.mu.Lock()
	targets := append([]chan State(nil), s.stateSubs...)
	s.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- st:
		default:
		}
	}
}
