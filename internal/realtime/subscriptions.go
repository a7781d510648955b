package realtime

import (
	"sync"
)

// subscriptions maps topics to the clients subscribed to them. Both
// directions are indexed so that subscriber lookup for a broadcast and
// full teardown of a disconnecting client are cheap.
type subscriptions struct {
	mu       sync.RWMutex
	byTopic  map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		byTopic:  make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
	}
}

func (s *subscriptions) subscribe(c *Client, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTopic[topic] == nil {
		s.byTopic[topic] = make(map[*Client]struct{})
	}
	s.byTopic[topic][c] = struct{}{}
	if s.byClient[c] == nil {
		s.byClient[c] = make(map[string]struct{})
	}
	s.byClient[c][topic] = struct{}{}
}

func (s *subscriptions) unsubscribe(c *Client, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detach(c, topic)
	if topics := s.byClient[c]; topics != nil {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(s.byClient, c)
		}
	}
}

// dropClient removes the client from every topic it subscribed to.
func (s *subscriptions) dropClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic := range s.byClient[c] {
		s.detach(c, topic)
	}
	delete(s.byClient, c)
}

// detach removes c from one topic's subscriber set, reaping the set
// when it empties. Caller holds s.mu.
func (s *subscriptions) detach(c *Client, topic string) {
	if subs := s.byTopic[topic]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(s.byTopic, topic)
		}
	}
}

// subscribers returns a snapshot of the clients subscribed to topic.
func (s *subscriptions) subscribers(topic string) []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := s.byTopic[topic]
	out := make([]*Client, 0, len(subs))
	for c := range subs {
		out = append(out, c)
	}
	return out
}
