// Package aggregator merges the message lists of both sessions into one
// chronological timeline.
package aggregator

import (
	"sort"
	"sync"

	"github.com/spigell/job-agents/internal/chat"
	"go.uber.org/zap"
)

// OrderedMessage is a message with its first-seen position on the timeline.
type OrderedMessage struct {
	chat.Message
	Sequence int `json:"sequence"`
}

// Anomaly records a message id seen from both agents.
type Anomaly struct {
	ID        string     `json:"id"`
	Kept      chat.Agent `json:"kept"`
	Duplicate chat.Agent `json:"duplicate"`
}

type entry struct {
	sequence int
	agent    chat.Agent
}

type Aggregator struct {
	logger *zap.Logger

	mu        sync.Mutex
	seen      map[string]entry
	next      int
	anomalies []Anomaly
	flagged   map[string]struct{}
}

func New(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		logger:  logger,
		seen:    make(map[string]entry),
		flagged: make(map[string]struct{}),
	}
}

// Merge returns both lists as one timeline sorted by sequence. Unseen ids get
// the next sequence, discovery messages before matching ones. A sequence never
// changes once assigned, however much the message grows.
func (a *Aggregator) Merge(discovery, matching []chat.Message) []OrderedMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]OrderedMessage, 0, len(discovery)+len(matching))
	taken := make(map[string]struct{}, cap(out))

	add := func(agent chat.Agent, messages []chat.Message) {
		for _, msg := range messages {
			if _, dup := taken[msg.ID]; dup {
				continue
			}

			e, ok := a.seen[msg.ID]
			if !ok {
				e = entry{sequence: a.next, agent: agent}
				a.seen[msg.ID] = e
				a.next++
			}

			if e.agent != agent {
				a.flag(msg.ID, e.agent, agent)
				continue
			}

			taken[msg.ID] = struct{}{}
			out = append(out, OrderedMessage{Message: msg, Sequence: e.sequence})
		}
	}

	add(chat.AgentDiscovery, discovery)
	add(chat.AgentMatching, matching)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})

	return out
}

// flag is called with a.mu held.
func (a *Aggregator) flag(id string, kept, duplicate chat.Agent) {
	if _, ok := a.flagged[id]; ok {
		return
	}
	a.flagged[id] = struct{}{}
	a.anomalies = append(a.anomalies, Anomaly{ID: id, Kept: kept, Duplicate: duplicate})

	a.logger.Warn("message id seen from both agents",
		zap.String("message_id", id),
		zap.String("kept", string(kept)),
		zap.String("duplicate", string(duplicate)),
	)
}

// Anomalies returns the duplicate ids flagged since the last reset.
func (a *Aggregator) Anomalies() []Anomaly {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Anomaly(nil), a.anomalies...)
}

// Reset forgets every sequence. The next Merge starts from zero.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seen = make(map[string]entry)
	a.flagged = make(map[string]struct{})
	a.anomalies = nil
	a.next = 0
}
