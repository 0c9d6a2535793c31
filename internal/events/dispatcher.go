package events

import (
	"context"
	"sync"
	"time"
)

const (
	KindRankUp           = "rank-up"
	KindMissionCompleted = "mission-completed"

	defaultBufferSize = 16
	broadcastKey      = "*"
)

// RankUp describes a tier change produced by an XP award.
type RankUp struct {
	PreviousRank string `json:"previous_rank"`
	NewRank      string `json:"new_rank"`
	TotalXP      int64  `json:"total_xp"`
}

// MissionCompleted describes a mission counter reaching its target.
type MissionCompleted struct {
	MissionID string `json:"mission_id"`
	Title     string `json:"title"`
}

// Event is a progression notification addressed to one agent.
type Event struct {
	UserID           string            `json:"user_id"`
	Kind             string            `json:"kind"`
	RankUp           *RankUp           `json:"rank_up,omitempty"`
	MissionCompleted *MissionCompleted `json:"mission_completed,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// Dispatcher fans events out to per-agent and global subscribers.
// Delivery is non-blocking: a full subscriber buffer drops the event.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a stream for one agent. The subscription ends when ctx is
// cancelled or the returned cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan Event, func()) {
	if userID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	return d.subscribe(ctx, userID)
}

// SubscribeAll registers a stream receiving every published event.
func (d *Dispatcher) SubscribeAll(ctx context.Context) (<-chan Event, func()) {
	return d.subscribe(ctx, broadcastKey)
}

// Publish delivers the event to the agent's subscribers and to global subscribers.
func (d *Dispatcher) Publish(event Event) {
	if event.UserID == "" || event.Kind == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	targets := make([]*subscriber, 0, len(d.subscribers[event.UserID])+len(d.subscribers[broadcastKey]))
	for _, sub := range d.subscribers[event.UserID] {
		targets = append(targets, sub)
	}
	for _, sub := range d.subscribers[broadcastKey] {
		targets = append(targets, sub)
	}
	d.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) subscribe(ctx context.Context, key string) (<-chan Event, func()) {
	sub := &subscriber{
		stream: make(chan Event, d.bufferSize),
	}

	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	if _, ok := d.subscribers[key]; !ok {
		d.subscribers[key] = make(map[int64]*subscriber)
	}
	d.subscribers[key][sub.id] = sub
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(key, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

func (d *Dispatcher) unregister(key string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[key]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, key)
		}
	}
	d.mu.Unlock()
}
