// ABOUTME: Process-wide named broadcast for device topology changes
// ABOUTME: Subscribers get a coalescing signal and must re-enumerate
package device

import "sync"

// DevicesChangedNotification names the topology broadcast
const DevicesChangedNotification = "playthrough.devices.changed"

// DevicesChanged is the process-wide topology broadcast
var DevicesChanged = NewNotifier(DevicesChangedNotification)

// Notifier is a named broadcast without payload
type Notifier struct {
	name   string
	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

// NewNotifier creates a named broadcast
func NewNotifier(name string) *Notifier {
	return &Notifier{name: name, subs: make(map[int]chan struct{})}
}

// Name returns the broadcast name
func (n *Notifier) Name() string {
	return n.name
}

// Subscribe returns a channel that receives one value per Post, coalescing
// posts the subscriber has not yet consumed, and a cancel function.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan struct{}, 1)
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Post notifies every subscriber without blocking
func (n *Notifier) Post() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
