package registry

import "sync"

// Notifier wakes sessions owned by this process when a frame lands in their
// queue. It is an accelerator only: frames enqueued by other processes are
// still picked up by the drain ticker.
type Notifier struct {
	// subs stores Map[connID]chan struct{}. Optimized for [READ_HEAVY] workloads.
	subs sync.Map
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe returns the wake channel for connID and a cancel func that
// releases it. The channel has capacity 1, so bursts coalesce into a single wake.
func (n *Notifier) Subscribe(connID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	n.subs.Store(connID, ch)
	return ch, func() {
		n.subs.CompareAndDelete(connID, ch)
	}
}

// Notify never blocks; a pending wake already covers the new frame.
func (n *Notifier) Notify(connID string) {
	val, ok := n.subs.Load(connID)
	if !ok {
		return
	}
	select {
	case val.(chan struct{}) <- struct{}{}:
	default:
	}
}

// Len reports the number of subscribed local sessions.
func (n *Notifier) Len() int {
	count := 0
	n.subs.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
