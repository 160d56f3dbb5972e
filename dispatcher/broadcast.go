package dispatcher

import "github.com/codepr/graderd/model"

// broadcastHub fans one task's updates out to every live subscriber.
// Each subscriber gets its own bounded channel; a slow subscriber never
// blocks the publisher — instead its oldest buffered update is dropped
// to make room, since the replay log (runningTaskState.soFar) already
// gives new subscribers a full history and a dropped entry only ever
// affects a subscriber that is already behind.
type broadcastHub struct {
	bufferSize int
	subs       map[int]chan model.RunnerUpdateForFrontend
	nextID     int
	closed     bool
}

func newBroadcastHub(bufferSize int) *broadcastHub {
	return &broadcastHub{bufferSize: bufferSize, subs: make(map[int]chan model.RunnerUpdateForFrontend)}
}

func (h *broadcastHub) subscribe() (<-chan model.RunnerUpdateForFrontend, func()) {
	id := h.nextID
	h.nextID++
	ch := make(chan model.RunnerUpdateForFrontend, h.bufferSize)
	h.subs[id] = ch

	return ch, func() {
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing)
		}
	}
}

// publish must be called with the Executor's lock held, matching the
// teacher's convention of only ever mutating shared state under the
// single coarse lock.
func (h *broadcastHub) publish(update model.RunnerUpdateForFrontend) {
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- update:
		default:
			// Slow subscriber: drop its oldest buffered entry to make
			// room rather than block the publisher.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}

func (h *broadcastHub) subscriberCount() int {
	return len(h.subs)
}

func (h *broadcastHub) close() {
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
