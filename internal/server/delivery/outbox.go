package delivery

import "sync"

// SendBuffer is the number of frames queued per connection before new
// frames are dropped.
const SendBuffer = 256

// Outbox is the queue side of a connection. Transports drain Frames in a
// single writer goroutine until Done is closed.
type Outbox struct {
	id   string
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewOutbox(id string) *Outbox {
	return &Outbox{
		id:   id,
		send: make(chan []byte, SendBuffer),
		done: make(chan struct{}),
	}
}

func (o *Outbox) ID() string { return o.id }

// Send queues payload without blocking.
func (o *Outbox) Send(payload []byte) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.send <- payload:
		return true
	default:
		return false
	}
}

func (o *Outbox) Frames() <-chan []byte { return o.send }

func (o *Outbox) Done() <-chan struct{} { return o.done }

// Close stops accepting frames. It is safe to call more than once.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

// Pending returns the frames still queued, without waiting.
func (o *Outbox) Pending() [][]byte {
	var out [][]byte
	for {
		select {
		case p := <-o.send:
			out = append(out, p)
		default:
			return out
		}
	}
}
