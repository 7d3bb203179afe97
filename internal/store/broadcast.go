package store

import "sync"

// broadcaster fans changes out to subscribers. Each subscriber has an
// unbounded mailbox drained by its own goroutine, so publish never blocks.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*mailbox
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]*mailbox)}
}

// subscribe registers a new mailbox and returns its stream and cancel func.
func (b *broadcaster) subscribe() (<-chan Change, func()) {
	m := newMailbox()

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = m
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			m.close()
		})
	}
	return m.out, cancel
}

// publish queues changes on every subscriber in order.
func (b *broadcaster) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.subs {
		m.push(changes)
	}
}

// closeAll cancels every subscription.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*mailbox)
	b.mu.Unlock()
	for _, m := range subs {
		m.close()
	}
}

type mailbox struct {
	mu     sync.Mutex
	queue  []Change
	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
	out    chan Change
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		out:    make(chan Change),
	}
	go m.run()
	return m
}

func (m *mailbox) push(changes []Change) {
	m.mu.Lock()
	m.queue = append(m.queue, changes...)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	defer close(m.exited)
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.done:
				return
			}
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- next:
		case <-m.done:
			return
		}
	}
}

// close stops delivery and waits for the mailbox goroutine to exit.
func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.done)
	<-m.exited
}
