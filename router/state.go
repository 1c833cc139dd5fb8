package router

import (
	"sync"
	"time"

	"github.com/bluele/gcache"
	"nhooyr.io/websocket"
)

// waiter is the first party on a join code, parked until the second arrives.
type waiter struct {
	conn *websocket.Conn
	// peer receives the second connection once both are announced, or nil if
	// announcing failed.
	peer  chan *websocket.Conn
	gone  chan struct{}
	once  sync.Once
	taken bool
}

func (w *waiter) evict() { w.once.Do(func() { close(w.gone) }) }

// waitingRoom matches connections by join code. Codes are single use: once two
// parties meet, the code is forgotten.
type waitingRoom struct {
	mu    sync.Mutex
	rooms gcache.Cache
}

func newWaitingRoom(size int, ttl time.Duration) *waitingRoom {
	return &waitingRoom{
		rooms: gcache.New(size).LRU().
			Expiration(ttl).
			EvictedFunc(func(_, value interface{}) {
				value.(*waiter).evict()
			}).
			Build(),
	}
}

// join parks conn under code and returns first=true, or claims the waiter
// already parked there.
func (r *waitingRoom) join(code string, conn *websocket.Conn) (w *waiter, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, err := r.rooms.Get(code); err == nil {
		parked := v.(*waiter)
		parked.taken = true
		r.rooms.Remove(code)

		return parked, false
	}

	w = &waiter{
		conn: conn,
		peer: make(chan *websocket.Conn, 1),
		gone: make(chan struct{}),
	}

	if err := r.rooms.Set(code, w); err != nil {
		w.evict()
	}

	return w, true
}

// leave withdraws w. It reports whether a second party had already claimed
// it, in which case w.peer is about to be filled.
func (r *waitingRoom) leave(code string, w *waiter) (taken bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w.taken {
		return true
	}

	if v, err := r.rooms.Get(code); err == nil && v.(*waiter) == w {
		r.rooms.Remove(code)
	}

	return false
}
