package playback

import (
	"sync"
	"time"
)

// DefaultTickInterval approximates how often a media element fires time
// updates.
const DefaultTickInterval = 250 * time.Millisecond

// WallClock is a Clock driven by real time at a fixed playback rate. It
// stands in for a video element outside a browser.
type WallClock struct {
	mu       sync.Mutex
	now      func() time.Time
	anchor   time.Time
	anchorMs int64
	rate     float64
	interval time.Duration
	subs     map[int]func()
	nextID   int
	stop     chan struct{}
}

func NewWallClock(fromMs int64, rate float64, interval time.Duration) *WallClock {
	if rate <= 0 {
		rate = 1
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &WallClock{
		now:      time.Now,
		anchor:   time.Now(),
		anchorMs: fromMs,
		rate:     rate,
		interval: interval,
		subs:     make(map[int]func()),
	}
}

func (c *WallClock) CurrentPositionMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *WallClock) positionLocked() int64 {
	elapsed := c.now().Sub(c.anchor)
	return c.anchorMs + int64(float64(elapsed.Milliseconds())*c.rate)
}

// Seek jumps to ms and notifies subscribers immediately.
func (c *WallClock) Seek(ms int64) {
	c.mu.Lock()
	c.anchor = c.now()
	c.anchorMs = ms
	c.mu.Unlock()
	c.fire()
}

// OnTick registers fn. The ticker goroutine runs while at least one
// subscriber is registered.
func (c *WallClock) OnTick(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	if c.stop == nil {
		c.stop = make(chan struct{})
		go c.run(c.stop)
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			if len(c.subs) == 0 && c.stop != nil {
				close(c.stop)
				c.stop = nil
			}
		})
	}
}

func (c *WallClock) run(stop <-chan struct{}) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.fire()
		}
	}
}

func (c *WallClock) fire() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
