package controller

import (
	"github.com/wfunc/coin-bank/internal/clock"
	"github.com/wfunc/coin-bank/internal/display"
	"github.com/wfunc/coin-bank/internal/motor"
)

// Snapshot 主循环发布的只读状态
type Snapshot struct {
	Total       uint32       `json:"total"`
	Text        string       `json:"text"`
	Animation   string       `json:"animation"`
	Motor       motor.State  `json:"motor"`
	ErrorActive bool         `json:"error_active"`
	Pending     int          `json:"pending_commands"`
	Stats       Stats        `json:"stats"`
	Now         clock.Millis `json:"now"`
}

// Update 推送给订阅者的帧更新
type Update struct {
	Snapshot Snapshot        `json:"snapshot"`
	Width    int             `json:"width"`
	Height   int             `json:"height"`
	Pixels   []display.Color `json:"-"`
}

// Snapshot 最近一次tick的状态
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot
}

// Frame 最近一次输出的帧副本
func (c *Controller) Frame() Update {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.lastUpdate()
}

func (c *Controller) publish(now clock.Millis) {
	total := c.ledger.Total()
	if c.text == "" || total != c.textTotal {
		c.text = c.renderer.Text(total)
		c.textTotal = total
	}

	c.snapMu.Lock()
	c.snapshot = Snapshot{
		Total:       total,
		Text:        c.text,
		Animation:   c.anim.State().Phase.String(),
		Motor:       c.seq.State(),
		ErrorActive: c.errorActive,
		Pending:     len(c.cmds),
		Stats:       c.stats,
		Now:         now,
	}
	c.snapMu.Unlock()
}

// Subscribe 订阅帧更新；订阅者处理不及时时更新被丢弃
func (c *Controller) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = ch
	c.obsMu.Unlock()

	cancel := func() {
		c.obsMu.Lock()
		if _, ok := c.observers[id]; ok {
			delete(c.observers, id)
			close(ch)
		}
		c.obsMu.Unlock()
	}
	return ch, cancel
}

// notify 非阻塞推送，没有订阅者时不复制帧
func (c *Controller) notify() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	if len(c.observers) == 0 {
		return
	}

	c.snapMu.RLock()
	update := c.lastUpdate()
	c.snapMu.RUnlock()

	for _, ch := range c.observers {
		select {
		case ch <- update:
		default:
			c.stats.DroppedUpdates++
		}
	}
}

func (c *Controller) lastUpdate() Update {
	pixels := make([]display.Color, len(c.shown))
	copy(pixels, c.shown)
	return Update{
		Snapshot: c.snapshot,
		Width:    c.width,
		Height:   c.height,
		Pixels:   pixels,
	}
}
