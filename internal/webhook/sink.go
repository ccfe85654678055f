// 包 webhook：通知出口。事件经有界队列异步投递到 HTTP 回调或 Redis 频道，调用方永不阻塞
package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"pogomap/internal/logger"
	"pogomap/internal/metrics"
)

// Kind：事件类别
type Kind string

const (
	KindPokemon  Kind = "pokemon"
	KindPokestop Kind = "pokestop"
	KindGym      Kind = "gym"
)

// Sink：即发即弃的事件出口
type Sink interface {
	Send(kind Kind, payload map[string]any)
}

// Envelope：投递格式 {"type": kind, "message": payload}
type Envelope struct {
	Type    Kind           `json:"type"`
	Message map[string]any `json:"message"`
}

func (e Envelope) encode() ([]byte, error) { return json.Marshal(e) }

// Nop：丢弃全部事件
type Nop struct{}

func (Nop) Send(Kind, map[string]any) {}

// Multi：扇出到多个出口
type Multi []Sink

func (m Multi) Send(kind Kind, payload map[string]any) {
	for _, s := range m {
		s.Send(kind, payload)
	}
}

// pump：有界队列 + 固定数量的投递协程，Dispatcher 与 RedisPublisher 共用
// 约束：队列满时丢弃并计数；Close 之后的 Send 同样丢弃
type pump struct {
	name    string
	queue   chan Envelope
	deliver func(ctx context.Context, e Envelope) error
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newPump(name string, size, workers int, timeout time.Duration, deliver func(context.Context, Envelope) error) *pump {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	p := &pump{name: name, queue: make(chan Envelope, size), deliver: deliver, timeout: timeout}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *pump) Send(kind Kind, payload map[string]any) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.NotifyDroppedTotal.WithLabelValues(p.name, string(kind)).Inc()
		return
	}
	select {
	case p.queue <- Envelope{Type: kind, Message: payload}:
	default:
		metrics.NotifyDroppedTotal.WithLabelValues(p.name, string(kind)).Inc()
		logger.L().Warn("notify_dropped", "sink", p.name, "kind", kind)
	}
}

func (p *pump) run() {
	defer p.wg.Done()
	for e := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.deliver(ctx, e)
		cancel()
		if err != nil {
			metrics.NotifyFailTotal.WithLabelValues(p.name, string(e.Type)).Inc()
			logger.L().Warn("notify_error", "sink", p.name, "kind", e.Type, "err", err)
			continue
		}
		metrics.NotifySentTotal.WithLabelValues(p.name, string(e.Type)).Inc()
	}
}

// Close：停止接收并等待队列中已有事件投递完成
func (p *pump) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
