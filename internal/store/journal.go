package store

import (
	"sync"
	"time"
)

// EventSink 与各组件的事件上报签名一致。
type EventSink func(string, map[string]interface{})

// Event 一条已记录的事件。
type Event struct {
	Seq      uint64                 `json:"seq"`
	Time     time.Time              `json:"time"`
	Name     string                 `json:"event"`
	Strategy string                 `json:"strategyId,omitempty"`
	Fields   map[string]interface{} `json:"fields"`
}

// Journal 有界的事件环形缓冲，供管理接口回放最近的策略/腿事件。
// 写入端是各策略 goroutine 与 Tracker，读端是管理 HTTP。
type Journal struct {
	mu     sync.RWMutex
	events []Event
	head   int
	size   int
	seq    uint64
}

// NewJournal 创建容量为 capacity 的事件缓冲。
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Journal{events: make([]Event, capacity)}
}

// Record 记录一条事件。fields 会被浅拷贝，调用方可以复用 map。
func (j *Journal) Record(event string, fields map[string]interface{}) {
	copied := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	strategyID, _ := copied["strategyId"].(string)

	j.mu.Lock()
	j.seq++
	j.events[j.head] = Event{
		Seq:      j.seq,
		Time:     time.Now().UTC(),
		Name:     event,
		Strategy: strategyID,
		Fields:   copied,
	}
	j.head = (j.head + 1) % len(j.events)
	if j.size < len(j.events) {
		j.size++
	}
	j.mu.Unlock()
}

// Tap 返回一个 EventSink：先记录到本缓冲，再转发给 next（可为 nil）。
func (j *Journal) Tap(next EventSink) EventSink {
	return func(event string, fields map[string]interface{}) {
		j.Record(event, fields)
		if next != nil {
			next(event, fields)
		}
	}
}

// Recent 返回最近 n 条事件，按时间从旧到新。
func (j *Journal) Recent(n int) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if n <= 0 || n > j.size {
		n = j.size
	}
	out := make([]Event, 0, n)
	start := j.head - n
	if start < 0 {
		start += len(j.events)
	}
	for i := 0; i < n; i++ {
		out = append(out, j.events[(start+i)%len(j.events)])
	}
	return out
}

// ByStrategy 返回指定策略最近 n 条事件，按时间从旧到新。
func (j *Journal) ByStrategy(strategyID string, n int) []Event {
	all := j.Recent(0)
	var out []Event
	for _, e := range all {
		if e.Strategy == strategyID {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Len 当前缓冲内的事件数。
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.size
}
