package alert

import (
	"fmt"
	"sync"
	"time"
)

// Level 告警级别。
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息。
type Alert struct {
	Level     Level
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警通道接口。
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 按 key 限流，同一告警在 interval 内只发一次。
type Throttler struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	interval time.Duration
}

// NewThrottler 创建限流器。
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 检查是否允许发送。
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if last, ok := t.lastSent[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.lastSent[key] = now
	return true
}

// Clear 清空限流记录。
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 告警管理器：限流后广播到所有通道。
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	throttle *Throttler
}

// NewManager 创建告警管理器。
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// Send 发送告警。被限流时静默忽略；全部通道失败才返回错误。
func (m *Manager) Send(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	key := string(alert.Level) + ":" + alert.Message
	if !m.throttle.Allow(key) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	sent := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s: %w", ch.Name(), err)
		} else {
			sent++
		}
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// AddChannel 添加告警通道。
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	m.channels = append(m.channels, ch)
	m.mu.Unlock()
}

// ResetThrottle 重置限流器。
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}

// severityByEvent 需要升级为告警的策略事件。
var severityByEvent = map[string]Level{
	"strategy_failed":           LevelCritical,
	"oco_conflict_race":         LevelError,
	"oco_partial_fill_conflict": LevelError,
	"oco_cancel_timeout":        LevelWarning,
	"grid_level_lost":           LevelWarning,
	"grid_level_degraded":       LevelWarning,
	"leg_poll_error":            LevelWarning,
}

// Tap 包装事件接收器：告警级事件先送 Manager，再透传给 next。
// 轮询类高频事件靠 Manager 的限流去重。
func (m *Manager) Tap(next func(event string, fields map[string]interface{})) func(string, map[string]interface{}) {
	return func(event string, fields map[string]interface{}) {
		if level, ok := severityByEvent[event]; ok {
			_ = m.Send(Alert{Level: level, Message: event, Fields: fields})
		}
		if next != nil {
			next(event, fields)
		}
	}
}
