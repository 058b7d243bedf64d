package sched

import (
	"math/rand"
	"time"
)

// Backoff 指数退避：base 起步，每次失败翻倍，封顶 cap，附加 ±JitterPct 抖动。
// 用于轮询失败重试；零值不可用，请通过 NewBackoff 创建。
type Backoff struct {
	Base      time.Duration
	Cap       time.Duration
	JitterPct float64

	attempt int
}

// NewBackoff 返回默认策略：1s 起步、30s 封顶、±20% 抖动。
func NewBackoff() *Backoff {
	return &Backoff{Base: time.Second, Cap: 30 * time.Second, JitterPct: 0.2}
}

// Next 返回下一次等待时长并推进内部计数。
func (b *Backoff) Next() time.Duration {
	d := b.Base << b.attempt
	if d > b.Cap || d <= 0 {
		d = b.Cap
	} else {
		b.attempt++
	}
	if b.JitterPct > 0 {
		jitter := 1 + b.JitterPct*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * jitter)
	}
	return d
}

// Attempts 返回已失败次数。
func (b *Backoff) Attempts() int { return b.attempt }

// Reset 在一次成功后清零计数。
func (b *Backoff) Reset() { b.attempt = 0 }
