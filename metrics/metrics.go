// Package metrics provides Prometheus metrics for the strategy engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StrategiesActive 各类型当前在跑的策略数。
	StrategiesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "se_strategies_active",
		Help: "Number of running strategies by kind",
	}, []string{"kind"})

	// StrategiesTerminal 按终态统计的策略结束次数。
	StrategiesTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "se_strategies_terminal_total",
		Help: "Strategies reaching a terminal state",
	}, []string{"kind", "state"})

	// LegsPlaced 已提交到交易所的腿数。
	LegsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "se_legs_placed_total",
		Help: "Legs placed on the exchange",
	}, []string{"kind"})

	// LegChanges 轮询检测到的腿状态变化数。
	LegChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "se_leg_changes_total",
		Help: "Leg status changes observed by the tracker",
	}, []string{"status"})

	// PollErrors 轮询失败次数。
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "se_leg_poll_errors_total",
		Help: "Leg status poll failures",
	})

	// LegsUnknown 被标记为 STATUS_UNKNOWN 的腿数。
	LegsUnknown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "se_legs_status_unknown_total",
		Help: "Legs marked STATUS_UNKNOWN after repeated poll failures",
	})

	// ChunksSkipped TWAP 因价格带或下单失败跳过的分片数。
	ChunksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "se_twap_chunks_skipped_total",
		Help: "TWAP chunks skipped",
	}, []string{"reason"})

	// LevelFlips 网格档位翻转次数。
	LevelFlips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "se_grid_level_flips_total",
		Help: "Grid level side flips after a fill",
	})

	// ConflictRaces OCO 双腿同时成交的竞态次数。
	ConflictRaces = promauto.NewCounter(prometheus.CounterOpts{
		Name: "se_oco_conflict_races_total",
		Help: "OCO conflict races (both legs filled near-simultaneously)",
	})
)

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
