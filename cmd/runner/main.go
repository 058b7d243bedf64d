package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"strategy-engine-go/config"
	"strategy-engine-go/gateway"
	"strategy-engine-go/infrastructure/alert"
	"strategy-engine-go/infrastructure/logger"
	"strategy-engine-go/internal/sched"
	"strategy-engine-go/internal/store"
	"strategy-engine-go/internal/validator"
	"strategy-engine-go/leg"
	"strategy-engine-go/metrics"
	"strategy-engine-go/monitor/logschema"
	"strategy-engine-go/strategy"
)

// 下单前校验的安全默认值（可被交易对级配置收紧）。
const (
	defaultMinOrderUSD       = 5
	defaultMaxOrderUSD       = 100000
	defaultMaxPriceDeviation = 0.10
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	adminAddr := flag.String("adminAddr", "", "管理 HTTP 监听地址（覆盖配置）")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址（覆盖配置）")
	disableFeed := flag.Bool("noFeed", false, "关闭 WS 价格缓存，价格全部走 REST")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *adminAddr != "" {
		cfg.Admin.Addr = *adminAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	lg, err := logger.New(loggerConfig(cfg.Logger))
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 事件链：告警分流 → 环形缓冲（管理接口回放用）→ schema 校验 → 结构化日志。
	alerts := alert.NewManager([]alert.Channel{alert.NewLogChannel("stdout", nil)}, 30*time.Second)
	journal := store.NewJournal(2048)
	sink := alerts.Tap(journal.Tap(func(event string, fields map[string]interface{}) {
		if err := logschema.Validate(event, fields); err != nil {
			lg.LogError(fmt.Errorf("log schema: %s: %w", event, err), nil)
		}
		lg.LogEvent(event, fields)
	}))

	limiter := gateway.NewTokenBucketLimiter(cfg.Gateway.RestRate, cfg.Gateway.RestBurst)
	gw := gateway.NewBinanceGateway(cfg.Gateway.APIKey, cfg.Gateway.APISecret, limiter)
	if cfg.Gateway.BaseURL != "" {
		gw.SetBaseURL(cfg.Gateway.BaseURL)
	}

	var feed *gateway.PriceFeed
	if !*disableFeed {
		symbols := make([]string, 0, len(cfg.Symbols))
		for sym := range cfg.Symbols {
			symbols = append(symbols, sym)
		}
		feed = gateway.NewPriceFeed(symbols...)
		if cfg.Gateway.WSURL != "" {
			feed.Endpoint = cfg.Gateway.WSURL
		}
		gw.SetPriceFeed(feed)
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				lg.LogError(err, map[string]interface{}{"component": "price_feed"})
			}
		}()
	}

	priceSource := func(symbol string) (float64, bool) {
		if feed == nil {
			return 0, false
		}
		return feed.Last(symbol)
	}
	preTrade := validator.New(validator.Rules{
		Symbols:           cfg.Symbols,
		MinOrderUSD:       defaultMinOrderUSD,
		MaxOrderUSD:       defaultMaxOrderUSD,
		MaxPriceDeviation: defaultMaxPriceDeviation,
	}, priceSource)

	tracker := leg.NewTracker(gw, nil, leg.TrackerConfig{
		PollInterval: cfg.Tracker.PollInterval(),
		MaxFailures:  cfg.Tracker.MaxFailures,
	}, sink)
	tracker.Start(ctx)

	coord := strategy.NewCoordinator(strategy.Env{
		Gateway:   gw,
		Validator: preTrade,
		Tracker:   tracker,
		Sched:     sched.Real(),
		Sink:      sink,
		Ticks: func(symbol string) (float64, bool) {
			sc, ok := cfg.Symbols[strings.ToUpper(symbol)]
			return sc.TickSize, ok
		},
	})

	defaults := &liveDefaults{d: cfg.Defaults}
	watcher, err := config.NewWatcher(*cfgPath, 5*time.Second, func(newCfg config.AppConfig) {
		defaults.set(newCfg.Defaults)
		lg.LogEvent("config_reloaded", map[string]interface{}{"path": *cfgPath})
	}, func(err error) {
		lg.LogError(err, map[string]interface{}{"component": "config_watcher"})
	})
	if err == nil {
		if err := watcher.Start(ctx); err != nil {
			lg.LogError(err, map[string]interface{}{"component": "config_watcher"})
		}
		defer watcher.Stop()
	}

	if cfg.Metrics.Addr != "" {
		metrics.StartMetricsServer(cfg.Metrics.Addr)
	}

	var adminSrv *http.Server
	if cfg.Admin.Addr != "" {
		adminSrv = &http.Server{
			Addr:    cfg.Admin.Addr,
			Handler: adminMux(coord, journal, defaults),
		}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				lg.LogError(err, map[string]interface{}{"component": "admin_http"})
				cancel()
			}
		}()
		lg.LogEvent("admin_listening", map[string]interface{}{"addr": cfg.Admin.Addr})
	}

	// systemd 就绪通知与看门狗心跳（非 systemd 环境下为 no-op）。
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go func() {
			ticker := time.NewTicker(interval / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	lg.LogEvent("shutdown_signal", map[string]interface{}{"signal": sig.String()})
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// 先停接收新请求，再取消在途策略，最后等它们收尾完成。
	if adminSrv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = adminSrv.Shutdown(shutdownCtx)
		stop()
	}
	for _, snap := range coord.List() {
		if !snap.State.IsTerminal() {
			_ = coord.Cancel(snap.ID)
		}
	}
	coord.Shutdown()
	cancel()
	tracker.Stop()
}

func loggerConfig(lc config.LoggerConfig) logger.Config {
	out := logger.DefaultConfig()
	if lc.Level != "" {
		out.Level = lc.Level
	}
	if lc.Format != "" {
		out.Format = lc.Format
	}
	if lc.FilePath != "" {
		out.Outputs = append(out.Outputs, "file")
		out.OutputFile = lc.FilePath
	}
	return out
}

// liveDefaults 热更新后的策略默认值。
type liveDefaults struct {
	mu sync.RWMutex
	d  config.StrategyDefaults
}

func (l *liveDefaults) set(d config.StrategyDefaults) {
	l.mu.Lock()
	l.d = d
	l.mu.Unlock()
}

func (l *liveDefaults) get() config.StrategyDefaults {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.d
}

type ocoRequest struct {
	ID              string  `json:"id"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Quantity        float64 `json:"quantity"`
	TakeProfitPrice float64 `json:"takeProfitPrice"`
	StopLossPrice   float64 `json:"stopLossPrice"`
	StopLimitPrice  float64 `json:"stopLimitPrice"`
	FillThreshold   float64 `json:"fillThreshold"`
}

type twapRequest struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	TotalQuantity float64 `json:"totalQuantity"`
	DurationMs    int     `json:"durationMs"`
	Intervals     int     `json:"intervals"`
	OrderType     string  `json:"orderType"`
	PriceBandPct  float64 `json:"priceBandPct"`
}

type gridRequest struct {
	ID               string  `json:"id"`
	Symbol           string  `json:"symbol"`
	LowerPrice       float64 `json:"lowerPrice"`
	UpperPrice       float64 `json:"upperPrice"`
	Levels           int     `json:"levels"`
	QuantityPerLevel float64 `json:"quantityPerLevel"`
	SkipNearMarket   *bool   `json:"skipNearMarket"`
}

func adminMux(coord *strategy.Coordinator, journal *store.Journal, defaults *liveDefaults) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /strategies/oco", func(w http.ResponseWriter, r *http.Request) {
		var req ocoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		d := defaults.get()
		id, err := coord.StartOCO(r.Context(), strategy.OCOParams{
			ID:              req.ID,
			Symbol:          strings.ToUpper(req.Symbol),
			Side:            gateway.Side(strings.ToUpper(req.Side)),
			Quantity:        req.Quantity,
			TakeProfitPrice: req.TakeProfitPrice,
			StopLossPrice:   req.StopLossPrice,
			StopLimitPrice:  req.StopLimitPrice,
			FillThreshold:   req.FillThreshold,
			CancelTimeout:   d.CancelTimeout(),
		})
		writeStartResult(w, id, err)
	})

	mux.HandleFunc("POST /strategies/twap", func(w http.ResponseWriter, r *http.Request) {
		var req twapRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		d := defaults.get()
		band := req.PriceBandPct
		if band == 0 {
			band = d.TWAPPriceBandPct
		}
		id, err := coord.StartTWAP(r.Context(), strategy.TWAPParams{
			ID:            req.ID,
			Symbol:        strings.ToUpper(req.Symbol),
			Side:          gateway.Side(strings.ToUpper(req.Side)),
			TotalQuantity: req.TotalQuantity,
			Duration:      time.Duration(req.DurationMs) * time.Millisecond,
			Intervals:     req.Intervals,
			OrderType:     gateway.OrderType(strings.ToUpper(req.OrderType)),
			PriceBandPct:  band,
		})
		writeStartResult(w, id, err)
	})

	mux.HandleFunc("POST /strategies/grid", func(w http.ResponseWriter, r *http.Request) {
		var req gridRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		d := defaults.get()
		skip := req.SkipNearMarket
		if skip == nil {
			skip = d.GridSkipNearMarket
		}
		id, err := coord.StartGrid(r.Context(), strategy.GridParams{
			ID:               req.ID,
			Symbol:           strings.ToUpper(req.Symbol),
			LowerPrice:       req.LowerPrice,
			UpperPrice:       req.UpperPrice,
			Levels:           req.Levels,
			QuantityPerLevel: req.QuantityPerLevel,
			SkipNearMarket:   skip,
			CancelTimeout:    d.CancelTimeout(),
		})
		writeStartResult(w, id, err)
	})

	mux.HandleFunc("POST /strategies/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		if err := coord.Cancel(r.PathValue("id")); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
	})

	mux.HandleFunc("GET /strategies/{id}", func(w http.ResponseWriter, r *http.Request) {
		snap, err := coord.Status(r.PathValue("id"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("GET /strategies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, coord.List())
	})

	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("strategyId"); id != "" {
			writeJSON(w, http.StatusOK, journal.ByStrategy(id, 200))
			return
		}
		writeJSON(w, http.StatusOK, journal.Recent(200))
	})

	return mux
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrUnknownStrategy):
		return http.StatusNotFound
	case errors.Is(err, strategy.ErrDuplicateStrategy), errors.Is(err, strategy.ErrAlreadyTerminal):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeStartResult(w http.ResponseWriter, id string, err error) {
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
