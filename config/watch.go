package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听配置文件变化并回调最新配置。
// 带冷却时间，编辑器的连续写入事件只触发一次重载。
type Watcher struct {
	path     string
	cooldown time.Duration
	watcher  *fsnotify.Watcher
	onUpdate func(AppConfig)
	onError  func(error)

	mu         sync.Mutex
	lastReload time.Time

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewWatcher 创建配置监听器。onError 可为 nil。
func NewWatcher(path string, cooldown time.Duration, onUpdate func(AppConfig), onError func(error)) (*Watcher, error) {
	if onUpdate == nil {
		return nil, fmt.Errorf("onUpdate callback is required")
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	if onError == nil {
		onError = func(error) {}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		path:     path,
		cooldown: cooldown,
		watcher:  fw,
		onUpdate: onUpdate,
		onError:  onError,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 开始监听。
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	go w.loop(ctx)
	return nil
}

// Stop 停止监听并等待循环退出。
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		select {
		case <-w.doneChan:
		case <-time.After(time.Second):
		}
	})
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.cooldown {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		// 配置写坏了不应打断运行中的引擎，保留旧配置。
		w.onError(err)
		return
	}
	w.onUpdate(cfg)
}

// LastReloadTime 返回最近一次成功触发重载的时间。
func (w *Watcher) LastReloadTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReload
}
