package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"shortbot/internal/logger"
)

// 中文说明：
// 新闻日历：高影响事件（CPI、FOMC 等）前后禁止开仓。
// 日历是独立的 YAML 文件，可在运行期编辑，fsnotify 监听后热加载。

// NewsEvent 描述单个高影响事件，时间为 UTC。
type NewsEvent struct {
	Date  string `yaml:"date"`  // "2006-01-02"
	Time  string `yaml:"time"`  // "15:04"
	Event string `yaml:"event"`
}

// At 解析事件时间；格式错误时返回 error，调用方跳过该条目。
func (e NewsEvent) At() (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", fmt.Sprintf("%s %s", strings.TrimSpace(e.Date), strings.TrimSpace(e.Time)), time.UTC)
}

type newsCalendarFile struct {
	Events []NewsEvent `yaml:"events"`
}

// NewsCalendar 持有当前生效的事件列表，读写通过互斥锁隔离。
type NewsCalendar struct {
	mu     sync.RWMutex
	path   string
	events []NewsEvent
}

// LoadNewsCalendar 加载日历文件。文件缺失不是错误：返回空日历。
func LoadNewsCalendar(path string) *NewsCalendar {
	cal := &NewsCalendar{path: strings.TrimSpace(path)}
	if cal.path == "" {
		return cal
	}
	if err := cal.reload(); err != nil {
		logger.Warnf("news calendar: initial load failed (%s): %v", cal.path, err)
	}
	return cal
}

// Events 返回当前事件列表的副本。
func (c *NewsCalendar) Events() []NewsEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]NewsEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *NewsCalendar) reload() error {
	if c.path == "" {
		return nil
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.swap(nil)
			return nil
		}
		return err
	}
	var file newsCalendarFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing news calendar failed: %w", err)
	}
	valid := make([]NewsEvent, 0, len(file.Events))
	for _, ev := range file.Events {
		if _, err := ev.At(); err != nil {
			logger.Debugf("news calendar: skipping invalid entry %q %q: %v", ev.Date, ev.Time, err)
			continue
		}
		valid = append(valid, ev)
	}
	c.swap(valid)
	logger.Infof("news calendar: %d events loaded from %s", len(valid), c.path)
	return nil
}

func (c *NewsCalendar) swap(events []NewsEvent) {
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
}

// Watch 监听日历文件变更并热加载，直到 ctx 结束。
func (c *NewsCalendar) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// 监听目录而不是文件本身，编辑器整文件替换时 inode 会变。
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(c.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.reload(); err != nil {
					logger.Warnf("news calendar: reload failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("news calendar: watcher error: %v", err)
			}
		}
	}()
	return nil
}
