package app

import (
	"path/filepath"
	"sync"

	"github.com/barryq93/wisdomgraph/internal/querylog"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// statsCache memoises analyzer results until the query log changes.
// It only caches while a watcher is invalidating it. A result computed
// across an invalidation is returned but never stored.
type statsCache struct {
	mu      sync.Mutex
	enabled bool
	gen     uint64
	stats   map[querylog.AnalyzeOptions][]querylog.Stat
	analyze func(path string, opts querylog.AnalyzeOptions) ([]querylog.Stat, error)
}

func newStatsCache() *statsCache {
	return &statsCache{
		stats:   make(map[querylog.AnalyzeOptions][]querylog.Stat),
		analyze: querylog.AnalyzeFile,
	}
}

func (c *statsCache) get(path string, opts querylog.AnalyzeOptions) ([]querylog.Stat, error) {
	c.mu.Lock()
	if c.enabled {
		if stats, ok := c.stats[opts]; ok {
			c.mu.Unlock()
			return stats, nil
		}
	}
	gen := c.gen
	c.mu.Unlock()

	stats, err := c.analyze(path, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.enabled && c.gen == gen {
		c.stats[opts] = stats
	}
	c.mu.Unlock()
	return stats, nil
}

func (c *statsCache) setEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	c.reset()
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// reset must be called with mu held.
func (c *statsCache) reset() {
	c.gen++
	c.stats = make(map[querylog.AnalyzeOptions][]querylog.Stat)
}

// watchQueryLog invalidates the stats cache whenever the query log is
// written, created, renamed or removed. The directory is watched so rotation
// is picked up.
func (app *Application) watchQueryLog(logFile string) {
	defer app.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.Errorf("Failed to create query log watcher: %v", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(logFile)
	if err := watcher.Add(dir); err != nil {
		logrus.Errorf("Failed to watch query log directory %s: %v", dir, err)
		return
	}
	app.cache.setEnabled(true)
	defer app.cache.setEnabled(false)

	target := filepath.Clean(logFile)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				app.cache.invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logrus.Errorf("Query log watcher error: %v", err)
		case <-app.shutdown:
			return
		}
	}
}
