package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// Manager holds the registered plugins of one crawl run and dispatches lifecycle hooks to the
// enabled ones. A plugin that panics or returns an error is logged and the dispatch moves on;
// no plugin failure ever reaches the crawler.
type Manager struct {
	mu         sync.RWMutex
	registered []Plugin
	enabled    []Plugin
	log        *logrus.Entry
}

// NewManager creates an empty Manager
func NewManager(log *logrus.Entry) *Manager {
	return &Manager{log: log.WithField("component", "plugins")}
}

// Register adds a plugin to the registry. Registering two plugins with the same name is an error.
func (m *Manager) Register(p Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.registered {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin '%s' already registered", p.Name())
		}
	}
	m.registered = append(m.registered, p)
	return nil
}

// Enable activates the named plugins in the given order and calls their Init hooks.
// Unknown names are logged and ignored. A plugin whose Init fails stays disabled.
// Calling Enable again replaces the enabled set.
func (m *Manager) Enable(ctx context.Context, names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = m.enabled[:0]
	for _, name := range names {
		p := m.lookupLocked(name)
		if p == nil {
			m.log.Warnf("Unknown plugin '%s' in enabled list, ignoring", name)
			continue
		}
		if init, ok := p.(Initializer); ok {
			if err := m.safeCall(p, "Init", func() error { return init.Init(ctx) }); err != nil {
				m.log.WithField("plugin", name).Errorf("Plugin init failed, plugin disabled: %v", err)
				continue
			}
		}
		m.enabled = append(m.enabled, p)
		m.log.WithField("plugin", name).Info("Plugin enabled")
	}
}

func (m *Manager) lookupLocked(name string) Plugin {
	for _, p := range m.registered {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Enabled returns the names of the enabled plugins in dispatch order
func (m *Manager) Enabled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.enabled))
	for i, p := range m.enabled {
		names[i] = p.Name()
	}
	return names
}

func (m *Manager) snapshot() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Plugin(nil), m.enabled...)
}

// safeCall runs fn, converting a panic into an error
func (m *Manager) safeCall(p Plugin, hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logrus.Fields{
				"plugin":      p.Name(),
				"hook":        hook,
				"panic_info":  fmt.Sprintf("%v", r),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in plugin hook")
			err = fmt.Errorf("plugin %s panicked in %s: %v", p.Name(), hook, r)
		}
	}()
	return fn()
}

// dispatch runs fn for every enabled plugin, logging errors
func (m *Manager) dispatch(hook string, fn func(p Plugin) error) {
	for _, p := range m.snapshot() {
		p := p
		if err := m.safeCall(p, hook, func() error { return fn(p) }); err != nil {
			m.log.WithFields(logrus.Fields{"plugin": p.Name(), "hook": hook}).Errorf("Plugin hook failed: %v", err)
		}
	}
}

// CrawlStart notifies plugins that a crawl is about to begin
func (m *Manager) CrawlStart(ctx context.Context, info CrawlInfo) {
	m.dispatch("OnCrawlStart", func(p Plugin) error {
		if h, ok := p.(CrawlStartHook); ok {
			h.OnCrawlStart(ctx, info)
		}
		return nil
	})
}

// PageCrawled notifies plugins of a fetched page. Safe for concurrent use.
func (m *Manager) PageCrawled(ctx context.Context, pageURL string, body []byte) {
	m.dispatch("OnPageCrawled", func(p Plugin) error {
		if h, ok := p.(PageCrawledHook); ok {
			h.OnPageCrawled(ctx, pageURL, body)
		}
		return nil
	})
}

func (m *Manager) CrawlEnd(ctx context.Context, result *models.CrawlResult) {
	m.dispatch("OnCrawlEnd", func(p Plugin) error {
		if h, ok := p.(CrawlEndHook); ok {
			h.OnCrawlEnd(ctx, result)
		}
		return nil
	})
}

func (m *Manager) SaveStart(ctx context.Context, meta SaveMetadata) {
	m.dispatch("OnSaveStart", func(p Plugin) error {
		if h, ok := p.(SaveStartHook); ok {
			h.OnSaveStart(ctx, meta)
		}
		return nil
	})
}

// SaveSite runs every enabled SiteSaver and concatenates the files they report.
// A saver that fails contributes nothing; the others still run.
func (m *Manager) SaveSite(ctx context.Context, result *models.CrawlResult) []models.SavedFile {
	var all []models.SavedFile
	m.dispatch("SaveSite", func(p Plugin) error {
		s, ok := p.(SiteSaver)
		if !ok {
			return nil
		}
		files, err := s.SaveSite(ctx, result)
		if err != nil {
			return err
		}
		all = append(all, files...)
		return nil
	})
	return all
}

func (m *Manager) SaveEnd(ctx context.Context, saved []models.SavedFile) {
	m.dispatch("OnSaveEnd", func(p Plugin) error {
		if h, ok := p.(SaveEndHook); ok {
			h.OnSaveEnd(ctx, saved)
		}
		return nil
	})
}

// Cleanup calls Cleanup on every enabled plugin and clears the enabled set
func (m *Manager) Cleanup() {
	m.dispatch("Cleanup", func(p Plugin) error {
		if c, ok := p.(Cleaner); ok {
			return c.Cleanup()
		}
		return nil
	})
	m.mu.Lock()
	m.enabled = nil
	m.mu.Unlock()
}
