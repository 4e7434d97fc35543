package script_engine

import (
	"context"
	"sort"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// Manager 管理多个 Engine 实例的生命周期与访问。
// - 由调用方显式创建并传递，不存在全局的“当前引擎”。
// - 适用于需要多个引擎实例、统一 Init/Close、或按 name 获取的场景。
type Manager struct {
	mu      sync.RWMutex
	engines map[string]Engine
	// 未指定 name 时使用的引擎
	defaultName string

	log *log.Helper
}

// NewManager 创建 Manager。
func NewManager(logger ...log.Logger) *Manager {
	l := log.DefaultLogger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Manager{
		engines: make(map[string]Engine),
		log:     log.NewHelper(log.With(l, "module", "script-engine/manager")),
	}
}

// Register 注册一个 Engine（不初始化）。
// 若 name 已存在返回错误。第一个注册的引擎成为默认引擎。
func (m *Manager) Register(name string, eng Engine) error {
	if name == "" || eng == nil {
		return UsageError("", wrapf(ErrInvalidArgument, "invalid name or engine"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[name]; ok {
		return UsageError(eng.Name(), wrapf(ErrInvalidArgument, "engine %s already registered", name))
	}
	m.engines[name] = eng
	if m.defaultName == "" {
		m.defaultName = name
	}
	return nil
}

// Create 通过工厂创建并初始化引擎，然后以 name 注册。
func (m *Manager) Create(ctx context.Context, name string, typ Type, opts ...Option) (Engine, error) {
	eng, err := NewScriptEngine(typ, opts...)
	if err != nil {
		return nil, err
	}
	if err = eng.Init(ctx); err != nil {
		_ = eng.Close()
		return nil, err
	}
	if err = m.Register(name, eng); err != nil {
		_ = eng.Close()
		return nil, err
	}

	m.log.Debugf("created %s engine %q", typ, name)
	return eng, nil
}

// Get 返回已注册的 Engine。
func (m *Manager) Get(name string) (Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	eng, ok := m.engines[name]
	return eng, ok
}

// Names 返回已注册的引擎名称。
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitAll 对所有尚未初始化的引擎执行 Init。
func (m *Manager) InitAll(ctx context.Context) error {
	for _, e := range m.snapshot() {
		if e.IsInitialized() {
			continue
		}
		if err := e.Init(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CloseAll 关闭所有已注册引擎（并忽略单个 Close 错误，返回最后一个错误）。
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	list := make([]Engine, 0, len(m.engines))
	for _, e := range m.engines {
		list = append(list, e)
	}
	// 清空注册表以防重复 Close
	m.engines = make(map[string]Engine)
	m.defaultName = ""
	m.mu.Unlock()

	var lastErr error
	for _, e := range list {
		if err := e.Close(); err != nil {
			m.log.Warnf("close %s engine: %v", e.Name(), err)
			lastErr = err
		}
	}
	return lastErr
}

// Remove 注销并可选择关闭该 Engine（若 closeIfExists 为 true）。
func (m *Manager) Remove(name string, closeIfExists bool) {
	m.mu.Lock()
	e, ok := m.engines[name]
	if ok {
		delete(m.engines, name)
		if m.defaultName == name {
			m.defaultName = ""
		}
	}
	m.mu.Unlock()

	if ok && closeIfExists {
		_ = e.Close()
	}
}

// SetDefault 设置默认引擎名，便于不指定 name 时使用。
func (m *Manager) SetDefault(name string) {
	m.mu.Lock()
	m.defaultName = name
	m.mu.Unlock()
}

// GetDefault 获取默认引擎。
func (m *Manager) GetDefault() (Engine, bool) {
	m.mu.RLock()
	name := m.defaultName
	m.mu.RUnlock()
	return m.Get(name)
}

func (m *Manager) snapshot() []Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]Engine, 0, len(m.engines))
	for _, e := range m.engines {
		list = append(list, e)
	}
	return list
}
