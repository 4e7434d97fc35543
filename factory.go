package script_engine

import (
	"fmt"
	"sort"
	"sync"
)

type FactoryFunc func(opts ...Option) (Engine, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[Type]FactoryFunc)
)

func Register(typ Type, f FactoryFunc) error {
	if typ == "" || f == nil {
		return ErrInvalidArgument
	}
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, ok := factories[typ]; ok {
		return fmt.Errorf("script engine factory %s already registered", typ)
	}
	factories[typ] = f
	return nil
}

func GetFactory(typ Type) (FactoryFunc, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[typ]
	return f, ok
}

func ListFactories() []Type {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	res := make([]Type, 0, len(factories))
	for k := range factories {
		res = append(res, k)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

func Unregister(typ Type) bool {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, ok := factories[typ]; ok {
		delete(factories, typ)
		return true
	}
	return false
}

// NewScriptEngine 使用已注册的工厂创建引擎（未初始化）
func NewScriptEngine(typ Type, opts ...Option) (Engine, error) {
	f, ok := GetFactory(typ)
	if !ok {
		return nil, NewError(KindLoad, typ.String(), "", wrapf(ErrEngineNotRegistered, "%s", typ))
	}

	eng, err := f(opts...)
	if err != nil {
		return nil, Wrap(KindLoad, typ.String(), err)
	}
	return eng, nil
}
