package sensors

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicate 同名指标重复注册
	ErrDuplicate = errors.New("sensor already registered")
	// ErrFrozen Freeze 之后不允许再注册
	ErrFrozen = errors.New("sensor registry is frozen")
)

// Registry 指标目录：静态注册 -> 磁盘发现 -> Freeze
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Descriptor
	frozen bool
}

// NewRegistry 创建空目录
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register 注册指标，保持注册顺序
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New("sensor name cannot be empty")
	}
	if d.Read == nil {
		return fmt.Errorf("sensor %s: provider cannot be nil", d.Name)
	}
	if d.Entity == "" {
		d.Entity = EntitySensor
	}
	if d.Entity != EntitySensor && d.Entity != EntityBinarySensor {
		return fmt.Errorf("sensor %s: unknown entity %q", d.Name, d.Entity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %s: %w", d.Name, ErrFrozen)
	}
	if _, ok := r.byName[d.Name]; ok {
		return fmt.Errorf("register %s: %w", d.Name, ErrDuplicate)
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// RegisterAll 批量注册，遇到第一个错误即返回
func (r *Registry) RegisterAll(ds []Descriptor) error {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Freeze 结束注册阶段
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen 是否已冻结
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// All 按注册顺序返回全部指标
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Lookup 按名称查找
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}
