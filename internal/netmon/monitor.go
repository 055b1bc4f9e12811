// Package netmon 维护当前进程对后端的可达性视图。
// Monitor 是显式构造、可注入的服务对象，而不是包级单例，
// 这样测试可以各自实例化互不干扰的实例。
package netmon

import (
	"context"
	"log"
	"sync"
	"time"
)

// State is the snapshot delivered to subscribers on every change.
type State struct {
	Online           bool // 主机级网络信号（由宿主应用设置）
	BackendReachable bool // 对后端的主动探测结果
}

// Reachable reports whether remote operations are worth attempting.
func (s State) Reachable() bool {
	return s.Online && s.BackendReachable
}

// Pinger 是连通性探测的最小依赖：一次廉价的只读往返。
// storage.DB 和 redis 客户端都各自提供实现。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor observes network/backend reachability and publishes state changes
// to subscribers. All methods are safe for concurrent use.
type Monitor struct {
	pinger Pinger

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
}

// NewMonitor creates a Monitor. The initial state assumes the host is online
// and the backend reachable until a probe says otherwise.
func NewMonitor(pinger Pinger) *Monitor {
	return &Monitor{
		pinger:    pinger,
		state:     State{Online: true, BackendReachable: true},
		listeners: make(map[int]func(State)),
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reachable is shorthand for State().Reachable().
func (m *Monitor) Reachable() bool {
	return m.State().Reachable()
}

// Subscribe registers a listener fired on every state change and returns an
// unsubscribe function. Each call registers exactly one listener; calling the
// returned function more than once is harmless.
func (m *Monitor) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SetOnline records the host-level network signal.
func (m *Monitor) SetOnline(online bool) {
	m.update(func(s *State) { s.Online = online })
}

// CheckConnectivity performs an active probe against the backend and updates
// BackendReachable. It never returns an error: a failed probe simply resolves
// to false.
func (m *Monitor) CheckConnectivity(ctx context.Context) bool {
	reachable := true
	if m.pinger != nil {
		if err := m.pinger.Ping(ctx); err != nil {
			reachable = false
		}
	}
	m.update(func(s *State) { s.BackendReachable = reachable })
	return reachable
}

// RunProbe 周期性探测直到 ctx 取消。通常由 cmd 层作为 goroutine 启动。
func (m *Monitor) RunProbe(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("连通性探测循环已停止。")
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			m.CheckConnectivity(probeCtx)
			cancel()
		}
	}
}

// update applies fn under the lock and, if the state changed, notifies every
// listener outside the lock with the new snapshot.
func (m *Monitor) update(fn func(*State)) {
	m.mu.Lock()
	old := m.state
	fn(&m.state)
	changed := m.state != old
	snapshot := m.state
	var fns []func(State)
	if changed {
		fns = make([]func(State), 0, len(m.listeners))
		for _, l := range m.listeners {
			fns = append(fns, l)
		}
	}
	m.mu.Unlock()

	for _, l := range fns {
		l(snapshot)
	}
}
