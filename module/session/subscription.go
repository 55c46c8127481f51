package session

import (
	"sort"
	"sync"

	"TProject/logger"
	"TProject/service/realtime"
	"TProject/tools/errs"
)

// State 订阅管理器的生命周期状态。
type State int

const (
	StateIdle       State = iota // 未订阅任何频道
	StateResolving               // 正在解析角色绑定
	StateSubscribed              // 订阅集合已落地
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// Target 一条期望的订阅：频道 + 事件 + 处理函数。
// Handler 引用会被留存到退订，调用方必须对同一目标复用同一个函数值。
type Target struct {
	Channel string
	Event   string
	Handler realtime.Handler
}

// SubscriptionManager 把"期望的订阅集合"与 Bus 上的实际订阅对齐。
// Apply 做差分：多了退订、少了补订、不变的原样保留——活跃集合
// 始终是角色绑定集合的像，授予/撤销以任意顺序到达都收敛到同一结果。
type SubscriptionManager struct {
	bus realtime.Bus

	mu     sync.Mutex
	state  State
	active map[string]Target // key: channel "." event
}

func NewSubscriptionManager(bus realtime.Bus) *SubscriptionManager {
	return &SubscriptionManager{bus: bus, active: map[string]Target{}}
}

func (m *SubscriptionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BeginResolve 标记正在解析绑定；已有订阅保持不动。
func (m *SubscriptionManager) BeginResolve() {
	m.mu.Lock()
	m.state = StateResolving
	m.mu.Unlock()
}

// Apply 让实际订阅收敛到 desired。退订用的是当初订阅时留存的 handler 引用。
func (m *SubscriptionManager) Apply(desired []Target) error {
	want := make(map[string]Target, len(desired))
	for _, t := range desired {
		want[t.Channel+"."+t.Event] = t
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for key, t := range m.active {
		if _, keep := want[key]; keep {
			continue
		}
		if err := m.bus.Unsubscribe(t.Channel, t.Event, t.Handler); err != nil && firstErr == nil {
			firstErr = errs.WrapMsg(err, "unsubscribe", "channel", t.Channel)
		}
		delete(m.active, key)
	}
	for key, t := range want {
		if _, have := m.active[key]; have {
			continue // 已订阅且 handler 引用未变，原样保留
		}
		if err := m.bus.Subscribe(t.Channel, t.Event, t.Handler); err != nil {
			logger.Errorf("subscribe %s failed: %v", t.Channel, err)
			if firstErr == nil {
				firstErr = errs.WrapMsg(err, "subscribe", "channel", t.Channel)
			}
			continue
		}
		m.active[key] = t
	}
	m.state = StateSubscribed
	return firstErr
}

// Teardown 退订全部活跃频道并回到 idle。
func (m *SubscriptionManager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, t := range m.active {
		_ = m.bus.Unsubscribe(t.Channel, t.Event, t.Handler)
		delete(m.active, key)
	}
	m.state = StateIdle
}

// ActiveChannels 当前活跃频道名（排序后返回，便于断言和日志）。
func (m *SubscriptionManager) ActiveChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t.Channel)
	}
	sort.Strings(out)
	return out
}
