package session

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"TProject/logger"
	"TProject/module/user"
	"TProject/service/storage"
	"TProject/tools/errs"
)

// Profile 一个可切换的持久化身份。
type Profile struct {
	ID         string           `json:"id"`
	Credential string           `json:"jwt"`
	User       *user.CachedUser `json:"user,omitempty"`
}

// ProfileManager 多身份注册表：profiles 映射与 activeprofile 指针都持久化，
// 重启后可 Restore。任一时刻最多一个身份持有活跃 Session。
//
// Activate 先 Stop 旧会话再解析新身份——换身份的窗口里不会有旧身份的
// handler 收到事件。代数计数器挡住迟到的异步回调：解析完成时如果又有
// 新的 Activate 发生，旧的结果直接作废。
type ProfileManager struct {
	b  Backends
	kv storage.KV // manager 自己的存储视图（profiles / activeprofile）

	mu       sync.Mutex
	profiles map[string]Profile
	activeID string
	session  *Session
	gen      uint64
}

func NewProfileManager(b Backends) *ProfileManager {
	m := &ProfileManager{b: b, kv: b.Tabs.Tab(), profiles: map[string]Profile{}}
	m.load()
	return m
}

// Profiles 已注册身份（按ID排序）。
func (m *ProfileManager) Profiles() []Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *ProfileManager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Session 当前活跃会话，没有则为 nil。
func (m *ProfileManager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// AddProfile 登记一个身份并持久化映射。只改映射不建会话；
// 要让它生效需随后 Activate。
func (m *ProfileManager) AddProfile(ctx context.Context, p Profile) error {
	if p.ID == "" {
		return errs.ErrArgs.WrapMsg("profile id required")
	}
	m.mu.Lock()
	m.profiles[p.ID] = p
	err := m.persistLocked(ctx)
	m.mu.Unlock()
	return err
}

// RemoveProfile 注销一个身份。移除活跃身份会先停掉它的会话并清空
// 活跃指针；之后要么 Activate 别的身份要么 Logout。
func (m *ProfileManager) RemoveProfile(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.profiles[id]; !ok {
		m.mu.Unlock()
		return errs.ErrRecordNotFound.WrapMsg("profile not found", "id", id)
	}
	delete(m.profiles, id)
	var stop *Session
	if m.activeID == id {
		stop = m.session
		m.session = nil
		m.activeID = ""
		m.gen++
	}
	err := m.persistLocked(ctx)
	m.mu.Unlock()

	if stop != nil {
		stop.Stop()
	}
	return err
}

// Activate 切换到指定身份：停旧会话 → 刷新用户记录 → 建新会话并订阅。
// 刷新失败退回缓存记录（离线容忍）；缓存也没有才算失败。
func (m *ProfileManager) Activate(ctx context.Context, id string) error {
	m.mu.Lock()
	p, ok := m.profiles[id]
	if !ok {
		m.mu.Unlock()
		return errs.ErrRecordNotFound.WrapMsg("profile not found", "id", id)
	}
	m.gen++
	gen := m.gen
	old := m.session
	m.session = nil
	m.activeID = ""
	m.mu.Unlock()

	// 先摘干净旧身份的 handler，再开始新身份的任何订阅。
	if old != nil {
		old.Stop()
	}

	fresh, err := m.b.Directory.FetchUser(ctx, p.Credential)
	if err != nil {
		if p.User == nil {
			return errs.ErrNetwork.WrapMsg("fetch user on activate", "profile", id, "err", err)
		}
		logger.Warnf("fetch user for profile %s failed, using cached record: %v", id, err)
		fresh = p.User
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return errs.ErrStaleCallback.WrapMsg("activation superseded", "profile", id)
	}
	p.User = fresh
	m.profiles[id] = p
	sess := NewSession(fresh, m.b)
	m.session = sess
	m.activeID = id
	if err := m.persistLocked(ctx); err != nil {
		logger.Errorf("persist profiles on activate: %v", err)
	}
	m.mu.Unlock()

	return sess.Start(ctx)
}

// Restore 重启后按持久化的活跃指针恢复会话；没有指针则什么都不做。
func (m *ProfileManager) Restore(ctx context.Context) error {
	m.mu.Lock()
	id := m.activeID
	has := false
	if id != "" {
		_, has = m.profiles[id]
	}
	m.mu.Unlock()
	if !has {
		return nil
	}
	return m.Activate(ctx, id)
}

// Logout 停掉活跃会话、清掉它的通知存储、清空全部身份并删除持久化键。
func (m *ProfileManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.activeID = ""
	m.profiles = map[string]Profile{}
	m.gen++
	m.mu.Unlock()

	if sess != nil {
		sess.Notifications.Clear()
		sess.Stop()
	}

	if err := m.kv.Delete(ctx, storage.KeyProfiles); err != nil {
		return errs.WrapMsg(err, "delete profiles key")
	}
	return m.kv.Delete(ctx, storage.KeyActiveProfile)
}

func (m *ProfileManager) load() {
	ctx := context.Background()
	raw, err := m.kv.Load(ctx, storage.KeyProfiles)
	if err != nil {
		logger.Errorf("load profiles: %v", err)
		return
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &m.profiles); err != nil {
			// 坏数据重置为空，不致命
			logger.Warnf("profiles storage corrupt, resetting: %v", err)
			m.profiles = map[string]Profile{}
			_ = m.kv.Delete(ctx, storage.KeyProfiles)
			_ = m.kv.Delete(ctx, storage.KeyActiveProfile)
			return
		}
	}
	active, err := m.kv.Load(ctx, storage.KeyActiveProfile)
	if err != nil {
		logger.Errorf("load active profile: %v", err)
		return
	}
	if active != nil {
		id := string(active)
		if _, ok := m.profiles[id]; ok {
			m.activeID = id
		} else {
			// 指针指向不存在的身份，丢弃
			_ = m.kv.Delete(ctx, storage.KeyActiveProfile)
		}
	}
}

func (m *ProfileManager) persistLocked(ctx context.Context) error {
	if len(m.profiles) == 0 {
		if err := m.kv.Delete(ctx, storage.KeyProfiles); err != nil {
			return errs.WrapMsg(err, "delete profiles key")
		}
	} else {
		raw, err := json.Marshal(m.profiles)
		if err != nil {
			return errs.WrapMsg(err, "marshal profiles")
		}
		if err := m.kv.Store(ctx, storage.KeyProfiles, raw); err != nil {
			return errs.WrapMsg(err, "persist profiles")
		}
	}
	if m.activeID == "" {
		return m.kv.Delete(ctx, storage.KeyActiveProfile)
	}
	return m.kv.Store(ctx, storage.KeyActiveProfile, []byte(m.activeID))
}
