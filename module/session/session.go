package session

import (
	"context"
	"sync"

	"TProject/logger"
	"TProject/module/channel"
	"TProject/module/chat"
	"TProject/module/notify"
	"TProject/module/user"
	"TProject/service/realtime"
	"TProject/service/storage"
	"TProject/tools/decode"
	"TProject/tools/errs"
)

// Backends 一个会话依赖的全部外部服务。
// Tabs 是视图工厂而非单个句柄：每个 Session 自己 Tab() 一个视图，
// 否则同一进程里同一用户的两条连接互相收不到存储广播。
type Backends struct {
	Bus       realtime.Bus
	Tabs      storage.Tabs
	Directory user.Directory
	History   chat.History
	Sender    chat.Sender
}

// Session 单个身份的实时会话：角色驱动的公告订阅 + 控制频道 +
// 通知存储 + 打开中的会话消息视图。身份切换时整个 Session 被 Stop 并丢弃，
// 新身份拿一个全新的 Session——旧身份的 handler 不会残留在任何频道上。
type Session struct {
	b    Backends
	subs *SubscriptionManager
	kv   storage.KV // 本会话自己的存储视图，Stop 时关闭

	// Notifications 本身份的通知存储，Session 停止后自动脱离存储广播。
	Notifications *notify.Store

	mu     sync.Mutex
	usr    *user.CachedUser
	closed bool
	convs  map[string]*chat.Store

	// handler 引用在构造时定死，解析/差分反复使用同一批引用，
	// 否则退订会匹配不到。
	announceHandler  realtime.Handler
	roleHandler      realtime.Handler
	statusHandler    realtime.Handler
	communityHandler realtime.Handler

	// OnRoleChange 角色集合变化后回调（可选；gateway 用它推送最新绑定）。
	OnRoleChange func()
	// OnStatusChange 用户状态变化后回调（可选）。
	OnStatusChange func(status string)
}

func NewSession(u *user.CachedUser, b Backends) *Session {
	kv := b.Tabs.Tab()
	s := &Session{
		b:             b,
		subs:          NewSubscriptionManager(b.Bus),
		kv:            kv,
		Notifications: notify.NewStore(kv, u.ID),
		usr:           u,
		convs:         map[string]*chat.Store{},
	}
	s.announceHandler = func(ctx context.Context, msg realtime.Message) error {
		if s.isClosed() {
			return nil
		}
		var a notify.Announcement
		if err := decode.Loose(msg.Data, &a); err != nil {
			logger.Warnf("announcement payload unparsable on %s: %v", msg.Channel, err)
			return nil
		}
		s.Notifications.OnLiveEvent(a)
		return nil
	}
	s.communityHandler = func(ctx context.Context, msg realtime.Message) error {
		return s.onRoleDelta(msg)
	}
	s.roleHandler = func(ctx context.Context, msg realtime.Message) error {
		return s.onRoleDelta(msg)
	}
	s.statusHandler = func(ctx context.Context, msg realtime.Message) error {
		if s.isClosed() {
			return nil
		}
		var ev struct {
			Status string `json:"userstatus"`
		}
		if err := decode.Loose(msg.Data, &ev); err != nil {
			logger.Warnf("status payload unparsable: %v", err)
			return nil
		}
		s.mu.Lock()
		s.usr.Status = ev.Status
		cb := s.OnStatusChange
		s.mu.Unlock()
		if cb != nil {
			cb(ev.Status)
		}
		return nil
	}
	return s
}

// Start 解析角色绑定并落地订阅集合。
// 绑定以服务端为准；取不到时退回缓存的绑定继续工作（离线容忍），
// 订阅失败才算启动失败。
func (s *Session) Start(ctx context.Context) error {
	s.subs.BeginResolve()

	s.mu.Lock()
	uid := s.usr.ID
	cached := append([]user.RoleBinding(nil), s.usr.Roles...)
	s.mu.Unlock()

	bindings, err := s.b.Directory.FetchRoleBindings(ctx, uid)
	if err != nil {
		logger.Warnf("fetch role bindings for %s failed, using cached: %v", uid, err)
		bindings = cached
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.ErrStaleCallback.WrapMsg("session stopped during resolve", "user", uid)
	}
	s.usr.Roles = bindings
	targets := s.targetsLocked()
	s.mu.Unlock()

	err = s.subs.Apply(targets)
	if s.isClosed() {
		// Stop 和订阅落地赛跑时以 Stop 为准
		s.subs.Teardown()
		return errs.ErrStaleCallback.WrapMsg("session stopped during subscribe", "user", uid)
	}
	return err
}

// Stop 摘掉本身份的所有 handler：关闭全部会话视图、退订全部频道、
// 通知存储脱离广播。幂等。
func (s *Session) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	convs := s.convs
	s.convs = map[string]*chat.Store{}
	s.mu.Unlock()

	for _, c := range convs {
		c.Close()
	}
	s.subs.Teardown()
	s.Notifications.Detach()
	if err := s.kv.Close(); err != nil {
		logger.Warnf("close session kv view: %v", err)
	}
}

// User 返回缓存用户记录的副本。
func (s *Session) User() user.CachedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *s.usr
	u.Roles = append([]user.RoleBinding(nil), s.usr.Roles...)
	u.Groups = append([]string(nil), s.usr.Groups...)
	return u
}

// ActiveChannels 当前订阅的频道名（测试与运维可观测）。
func (s *Session) ActiveChannels() []string { return s.subs.ActiveChannels() }

// OpenConversation 打开（或复用）与 peer 的 1:1 会话视图。
func (s *Session) OpenConversation(ctx context.Context, peerID string) (*chat.Store, error) {
	s.mu.Lock()
	uid := s.usr.ID
	s.mu.Unlock()
	return s.openChat(ctx, channel.Conversation(uid, peerID), peerID)
}

// OpenGroup 打开（或复用）群聊会话视图。
func (s *Session) OpenGroup(ctx context.Context, groupID string) (*chat.Store, error) {
	return s.openChat(ctx, channel.Group(groupID), "")
}

// Conversation 返回已打开的会话视图，没有则为 nil。
func (s *Session) Conversation(key string) *chat.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[key]
}

// CloseConversation 关闭并移除一个会话视图。
func (s *Session) CloseConversation(key string) {
	s.mu.Lock()
	c := s.convs[key]
	delete(s.convs, key)
	s.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

func (s *Session) openChat(ctx context.Context, key, peerID string) (*chat.Store, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errs.ErrStaleCallback.WrapMsg("session stopped", "key", key)
	}
	if c, ok := s.convs[key]; ok {
		s.mu.Unlock()
		return c, nil
	}
	uid := s.usr.ID
	s.mu.Unlock()

	c := chat.NewStore(chat.StoreOptions{
		ConversationKey: key,
		SelfID:          uid,
		PeerID:          peerID,
		History:         s.b.History,
		Sender:          s.b.Sender,
		Bus:             s.b.Bus,
	})
	if err := c.Open(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return nil, errs.ErrStaleCallback.WrapMsg("session stopped during open", "key", key)
	}
	if prior, ok := s.convs[key]; ok {
		// 并发打开同一会话：保留先注册的，关掉后来的
		s.mu.Unlock()
		c.Close()
		return prior, nil
	}
	s.convs[key] = c
	s.mu.Unlock()
	return c, nil
}

// onRoleDelta 控制频道的角色增量：合并进缓存绑定后重新差分订阅。
// 撤销会把对应公告频道从活跃集合里摘掉，授予会补上——不会出现
// 没有可解析绑定却还挂着订阅的频道。
func (s *Session) onRoleDelta(msg realtime.Message) error {
	if s.isClosed() {
		return nil
	}
	var d user.RoleDelta
	if err := decode.Loose(msg.Data, &d); err != nil {
		logger.Warnf("role delta unparsable on %s: %v", msg.Channel, err)
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.usr.Roles = user.MergeRoles(s.usr.Roles, d)
	targets := s.targetsLocked()
	cb := s.OnRoleChange
	s.mu.Unlock()

	if err := s.subs.Apply(targets); err != nil {
		logger.Errorf("re-apply subscriptions after role delta: %v", err)
	}
	if cb != nil {
		cb()
	}
	return nil
}

// targetsLocked 把当前绑定集合映射成期望订阅集合。调用方持有 s.mu。
func (s *Session) targetsLocked() []Target {
	uid := s.usr.ID
	targets := []Target{
		{Channel: channel.UserRole(uid), Event: channel.EventRoleUpdate, Handler: s.roleHandler},
		{Channel: channel.UserStatus(uid), Event: channel.EventRoleUpdate, Handler: s.statusHandler},
		{Channel: channel.CommunityRoles(uid), Event: channel.EventRoleUpdate, Handler: s.communityHandler},
	}
	seen := map[string]bool{}
	for _, r := range s.usr.Roles {
		if r.ScopeID == "" || r.CategoryID == "" {
			continue // 不完整的绑定解析不出频道名
		}
		ch := channel.Category(r.ScopeID, r.CategoryID)
		if seen[ch] {
			continue
		}
		seen[ch] = true
		targets = append(targets, Target{
			Channel: ch,
			Event:   channel.EventNewAnnouncement,
			Handler: s.announceHandler,
		})
	}
	return targets
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
