package session

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"TProject/module/channel"
	"TProject/module/chat"
	"TProject/module/user"
	"TProject/service/realtime"
	"TProject/service/storage"
	"TProject/tools/errs"
)

type fakeDirectory struct {
	users    map[string]*user.CachedUser // credential -> record
	bindings map[string][]user.RoleBinding
	userErr  error
}

func (d *fakeDirectory) FetchUser(ctx context.Context, credential string) (*user.CachedUser, error) {
	if d.userErr != nil {
		return nil, d.userErr
	}
	u, ok := d.users[credential]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("unknown credential")
	}
	cp := *u
	return &cp, nil
}

func (d *fakeDirectory) FetchRoleBindings(ctx context.Context, userID string) ([]user.RoleBinding, error) {
	b, ok := d.bindings[userID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("no bindings")
	}
	return b, nil
}

type fakeHistory struct{}

func (fakeHistory) LoadPage(ctx context.Context, key string, page, pageSize int) ([]chat.Message, error) {
	return nil, nil
}

type fakeSender struct{ n int }

func (s *fakeSender) Send(ctx context.Context, key, senderID, body string) (chat.SendReceipt, error) {
	s.n++
	return chat.SendReceipt{ID: fmt.Sprintf("srv-%d", s.n), CreatedAtMS: time.Now().UnixMilli()}, nil
}

func testBackends(dir *fakeDirectory) Backends {
	return Backends{
		Bus:       realtime.NewMemoryBus(),
		Tabs:      storage.NewMemoryStore(),
		Directory: dir,
		History:   fakeHistory{},
		Sender:    &fakeSender{},
	}
}

func publishAnnouncement(t *testing.T, b Backends, scope, cat, id string) {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{
		"id": id, "title": "t", "description": "d",
		"subcategory": cat, "templeid": scope,
		"timestamp": time.Now().UnixMilli(),
	})
	if err := b.Bus.Publish(context.Background(), channel.Category(scope, cat),
		channel.EventNewAnnouncement, raw, nil); err != nil {
		t.Fatalf("publish announcement: %v", err)
	}
}

func publishRoleDelta(t *testing.T, b Backends, userID string, d user.RoleDelta) {
	t.Helper()
	raw, _ := json.Marshal(d)
	if err := b.Bus.Publish(context.Background(), channel.CommunityRoles(userID),
		channel.EventRoleUpdate, raw, nil); err != nil {
		t.Fatalf("publish role delta: %v", err)
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestStartSubscribesBoundChannels(t *testing.T) {
	dir := &fakeDirectory{bindings: map[string][]user.RoleBinding{
		"u1": {
			{ScopeID: "t1", CategoryID: "s1", Role: "MEMBER"},
			{ScopeID: "t1", CategoryID: "s2", Role: "MEMBER"},
		},
	}}
	b := testBackends(dir)
	s := NewSession(&user.CachedUser{ID: "u1"}, b)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	active := s.ActiveChannels()
	for _, want := range []string{
		channel.Category("t1", "s1"),
		channel.Category("t1", "s2"),
		channel.UserRole("u1"),
		channel.UserStatus("u1"),
		channel.CommunityRoles("u1"),
	} {
		if !contains(active, want) {
			t.Fatalf("channel %s not active; active = %v", want, active)
		}
	}

	publishAnnouncement(t, b, "t1", "s1", "a1")
	if got := s.Notifications.Unread(); got != 1 {
		t.Fatalf("unread = %d after announcement, want 1", got)
	}
}

func TestRoleRevokeAndGrantReshapeSubscriptions(t *testing.T) {
	dir := &fakeDirectory{bindings: map[string][]user.RoleBinding{
		"u1": {{ScopeID: "t1", CategoryID: "s1", Role: "MEMBER"}},
	}}
	b := testBackends(dir)
	s := NewSession(&user.CachedUser{ID: "u1"}, b)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	// Revoke s1, grant s2 in one delta.
	publishRoleDelta(t, b, "u1", user.RoleDelta{
		RemovedCategoryID: "s1",
		Added:             []user.RoleBinding{{ScopeID: "t1", CategoryID: "s2", Role: "MEMBER"}},
	})

	active := s.ActiveChannels()
	if contains(active, channel.Category("t1", "s1")) {
		t.Fatalf("revoked channel still active: %v", active)
	}
	if !contains(active, channel.Category("t1", "s2")) {
		t.Fatalf("granted channel not active: %v", active)
	}

	// Announcements on the revoked channel must not reach this session.
	publishAnnouncement(t, b, "t1", "s1", "a1")
	if got := s.Notifications.Unread(); got != 0 {
		t.Fatalf("unread = %d after announcement on revoked channel, want 0", got)
	}
	publishAnnouncement(t, b, "t1", "s2", "a2")
	if got := s.Notifications.Unread(); got != 1 {
		t.Fatalf("unread = %d after announcement on granted channel, want 1", got)
	}
}

func TestTwoConnectionsOfOneUserStayInSync(t *testing.T) {
	dir := &fakeDirectory{bindings: map[string][]user.RoleBinding{
		"u1": {{ScopeID: "t1", CategoryID: "s1", Role: "MEMBER"}},
	}}
	b := testBackends(dir)

	// 同一进程、同一用户的两条连接：各自一个 Session，共享 Backends。
	s1 := NewSession(&user.CachedUser{ID: "u1"}, b)
	s2 := NewSession(&user.CachedUser{ID: "u1"}, b)
	if err := s1.Start(context.Background()); err != nil {
		t.Fatalf("start s1: %v", err)
	}
	defer s1.Stop()
	if err := s2.Start(context.Background()); err != nil {
		t.Fatalf("start s2: %v", err)
	}
	defer s2.Stop()

	publishAnnouncement(t, b, "t1", "s1", "a1")
	if s1.Notifications.Unread() != 1 || s2.Notifications.Unread() != 1 {
		t.Fatalf("unread s1=%d s2=%d, want 1/1",
			s1.Notifications.Unread(), s2.Notifications.Unread())
	}

	// 一条连接标记已读，另一条必须通过存储广播跟上。
	s1.Notifications.MarkRead("s1")
	if got := s2.Notifications.Unread(); got != 0 {
		t.Fatalf("s2 unread = %d after s1 MarkRead, want 0", got)
	}
}

func TestAnnouncementWithStringTimestamp(t *testing.T) {
	dir := &fakeDirectory{bindings: map[string][]user.RoleBinding{
		"u1": {{ScopeID: "t1", CategoryID: "s1", Role: "MEMBER"}},
	}}
	b := testBackends(dir)
	s := NewSession(&user.CachedUser{ID: "u1"}, b)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	// 旧版发布端把时间戳发成字符串，弱类型解码照样落桶。
	raw := []byte(`{"id":"a1","title":"t","description":"d","subcategory":"s1","templeid":"t1","timestamp":"1700000000123"}`)
	if err := b.Bus.Publish(context.Background(), channel.Category("t1", "s1"),
		channel.EventNewAnnouncement, raw, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := s.Notifications.Unread(); got != 1 {
		t.Fatalf("unread = %d, want 1", got)
	}
	bucket := s.Notifications.Bucket("s1")
	if len(bucket) != 1 || bucket[0].TimestampMS != 1700000000123 {
		t.Fatalf("bucket = %+v", bucket)
	}
}

func TestStatusDeltaUpdatesCachedUser(t *testing.T) {
	dir := &fakeDirectory{bindings: map[string][]user.RoleBinding{"u1": nil}}
	b := testBackends(dir)
	s := NewSession(&user.CachedUser{ID: "u1", Status: "ACTIVE"}, b)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	var seen string
	s.OnStatusChange = func(st string) { seen = st }

	raw, _ := json.Marshal(map[string]string{"userstatus": "SUSPENDED"})
	_ = b.Bus.Publish(context.Background(), channel.UserStatus("u1"), channel.EventRoleUpdate, raw, nil)

	if got := s.User().Status; got != "SUSPENDED" {
		t.Fatalf("status = %q, want SUSPENDED", got)
	}
	if seen != "SUSPENDED" {
		t.Fatalf("OnStatusChange saw %q", seen)
	}
}

func TestOpenConversationReusesStore(t *testing.T) {
	dir := &fakeDirectory{bindings: map[string][]user.RoleBinding{"u1": nil}}
	b := testBackends(dir)
	s := NewSession(&user.CachedUser{ID: "u1"}, b)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	c1, err := s.OpenConversation(context.Background(), "u2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c2, err := s.OpenConversation(context.Background(), "u2")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("same peer produced distinct stores")
	}
	if c1.Key != channel.Conversation("u1", "u2") {
		t.Fatalf("conversation key = %s", c1.Key)
	}

	s.CloseConversation(c1.Key)
	if s.Conversation(c1.Key) != nil {
		t.Fatalf("conversation survived close")
	}
}

func TestStoppedSessionIgnoresLateEvents(t *testing.T) {
	dir := &fakeDirectory{bindings: map[string][]user.RoleBinding{
		"u1": {{ScopeID: "t1", CategoryID: "s1", Role: "MEMBER"}},
	}}
	b := testBackends(dir)
	s := NewSession(&user.CachedUser{ID: "u1"}, b)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()

	if got := s.ActiveChannels(); len(got) != 0 {
		t.Fatalf("channels active after stop: %v", got)
	}
	// Even a direct (handler-reference) invocation after stop must be a no-op.
	publishAnnouncement(t, b, "t1", "s1", "a1")
	if got := s.Notifications.Unread(); got != 0 {
		t.Fatalf("unread = %d after stop, want 0", got)
	}
	if _, err := s.OpenConversation(context.Background(), "u2"); !errs.ErrStaleCallback.Is(err) {
		t.Fatalf("open on stopped session: err = %v", err)
	}
}
