package session

import (
	"context"
	"testing"

	"TProject/module/channel"
	"TProject/module/user"
	"TProject/service/realtime"
	"TProject/service/storage"
	"TProject/tools/errs"
)

func twoProfileDirectory() *fakeDirectory {
	return &fakeDirectory{
		users: map[string]*user.CachedUser{
			"jwt-a": {ID: "ua", Username: "alice"},
			"jwt-b": {ID: "ub", Username: "bella"},
		},
		bindings: map[string][]user.RoleBinding{
			"ua": {{ScopeID: "t1", CategoryID: "sa", Role: "MEMBER"}},
			"ub": {{ScopeID: "t1", CategoryID: "sb", Role: "MEMBER"}},
		},
	}
}

func TestActivateSwitchesIdentityCleanly(t *testing.T) {
	dir := twoProfileDirectory()
	b := testBackends(dir)
	m := NewProfileManager(b)
	ctx := context.Background()

	if err := m.AddProfile(ctx, Profile{ID: "ua", Credential: "jwt-a"}); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := m.AddProfile(ctx, Profile{ID: "ub", Credential: "jwt-b"}); err != nil {
		t.Fatalf("add b: %v", err)
	}

	if err := m.Activate(ctx, "ua"); err != nil {
		t.Fatalf("activate a: %v", err)
	}
	sessA := m.Session()
	publishAnnouncement(t, b, "t1", "sa", "a1")
	if sessA.Notifications.Unread() != 1 {
		t.Fatalf("session A missed its announcement")
	}

	if err := m.Activate(ctx, "ub"); err != nil {
		t.Fatalf("activate b: %v", err)
	}
	sessB := m.Session()
	if m.ActiveID() != "ub" {
		t.Fatalf("active = %s, want ub", m.ActiveID())
	}

	// Zero of A's handlers survive: nothing fires on A's channels.
	publishAnnouncement(t, b, "t1", "sa", "a2")
	publishRoleDelta(t, b, "ua", user.RoleDelta{
		Added: []user.RoleBinding{{ScopeID: "t1", CategoryID: "sx", Role: "MEMBER"}},
	})
	if sessA.Notifications.Unread() != 1 {
		t.Fatalf("stopped session A consumed an event")
	}
	if got := sessA.ActiveChannels(); len(got) != 0 {
		t.Fatalf("session A channels after switch: %v", got)
	}
	if contains(sessB.ActiveChannels(), channel.Category("t1", "sa")) {
		t.Fatalf("session B inherited A's channel")
	}

	publishAnnouncement(t, b, "t1", "sb", "b1")
	if sessB.Notifications.Unread() != 1 {
		t.Fatalf("session B missed its announcement")
	}
}

func TestProfilesPersistAndRestore(t *testing.T) {
	dir := twoProfileDirectory()
	store := storage.NewMemoryStore()
	b := Backends{
		Bus:       realtime.NewMemoryBus(),
		Tabs:      store,
		Directory: dir,
		History:   fakeHistory{},
		Sender:    &fakeSender{},
	}
	ctx := context.Background()

	m1 := NewProfileManager(b)
	if err := m1.AddProfile(ctx, Profile{ID: "ua", Credential: "jwt-a"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m1.Activate(ctx, "ua"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	m1.Session().Stop()

	// A new manager over the same storage sees the mapping and the pointer.
	m2 := NewProfileManager(b)
	if len(m2.Profiles()) != 1 {
		t.Fatalf("profiles = %v", m2.Profiles())
	}
	if m2.ActiveID() != "ua" {
		t.Fatalf("restored active = %q, want ua", m2.ActiveID())
	}
	if err := m2.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if m2.Session() == nil {
		t.Fatalf("restore built no session")
	}
	m2.Session().Stop()
}

func TestRemoveActiveProfileClearsPointer(t *testing.T) {
	dir := twoProfileDirectory()
	b := testBackends(dir)
	m := NewProfileManager(b)
	ctx := context.Background()

	_ = m.AddProfile(ctx, Profile{ID: "ua", Credential: "jwt-a"})
	if err := m.Activate(ctx, "ua"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	sess := m.Session()

	if err := m.RemoveProfile(ctx, "ua"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if m.ActiveID() != "" || m.Session() != nil {
		t.Fatalf("active pointer survived removal")
	}
	if got := sess.ActiveChannels(); len(got) != 0 {
		t.Fatalf("removed profile kept subscriptions: %v", got)
	}

	if err := m.RemoveProfile(ctx, "ua"); !errs.ErrRecordNotFound.Is(err) {
		t.Fatalf("second remove: err = %v", err)
	}
}

func TestLogoutClearsStorage(t *testing.T) {
	dir := twoProfileDirectory()
	store := storage.NewMemoryStore()
	b := Backends{
		Bus:       realtime.NewMemoryBus(),
		Tabs:      store,
		Directory: dir,
		History:   fakeHistory{},
		Sender:    &fakeSender{},
	}
	ctx := context.Background()

	m := NewProfileManager(b)
	_ = m.AddProfile(ctx, Profile{ID: "ua", Credential: "jwt-a"})
	if err := m.Activate(ctx, "ua"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	publishAnnouncement(t, b, "t1", "sa", "a1")

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	check := store.Tab()
	for _, key := range []string{
		storage.KeyProfiles,
		storage.KeyActiveProfile,
		storage.UserKey("ua", storage.KeyNotifications),
	} {
		raw, err := check.Load(ctx, key)
		if err != nil {
			t.Fatalf("load %s: %v", key, err)
		}
		if raw != nil {
			t.Fatalf("key %s survived logout: %s", key, raw)
		}
	}
	if m.Session() != nil || m.ActiveID() != "" || len(m.Profiles()) != 0 {
		t.Fatalf("logout left manager state behind")
	}
}

func TestCorruptProfilesResetToEmpty(t *testing.T) {
	dir := twoProfileDirectory()
	store := storage.NewMemoryStore()
	tab := store.Tab()
	ctx := context.Background()
	if err := tab.Store(ctx, storage.KeyProfiles, []byte("{broken")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := tab.Store(ctx, storage.KeyActiveProfile, []byte("ua")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	b := Backends{
		Bus:       realtime.NewMemoryBus(),
		Tabs:      store,
		Directory: dir,
		History:   fakeHistory{},
		Sender:    &fakeSender{},
	}
	m := NewProfileManager(b)
	if len(m.Profiles()) != 0 || m.ActiveID() != "" {
		t.Fatalf("corrupt profiles not reset: %v / %q", m.Profiles(), m.ActiveID())
	}
	// Restore with no active pointer is a no-op, not an error.
	if err := m.Restore(ctx); err != nil {
		t.Fatalf("restore after reset: %v", err)
	}
}

func TestActivateFallsBackToCachedUser(t *testing.T) {
	dir := twoProfileDirectory()
	dir.userErr = errs.ErrNetwork.WrapMsg("directory down")
	b := testBackends(dir)
	m := NewProfileManager(b)
	ctx := context.Background()

	cached := &user.CachedUser{
		ID:    "ua",
		Roles: []user.RoleBinding{{ScopeID: "t1", CategoryID: "sa", Role: "MEMBER"}},
	}
	_ = m.AddProfile(ctx, Profile{ID: "ua", Credential: "jwt-a", User: cached})

	if err := m.Activate(ctx, "ua"); err != nil {
		t.Fatalf("activate with cached record: %v", err)
	}
	sess := m.Session()
	defer sess.Stop()
	if !contains(sess.ActiveChannels(), channel.Category("t1", "sa")) {
		t.Fatalf("cached bindings not applied: %v", sess.ActiveChannels())
	}

	// No cached record and no directory: activation fails.
	_ = m.AddProfile(ctx, Profile{ID: "ub", Credential: "jwt-b"})
	if err := m.Activate(ctx, "ub"); !errs.ErrNetwork.Is(err) {
		t.Fatalf("activate without cache: err = %v", err)
	}
}
