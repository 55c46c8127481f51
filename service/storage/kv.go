package storage

import "context"

// KV 持久化键值存储，多个执行上下文（"tab"）共享同一份底层数据。
// 写入方从单个 tab 的角度是原子的读-改-写；其它 tab 通过 Watch 收到
// 变更广播后必须重新 Load，而不是信任自己内存里的副本——底层存储
// 没有事务原语，这套"广播后重读"就是一致性纪律。
type KV interface {
	// Load returns the stored value, or (nil, nil) when the key is absent.
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error

	// Watch registers fn to run when another writer changes key.
	// The writing tab's own watchers do not fire. The returned cancel
	// removes the registration.
	Watch(key string, fn func()) (cancel func())

	Close() error
}

// Tabs 同一份底层数据上的视图工厂。每个执行上下文（网关连接、标签页）
// 各 Tab() 一个自己的视图——"写入方自身不触发"的广播纪律按视图算，
// 同一进程里共用一个视图的两个会话互相收不到广播。
type Tabs interface {
	Tab() KV
}

// UserKey namespaces a storage key under one user, so sessions of different
// identities never read each other's buckets.
func UserKey(userID, key string) string {
	return "u:" + userID + ":" + key
}

// Storage keys used by the sync engine (names carried over from the portal).
const (
	KeyProfiles      = "profiles"
	KeyActiveProfile = "activeprofile"
	KeyNotifications = "categoryNotifications"
)
