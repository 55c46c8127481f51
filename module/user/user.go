package user

import "context"

// RoleBinding 授权事实：某身份在某组织范围的某分类下持有角色。
// 它决定了该身份可以订阅哪些公告频道。事实来源是服务端，
// 客户端可按控制频道的增量事件乐观合并。
type RoleBinding struct {
	ScopeID    string `json:"templeid"`
	CategoryID string `json:"subcategoryId"`
	Role       string `json:"role"`
}

// CachedUser 服务端用户记录的本地缓存（随 profile 持久化）。
type CachedUser struct {
	ID       string        `json:"id"`
	Username string        `json:"username"`
	Status   string        `json:"userstatus,omitempty"`
	Roles    []RoleBinding `json:"userroles"`
	Groups   []string      `json:"groupchats,omitempty"`
}

// Directory 身份/授权后端。
type Directory interface {
	// FetchUser validates the credential and returns the fresh server-side record.
	FetchUser(ctx context.Context, credential string) (*CachedUser, error)
	// FetchRoleBindings returns the identity's current role-binding set.
	FetchRoleBindings(ctx context.Context, userID string) ([]RoleBinding, error)
}

// RoleDelta 控制频道上的角色增量（沿用门户端的字段名）。
type RoleDelta struct {
	Added             []RoleBinding `json:"userroles"`
	RemovedCategoryID string        `json:"removedSubcategoryId"`
}

// MergeRoles 先按 RemovedCategoryID 剔除，再合并新增（同分类已存在则跳过）。
// 授予/撤销事件到达顺序任意，结果只取决于集合内容。
func MergeRoles(existing []RoleBinding, d RoleDelta) []RoleBinding {
	merged := make([]RoleBinding, 0, len(existing)+len(d.Added))
	for _, r := range existing {
		if d.RemovedCategoryID != "" && r.CategoryID == d.RemovedCategoryID {
			continue
		}
		merged = append(merged, r)
	}
	for _, in := range d.Added {
		if in.CategoryID == "" {
			continue
		}
		dup := false
		for _, r := range merged {
			if r.CategoryID == in.CategoryID {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, in)
		}
	}
	return merged
}
