package channel

import (
	"fmt"
	"sort"
)

// Event names carried on the realtime bus.
const (
	EventChatMessage     = "chat-messages"
	EventNewAnnouncement = "new-announcement"
	EventRoleUpdate      = "temple-request"
)

// Conversation returns the canonical 1:1 conversation channel.
// 两个参与者ID排序后拼接，双方各自计算都会得到同一个频道名。
func Conversation(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return fmt.Sprintf("userchat:%s-%s", p[0], p[1])
}

// Group returns the channel for a group conversation.
func Group(groupID string) string {
	return "groupchat:" + groupID
}

// Category returns the announcement channel for one (scope, category) pair.
// Distinct pairs never collide: both ids are embedded verbatim with fixed
// separators.
func Category(scopeID, categoryID string) string {
	return fmt.Sprintf("announcements:temple:%s:subcategory:%s", scopeID, categoryID)
}

// Per-user control channels. Low volume; they carry role/status deltas, not content.

func UserRole(userID string) string {
	return "userrole:" + userID
}

func UserStatus(userID string) string {
	return "userstatus:" + userID
}

func CommunityRoles(userID string) string {
	return "communityuserroles:" + userID
}
