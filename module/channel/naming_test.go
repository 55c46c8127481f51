package channel

import "testing"

func TestConversationCanonical(t *testing.T) {
	if Conversation("u9", "u12") != Conversation("u12", "u9") {
		t.Fatalf("conversation channel depends on argument order")
	}
	if got, want := Conversation("b", "a"), "userchat:a-b"; got != want {
		t.Fatalf("Conversation = %q, want %q", got, want)
	}
}

func TestCategoryDistinctPairs(t *testing.T) {
	cases := []struct{ scope, cat string }{
		{"t1", "s1"},
		{"t1", "s2"},
		{"t2", "s1"},
	}
	seen := map[string]bool{}
	for _, c := range cases {
		name := Category(c.scope, c.cat)
		if seen[name] {
			t.Fatalf("collision for (%s,%s): %s", c.scope, c.cat, name)
		}
		seen[name] = true
	}
	if got, want := Category("t1", "s1"), "announcements:temple:t1:subcategory:s1"; got != want {
		t.Fatalf("Category = %q, want %q", got, want)
	}
}

func TestControlChannels(t *testing.T) {
	if UserRole("42") != "userrole:42" {
		t.Errorf("UserRole shape changed: %s", UserRole("42"))
	}
	if UserStatus("42") != "userstatus:42" {
		t.Errorf("UserStatus shape changed: %s", UserStatus("42"))
	}
	if CommunityRoles("42") != "communityuserroles:42" {
		t.Errorf("CommunityRoles shape changed: %s", CommunityRoles("42"))
	}
	if Group("g7") != "groupchat:g7" {
		t.Errorf("Group shape changed: %s", Group("g7"))
	}
}
