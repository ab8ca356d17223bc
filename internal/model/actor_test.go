package model

import "testing"

func TestRoleHasAtLeast(t *testing.T) {
	tests := []struct {
		name string
		role Role
		min  Role
		want bool
	}{
		{"user lacks approver", RoleUser, RoleApprover, false},
		{"user has user", RoleUser, RoleUser, true},
		{"approver has approver", RoleApprover, RoleApprover, true},
		{"approver lacks admin", RoleApprover, RoleAdmin, false},
		{"admin has approver", RoleAdmin, RoleApprover, true},
		{"admin has admin", RoleAdmin, RoleAdmin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.HasAtLeast(tt.min); got != tt.want {
				t.Errorf("HasAtLeast(%v) = %v, want %v", tt.min, got, tt.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	for _, name := range []string{"user", "approver", "admin"} {
		role, ok := ParseRole(name)
		if !ok {
			t.Fatalf("ParseRole(%q) failed", name)
		}
		if role.String() != name {
			t.Errorf("round trip %q = %q", name, role.String())
		}
	}

	if _, ok := ParseRole("superuser"); ok {
		t.Error("ParseRole accepted unknown role")
	}
}

func TestActorCapabilities(t *testing.T) {
	user := Actor{Name: "clerk", Role: RoleUser}
	approver := Actor{Name: "lead", Role: RoleApprover}
	admin := Actor{Name: "compliance", Role: RoleAdmin}

	if user.CanApprove() {
		t.Error("user should not approve")
	}
	if !approver.CanApprove() {
		t.Error("approver should approve")
	}
	if approver.CanBypassCompliance() {
		t.Error("approver should not bypass compliance")
	}
	if !admin.CanBypassCompliance() {
		t.Error("admin should bypass compliance")
	}
}
