package user

import (
	"testing"
)

func TestPasswordHashing(t *testing.T) {
	pw := "supersecret"
	hash, err := HashPassword(pw)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if err := CheckPassword(hash, pw); err != nil {
		t.Errorf("check should succeed: %v", err)
	}
	if err := CheckPassword(hash, "wrongpw"); err == nil {
		t.Errorf("expected failure for wrong password")
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleCoach, RoleUser} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if Role("owner").Valid() {
		t.Errorf("unknown role reported valid")
	}
}
