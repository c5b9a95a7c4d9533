package auth

import (
	"errors"
	"testing"

	"quitcoach/internal/apperr"
	"quitcoach/internal/user"
)

func TestRoleAuthorizer(t *testing.T) {
	coachID := uint(50)
	plan := Resource{OwnerID: 7, CoachID: &coachID}

	owner := Actor{UserID: 7, Role: user.RoleUser}
	stranger := Actor{UserID: 8, Role: user.RoleUser}
	coach := Actor{UserID: 50, Role: user.RoleCoach}
	otherCoach := Actor{UserID: 51, Role: user.RoleCoach}
	admin := Actor{UserID: 1, Role: user.RoleAdmin}

	tests := []struct {
		actor  Actor
		action Action
		want   bool
	}{
		{owner, ActionProgressCreate, true},
		{coach, ActionProgressCreate, true},
		{otherCoach, ActionProgressCreate, false},
		{admin, ActionProgressCreate, true},
		{stranger, ActionProgressCreate, false},

		{owner, ActionProgressUpdate, true},
		{coach, ActionProgressUpdate, false},
		{admin, ActionProgressUpdate, false},

		{owner, ActionProgressDelete, true},
		{admin, ActionProgressDelete, true},
		{coach, ActionProgressDelete, false},

		{owner, ActionStageCreate, false},
		{coach, ActionStageCreate, true},
		{otherCoach, ActionStageUpdate, false},
		{admin, ActionStageUpdate, true},
		{owner, ActionStageDelete, false},
		{coach, ActionStageDelete, true},
		{otherCoach, ActionStageDelete, false},

		{stranger, ActionStageRead, false},
		{coach, ActionPlanRead, true},

		{owner, ActionTaskComplete, true},
		{coach, ActionTaskComplete, false},

		{owner, ActionStatsRead, true},
		{coach, ActionStatsRead, true},
		{otherCoach, ActionStatsRead, false},
		{stranger, ActionStatsRead, false},
		{admin, ActionStatsRead, true},

		{admin, ActionBadgeDefine, true},
		{coach, ActionBadgeDefine, false},

		{admin, Action("plan.explode"), false},
	}

	az := RoleAuthorizer{}
	for _, tt := range tests {
		got := az.Authorize(tt.actor, tt.action, plan)
		if got.Allowed != tt.want {
			t.Errorf("%s as %s(%d): allowed=%v, want %v (%s)", tt.action, tt.actor.Role, tt.actor.UserID, got.Allowed, tt.want, got.Reason)
		}
	}
}

func TestRoleAuthorizer_PlanWithoutCoach(t *testing.T) {
	coach := Actor{UserID: 50, Role: user.RoleCoach}
	d := RoleAuthorizer{}.Authorize(coach, ActionStageCreate, Resource{OwnerID: 7})
	if d.Allowed {
		t.Errorf("coach should not manage a plan without an assigned coach")
	}
}

func TestDecisionErr(t *testing.T) {
	if err := (Decision{Allowed: true}).Err(); err != nil {
		t.Errorf("allowed decision returned %v", err)
	}
	err := Decision{Reason: "nope"}.Err()
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}
