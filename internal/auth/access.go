package auth

import (
	"quitcoach/internal/apperr"
	"quitcoach/internal/user"
)

type Action string

const (
	ActionProgressCreate Action = "progress.create"
	ActionProgressRead   Action = "progress.read"
	ActionProgressUpdate Action = "progress.update"
	ActionProgressDelete Action = "progress.delete"
	ActionStageCreate    Action = "stage.create"
	ActionStageUpdate    Action = "stage.update"
	ActionStageRead      Action = "stage.read"
	ActionStageDelete    Action = "stage.delete"
	ActionPlanCreate     Action = "plan.create"
	ActionPlanRead       Action = "plan.read"
	ActionTaskCreate     Action = "task.create"
	ActionTaskComplete   Action = "task.complete"
	ActionStatsRead      Action = "stats.read"
	ActionBadgeDefine    Action = "badge.define"
)

type Actor struct {
	UserID uint
	Role   user.Role
}

// Resource identifies who owns the thing being acted on. CoachID is the
// coach assigned to the owning plan, if any.
type Resource struct {
	OwnerID uint
	CoachID *uint
}

type Decision struct {
	Allowed bool
	Reason  string
}

// Err converts a denial into a Forbidden error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.Forbidden("%s", d.Reason)
}

// Authorizer decides whether an actor may perform an action on a resource.
type Authorizer interface {
	Authorize(actor Actor, action Action, res Resource) Decision
}

// RoleAuthorizer grants access from role and plan relationships alone.
type RoleAuthorizer struct{}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

func (RoleAuthorizer) Authorize(a Actor, action Action, res Resource) Decision {
	owner := a.UserID == res.OwnerID
	admin := a.Role == user.RoleAdmin
	planCoach := a.Role == user.RoleCoach && res.CoachID != nil && *res.CoachID == a.UserID

	switch action {
	case ActionProgressUpdate, ActionTaskComplete:
		if owner {
			return allow()
		}
		return deny("only the owner may do this")
	case ActionProgressDelete:
		if owner || admin {
			return allow()
		}
		return deny("only the owner or an admin may delete progress")
	case ActionProgressCreate, ActionProgressRead, ActionStageRead, ActionPlanRead:
		if owner || planCoach || admin {
			return allow()
		}
		return deny("no access to this plan")
	case ActionStageCreate, ActionStageUpdate, ActionStageDelete, ActionTaskCreate:
		if planCoach || admin {
			return allow()
		}
		return deny("only the plan's coach or an admin may manage stages")
	case ActionPlanCreate:
		if owner || admin || a.Role == user.RoleCoach {
			return allow()
		}
		return deny("cannot create a plan for another user")
	case ActionStatsRead:
		if owner || admin || planCoach {
			return allow()
		}
		return deny("cannot read another user's statistics")
	case ActionBadgeDefine:
		if admin {
			return allow()
		}
		return deny("only admins may define badges")
	}
	return deny("unknown action " + string(action))
}
