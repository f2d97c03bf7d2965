package service

import (
	"github.com/mentara/examengine/internal/apperr"
)

type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
	RoleAdmin   Role = "ADMIN"
)

// ParseRole maps a transport-supplied role string onto a known role,
// defaulting to the least privileged.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleTeacher:
		return RoleTeacher
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleStudent
	}
}

type Action string

const (
	ActionStartAttempt    Action = "attempt:start"
	ActionSubmitAttempt   Action = "attempt:submit"
	ActionSaveDraft       Action = "attempt:save-draft"
	ActionResumeAttempt   Action = "attempt:resume"
	ActionReviewAttempt   Action = "attempt:review"
	ActionGradeResponse   Action = "grading:grade"
	ActionFinalizeGrading Action = "grading:finalize"
	ActionUploadEvaluated Action = "grading:upload-evaluated"
	ActionViewAnalytics   Action = "analytics:view"
)

// Actor is the caller identity as established by the external auth layer.
type Actor struct {
	ID   uint
	Role Role
}

// Resource describes what is being acted on; OwnerID is the owning user of
// an attempt or response, nil for resources without an owner (analytics).
type Resource struct {
	OwnerID *uint
}

// AuthzService is the single capability check replacing per-handler role
// tests. Policies are a closed table, evaluated independently of any
// storage state.
type AuthzService interface {
	Authorize(actor Actor, action Action, res Resource) error
}

type policy struct {
	// privileged actions are open to teachers and admins.
	privileged bool
	// ownerAllowed actions are additionally open to the resource owner.
	ownerAllowed bool
}

var policies = map[Action]policy{
	ActionStartAttempt:    {ownerAllowed: true},
	ActionSubmitAttempt:   {ownerAllowed: true},
	ActionSaveDraft:       {ownerAllowed: true},
	ActionResumeAttempt:   {ownerAllowed: true},
	ActionReviewAttempt:   {privileged: true, ownerAllowed: true},
	ActionGradeResponse:   {privileged: true},
	ActionFinalizeGrading: {privileged: true},
	ActionUploadEvaluated: {privileged: true},
	ActionViewAnalytics:   {privileged: true},
}

type authzService struct{}

func NewAuthzService() AuthzService {
	return &authzService{}
}

func (s *authzService) Authorize(actor Actor, action Action, res Resource) error {
	p, ok := policies[action]
	if !ok {
		return apperr.Forbidden("unknown action %q", action)
	}
	if p.privileged && (actor.Role == RoleTeacher || actor.Role == RoleAdmin) {
		return nil
	}
	if p.ownerAllowed && res.OwnerID != nil && *res.OwnerID == actor.ID {
		return nil
	}
	return apperr.Forbidden("actor %d is not allowed to perform %s", actor.ID, action)
}
