package services

import "github.com/civicdesk/apiserver/types"

// minCommentLen is the minimum length of a mandatory transition comment or
// escalation note.
const minCommentLen = 10

// edge is one permitted move in the issue state machine.
type edge struct {
	from types.IssueStatus
	to   types.IssueStatus
}

// transitionTable is the exhaustive set of legal edges and the roles allowed
// to traverse each. Any (from, to) pair absent from the table is rejected,
// as is any listed pair attempted by a role not in its set. Escalation edges
// (created/in_progress -> escalated) are owned by citizens and carry extra
// eligibility rules checked in Escalate, not here.
var transitionTable = map[edge][]types.Role{
	{types.StatusCreated, types.StatusAssigned}:     {types.RoleOfficial, types.RoleHigherOfficial},
	{types.StatusCreated, types.StatusInProgress}:   {types.RoleOfficial, types.RoleHigherOfficial},
	{types.StatusAssigned, types.StatusInProgress}:  {types.RoleOfficial, types.RoleHigherOfficial},
	{types.StatusInProgress, types.StatusInProgress}: {types.RoleOfficial, types.RoleHigherOfficial},

	{types.StatusCreated, types.StatusEscalated}:    {types.RoleCitizen},
	{types.StatusInProgress, types.StatusEscalated}: {types.RoleCitizen},

	{types.StatusEscalated, types.StatusInProgress}: {types.RoleHigherOfficial},
	{types.StatusEscalated, types.StatusCompleted}:  {types.RoleHigherOfficial},
	{types.StatusEscalated, types.StatusRejected}:   {types.RoleHigherOfficial},

	{types.StatusInProgress, types.StatusCompleted}: {types.RoleOfficial, types.RoleHigherOfficial},
	{types.StatusInProgress, types.StatusRejected}:  {types.RoleOfficial, types.RoleHigherOfficial},

	{types.StatusCompleted, types.StatusClosed}: {types.RoleOfficial, types.RoleHigherOfficial},
	{types.StatusRejected, types.StatusClosed}:  {types.RoleOfficial, types.RoleHigherOfficial},
}

// validateTransition checks an edge against the table. Listed edges are
// tried first so the administrative close of a completed or rejected issue
// stays reachable; every other move out of a terminal status yields
// LockedIssueError, an unlisted edge from a live status yields
// InvalidTransitionError, and a listed edge attempted by the wrong role
// yields ForbiddenError.
func validateTransition(from, to types.IssueStatus, role types.Role) error {
	roles, ok := transitionTable[edge{from, to}]
	if !ok {
		if from.Terminal() {
			return &LockedIssueError{Status: from}
		}
		return &InvalidTransitionError{From: from, To: to}
	}
	for _, allowed := range roles {
		if role == allowed {
			return nil
		}
	}
	return forbiddenf("role %s may not move an issue from %s to %s", role, from, to)
}

// commentRequired reports whether the edge demands a mandatory note.
// Closing a resolved issue is administrative and needs none.
func commentRequired(to types.IssueStatus) bool {
	return to != types.StatusClosed
}
