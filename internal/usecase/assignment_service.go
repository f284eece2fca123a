package usecase

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

// Assign picks the next online agent of the department in round-robin order.
// It returns nil when no routable agent is online. The rotation position is
// rebuilt from the newest round_robin history entry of the tenant, so callers
// must hold the tenant's assignment lock and persist the returned choice before
// releasing it.
func (s *EventService) Assign(ctx context.Context, tenant *model.Tenant, departmentID int64) (*int64, error) {
	log := logger.FromContext(ctx)

	roster, err := s.directoryRepo.Roster(ctx, tenant.AccountID, departmentID)
	if err != nil {
		return nil, err
	}

	online := make([]int64, 0, len(roster))
	for _, agent := range roster {
		if agent.IsRoutable() && s.presence != nil && s.presence.IsOnline(agent.ID) {
			online = append(online, agent.ID)
		}
	}
	if len(online) == 0 {
		log.Info("No online agent for assignment",
			zap.Int64("department_id", departmentID),
			zap.Int("roster_size", len(roster)))
		return nil, nil
	}

	var lastAgentID *int64
	last, err := s.assignmentRepo.LastRoundRobin(ctx, tenant.ID)
	switch {
	case err == nil:
		lastAgentID = &last.NewAgentID
	case !apperrors.IsNotFoundError(err):
		return nil, err
	}

	next := nextInRotation(online, lastAgentID)
	log.Debug("Round-robin pick",
		zap.Int64("department_id", departmentID),
		zap.Int64s("online", online),
		zap.Int64p("last_agent_id", lastAgentID),
		zap.Int64("agent_id", next))
	return &next, nil
}

// nextInRotation returns the agent after last in the id-ordered roster, wrapping
// around. When last is unknown or no longer eligible the rotation restarts at the
// lowest id. roster must not be empty.
func nextInRotation(roster []int64, last *int64) int64 {
	sorted := slices.Clone(roster)
	slices.Sort(sorted)
	if last == nil {
		return sorted[0]
	}
	i := slices.Index(sorted, *last)
	if i < 0 {
		return sorted[0]
	}
	return sorted[(i+1)%len(sorted)]
}
