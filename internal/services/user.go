package services

import (
	"context"
	"errors"

	"github.com/civicdesk/apiserver/internal/store"
	"github.com/civicdesk/apiserver/types"
)

// UserRepository defines persistence operations for users and their role
// profiles.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User, department string) (types.User, error)
	GetCitizenByUserID(ctx context.Context, userID int) (types.Citizen, error)
	GetOfficialByUserID(ctx context.Context, userID int) (types.Official, error)
}

// UserService encapsulates account use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.repo.GetByEmail(ctx, email)
}

// Create registers a user together with the profile row for its role.
// Department is required for official roles and ignored for citizens.
func (s *UserService) Create(ctx context.Context, user types.User, department string) (types.User, error) {
	if user.Role != types.RoleCitizen && department == "" {
		return types.User{}, validationf("department", "department is required for officials")
	}
	return s.repo.Create(ctx, user, department)
}

// ActorFor resolves the Actor identity for a user, including the citizen
// profile id when the user is a citizen.
func (s *UserService) ActorFor(ctx context.Context, user types.User) (types.Actor, error) {
	actor := types.Actor{UserID: user.ID, Role: user.Role}
	if user.Role == types.RoleCitizen {
		citizen, err := s.repo.GetCitizenByUserID(ctx, user.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return types.Actor{}, forbiddenf("citizen profile missing for user %d", user.ID)
			}
			return types.Actor{}, err
		}
		actor.CitizenID = citizen.ID
	}
	return actor, nil
}
