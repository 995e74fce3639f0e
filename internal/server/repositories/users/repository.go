package users

import "context"

type Repository interface {
	GetUserName(ctx context.Context, userID string) (string, error)
}
