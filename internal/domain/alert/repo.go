package alert

import "context"

// Repository stores alerts. Update is version-checked and bumps Version.
type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id string) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	List(ctx context.Context, q Query) ([]*Alert, int, error)
}
