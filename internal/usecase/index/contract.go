package index

import "context"

// Repository is the admin view of the vector index.
type Repository interface {
	Count(ctx context.Context, ns string) (int, error)
	Delete(ctx context.Context, ns string, ids []string) (int, error)
	DeleteNamespace(ctx context.Context, ns string) (int, error)
	DeleteAll(ctx context.Context) (int, error)
}
