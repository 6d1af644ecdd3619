package ports

import "github.com/vncsmyrnk/qvote/internal/core/domain"

type TokenService interface {
	Issue(subject string, role domain.Role) (string, error)
	Verify(token string) (*domain.Principal, error)
}
