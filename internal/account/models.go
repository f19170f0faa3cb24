package account

import (
	"time"

	id "datavault/pkg/domain"
)

// Owner is a registered data subject. PasswordHash never leaves the package
// boundary; handlers present owners through their own response shapes.
type Owner struct {
	ID           id.OwnerID
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// RegisterInput describes a new account.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// minPasswordLength keeps obviously weak passwords out. Strength policy
// beyond length is the frontend's concern.
const minPasswordLength = 8
