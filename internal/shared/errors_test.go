package shared

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserSafeMessageFollowsWrappedErrors(t *testing.T) {
	assert.Equal(t, "", UserSafeMessage(nil))
	assert.Contains(t, UserSafeMessage(fmt.Errorf("fetch: %w", ErrTransport)), "connection")
	assert.Contains(t, UserSafeMessage(fmt.Errorf("fetch: %w", ErrUnauthorized)), "log in again")
	assert.Contains(t, UserSafeMessage(fmt.Errorf("delete: %w", ErrForbidden)), "permission")
	assert.Equal(t, "Something went wrong. Please try again.", UserSafeMessage(fmt.Errorf("boom")))
}
