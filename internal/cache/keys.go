package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// PermissionKeyPrefix namespaces cached permission sets so they can be
// flushed as a group.
const PermissionKeyPrefix = "perm:"

func PermissionKey(apiKeyID uuid.UUID) string {
	return PermissionKeyPrefix + apiKeyID.String()
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
