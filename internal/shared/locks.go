package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// DocumentLockKey builds redis keys guarding a single document lifecycle transition.
func DocumentLockKey(tenantID uuid.UUID, docType string, docID uuid.UUID) string {
	return fmt.Sprintf("lock:%s:%s:%s", tenantID, docType, docID)
}
