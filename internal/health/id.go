package health

import (
	"time"

	"github.com/google/uuid"
)

// recordNamespace scopes name-based record IDs.
var recordNamespace = uuid.MustParse("6f1c7e52-3a0d-4b8e-9f21-8d4c55a0e7b3")

// RecordID derives a stable ID for a record extracted from transcript at
// capturedAt. The same capture always yields the same ID.
func RecordID(t RecordType, transcript string, capturedAt time.Time) string {
	name := capturedAt.UTC().Format(time.RFC3339Nano) + "|" + string(t) + "|" + transcript
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// NewID returns a random record ID for manually created records.
func NewID() string {
	return uuid.NewString()
}
