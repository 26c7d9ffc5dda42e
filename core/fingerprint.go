package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Fingerprint derives the dedup key material for a change event: hex sha256
// over resource id, resource state, and the time-bucket index. The bucket
// collapses provider retry storms for the same change without merging
// distinct sequential changes. Message numbers are excluded on purpose;
// they vary per redelivery and would defeat dedup.
func Fingerprint(event ChangeEvent, bucketWidth time.Duration, at time.Time) string {
	if bucketWidth <= 0 {
		bucketWidth = defaultBucketWidth
	}
	bucket := at.UTC().UnixNano() / int64(bucketWidth)
	material := fmt.Sprintf("%s\n%s\n%d",
		strings.TrimSpace(event.ResourceID),
		strings.ToLower(strings.TrimSpace(event.ResourceState)),
		bucket,
	)
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
