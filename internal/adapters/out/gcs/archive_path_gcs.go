// internal/adapters/out/gcs/archive_path_gcs.go
package gcs

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// archiveObjectPath places a checkout under its UTC day so a bucket
// lifecycle rule can expire old days by prefix.
func archiveObjectPath(sessionID, restaurantID string, at time.Time, id string) (string, error) {
	sid, rid := archiveSegment(sessionID), archiveSegment(restaurantID)
	if sid == "" || rid == "" {
		return "", errors.New("checkout_archive_gcs: sessionID/restaurantID is empty")
	}
	suffix := archiveSegment(id)
	if suffix == "" {
		suffix = "0"
	}
	at = at.UTC()
	return fmt.Sprintf("checkouts/%s/%s/%s/%d_%s.json",
		at.Format("2006/01/02"), sid, rid, at.UnixMilli(), suffix), nil
}

// archiveSegment keeps ids from adding path levels. Firebase uids and
// restaurant ids never contain '/', so a collision here is not expected.
func archiveSegment(s string) string {
	s = strings.Trim(strings.TrimSpace(s), ". ")
	return strings.NewReplacer("/", "_", "\\", "_").Replace(s)
}

// newArchiveID separates two checkouts of the same cart in one millisecond.
func newArchiveID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
