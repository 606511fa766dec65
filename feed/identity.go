package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/RBWare/rss2mastodon/models"
)

// ErrNoIdentity is returned when an entry carries none of the fields an
// identifier can be derived from. Such entries cannot be deduplicated and
// must be skipped.
var ErrNoIdentity = errors.New("entry has no identifying fields")

// Identify derives a stable hex digest for an entry from the first
// non-empty candidate among id, guid, link and title+link. The digest is
// deterministic across runs and does not depend on feed ordering or
// timestamps.
func Identify(entry models.Entry) (string, error) {
	raw := entry.ID
	if raw == "" {
		raw = entry.GUID
	}
	if raw == "" {
		raw = entry.Link
	}
	if raw == "" {
		raw = entry.Title + entry.Link
	}
	if raw == "" {
		return "", ErrNoIdentity
	}

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:]), nil
}
