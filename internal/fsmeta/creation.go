package fsmeta

import (
	"os"
	"time"
)

// creationTime reports a platform birth time when the os.FileInfo exposes
// one. Most platforms don't surface this through the standard library, so
// the default build reports false and callers fall back to mtime.
func creationTime(_ os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
