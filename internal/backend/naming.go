package backend

import "fmt"

// VersioningSuffix is appended to a container name to address its
// version-tracking namespace.
const VersioningSuffix = "+versioning"

// VersionedObjectName folds a version id into an object name with a
// deterministic, reversible scheme: a 3-hex-digit name-length prefix
// followed by the name and the version id.
func VersionedObjectName(object, versionID string) string {
	return fmt.Sprintf("%03x%s/%s", len(object), object, versionID)
}
