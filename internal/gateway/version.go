package gateway

import (
	"context"
	"errors"

	"github.com/swiftgate/swiftgate/internal/backend"
)

// nullVersionID is the sentinel meaning "the current version".
const nullVersionID = "null"

// lookupCandidate is one resource identity to try during GET/HEAD, with an
// optional guard predicate that must hold before the fetch is attempted.
type lookupCandidate struct {
	request *backend.Request
	guard   func(ctx context.Context) (bool, error)
}

// versionCandidates maps the original identity and the versionId parameter
// to the ordered identities to try. The inbound request is never mutated;
// each candidate is built fresh.
//
// Without a versionId (or for the "null" sentinel) there is a single
// candidate: the object itself. Otherwise the version-qualified name in the
// versioning container is tried first, then the current object, guarded on
// its stored system version id matching.
func (c *ObjectController) versionCandidates(req *backend.Request, versionID string) []lookupCandidate {
	if versionID == "" || versionID == nullVersionID {
		return []lookupCandidate{{request: req}}
	}

	versioned := req.Clone()
	versioned.Container = req.Container + backend.VersioningSuffix
	versioned.Object = backend.VersionedObjectName(req.Object, versionID)
	versioned.Query.Del("versionId")

	current := req.Clone()
	current.Query.Del("versionId")

	return []lookupCandidate{
		{request: versioned},
		{
			request: current,
			guard: func(ctx context.Context) (bool, error) {
				info, err := c.backend.ObjectInfo(ctx, req.Container, req.Object)
				if errors.Is(err, backend.ErrNoSuchKey) {
					return false, nil
				}
				if err != nil {
					return false, err
				}
				return info.Sysmeta["version-id"] == versionID, nil
			},
		},
	}
}
