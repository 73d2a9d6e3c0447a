package rbac

import "context"

// CuratorStore is the slice of the data layer curator checks need.
type CuratorStore interface {
	IsPerspectiveCurator(ctx context.Context, userID, perspectiveID string) (bool, error)
}

// Curators answers perspective-scoped authorization questions. Curator
// assignments live in the database, not in the role table, so a contributor
// can curate one perspective without gaining authority anywhere else.
type Curators struct {
	store CuratorStore
}

func NewCurators(store CuratorStore) *Curators {
	return &Curators{store: store}
}

// IsPerspectiveCuratorFor reports whether the user may endorse and manage
// entries within the given perspective. Staff and admins always may.
func (c *Curators) IsPerspectiveCuratorFor(ctx context.Context, role Role, userID, perspectiveID string) (bool, error) {
	if IsStaff(role) {
		return true, nil
	}
	if userID == "" || perspectiveID == "" {
		return false, nil
	}
	return c.store.IsPerspectiveCurator(ctx, userID, perspectiveID)
}
