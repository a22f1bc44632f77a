package model

import (
	"fmt"
	"sort"
)

// CurrentSnapshotVersion is the version migrateSnapshot upgrades to.
const CurrentSnapshotVersion = 2

// snapshotMigration upgrades a snapshot from exactly one version to the
// next. Migrations are pure: they return a new snapshot and never
// mutate their input's slices in place beyond reordering copies.
type snapshotMigration func(Snapshot) Snapshot

// snapshotMigrations[v] migrates from version v to v+1. Every version
// has at most one exit path.
var snapshotMigrations = []snapshotMigration{
	0: migrateSnapshotV0V1,
	1: migrateSnapshotV1V2,
}

// MigrateSnapshot upgrades a snapshot to the current version. A
// snapshot already at the current version is returned unchanged, so the
// operation is idempotent.
func MigrateSnapshot(s Snapshot) (Snapshot, error) {
	if s.Version > CurrentSnapshotVersion {
		return s, fmt.Errorf("model: snapshot version %d is newer than supported %d",
			s.Version, CurrentSnapshotVersion)
	}
	for s.Version < CurrentSnapshotVersion {
		s = snapshotMigrations[s.Version](s)
		s.Version++
	}
	return s, nil
}

// migrateSnapshotV0V1 deduplicates joined members. Early writers could
// record the same user twice when a join raced a snapshot; the first
// occurrence wins.
func migrateSnapshotV0V1(s Snapshot) Snapshot {
	seen := make(map[string]bool, len(s.Members.Joined))
	joined := make([]MemberSnapshot, 0, len(s.Members.Joined))
	for _, m := range s.Members.Joined {
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		joined = append(joined, m)
	}
	s.Members.Joined = joined
	return s
}

// migrateSnapshotV1V2 puts joined members into canonical order (sorted
// by user id) so snapshot encodings are deterministic across replicas.
func migrateSnapshotV1V2(s Snapshot) Snapshot {
	joined := make([]MemberSnapshot, len(s.Members.Joined))
	copy(joined, s.Members.Joined)
	sort.Slice(joined, func(i, j int) bool {
		return joined[i].UserID < joined[j].UserID
	})
	s.Members.Joined = joined
	return s
}
