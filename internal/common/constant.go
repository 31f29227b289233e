package common

import "time"

const (
	// FreshnessWindow is the maximum allowed skew between a signed
	// event's created_at and the verifier's clock. Events outside the
	// window are dropped.
	FreshnessWindow = 300 * time.Second

	// InviteResponseTimeout bounds how long a client waits for a
	// provider to answer a backup invite.
	InviteResponseTimeout = 60 * time.Second

	// SnapshotIDLayout is the calendar-date format of snapshot ids.
	// One snapshot per client per day; a rerun on the same day
	// overwrites the earlier manifest.
	SnapshotIDLayout = "2006-01-02"
)
