package sync

import "snapspend/internal/core"

// Authority names the side whose values win when local and cloud disagree.
type Authority int

const (
	// CloudAuthority applies to pulls: the cloud decides membership and the
	// mutable fields of a shared collection's expenses and details.
	CloudAuthority Authority = iota
	// LocalAuthority applies at the moment of an explicit local edit or
	// delete; the caller pushes the local value to the cloud.
	LocalAuthority
)

func (a Authority) String() string {
	switch a {
	case CloudAuthority:
		return "cloud"
	case LocalAuthority:
		return "local"
	default:
		return "unknown"
	}
}

// Origin is where a change to a shared record comes from.
type Origin int

const (
	OriginPull Origin = iota
	OriginLocalEdit
)

// AuthorityFor returns the side that wins for a change of the given origin.
func AuthorityFor(o Origin) Authority {
	if o == OriginLocalEdit {
		return LocalAuthority
	}
	return CloudAuthority
}

// ResolvePull applies the remote mutable fields (amount, location category)
// to local. It reports false when they already match, so callers can skip
// the write.
func ResolvePull(local core.Expense, remote core.SharedExpenseDoc) (core.Expense, bool) {
	if local.Amount.Equal(remote.Amount) && core.EqualStringPtr(local.LocationCategory, remote.LocationCategory) {
		return local, false
	}
	local.Amount = remote.Amount
	local.LocationCategory = remote.LocationCategory
	return local, true
}

// ReconcileDetails applies remote budget, icon and color to local. It
// reports false when nothing differs.
func ReconcileDetails(local core.Collection, remote core.SharedCollectionDoc) (core.Collection, bool) {
	if local.Details().Equal(remote.Details()) {
		return local, false
	}
	local.Budget = remote.Budget
	local.IconName = remote.IconName
	local.ColorHex = remote.ColorHex
	return local, true
}
