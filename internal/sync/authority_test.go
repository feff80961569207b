package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"snapspend/internal/core"
)

func TestAuthorityFor(t *testing.T) {
	assert.Equal(t, CloudAuthority, AuthorityFor(OriginPull))
	assert.Equal(t, LocalAuthority, AuthorityFor(OriginLocalEdit))
	assert.Equal(t, "cloud", CloudAuthority.String())
	assert.Equal(t, "local", LocalAuthority.String())
}

func TestResolvePull(t *testing.T) {
	local := localExpense(1, "abc", "10", nil)

	same, changed := ResolvePull(local, remoteExpense("abc", "10", nil))
	assert.False(t, changed)
	assert.Equal(t, local, same)

	updated, changed := ResolvePull(local, remoteExpense("abc", "12", nil))
	assert.True(t, changed)
	assert.True(t, updated.Amount.Equal(money("12")))
}

func TestReconcileDetails(t *testing.T) {
	local := core.NewCollection("Food")
	local.Budget = money("100")
	local.SharePin = core.StringPtr("1234567890")

	remote := core.SharedCollectionFromLocal(local, "1234567890", core.Member{UserID: "u1"})
	remote.Budget = money("100.00")

	_, changed := ReconcileDetails(local, remote)
	assert.False(t, changed, "equal details must not produce a write")

	remote.ColorHex = "#FF112233"
	remote.Budget = money("250")
	updated, changed := ReconcileDetails(local, remote)
	assert.True(t, changed)
	assert.Equal(t, "#FF112233", updated.ColorHex)
	assert.True(t, updated.Budget.Equal(money("250")))
	assert.Equal(t, local.SharePin, updated.SharePin)
	assert.Equal(t, "Food", updated.Name)
}
