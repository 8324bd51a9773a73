package remotesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kitchenalert/backend/internal/domain"
)

func at(sec int) *time.Time {
	t := time.Date(2024, 1, 1, 10, 0, sec, 0, time.UTC)
	return &t
}

func remoteDoc(updated *time.Time) domain.RestaurantDocument {
	return domain.RestaurantDocument{
		Name:        "Kitchen Alert Restaurant",
		LastUpdated: updated,
		Inventory:   domain.Inventory{"Tea": {CurrentStock: 42}},
		MenuItems:   map[string]int64{"Tea": 10},
	}
}

func TestReconcileLastWriterWins(t *testing.T) {
	local := *at(30)
	menu := map[string]int64{"Tea": 10}

	cases := []struct {
		name    string
		remote  *time.Time
		replace bool
	}{
		{name: "newer remote wins", remote: at(31), replace: true},
		{name: "equal timestamps prefer remote", remote: at(30), replace: true},
		{name: "older remote discarded", remote: at(29), replace: false},
		{name: "missing remote timestamp wins", remote: nil, replace: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Reconcile(local, menu, nil, remoteDoc(tc.remote))
			assert.Equal(t, tc.replace, result.ReplaceInventory)
			if tc.replace {
				assert.Equal(t, DecisionApplied, result.Decision)
				assert.Equal(t, 42, result.Inventory["Tea"].CurrentStock)
			} else {
				assert.Equal(t, DecisionStale, result.Decision)
				assert.Nil(t, result.Inventory)
			}
		})
	}
}

func TestReconcileZeroLocalAcceptsAnything(t *testing.T) {
	result := Reconcile(time.Time{}, nil, nil, remoteDoc(at(0)))
	assert.True(t, result.ReplaceInventory)
}

func TestReconcileMenuIsAdditive(t *testing.T) {
	remote := remoteDoc(at(1))
	remote.MenuItems = map[string]int64{"Tea": 99, "Lassi": 35}
	local := map[string]int64{"Tea": 10, "Vada": 10}

	result := Reconcile(*at(5), local, nil, remote)
	assert.False(t, result.ReplaceInventory)
	assert.Equal(t, DecisionMenu, result.Decision)
	assert.Equal(t, map[string]int64{"Lassi": 35}, result.AddedMenu, "existing local prices are kept and local-only items stay")
}

func TestReconcileHonorsLocalRemovals(t *testing.T) {
	remote := remoteDoc(at(10))
	remote.Inventory["Dosa"] = domain.InventoryRecord{CurrentStock: 5}
	remote.MenuItems["Dosa"] = 50

	result := Reconcile(*at(5), map[string]int64{"Tea": 10}, map[string]bool{"Dosa": true}, remote)
	assert.True(t, result.ReplaceInventory)
	assert.NotContains(t, result.Inventory, "Dosa")
	assert.NotContains(t, result.AddedMenu, "Dosa")
}
