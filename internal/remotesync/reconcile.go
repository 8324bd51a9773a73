package remotesync

import (
	"time"

	"kitchenalert/backend/internal/domain"
)

const (
	DecisionApplied = "applied"
	DecisionStale   = "stale"
	DecisionMenu    = "menu_only"
)

// Result is what a remote snapshot changes locally.
type Result struct {
	Decision string
	// Inventory replaces the local ledger when ReplaceInventory is set.
	ReplaceInventory bool
	Inventory        domain.Inventory
	// AddedMenu holds remote menu entries missing locally.
	AddedMenu     map[string]int64
	RemoteUpdated *time.Time
}

// Reconcile applies last-writer-wins at snapshot granularity: the remote
// inventory wins when it has no timestamp or one at or after localUpdated.
// Menu entries are only ever added. Names in removed are ignored on both.
func Reconcile(localUpdated time.Time, localMenu map[string]int64, removed map[string]bool, remote domain.RestaurantDocument) Result {
	result := Result{
		Decision:      DecisionStale,
		AddedMenu:     make(map[string]int64),
		RemoteUpdated: remote.LastUpdated,
	}

	if remote.Inventory != nil && (remote.LastUpdated == nil || !remote.LastUpdated.Before(localUpdated)) {
		result.ReplaceInventory = true
		result.Decision = DecisionApplied
		result.Inventory = make(domain.Inventory, len(remote.Inventory))
		for name, rec := range remote.Inventory {
			if removed[name] {
				continue
			}
			result.Inventory[name] = rec
		}
	}

	for name, price := range remote.MenuItems {
		if removed[name] {
			continue
		}
		if _, ok := localMenu[name]; ok {
			continue
		}
		result.AddedMenu[name] = price
	}
	if !result.ReplaceInventory && len(result.AddedMenu) > 0 {
		result.Decision = DecisionMenu
	}
	return result
}
