package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"kitchenalert/backend/internal/domain"
)

const (
	keyInventory          = "restaurantInventory"
	keyInventoryUpdatedAt = "lastLocalInventoryUpdate"
	keyHistory            = "orderHistory"
	keyCustomMenu         = "customMenuItems"
	keyRemoved            = "removedMenuItems"
	keyTransactions       = "inventoryTransactions"
	keyDeviceAddress      = "kitchenDeviceAddress"
	keyOutbox             = "pendingOrders"
	keyUsers              = "staffAccounts"
)

// TransactionLimit bounds the inventory transaction ring.
const TransactionLimit = 100

var (
	ErrUserExists   = errors.New("username already exists")
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidUser  = errors.New("username and password are required")
)

// Mirror is the typed offline mirror kept on local durable storage.
type Mirror struct {
	kv KV
	mu sync.Mutex
}

func NewMirror(kv KV) *Mirror {
	if kv == nil {
		kv = NewMemoryKV()
	}
	return &Mirror{kv: kv}
}

func (m *Mirror) Close() error {
	return m.kv.Close()
}

func (m *Mirror) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok, err := m.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Mirror) putJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return m.kv.Put(ctx, key, raw)
}

func (m *Mirror) LoadInventory(ctx context.Context) (domain.Inventory, bool, error) {
	var inv domain.Inventory
	ok, err := m.getJSON(ctx, keyInventory, &inv)
	if err != nil || !ok {
		return nil, false, err
	}
	return inv, true, nil
}

// SaveInventory stores the ledger together with the time of the local
// change that produced it.
func (m *Mirror) SaveInventory(ctx context.Context, inv domain.Inventory, updatedAt time.Time) error {
	if err := m.putJSON(ctx, keyInventory, inv); err != nil {
		return err
	}
	if updatedAt.IsZero() {
		return nil
	}
	return m.putJSON(ctx, keyInventoryUpdatedAt, updatedAt)
}

func (m *Mirror) InventoryUpdatedAt(ctx context.Context) (time.Time, error) {
	var at time.Time
	_, err := m.getJSON(ctx, keyInventoryUpdatedAt, &at)
	return at, err
}

func (m *Mirror) LoadCustomMenu(ctx context.Context) ([]domain.MenuItem, error) {
	var items []domain.MenuItem
	_, err := m.getJSON(ctx, keyCustomMenu, &items)
	return items, err
}

func (m *Mirror) SaveCustomMenu(ctx context.Context, items []domain.MenuItem) error {
	return m.putJSON(ctx, keyCustomMenu, items)
}

func (m *Mirror) LoadRemoved(ctx context.Context) ([]string, error) {
	var names []string
	_, err := m.getJSON(ctx, keyRemoved, &names)
	return names, err
}

func (m *Mirror) SaveRemoved(ctx context.Context, names []string) error {
	return m.putJSON(ctx, keyRemoved, names)
}

func (m *Mirror) AppendHistory(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var history []domain.Order
	if _, err := m.getJSON(ctx, keyHistory, &history); err != nil {
		return err
	}
	for _, existing := range history {
		if existing.ID == order.ID {
			return nil
		}
	}
	history = append(history, order)
	return m.putJSON(ctx, keyHistory, history)
}

func (m *Mirror) History(ctx context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var history []domain.Order
	_, err := m.getJSON(ctx, keyHistory, &history)
	return history, err
}

func (m *Mirror) ClearHistory(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kv.Delete(ctx, keyHistory)
}

// AppendTransaction keeps only the newest TransactionLimit entries.
func (m *Mirror) AppendTransaction(ctx context.Context, tx domain.InventoryTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var txs []domain.InventoryTransaction
	if _, err := m.getJSON(ctx, keyTransactions, &txs); err != nil {
		return err
	}
	txs = append(txs, tx)
	if len(txs) > TransactionLimit {
		txs = txs[len(txs)-TransactionLimit:]
	}
	return m.putJSON(ctx, keyTransactions, txs)
}

func (m *Mirror) Transactions(ctx context.Context) ([]domain.InventoryTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var txs []domain.InventoryTransaction
	_, err := m.getJSON(ctx, keyTransactions, &txs)
	return txs, err
}

func (m *Mirror) DeviceAddress(ctx context.Context) (string, error) {
	raw, ok, err := m.kv.Get(ctx, keyDeviceAddress)
	if err != nil || !ok {
		return "", err
	}
	return string(raw), nil
}

func (m *Mirror) SetDeviceAddress(ctx context.Context, address string) error {
	return m.kv.Put(ctx, keyDeviceAddress, []byte(address))
}

// EnqueueOrder writes the order to the outbox. Re-enqueueing an id is a no-op.
func (m *Mirror) EnqueueOrder(ctx context.Context, order domain.Order, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.loadOutbox(ctx)
	if err != nil {
		return err
	}
	for _, entry := range pending {
		if entry.Order.ID == order.ID {
			return nil
		}
	}
	pending = append(pending, domain.PendingOrder{Order: order, EnqueuedAt: at})
	return m.putJSON(ctx, keyOutbox, pending)
}

func (m *Mirror) PendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadOutbox(ctx)
}

// UpdatePending replaces the outbox entry with the same order id.
func (m *Mirror) UpdatePending(ctx context.Context, entry domain.PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.loadOutbox(ctx)
	if err != nil {
		return err
	}
	for i := range pending {
		if pending[i].Order.ID == entry.Order.ID {
			pending[i] = entry
			return m.putJSON(ctx, keyOutbox, pending)
		}
	}
	return nil
}

func (m *Mirror) AckOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.loadOutbox(ctx)
	if err != nil {
		return err
	}
	kept := pending[:0]
	for _, entry := range pending {
		if entry.Order.ID != orderID {
			kept = append(kept, entry)
		}
	}
	return m.putJSON(ctx, keyOutbox, kept)
}

func (m *Mirror) loadOutbox(ctx context.Context) ([]domain.PendingOrder, error) {
	var pending []domain.PendingOrder
	_, err := m.getJSON(ctx, keyOutbox, &pending)
	return pending, err
}

func (m *Mirror) CreateUser(ctx context.Context, user domain.UserAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return ErrInvalidUser
	}
	users, err := m.loadUsers(ctx)
	if err != nil {
		return err
	}
	if _, exists := users[username]; exists {
		return ErrUserExists
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	users[username] = user
	return m.putJSON(ctx, keyUsers, users)
}

func (m *Mirror) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := m.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]domain.UserAccount, 0, len(users))
	for _, user := range users {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result, nil
}

func (m *Mirror) UpdateUserPassword(ctx context.Context, username string, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return ErrInvalidUser
	}
	users, err := m.loadUsers(ctx)
	if err != nil {
		return err
	}
	user, exists := users[username]
	if !exists {
		return ErrUserNotFound
	}
	user.Password = password
	users[username] = user
	return m.putJSON(ctx, keyUsers, users)
}

// FindUser returns one account by case-insensitive username.
func (m *Mirror) FindUser(ctx context.Context, username string) (domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := m.loadUsers(ctx)
	if err != nil {
		return domain.UserAccount{}, err
	}
	user, ok := users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return domain.UserAccount{}, ErrUserNotFound
	}
	return user, nil
}

// SeedUsers creates the given accounts when no account exists yet.
func (m *Mirror) SeedUsers(ctx context.Context, accounts []domain.UserAccount) (int, error) {
	existing, err := m.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	created := 0
	for _, account := range accounts {
		if err := m.CreateUser(ctx, account); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (m *Mirror) loadUsers(ctx context.Context) (map[string]domain.UserAccount, error) {
	users := make(map[string]domain.UserAccount)
	if _, err := m.getJSON(ctx, keyUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}
