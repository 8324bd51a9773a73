package domain

import "time"

type StockStatus string

const (
	StockOK       StockStatus = "ok"
	StockLow      StockStatus = "low"
	StockCritical StockStatus = "critical"
	StockOut      StockStatus = "out"
)

const (
	RoleManager = "manager"
	RoleStaff   = "staff"
)

type MenuItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Category string `json:"category,omitempty"`
	Custom   bool   `json:"custom,omitempty"`
}

type InventoryRecord struct {
	CurrentStock      int       `json:"currentStock"`
	Unit              string    `json:"unit"`
	LowThreshold      int       `json:"lowThreshold"`
	CriticalThreshold int       `json:"criticalThreshold"`
	Category          string    `json:"category"`
	LastRestocked     time.Time `json:"lastRestocked"`
}

// Inventory is keyed by item name.
type Inventory map[string]InventoryRecord

func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	for name, rec := range inv {
		out[name] = rec
	}
	return out
}

type InventoryItem struct {
	Name string `json:"name"`
	InventoryRecord
	Status StockStatus `json:"status"`
}

type RestockItem struct {
	Name         string      `json:"name"`
	CurrentStock int         `json:"currentStock"`
	Status       StockStatus `json:"status"`
	Unit         string      `json:"unit"`
}

type InventoryStats struct {
	TotalItems int `json:"totalItems"`
	InStock    int `json:"inStock"`
	Low        int `json:"low"`
	Critical   int `json:"critical"`
	Out        int `json:"out"`
}

type InventoryView struct {
	Items []InventoryItem `json:"items"`
	Stats InventoryStats  `json:"stats"`
	Alert []RestockItem   `json:"restock"`
}

type CartLine struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type CartView struct {
	TerminalID string     `json:"terminal_id"`
	Lines      []CartLine `json:"lines"`
	Total      int64      `json:"total"`
}

type OrderLine struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

// Order is immutable once assembled.
type Order struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Date      string      `json:"date"`
	Time      string      `json:"time"`
	Hour      int         `json:"hour"`
	Table     int         `json:"table"`
	Items     []OrderLine `json:"items"`
	Total     int64       `json:"total"`
}

func (o Order) ItemCount() int {
	total := 0
	for _, line := range o.Items {
		total += line.Qty
	}
	return total
}

// DevicePayload is the body POSTed to the kitchen display.
type DevicePayload struct {
	Table string      `json:"table"`
	Items []OrderLine `json:"items"`
	Total int64       `json:"total"`
	Time  string      `json:"time"`
}

type DailyAnalytics struct {
	Date         string    `json:"date"`
	TotalOrders  int64     `json:"totalOrders"`
	TotalRevenue int64     `json:"totalRevenue"`
	ItemsSold    int64     `json:"itemsSold"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// RestaurantDocument is the unit of last-writer-wins reconciliation.
type RestaurantDocument struct {
	Name        string           `json:"name"`
	LastUpdated *time.Time       `json:"lastUpdated,omitempty"`
	Inventory   Inventory        `json:"inventory"`
	MenuItems   map[string]int64 `json:"menuItems"`
}

const (
	StockActionAdd    = "add"
	StockActionSet    = "set"
	StockActionRemove = "remove"
)

type StockLog struct {
	ID        string    `json:"id"`
	ItemName  string    `json:"itemName"`
	Action    string    `json:"action"`
	Quantity  int       `json:"quantity"`
	NewStock  int       `json:"newStock"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	TransactionOrder      = "order"
	TransactionRestock    = "restock"
	TransactionAdjustment = "adjustment"
)

type TransactionItem struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	StockAfter int    `json:"stockAfter"`
}

type InventoryTransaction struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Items     []TransactionItem `json:"items"`
}

// PendingOrder is an outbox entry awaiting remote delivery.
type PendingOrder struct {
	Order      Order     `json:"order"`
	Appended   bool      `json:"appended"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

type HourlyBucket struct {
	Hour    int   `json:"hour"`
	Count   int   `json:"count"`
	Revenue int64 `json:"revenue"`
}

type TopItem struct {
	Name    string `json:"name"`
	Count   int    `json:"count"`
	Revenue int64  `json:"revenue"`
}

type DailyRevenue struct {
	Date    string `json:"date"`
	Orders  int    `json:"orders"`
	Revenue int64  `json:"revenue"`
}

type AnalyticsReport struct {
	Period            string         `json:"period"`
	Start             time.Time      `json:"start"`
	End               time.Time      `json:"end"`
	GeneratedAt       time.Time      `json:"generatedAt"`
	Source            string         `json:"source"`
	TotalOrders       int            `json:"totalOrders"`
	Revenue           int64          `json:"revenue"`
	AverageOrderValue float64        `json:"averageOrderValue"`
	PeakHour          int            `json:"peakHour"`
	Hourly            []HourlyBucket `json:"hourly"`
	TopItems          []TopItem      `json:"topItems"`
	Orders            []Order        `json:"orders"`
}

type SyncStatus struct {
	Backend        string     `json:"backend"`
	PendingOrders  int        `json:"pendingOrders"`
	LastPushAt     *time.Time `json:"lastPushAt,omitempty"`
	LastPushError  string     `json:"lastPushError,omitempty"`
	LastRemoteAt   *time.Time `json:"lastRemoteAt,omitempty"`
	LastReconcile  string     `json:"lastReconcile,omitempty"`
	LocalUpdatedAt *time.Time `json:"localUpdatedAt,omitempty"`
	Subscribed     bool       `json:"subscribed"`
}

type CartUpdateRequest struct {
	TerminalID string `json:"terminal_id"`
	Item       string `json:"item"`
	Delta      int    `json:"delta"`
}

type PlaceOrderRequest struct {
	TerminalID    string `json:"terminal_id"`
	Table         int    `json:"table"`
	DeviceAddress string `json:"device_address"`
}

type MenuItemCreateRequest struct {
	Name              string `json:"name"`
	Price             int64  `json:"price"`
	Category          string `json:"category"`
	Stock             int    `json:"stock"`
	Unit              string `json:"unit"`
	LowThreshold      int    `json:"low_threshold"`
	CriticalThreshold int    `json:"critical_threshold"`
}

type StockAdjustRequest struct {
	Action   string `json:"action"`
	Quantity int    `json:"quantity"`
}

type DeviceConfig struct {
	Address string `json:"address"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}
