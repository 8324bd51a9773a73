package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/store"
)

const (
	restaurantsCollection = "restaurants"
	ordersCollection      = "orders"
	dailyCollection       = "dailyAnalytics"
	stockLogsCollection   = "stockLogs"
)

type inventoryDoc struct {
	CurrentStock      int       `bson:"currentStock"`
	Unit              string    `bson:"unit"`
	LowThreshold      int       `bson:"lowThreshold"`
	CriticalThreshold int       `bson:"criticalThreshold"`
	Category          string    `bson:"category"`
	LastRestocked     time.Time `bson:"lastRestocked"`
}

type restaurantDoc struct {
	ID          string                  `bson:"_id"`
	Name        string                  `bson:"name"`
	LastUpdated *time.Time              `bson:"lastUpdated,omitempty"`
	Inventory   map[string]inventoryDoc `bson:"inventory"`
	MenuItems   map[string]int64        `bson:"menuItems"`
}

type orderLineDoc struct {
	Name string `bson:"name"`
	Qty  int    `bson:"qty"`
}

type orderDoc struct {
	ID           string         `bson:"_id"`
	RestaurantID string         `bson:"restaurantId"`
	OrderID      string         `bson:"orderId"`
	Timestamp    time.Time      `bson:"timestamp"`
	Date         string         `bson:"date"`
	Time         string         `bson:"time"`
	Hour         int            `bson:"hour"`
	Table        int            `bson:"table"`
	Items        []orderLineDoc `bson:"items"`
	Total        int64          `bson:"total"`
}

type dailyDoc struct {
	ID           string    `bson:"_id"`
	RestaurantID string    `bson:"restaurantId"`
	Date         string    `bson:"date"`
	TotalOrders  int64     `bson:"totalOrders"`
	TotalRevenue int64     `bson:"totalRevenue"`
	ItemsSold    int64     `bson:"itemsSold"`
	LastUpdated  time.Time `bson:"lastUpdated"`
}

type stockLogDoc struct {
	ID           string    `bson:"_id"`
	RestaurantID string    `bson:"restaurantId"`
	ItemName     string    `bson:"itemName"`
	Action       string    `bson:"action"`
	Quantity     int       `bson:"quantity"`
	NewStock     int       `bson:"newStock"`
	User         string    `bson:"user"`
	Timestamp    time.Time `bson:"timestamp"`
}

// Store keeps the restaurant document and its sub-collections in MongoDB.
// Change streams need a replica set or sharded cluster.
type Store struct {
	client      *mongo.Client
	restaurants *mongo.Collection
	orders      *mongo.Collection
	daily       *mongo.Collection
	stockLogs   *mongo.Collection

	indexMu    sync.Mutex
	indexReady bool
}

// New builds the client without waiting for a server; the driver
// reconnects on its own. Indexes are created by the first call that
// reaches the cluster.
func New(ctx context.Context, uri string, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	db := client.Database(database)
	return &Store{
		client:      client,
		restaurants: db.Collection(restaurantsCollection),
		orders:      db.Collection(ordersCollection),
		daily:       db.Collection(dailyCollection),
		stockLogs:   db.Collection(stockLogsCollection),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return err
	}
	return s.ready(ctx)
}

func (s *Store) ready(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.indexReady {
		return nil
	}
	_, err := s.orders.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "restaurantId", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("ensure order index: %w", err)
	}
	s.indexReady = true
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) GetRestaurant(ctx context.Context, restaurantID string) (*domain.RestaurantDocument, error) {
	var raw restaurantDoc
	err := s.restaurants.FindOne(ctx, bson.M{"_id": restaurantID}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc := fromRestaurantDoc(raw)
	return &doc, nil
}

// MergeRestaurant sets each inventory and menu entry on its own path so
// entries absent from doc are left untouched.
func (s *Store) MergeRestaurant(ctx context.Context, restaurantID string, doc domain.RestaurantDocument) error {
	set := bson.M{}
	if doc.Name != "" {
		set["name"] = doc.Name
	}
	if doc.LastUpdated != nil {
		set["lastUpdated"] = doc.LastUpdated.UTC()
	}
	for name, rec := range doc.Inventory {
		set["inventory."+escapeKey(name)] = toInventoryDoc(rec)
	}
	for name, price := range doc.MenuItems {
		set["menuItems."+escapeKey(name)] = price
	}

	update := bson.M{"$setOnInsert": bson.M{"_id": restaurantID}}
	if len(set) > 0 {
		update["$set"] = set
	}
	_, err := s.restaurants.UpdateOne(ctx, bson.M{"_id": restaurantID}, update, options.Update().SetUpsert(true))
	return err
}

func (s *Store) SubscribeRestaurant(ctx context.Context, restaurantID string, fn func(domain.RestaurantDocument)) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"documentKey._id": restaurantID}}},
	}
	stream, err := s.restaurants.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	doc, err := s.GetRestaurant(ctx, restaurantID)
	switch {
	case err == nil:
		fn(*doc)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	for stream.Next(ctx) {
		var event struct {
			FullDocument *restaurantDoc `bson:"fullDocument"`
		}
		if err := stream.Decode(&event); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
		}
		if event.FullDocument == nil {
			continue
		}
		fn(fromRestaurantDoc(*event.FullDocument))
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Store) AppendOrder(ctx context.Context, restaurantID string, order domain.Order) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	if err := store.ValidateOrder(order); err != nil {
		return false, err
	}

	lines := make([]orderLineDoc, 0, len(order.Items))
	for _, line := range order.Items {
		lines = append(lines, orderLineDoc{Name: line.Name, Qty: line.Qty})
	}
	_, err := s.orders.InsertOne(ctx, orderDoc{
		ID:           restaurantID + "/" + order.ID,
		RestaurantID: restaurantID,
		OrderID:      order.ID,
		Timestamp:    order.Timestamp.UTC(),
		Date:         order.Date,
		Time:         order.Time,
		Hour:         order.Hour,
		Table:        order.Table,
		Items:        lines,
		Total:        order.Total,
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListOrders(ctx context.Context, restaurantID string, from time.Time, to time.Time) ([]domain.Order, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	filter := bson.M{
		"restaurantId": restaurantID,
		"timestamp":    bson.M{"$gte": from.UTC(), "$lte": to.UTC()},
	}
	cursor, err := s.orders.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	orders := make([]domain.Order, 0, 64)
	for cursor.Next(ctx) {
		var raw orderDoc
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
		}
		items := make([]domain.OrderLine, 0, len(raw.Items))
		for _, line := range raw.Items {
			items = append(items, domain.OrderLine{Name: line.Name, Qty: line.Qty})
		}
		orders = append(orders, domain.Order{
			ID:        raw.OrderID,
			Timestamp: raw.Timestamp.UTC(),
			Date:      raw.Date,
			Time:      raw.Time,
			Hour:      raw.Hour,
			Table:     raw.Table,
			Items:     items,
			Total:     raw.Total,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) IncrementDaily(ctx context.Context, restaurantID string, delta domain.DailyAnalytics) (domain.DailyAnalytics, error) {
	if err := store.ValidateDelta(delta); err != nil {
		return domain.DailyAnalytics{}, err
	}

	filter := bson.M{"_id": dailyID(restaurantID, delta.Date)}
	update := bson.M{
		"$inc": bson.M{
			"totalOrders":  delta.TotalOrders,
			"totalRevenue": delta.TotalRevenue,
			"itemsSold":    delta.ItemsSold,
		},
		"$set":         bson.M{"lastUpdated": delta.LastUpdated.UTC()},
		"$setOnInsert": bson.M{"restaurantId": restaurantID, "date": delta.Date},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out dailyDoc
	err := s.daily.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced on a missing document; the retry takes the update path.
		err = s.daily.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	}
	if err != nil {
		return domain.DailyAnalytics{}, err
	}
	return fromDailyDoc(out), nil
}

func (s *Store) GetDaily(ctx context.Context, restaurantID string, date string) (*domain.DailyAnalytics, error) {
	var raw dailyDoc
	err := s.daily.FindOne(ctx, bson.M{"_id": dailyID(restaurantID, date)}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	daily := fromDailyDoc(raw)
	return &daily, nil
}

func (s *Store) AppendStockLog(ctx context.Context, restaurantID string, entry domain.StockLog) error {
	_, err := s.stockLogs.InsertOne(ctx, stockLogDoc{
		ID:           entry.ID,
		RestaurantID: restaurantID,
		ItemName:     entry.ItemName,
		Action:       entry.Action,
		Quantity:     entry.Quantity,
		NewStock:     entry.NewStock,
		User:         entry.User,
		Timestamp:    entry.Timestamp.UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func dailyID(restaurantID string, date string) string {
	return restaurantID + "/" + date
}

func toInventoryDoc(rec domain.InventoryRecord) inventoryDoc {
	return inventoryDoc{
		CurrentStock:      rec.CurrentStock,
		Unit:              rec.Unit,
		LowThreshold:      rec.LowThreshold,
		CriticalThreshold: rec.CriticalThreshold,
		Category:          rec.Category,
		LastRestocked:     rec.LastRestocked.UTC(),
	}
}

func fromRestaurantDoc(raw restaurantDoc) domain.RestaurantDocument {
	doc := domain.RestaurantDocument{
		Name:      raw.Name,
		Inventory: make(domain.Inventory, len(raw.Inventory)),
		MenuItems: make(map[string]int64, len(raw.MenuItems)),
	}
	if raw.LastUpdated != nil {
		at := raw.LastUpdated.UTC()
		doc.LastUpdated = &at
	}
	for key, rec := range raw.Inventory {
		doc.Inventory[unescapeKey(key)] = domain.InventoryRecord{
			CurrentStock:      rec.CurrentStock,
			Unit:              rec.Unit,
			LowThreshold:      rec.LowThreshold,
			CriticalThreshold: rec.CriticalThreshold,
			Category:          rec.Category,
			LastRestocked:     rec.LastRestocked.UTC(),
		}
	}
	for key, price := range raw.MenuItems {
		doc.MenuItems[unescapeKey(key)] = price
	}
	return doc
}

func fromDailyDoc(raw dailyDoc) domain.DailyAnalytics {
	return domain.DailyAnalytics{
		Date:         raw.Date,
		TotalOrders:  raw.TotalOrders,
		TotalRevenue: raw.TotalRevenue,
		ItemsSold:    raw.ItemsSold,
		LastUpdated:  raw.LastUpdated.UTC(),
	}
}

// Field names may not contain dots or start with a dollar sign.
var keyEscaper = strings.NewReplacer(".", "．", "$", "＄")
var keyUnescaper = strings.NewReplacer("．", ".", "＄", "$")

func escapeKey(name string) string {
	return keyEscaper.Replace(name)
}

func unescapeKey(key string) string {
	return keyUnescaper.Replace(key)
}
