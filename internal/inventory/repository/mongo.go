package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/config"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
)

// ConnectMongo opens a client and verifies it with a ping.
func ConnectMongo(ctx context.Context, cfg *config.MongoConfig) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// MongoSnapshots stores each month as one document keyed by pharmacy and month.
type MongoSnapshots struct {
	collection *mongo.Collection
}

// NewMongoSnapshots creates a repository on the given collection and ensures its indexes.
func NewMongoSnapshots(ctx context.Context, db *mongo.Database, collection string) (*MongoSnapshots, error) {
	r := &MongoSnapshots{collection: db.Collection(collection)}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *MongoSnapshots) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "pharmacy_id", Value: 1},
				{Key: "month_key", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create snapshot indexes: %w", err)
	}
	return nil
}

// Get loads one month
func (r *MongoSnapshots) Get(ctx context.Context, pharmacyID string, key ledger.MonthKey) (*Snapshot, error) {
	var doc snapshotDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": documentID(pharmacyID, key)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFound("snapshot")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snap := doc.toSnapshot()
	return &snap, nil
}

// Save upserts the whole month
func (r *MongoSnapshots) Save(ctx context.Context, snap *Snapshot) error {
	stamp(snap)
	doc := toDocument(snap)

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{"$set": doc}, opts); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ListByPharmacy loads every month of a pharmacy, oldest first
func (r *MongoSnapshots) ListByPharmacy(ctx context.Context, pharmacyID string) ([]Snapshot, error) {
	opts := options.Find().SetSort(bson.D{{Key: "month_key", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"pharmacy_id": pharmacyID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []snapshotDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode snapshots: %w", err)
	}

	snaps := make([]Snapshot, 0, len(docs))
	for _, doc := range docs {
		snaps = append(snaps, doc.toSnapshot())
	}
	return snaps, nil
}

// BSON documents need string map keys and have no decimal type we want to
// depend on, so items are mapped explicitly.

type snapshotDocument struct {
	ID          string         `bson:"_id"`
	PharmacyID  string         `bson:"pharmacy_id"`
	MonthKey    string         `bson:"month_key"`
	Items       []itemDocument `bson:"items"`
	LastUpdated time.Time      `bson:"last_updated"`
	UpdatedBy   string         `bson:"updated_by"`
}

type itemDocument struct {
	Name           string             `bson:"name"`
	Opening        float64            `bson:"opening"`
	UnitPrice      string             `bson:"unit_price"`
	DailyDispense  map[string]float64 `bson:"daily_dispense"`
	DailyIncoming  map[string]float64 `bson:"daily_incoming"`
	IncomingSource map[string]string  `bson:"incoming_source"`
	Selected       bool               `bson:"selected"`
}

func documentID(pharmacyID string, key ledger.MonthKey) string {
	return pharmacyID + ":" + string(key)
}

func toDocument(snap *Snapshot) snapshotDocument {
	items := make([]itemDocument, 0, len(snap.Items))
	for _, it := range snap.Items {
		items = append(items, itemDocument{
			Name:           it.Name,
			Opening:        it.Opening.Float(),
			UnitPrice:      it.UnitPrice.String(),
			DailyDispense:  dayMapToDoc(it.DailyDispense),
			DailyIncoming:  dayMapToDoc(it.DailyIncoming),
			IncomingSource: sourceMapToDoc(it.IncomingSource),
			Selected:       it.Selected,
		})
	}
	return snapshotDocument{
		ID:          documentID(snap.PharmacyID, snap.MonthKey),
		PharmacyID:  snap.PharmacyID,
		MonthKey:    string(snap.MonthKey),
		Items:       items,
		LastUpdated: snap.LastUpdated,
		UpdatedBy:   snap.UpdatedBy,
	}
}

func (doc snapshotDocument) toSnapshot() Snapshot {
	items := make([]ledger.InventoryItem, 0, len(doc.Items))
	for _, d := range doc.Items {
		it := ledger.NewItem()
		it.Name = d.Name
		it.Opening = ledger.Qty(d.Opening)
		if price, err := decimal.NewFromString(d.UnitPrice); err == nil {
			it.UnitPrice = price
		}
		for k, v := range d.DailyDispense {
			if day, err := strconv.Atoi(k); err == nil {
				it.DailyDispense[day] += ledger.Qty(v)
			}
		}
		for k, v := range d.DailyIncoming {
			if day, err := strconv.Atoi(k); err == nil {
				it.DailyIncoming[day] += ledger.Qty(v)
			}
		}
		for k, v := range d.IncomingSource {
			if day, err := strconv.Atoi(k); err == nil {
				it.IncomingSource[day] = ledger.Source(v)
			}
		}
		it.Selected = d.Selected
		items = append(items, it)
	}
	return Snapshot{
		PharmacyID:  doc.PharmacyID,
		MonthKey:    ledger.MonthKey(doc.MonthKey),
		Items:       items,
		LastUpdated: doc.LastUpdated,
		UpdatedBy:   doc.UpdatedBy,
	}
}

func dayMapToDoc(m ledger.DayMap) map[string]float64 {
	out := make(map[string]float64, len(m))
	for day, q := range m {
		out[strconv.Itoa(day)] = q.Float()
	}
	return out
}

func sourceMapToDoc(m ledger.SourceMap) map[string]string {
	out := make(map[string]string, len(m))
	for day, s := range m {
		out[strconv.Itoa(day)] = string(s)
	}
	return out
}
