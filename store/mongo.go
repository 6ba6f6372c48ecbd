// Package store persists orders to MongoDB. The collection carries a
// unique index on orderId; duplicate writes surface as core.ErrOrderExists
// and are the final idempotency gate for the pipeline.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/opscale-io/orderflow/core"
)

// MongoStore implements order persistence over a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger core.Logger
}

// NewMongoStore connects to MongoDB, verifies connectivity, and ensures
// the collection indexes.
func NewMongoStore(ctx context.Context, uri, database, collection string, logger core.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to store: %v: %w", err, core.ErrConnectionFailed)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("pinging store: %v: %w", err, core.ErrConnectionFailed)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
		logger: logger,
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		return nil, err
	}

	logger.Info("Order store connected", map[string]interface{}{
		"database":   database,
		"collection": collection,
	})
	return s, nil
}

// ensureIndexes creates the unique orderId index plus the secondary
// indexes used by operator queries.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "orderId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "customerId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating indexes: %v: %w", err, core.ErrConnectionFailed)
	}
	return nil
}

// Close disconnects from the store.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Save inserts an order. A duplicate orderId surfaces as
// core.ErrOrderExists; any other failure is classified transient.
func (s *MongoStore) Save(ctx context.Context, order *core.Order) error {
	doc, err := toDoc(order)
	if err != nil {
		return err
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.logger.Info("Duplicate order write rejected by unique index", map[string]interface{}{
				"order_id": order.OrderID,
			})
			return fmt.Errorf("order %s: %w", order.OrderID, core.ErrOrderExists)
		}
		return fmt.Errorf("saving order %s: %v: %w", order.OrderID, err, core.ErrTransient)
	}

	s.logger.Info("Order saved", map[string]interface{}{
		"order_id":     order.OrderID,
		"total_amount": order.TotalAmount.String(),
	})
	return nil
}

// FindByOrderID returns the order or nil when none exists.
func (s *MongoStore) FindByOrderID(ctx context.Context, orderID string) (*core.Order, error) {
	var doc orderDoc
	err := s.coll.FindOne(ctx, bson.M{"orderId": orderID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding order %s: %v: %w", orderID, err, core.ErrTransient)
	}
	return fromDoc(&doc)
}

// ExistsByOrderID reports whether an order has already been persisted.
func (s *MongoStore) ExistsByOrderID(ctx context.Context, orderID string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"orderId": orderID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("checking order %s: %v: %w", orderID, err, core.ErrTransient)
	}
	return n > 0, nil
}

// orderDoc is the BSON shape of a persisted order. Money fields are stored
// as Decimal128 so precision survives the round trip.
type orderDoc struct {
	ID              primitive.ObjectID   `bson:"_id,omitempty"`
	OrderID         string               `bson:"orderId"`
	CustomerID      string               `bson:"customerId"`
	Products        []orderLineDoc       `bson:"products"`
	TotalAmount     primitive.Decimal128 `bson:"totalAmount"`
	Status          string               `bson:"status"`
	CreatedAt       time.Time            `bson:"createdAt"`
	UpdatedAt       time.Time            `bson:"updatedAt"`
	CustomerDetails customerDetailsDoc   `bson:"customerDetails"`
}

type orderLineDoc struct {
	ProductID   string               `bson:"productId"`
	Name        string               `bson:"name"`
	Description string               `bson:"description"`
	Price       primitive.Decimal128 `bson:"price"`
	Active      bool                 `bson:"active"`
}

type customerDetailsDoc struct {
	CustomerID     string               `bson:"customerId"`
	Name           string               `bson:"name"`
	Email          string               `bson:"email"`
	Status         string               `bson:"status"`
	CreditLimit    primitive.Decimal128 `bson:"creditLimit"`
	CurrentBalance primitive.Decimal128 `bson:"currentBalance"`
}

func toDoc(order *core.Order) (*orderDoc, error) {
	total, err := toDecimal128(order.TotalAmount)
	if err != nil {
		return nil, err
	}

	lines := make([]orderLineDoc, len(order.Products))
	for i, line := range order.Products {
		price, err := toDecimal128(line.Price)
		if err != nil {
			return nil, err
		}
		lines[i] = orderLineDoc{
			ProductID:   line.ProductID,
			Name:        line.Name,
			Description: line.Description,
			Price:       price,
			Active:      line.Active,
		}
	}

	limit, err := toDecimal128(order.CustomerDetails.CreditLimit)
	if err != nil {
		return nil, err
	}
	balance, err := toDecimal128(order.CustomerDetails.CurrentBalance)
	if err != nil {
		return nil, err
	}

	return &orderDoc{
		OrderID:     order.OrderID,
		CustomerID:  order.CustomerID,
		Products:    lines,
		TotalAmount: total,
		Status:      string(order.Status),
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		CustomerDetails: customerDetailsDoc{
			CustomerID:     order.CustomerDetails.CustomerID,
			Name:           order.CustomerDetails.Name,
			Email:          order.CustomerDetails.Email,
			Status:         string(order.CustomerDetails.Status),
			CreditLimit:    limit,
			CurrentBalance: balance,
		},
	}, nil
}

func fromDoc(doc *orderDoc) (*core.Order, error) {
	total, err := fromDecimal128(doc.TotalAmount)
	if err != nil {
		return nil, err
	}

	lines := make([]core.OrderLine, len(doc.Products))
	for i, line := range doc.Products {
		price, err := fromDecimal128(line.Price)
		if err != nil {
			return nil, err
		}
		lines[i] = core.OrderLine{
			ProductID:   line.ProductID,
			Name:        line.Name,
			Description: line.Description,
			Price:       price,
			Active:      line.Active,
		}
	}

	limit, err := fromDecimal128(doc.CustomerDetails.CreditLimit)
	if err != nil {
		return nil, err
	}
	balance, err := fromDecimal128(doc.CustomerDetails.CurrentBalance)
	if err != nil {
		return nil, err
	}

	return &core.Order{
		OrderID:     doc.OrderID,
		CustomerID:  doc.CustomerID,
		Products:    lines,
		TotalAmount: total,
		Status:      core.OrderStatus(doc.Status),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		CustomerDetails: core.CustomerDetails{
			CustomerID:     doc.CustomerDetails.CustomerID,
			Name:           doc.CustomerDetails.Name,
			Email:          doc.CustomerDetails.Email,
			Status:         core.CustomerStatus(doc.CustomerDetails.Status),
			CreditLimit:    limit,
			CurrentBalance: balance,
		},
	}, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	out, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encoding decimal %s: %w", d.String(), err)
	}
	return out, nil
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	out, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decoding decimal %s: %w", d.String(), err)
	}
	return out, nil
}
