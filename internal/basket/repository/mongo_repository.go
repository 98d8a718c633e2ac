package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const basketTTL = 90 * 24 * time.Hour

type basketDocument struct {
	ID               string               `bson:"_id"`
	Items            []basketItemDocument `bson:"items"`
	DiscountID       *int64               `bson:"discount_id,omitempty"`
	DeliveryMethodID *int64               `bson:"delivery_method_id,omitempty"`
	ShippingPrice    primitive.Decimal128 `bson:"shipping_price"`
	PaymentIntentID  string               `bson:"payment_intent_id,omitempty"`
	ClientSecret     string               `bson:"client_secret,omitempty"`
	CreatedAt        time.Time            `bson:"created_at"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

type basketItemDocument struct {
	ProductID   int64                `bson:"product_id"`
	ProductName string               `bson:"product_name"`
	Price       primitive.Decimal128 `bson:"price"`
	Quantity    int                  `bson:"quantity"`
	ImageURL    string               `bson:"image_url,omitempty"`
	Category    string               `bson:"category,omitempty"`
	Brand       string               `bson:"brand,omitempty"`
}

// MongoRepository implements BasketRepository on a MongoDB collection.
type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection("baskets")}
}

func (m *MongoRepository) GetBasket(ctx context.Context, id string) (*domain.Basket, error) {
	var doc basketDocument

	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrBasketNotFound
		}
		return nil, fmt.Errorf("failed to get basket: %w", err)
	}

	return fromDocument(&doc)
}

func (m *MongoRepository) SaveBasket(ctx context.Context, basket *domain.Basket) error {
	now := time.Now().UTC()

	if basket.CreatedAt.IsZero() {
		basket.CreatedAt = now
	}
	basket.UpdatedAt = now

	doc, err := toDocument(basket)
	if err != nil {
		return err
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": basket.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save basket: %w", err)
	}

	return nil
}

func (m *MongoRepository) DeleteBasket(ctx context.Context, id string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete basket: %w", err)
	}

	if result.DeletedCount == 0 {
		return domain.ErrBasketNotFound
	}

	return nil
}

// CreateIndexes expires baskets that have not been touched for 90 days.
func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "updated_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(basketTTL.Seconds())),
	}

	if _, err := m.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

func toDocument(b *domain.Basket) (*basketDocument, error) {
	shipping, err := toDecimal128(b.ShippingPrice)
	if err != nil {
		return nil, err
	}

	doc := &basketDocument{
		ID:               b.ID,
		Items:            make([]basketItemDocument, 0, len(b.Items)),
		DiscountID:       b.DiscountID,
		DeliveryMethodID: b.DeliveryMethodID,
		ShippingPrice:    shipping,
		PaymentIntentID:  b.PaymentIntentID,
		ClientSecret:     b.ClientSecret,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}

	for _, item := range b.Items {
		price, err := toDecimal128(item.Price)
		if err != nil {
			return nil, err
		}
		doc.Items = append(doc.Items, basketItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       price,
			Quantity:    item.Quantity,
			ImageURL:    item.ImageURL,
			Category:    item.Category,
			Brand:       item.Brand,
		})
	}

	return doc, nil
}

func fromDocument(doc *basketDocument) (*domain.Basket, error) {
	shipping, err := fromDecimal128(doc.ShippingPrice)
	if err != nil {
		return nil, err
	}

	b := &domain.Basket{
		ID:               doc.ID,
		Items:            make([]domain.BasketItem, 0, len(doc.Items)),
		DiscountID:       doc.DiscountID,
		DeliveryMethodID: doc.DeliveryMethodID,
		ShippingPrice:    shipping,
		PaymentIntentID:  doc.PaymentIntentID,
		ClientSecret:     doc.ClientSecret,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}

	for _, item := range doc.Items {
		price, err := fromDecimal128(item.Price)
		if err != nil {
			return nil, err
		}
		b.Items = append(b.Items, domain.BasketItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       price,
			Quantity:    item.Quantity,
			ImageURL:    item.ImageURL,
			Category:    item.Category,
			Brand:       item.Brand,
		})
	}

	return b, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode price %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode price %s: %w", v, err)
	}
	return d, nil
}
