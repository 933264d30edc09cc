package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const subscriptionsCollection = "subscriptions"

// subscriptionDoc is the persistence shape. User IDs are stored as strings
// so the unique index works without custom UUID codecs.
type subscriptionDoc struct {
	UserID               string     `bson:"user_id"`
	Plan                 string     `bson:"plan"`
	Status               string     `bson:"status"`
	StripeCustomerID     string     `bson:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `bson:"stripe_subscription_id,omitempty"`
	StripePriceID        string     `bson:"stripe_price_id,omitempty"`
	CurrentPeriodStart   time.Time  `bson:"current_period_start"`
	CurrentPeriodEnd     time.Time  `bson:"current_period_end"`
	CancelAtPeriodEnd    bool       `bson:"cancel_at_period_end"`
	CancelAt             *time.Time `bson:"cancel_at,omitempty"`
	Amount               int64      `bson:"amount"`
	Currency             string     `bson:"currency"`
	CreatedAt            time.Time  `bson:"created_at"`
	UpdatedAt            time.Time  `bson:"updated_at"`
}

// MongoStore persists subscriptions in MongoDB.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a store over the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(subscriptionsCollection)}
}

// EnsureIndexes creates the unique user index and the remote ref lookup
// index. Safe to call on every startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "stripe_subscription_id", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(
				bson.D{{Key: "stripe_subscription_id", Value: bson.D{{Key: "$type", Value: "string"}}}},
			),
		},
	})
	return err
}

func (s *MongoStore) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	var doc subscriptionDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "user_id", Value: userID.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrStore, err)
	}
	return docToSubscription(doc)
}

func (s *MongoStore) GetByRemoteID(ctx context.Context, remoteSubID string) (*Subscription, error) {
	var doc subscriptionDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "stripe_subscription_id", Value: remoteSubID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrStore, err)
	}
	return docToSubscription(doc)
}

func (s *MongoStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := s.coll.InsertOne(ctx, subscriptionToDoc(sub))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return errors.Join(ErrStore, err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, sub *Subscription) error {
	res, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "user_id", Value: sub.UserID.String()}},
		subscriptionToDoc(sub),
	)
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func subscriptionToDoc(sub *Subscription) subscriptionDoc {
	return subscriptionDoc{
		UserID:               sub.UserID.String(),
		Plan:                 string(sub.Plan),
		Status:               string(sub.Status),
		StripeCustomerID:     sub.StripeCustomerID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		StripePriceID:        sub.StripePriceID,
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CancelAt:             sub.CancelAt,
		Amount:               sub.Amount,
		Currency:             sub.Currency,
		CreatedAt:            sub.CreatedAt,
		UpdatedAt:            sub.UpdatedAt,
	}
}

func docToSubscription(doc subscriptionDoc) (*Subscription, error) {
	userID, err := uuid.Parse(doc.UserID)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return &Subscription{
		UserID:               userID,
		Plan:                 Plan(doc.Plan),
		Status:               Status(doc.Status),
		StripeCustomerID:     doc.StripeCustomerID,
		StripeSubscriptionID: doc.StripeSubscriptionID,
		StripePriceID:        doc.StripePriceID,
		CurrentPeriodStart:   doc.CurrentPeriodStart,
		CurrentPeriodEnd:     doc.CurrentPeriodEnd,
		CancelAtPeriodEnd:    doc.CancelAtPeriodEnd,
		CancelAt:             doc.CancelAt,
		Amount:               doc.Amount,
		Currency:             doc.Currency,
		CreatedAt:            doc.CreatedAt,
		UpdatedAt:            doc.UpdatedAt,
	}, nil
}
