package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const paymentsCollection = "payments"

type paymentDoc struct {
	StripePaymentIntentID string     `bson:"stripe_payment_intent_id"`
	UserID                string     `bson:"user_id"`
	Amount                int64      `bson:"amount"`
	Currency              string     `bson:"currency"`
	Status                string     `bson:"status"`
	FailureMessage        string     `bson:"failure_message,omitempty"`
	PaidAt                *time.Time `bson:"paid_at,omitempty"`
	CreatedAt             time.Time  `bson:"created_at"`
	UpdatedAt             time.Time  `bson:"updated_at"`
}

// MongoStore persists the payment ledger in MongoDB. The webhook upserts
// rely on the unique intent index: a conditional upsert whose filter does not
// match an existing record raises a duplicate key error, which means a replay
// already applied the change and is safely ignored.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoStore creates a ledger store over the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		coll: db.Collection(paymentsCollection),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the unique intent index and the per-user history
// index. Safe to call on every startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "stripe_payment_intent_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, p *Payment) error {
	_, err := s.coll.InsertOne(ctx, paymentToDoc(p))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return errors.Join(ErrStore, err)
	}
	return nil
}

func (s *MongoStore) GetByIntentID(ctx context.Context, intentID string) (*Payment, error) {
	var doc paymentDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "stripe_payment_intent_id", Value: intentID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrStore, err)
	}
	return docToPayment(doc)
}

func (s *MongoStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Payment, error) {
	cursor, err := s.coll.Find(ctx,
		bson.D{{Key: "user_id", Value: userID.String()}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	defer cursor.Close(ctx)

	var out []Payment
	for cursor.Next(ctx) {
		var doc paymentDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Join(ErrStore, err)
		}
		p, err := docToPayment(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return out, nil
}

func (s *MongoStore) UpsertSucceeded(ctx context.Context, ref IntentRef, paidAt time.Time) (bool, error) {
	now := s.now()
	// paid_at is part of the filter so a replayed success cannot move the
	// original payment timestamp.
	res, err := s.coll.UpdateOne(ctx,
		bson.D{
			{Key: "stripe_payment_intent_id", Value: ref.IntentID},
			{Key: "paid_at", Value: nil},
		},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "status", Value: string(StatusSucceeded)},
				{Key: "paid_at", Value: paidAt},
				{Key: "failure_message", Value: ""},
				{Key: "updated_at", Value: now},
			}},
			{Key: "$setOnInsert", Value: insertFields(ref, now)},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil // replay; success already recorded with paid_at set
		}
		return false, errors.Join(ErrStore, err)
	}
	// A match or a fresh upsert means this call set paid_at; the filter
	// excludes already-settled records.
	return res.MatchedCount > 0 || res.UpsertedCount > 0, nil
}

func (s *MongoStore) UpsertFailed(ctx context.Context, ref IntentRef, reason string) error {
	now := s.now()
	// Never downgrade a recorded success or refund.
	_, err := s.coll.UpdateOne(ctx,
		bson.D{
			{Key: "stripe_payment_intent_id", Value: ref.IntentID},
			{Key: "status", Value: bson.D{{Key: "$nin", Value: bson.A{
				string(StatusSucceeded), string(StatusRefunded),
			}}}},
		},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "status", Value: string(StatusFailed)},
				{Key: "failure_message", Value: reason},
				{Key: "updated_at", Value: now},
			}},
			{Key: "$setOnInsert", Value: insertFields(ref, now)},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil // a terminal success already exists
		}
		return errors.Join(ErrStore, err)
	}
	return nil
}

func (s *MongoStore) SetRefunded(ctx context.Context, intentID string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "stripe_payment_intent_id", Value: intentID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(StatusRefunded)},
			{Key: "updated_at", Value: s.now()},
		}}},
	)
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func insertFields(ref IntentRef, now time.Time) bson.D {
	return bson.D{
		{Key: "user_id", Value: ref.UserID.String()},
		{Key: "amount", Value: ref.Amount},
		{Key: "currency", Value: ref.Currency},
		{Key: "created_at", Value: now},
	}
}

func paymentToDoc(p *Payment) paymentDoc {
	return paymentDoc{
		StripePaymentIntentID: p.StripePaymentIntentID,
		UserID:                p.UserID.String(),
		Amount:                p.Amount,
		Currency:              p.Currency,
		Status:                string(p.Status),
		FailureMessage:        p.FailureMessage,
		PaidAt:                p.PaidAt,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func docToPayment(doc paymentDoc) (*Payment, error) {
	userID, err := uuid.Parse(doc.UserID)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return &Payment{
		StripePaymentIntentID: doc.StripePaymentIntentID,
		UserID:                userID,
		Amount:                doc.Amount,
		Currency:              doc.Currency,
		Status:                Status(doc.Status),
		FailureMessage:        doc.FailureMessage,
		PaidAt:                doc.PaidAt,
		CreatedAt:             doc.CreatedAt,
		UpdatedAt:             doc.UpdatedAt,
	}, nil
}
