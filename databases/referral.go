package databases

// go generate: mockery --name ReferralDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tokenfight/tokenfight-api/models"
)

const referralCollectionName = "referrals"

// ReferralDatabase contains the methods to use with the referral database
type ReferralDatabase interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Referral, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Referral, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	InsertOne(ctx context.Context, referral models.Referral, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	Aggregate(ctx context.Context, pipeline interface{}) (CursorHelper, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error
}

type referralDatabase struct {
	db DatabaseHelper
}

// NewReferralDatabase initializes a new instance of referral database with the provided db connection
func NewReferralDatabase(db DatabaseHelper) ReferralDatabase {
	return &referralDatabase{
		db: db,
	}
}

func (r *referralDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Referral, error) {
	referral := &models.Referral{}
	err := r.db.Collection(referralCollectionName).FindOne(ctx, filter, opts...).Decode(&referral)
	if err != nil {
		return nil, err
	}
	return referral, nil
}

func (r *referralDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Referral, error) {
	var referrals []models.Referral
	cur, err := r.db.Collection(referralCollectionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&referrals)
	if err != nil {
		return nil, err
	}
	return referrals, nil
}

func (r *referralDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	count, err := r.db.Collection(referralCollectionName).CountDocuments(ctx, filter, opts...)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *referralDatabase) InsertOne(ctx context.Context, referral models.Referral, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return r.db.Collection(referralCollectionName).InsertOne(ctx, referral, opts...)
}

func (r *referralDatabase) Aggregate(ctx context.Context, pipeline interface{}) (CursorHelper, error) {
	return r.db.Collection(referralCollectionName).Aggregate(ctx, pipeline)
}

func (r *referralDatabase) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error {
	return r.db.Collection(referralCollectionName).DeleteOne(ctx, filter, opts...)
}
