package databases

// go generate: mockery --name JobLockDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const jobLockCollectionName = "jobLocks"

// JobLockDatabase hands out best-effort distributed locks so scheduled jobs
// run on a single instance at a time.
type JobLockDatabase interface {
	TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, holder string) error
}

type jobLockDatabase struct {
	db DatabaseHelper
}

// NewJobLockDatabase initializes a new instance of job lock database with the provided db connection
func NewJobLockDatabase(db DatabaseHelper) JobLockDatabase {
	return &jobLockDatabase{
		db: db,
	}
}

// TryAcquireLock claims the named lock for holder. The upsert only matches an
// expired lock document; a live lock held elsewhere surfaces as a duplicate
// key error on the upsert, which means "not acquired", not a failure.
func (j *jobLockDatabase) TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	filter := bson.M{
		"_id":       name,
		"expiresAt": bson.M{"$lt": now},
	}
	update := bson.M{
		"$set": bson.M{
			"holder":    holder,
			"expiresAt": now.Add(ttl),
		},
	}
	res, err := j.db.Collection(jobLockCollectionName).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

// ReleaseLock expires the lock if this holder still owns it.
func (j *jobLockDatabase) ReleaseLock(ctx context.Context, name, holder string) error {
	filter := bson.M{"_id": name, "holder": holder}
	update := bson.M{"$set": bson.M{"expiresAt": time.Now()}}
	_, err := j.db.Collection(jobLockCollectionName).UpdateOne(ctx, filter, update)
	return err
}
