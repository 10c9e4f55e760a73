package databases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tokenfight/tokenfight-api/databases"
	"github.com/tokenfight/tokenfight-api/databases/mocks"
)

func TestJobLockDatabase_TryAcquireLock(t *testing.T) {

	var dbHelper databases.DatabaseHelper
	var collectionHelper databases.CollectionHelper

	dbHelper = &mocks.DatabaseHelper{}
	collectionHelper = &mocks.CollectionHelper{}

	collectionHelper.(*mocks.CollectionHelper).
		On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{UpsertedCount: 1}, nil)

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "jobLocks").Return(collectionHelper)

	lockDba := databases.NewJobLockDatabase(dbHelper)

	acquired, err := lockDba.TryAcquireLock(context.Background(), "reconcile", "instance-1", 10*time.Minute)

	assert.NoError(t, err)
	assert.True(t, acquired)
}

func TestJobLockDatabase_TryAcquireLockHeldElsewhere(t *testing.T) {

	var dbHelper databases.DatabaseHelper
	var collectionHelper databases.CollectionHelper

	dbHelper = &mocks.DatabaseHelper{}
	collectionHelper = &mocks.CollectionHelper{}

	// a live lock makes the upsert collide with the existing document
	dupErr := mongo.WriteException{
		WriteErrors: mongo.WriteErrors{{Code: 11000}},
	}

	collectionHelper.(*mocks.CollectionHelper).
		On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, dupErr)

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "jobLocks").Return(collectionHelper)

	lockDba := databases.NewJobLockDatabase(dbHelper)

	acquired, err := lockDba.TryAcquireLock(context.Background(), "reconcile", "instance-2", 10*time.Minute)

	assert.NoError(t, err)
	assert.False(t, acquired)
}

func TestJobLockDatabase_TryAcquireLockError(t *testing.T) {

	var dbHelper databases.DatabaseHelper
	var collectionHelper databases.CollectionHelper

	dbHelper = &mocks.DatabaseHelper{}
	collectionHelper = &mocks.CollectionHelper{}

	collectionHelper.(*mocks.CollectionHelper).
		On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("mocked-error"))

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "jobLocks").Return(collectionHelper)

	lockDba := databases.NewJobLockDatabase(dbHelper)

	acquired, err := lockDba.TryAcquireLock(context.Background(), "reconcile", "instance-3", 10*time.Minute)

	assert.EqualError(t, err, "mocked-error")
	assert.False(t, acquired)
}

func TestJobLockDatabase_ReleaseLock(t *testing.T) {

	var dbHelper databases.DatabaseHelper
	var collectionHelper databases.CollectionHelper

	dbHelper = &mocks.DatabaseHelper{}
	collectionHelper = &mocks.CollectionHelper{}

	collectionHelper.(*mocks.CollectionHelper).
		On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "jobLocks").Return(collectionHelper)

	lockDba := databases.NewJobLockDatabase(dbHelper)

	err := lockDba.ReleaseLock(context.Background(), "reconcile", "instance-1")

	assert.NoError(t, err)
}
