package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type (
	MongoConfig struct {
		URI        string `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
		Database   string `yaml:"database" env:"MONGO_DB" env-default:"IsraelArchive"`
		Collection string `yaml:"collection" env:"MONGO_COLLECTION" env-default:"media"`
	}

	mediaDocument struct {
		ID        string    `bson:"_id"`
		Filename  string    `bson:"filename"`
		Metadata  Metadata  `bson:"metadata"`
		CreatedAt time.Time `bson:"created_at"`
	}

	// MongoStore is a document-store implementation of the catalog, with one
	// document per record. MongoDB only supports multi-document transactions
	// against replica sets, so this store does not implement BatchInserter.
	MongoStore struct {
		client     *mongo.Client
		collection *mongo.Collection
		clock      *monotonicClock
	}
)

// NewMongoStore connects to the MongoDB deployment described by the config and
// ensures the indexes required by the catalog exist.
func NewMongoStore(ctx context.Context, config MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	collection := client.Database(config.Database).Collection(config.Collection)
	_, err = collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "filename", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create mongo indexes: %w", err)
	}

	log.Emit(logger.SUCCESS, "Connected to mongo catalog %s.%s\n", config.Database, config.Collection)
	return &MongoStore{client: client, collection: collection, clock: newMonotonicClock()}, nil
}

func (store *MongoStore) Insert(ctx context.Context, record NewRecord) (*MediaRecord, error) {
	if err := record.Validate(); err != nil {
		return nil, wrapErr("insert", err)
	}

	created := record.toMediaRecord(store.clock.Next())
	if _, err := store.collection.InsertOne(ctx, recordToDocument(created)); err != nil {
		return nil, wrapErr("insert", err)
	}

	log.Emit(logger.NEW, "Inserted media record %s (%s)\n", created.ID, created.Filename)
	return created, nil
}

// List returns every record in the catalog, ordered by the time of insertion (oldest
// first), with the record ID used to break any ties.
func (store *MongoStore) List(ctx context.Context) ([]*MediaRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := store.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, wrapErr("list", err)
	}

	var docs []mediaDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr("list", err)
	}

	output := make([]*MediaRecord, 0, len(docs))
	for _, doc := range docs {
		record, err := documentToRecord(&doc)
		if err != nil {
			log.Emit(logger.WARNING, "Skipping malformed media document %s: %v\n", doc.ID, err)
			continue
		}
		output = append(output, record)
	}

	return output, nil
}

func (store *MongoStore) FindByID(ctx context.Context, id uuid.UUID) (*MediaRecord, error) {
	var doc mediaDocument
	if err := store.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}

		return nil, wrapErr("lookup", err)
	}

	record, err := documentToRecord(&doc)
	if err != nil {
		return nil, wrapErr("lookup", err)
	}

	return record, nil
}

func (store *MongoStore) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := store.collection.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return false, wrapErr("delete", err)
	}

	if res.DeletedCount > 0 {
		log.Emit(logger.REMOVE, "Deleted media record %s\n", id)
	}
	return res.DeletedCount > 0, nil
}

func (store *MongoStore) Close(ctx context.Context) error {
	return store.client.Disconnect(ctx)
}

func recordToDocument(record *MediaRecord) *mediaDocument {
	return &mediaDocument{
		ID:        record.ID.String(),
		Filename:  record.Filename,
		Metadata:  record.Metadata,
		CreatedAt: record.CreatedAt,
	}
}

func documentToRecord(doc *mediaDocument) (*MediaRecord, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("document id '%s' is not a valid UUID: %w", doc.ID, err)
	}

	meta := doc.Metadata
	if meta.Tags == nil {
		meta.Tags = []string{}
	}

	return &MediaRecord{ID: id, Filename: doc.Filename, Metadata: meta, CreatedAt: doc.CreatedAt.UTC()}, nil
}
