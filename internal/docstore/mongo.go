package docstore

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoDoc is the stored shape: {_id: key, version: n, body: {...fields}}.
type mongoDoc struct {
	ID      string   `bson:"_id"`
	Version int64    `bson:"version"`
	Body    bson.Raw `bson:"body"`
}

// MongoBackend maps each collection to a MongoDB collection of the same name.
type MongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
}

func ConnectMongo(ctx context.Context, uri, database string) (*MongoBackend, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "docstore.ConnectMongo.Connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "docstore.ConnectMongo.Ping")
	}
	return &MongoBackend{client: client, db: client.Database(database)}, nil
}

func (b *MongoBackend) Load(ctx context.Context, collection, key string) (*Document, error) {
	var stored mongoDoc
	err := b.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&stored)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "docstore.mongo.Load")
	}
	return fromMongo(collection, &stored)
}

func (b *MongoBackend) Commit(ctx context.Context, doc *Document, expected int64) error {
	body, err := toMongoBody(doc)
	if err != nil {
		return err
	}
	coll := b.db.Collection(doc.Collection)

	if expected == 0 {
		_, err := coll.InsertOne(ctx, bson.D{
			{Key: "_id", Value: doc.Key},
			{Key: "version", Value: doc.Version},
			{Key: "body", Value: body},
		})
		if mongo.IsDuplicateKeyError(err) {
			return ErrVersionConflict
		}
		return errors.Wrap(err, "docstore.mongo.Commit.InsertOne")
	}

	res, err := coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: doc.Key}, {Key: "version", Value: expected}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "version", Value: doc.Version},
			{Key: "body", Value: body},
		}}},
	)
	if err != nil {
		return errors.Wrap(err, "docstore.mongo.Commit.UpdateOne")
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (b *MongoBackend) Close() error {
	return b.client.Disconnect(context.Background())
}

// Feed returns a change-stream feed over the same database. Change streams
// need a replica set or sharded cluster.
func (b *MongoBackend) Feed(logger *log.Logger) *MongoFeed {
	if logger == nil {
		logger = log.Default()
	}
	return &MongoFeed{db: b.db, logger: logger.WithPrefix("mongofeed")}
}

// Fields travel as relaxed extended JSON so the stored body stays a
// queryable BSON document.
func toMongoBody(doc *Document) (bson.D, error) {
	raw, err := doc.body()
	if err != nil {
		return nil, err
	}
	var body bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &body); err != nil {
		return nil, errors.Wrap(err, "docstore.mongo.encodeBody")
	}
	return body, nil
}

func fromMongo(collection string, stored *mongoDoc) (*Document, error) {
	if len(stored.Body) == 0 {
		return decodeBody(collection, stored.ID, stored.Version, nil)
	}
	raw, err := bson.MarshalExtJSON(stored.Body, false, false)
	if err != nil {
		return nil, errors.Wrap(err, "docstore.mongo.decodeBody")
	}
	return decodeBody(collection, stored.ID, stored.Version, raw)
}

// MongoFeed watches one document through a change stream. Publish is a no-op:
// the server emits the change itself.
type MongoFeed struct {
	db     *mongo.Database
	logger *log.Logger
}

type changeEvent struct {
	FullDocument *mongoDoc `bson:"fullDocument"`
}

func (f *MongoFeed) Publish(context.Context, *Document) error { return nil }

func (f *MongoFeed) Watch(ctx context.Context, collection, key string, fn func(*Document)) (Cancel, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: key}}}},
	}
	watchCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := f.db.Collection(collection).Watch(watchCtx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		stop()
		return nil, errors.Wrap(err, "mongofeed.Watch")
	}

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(watchCtx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				f.logger.Warn("dropping undecodable change", "collection", collection, "key", key, "err", err)
				continue
			}
			if ev.FullDocument == nil {
				continue
			}
			doc, err := fromMongo(collection, ev.FullDocument)
			if err != nil {
				f.logger.Warn("dropping undecodable change", "collection", collection, "key", key, "err", err)
				continue
			}
			fn(doc)
		}
		if err := stream.Err(); err != nil && watchCtx.Err() == nil {
			f.logger.Error("change stream ended", "collection", collection, "key", key, "err", err)
		}
	}()

	var once sync.Once
	return func() { once.Do(stop) }, nil
}

func (f *MongoFeed) Close() error { return nil }
