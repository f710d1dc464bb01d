package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"source_recovery/internal/config"
	"source_recovery/internal/logger"
	"source_recovery/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB stores one document per question. Multi-record writes use a
// session transaction, so the server must run as a replica set.
type MongoDB struct {
	client    *mongo.Client
	database  *mongo.Database
	questions *mongo.Collection
	log       *logger.Logger
}

func NewMongoDB(ctx context.Context, cfg config.DBConfig, log *logger.Logger) (*MongoDB, error) {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	database := client.Database(cfg.Database)
	d := &MongoDB{
		client:    client,
		database:  database,
		questions: database.Collection(cfg.Collections.Questions),
		log:       log,
	}

	if err := d.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("can't create indices: %w", err)
	}
	return d, nil
}

func (d *MongoDB) createIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "question_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "is_missing_source", Value: 1}}},
		{Keys: bson.D{{Key: "selection_batch", Value: 1}}},
	}
	for _, m := range indexes {
		if _, err := d.questions.Indexes().CreateOne(ctx, m); err != nil && !d.keepExistingIndex(err, m.Keys) {
			return err
		}
	}
	return nil
}

// keepExistingIndex reports whether err is an IndexOptionsConflict, which
// means an index on the same keys already exists with other options.
func (d *MongoDB) keepExistingIndex(err error, keys interface{}) bool {
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Code != 85 {
		return false
	}
	d.log.Warn("index options conflict, keeping existing index", "keys", keys, "error", cmdErr.Message)
	return true
}

func mongoFilter(f Filter) bson.M {
	q := bson.M{}
	if f.Dataset != "" {
		q["dataset"] = f.Dataset
	}
	if f.Batch != "" {
		q["selection_batch"] = f.Batch
	}
	tri := func(key string, t Tri) {
		switch t {
		case Yes:
			q[key] = true
		case No:
			q[key] = false
		}
	}
	tri("is_missing_source", f.MissingSource)
	tri("source_recovery_attempted", f.Attempted)
	tri("is_selected_for_research", f.Selected)
	return q
}

func (d *MongoDB) Get(ctx context.Context, id string) (models.QuestionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc models.RecordDocument
	err := d.questions.FindOne(ctx, bson.M{"question_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.QuestionRecord{}, ErrNotFound
	}
	if err != nil {
		return models.QuestionRecord{}, err
	}
	return doc.Record(), nil
}

func (d *MongoDB) Find(ctx context.Context, f Filter) ([]models.QuestionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "question_id", Value: 1}})
	cursor, err := d.questions.Find(ctx, mongoFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("find questions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.QuestionRecord
	for cursor.Next(ctx) {
		var doc models.RecordDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.Record())
	}
	return out, cursor.Err()
}

func (d *MongoDB) Create(ctx context.Context, r models.QuestionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := d.questions.InsertOne(ctx, models.ToDocument(r))
	if mongo.IsDuplicateKeyError(err) {
		return ErrExists
	}
	return err
}

// ApplyRecovery writes all recovery fields with one $set; a single
// document update is atomic in MongoDB.
func (d *MongoDB) ApplyRecovery(ctx context.Context, id, text string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var r models.QuestionRecord
	r.ApplyRecovery(text, at)
	update := bson.M{"$set": bson.M{
		"source_material":           r.SourceMaterial(),
		"is_missing_source":         r.IsMissingSource(),
		"source_recovery_attempted": true,
		"source_recovery_date":      at,
	}}
	res, err := d.questions.UpdateOne(ctx, bson.M{"question_id": id}, update)
	if err != nil {
		return fmt.Errorf("apply recovery %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *MongoDB) CommitSelection(ctx context.Context, ids []string, batch string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	session, err := d.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		filter := bson.M{"question_id": bson.M{"$in": ids}, "is_selected_for_research": false}
		update := bson.M{"$set": bson.M{
			"is_selected_for_research": true,
			"selection_batch":          batch,
			"selection_date":           at,
		}}
		res, err := d.questions.UpdateMany(sc, filter, update)
		if err != nil {
			return nil, err
		}
		if int(res.ModifiedCount) != len(ids) {
			return nil, fmt.Errorf("%w: matched %d of %d", ErrSelectionConflict, res.ModifiedCount, len(ids))
		}
		return nil, nil
	})
	return err
}

func (d *MongoDB) ClearSelection(ctx context.Context, batch string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	filter := bson.M{"is_selected_for_research": true}
	if batch != "" {
		filter["selection_batch"] = batch
	}
	update := bson.M{
		"$set":   bson.M{"is_selected_for_research": false, "selection_batch": ""},
		"$unset": bson.M{"selection_date": ""},
	}

	session, err := d.client.StartSession()
	if err != nil {
		return 0, err
	}
	defer session.EndSession(ctx)

	n, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := d.questions.UpdateMany(sc, filter, update)
		if err != nil {
			return 0, err
		}
		return int(res.ModifiedCount), nil
	})
	if err != nil {
		return 0, fmt.Errorf("clear selection: %w", err)
	}
	return n.(int), nil
}

func (d *MongoDB) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}
