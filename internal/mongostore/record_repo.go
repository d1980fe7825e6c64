// Package mongostore keeps session records in MongoDB for deployments where
// several processes share one record store.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/abhisek/chapterquiz/internal/session"
)

// DefaultCollection holds one document per (student, chapter).
const DefaultCollection = "session_records"

// recordDoc is the stored shape. The record itself is kept as JSON so the
// SQLite and Mongo backends decode it the same way.
type recordDoc struct {
	ID        string    `bson:"_id"`
	StudentID string    `bson:"student_id"`
	ChapterID string    `bson:"chapter_id"`
	Version   int64     `bson:"version"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// RecordRepo implements session.RecordRepo on a Mongo collection.
type RecordRepo struct {
	collection *mongo.Collection
}

var _ session.RecordRepo = (*RecordRepo)(nil)

// Connect opens a client for uri and pings it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// NewRecordRepo returns a repository over db.collection.
func NewRecordRepo(db *mongo.Database, collection string) *RecordRepo {
	if collection == "" {
		collection = DefaultCollection
	}
	return &RecordRepo{collection: db.Collection(collection)}
}

// InitializeIndexes creates the indexes the repository relies on.
func (r *RecordRepo) InitializeIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "student_id", Value: 1},
				{Key: "chapter_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func docID(studentID, chapterID string) string {
	return studentID + "/" + chapterID
}

func (r *RecordRepo) Load(ctx context.Context, studentID, chapterID string) (*session.Record, error) {
	var doc recordDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": docID(studentID, chapterID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find session record: %w", err)
	}
	return fromDoc(doc)
}

func (r *RecordRepo) Save(ctx context.Context, rec *session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	doc := recordDoc{
		ID:        docID(rec.StudentID, rec.ChapterID),
		StudentID: rec.StudentID,
		ChapterID: rec.ChapterID,
		Version:   rec.Version + 1,
		Data:      string(data),
		UpdatedAt: rec.UpdatedAt,
	}

	if rec.Version == 0 {
		_, err := r.collection.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return session.ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("insert session record: %w", err)
		}
		rec.Version++
		return nil
	}

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": rec.Version}, doc)
	if err != nil {
		return fmt.Errorf("replace session record: %w", err)
	}
	if res.MatchedCount == 0 {
		return session.ErrVersionConflict
	}
	rec.Version++
	return nil
}

func (r *RecordRepo) EachRecord(ctx context.Context, fn func(studentID string, rec *session.Record, decodeErr error) error) error {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "student_id", Value: 1},
		{Key: "chapter_id", Value: 1},
	})
	cursor, err := r.collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return fmt.Errorf("find session records: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc recordDoc
		if err := cursor.Decode(&doc); err != nil {
			studentID, _ := cursor.Current.Lookup("student_id").StringValueOK()
			if err := fn(studentID, nil, fmt.Errorf("decode document: %w", err)); err != nil {
				return err
			}
			continue
		}
		rec, decErr := fromDoc(doc)
		if err := fn(doc.StudentID, rec, decErr); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("iterate session records: %w", err)
	}
	return nil
}

func fromDoc(doc recordDoc) (*session.Record, error) {
	rec, err := session.DecodeRecord([]byte(doc.Data))
	if err != nil {
		return nil, err
	}
	rec.StudentID = doc.StudentID
	rec.ChapterID = doc.ChapterID
	rec.Version = doc.Version
	return rec, nil
}
