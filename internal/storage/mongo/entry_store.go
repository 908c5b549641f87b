// Package mongostore provides a MongoDB-backed solves.EntryStore.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/JakeFAU/leetdaily/internal/solves"
)

const (
	defaultCollection      = "dailyproblems"
	defaultFetchCollection = "problemfetches"
)

// Config controls the Mongo connection and collection names.
type Config struct {
	URI             string
	Database        string
	Collection      string
	FetchCollection string
	Location        *time.Location
}

// document.ID is any because documents written by the earlier Node service
// carry ObjectID keys.
type document struct {
	ID        any       `bson:"_id"`
	Username  string    `bson:"username"`
	Date      time.Time `bson:"date"`
	Problems  []string  `bson:"problems"`
	FetchedAt time.Time `bson:"fetchedAt"`
}

// EntryStore keeps upserted entries in one collection with a unique
// (username, date) index and insert-only runs in another.
type EntryStore struct {
	client  *mongo.Client
	daily   *mongo.Collection
	fetches *mongo.Collection
	loc     *time.Location
}

// New connects to Mongo and returns an EntryStore.
func New(ctx context.Context, cfg Config) (*EntryStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo.uri is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = "leetcode"
	}
	store, err := NewWithDatabase(client.Database(dbName), cfg.Collection, cfg.FetchCollection, cfg.Location)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// NewWithDatabase builds a store on an existing database handle (primarily for testing).
func NewWithDatabase(db *mongo.Database, collection, fetchCollection string, loc *time.Location) (*EntryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	if fetchCollection == "" {
		fetchCollection = defaultFetchCollection
	}
	if collection == fetchCollection {
		return nil, fmt.Errorf("collection and fetch collection must differ")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &EntryStore{
		client:  db.Client(),
		daily:   db.Collection(collection),
		fetches: db.Collection(fetchCollection),
		loc:     loc,
	}, nil
}

// Close disconnects the client.
func (s *EntryStore) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// EnsureSchema creates the unique daily index and the fetch lookup index.
// Collections written by the earlier service may hold several documents per
// (username, date); those are collapsed into one before the unique index is
// retried.
func (s *EntryStore) EnsureSchema(ctx context.Context) error {
	keys := bson.D{{Key: "username", Value: 1}, {Key: "date", Value: 1}}
	daily := mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(true).SetName("username_date_unique"),
	}
	_, err := s.daily.Indexes().CreateOne(ctx, daily)
	if mongo.IsDuplicateKeyError(err) {
		if err := s.collapseDuplicates(ctx); err != nil {
			return err
		}
		_, err = s.daily.Indexes().CreateOne(ctx, daily)
	}
	if err != nil {
		return fmt.Errorf("create daily index: %w", err)
	}
	if _, err := s.fetches.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName("username_date"),
	}); err != nil {
		return fmt.Errorf("create fetch index: %w", err)
	}
	return nil
}

type duplicateGroup struct {
	IDs       []any      `bson:"ids"`
	Problems  [][]string `bson:"problems"`
	FetchedAt time.Time  `bson:"fetchedAt"`
}

// collapseDuplicates keeps the oldest document of every (username, date)
// group, unions the group's titles into it in fetch order and deletes the rest.
func (s *EntryStore) collapseDuplicates(ctx context.Context) error {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "fetchedAt", Value: 1}, {Key: "_id", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "username", Value: "$username"}, {Key: "date", Value: "$date"}}},
			{Key: "ids", Value: bson.D{{Key: "$push", Value: "$_id"}}},
			{Key: "problems", Value: bson.D{{Key: "$push", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$problems", bson.A{}}}}}}},
			{Key: "fetchedAt", Value: bson.D{{Key: "$max", Value: "$fetchedAt"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "count", Value: bson.D{{Key: "$gt", Value: 1}}}}}},
	}
	cur, err := s.daily.Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("find duplicate entries: %w", err)
	}
	var groups []duplicateGroup
	if err := cur.All(ctx, &groups); err != nil {
		return fmt.Errorf("decode duplicate entries: %w", err)
	}

	for _, g := range groups {
		if len(g.IDs) < 2 {
			continue
		}
		keep := g.IDs[0]
		update := bson.D{{Key: "$set", Value: bson.D{
			{Key: "problems", Value: unionTitles(g.Problems)},
			{Key: "fetchedAt", Value: g.FetchedAt},
		}}}
		if _, err := s.daily.UpdateOne(ctx, bson.D{{Key: "_id", Value: keep}}, update); err != nil {
			return fmt.Errorf("merge duplicate entries: %w", err)
		}
		if _, err := s.daily.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: g.IDs[1:]}}}}); err != nil {
			return fmt.Errorf("delete duplicate entries: %w", err)
		}
	}
	return nil
}

func unionTitles(groups [][]string) []string {
	var out []string
	for _, titles := range groups {
		out = solves.MergeTitles(out, titles)
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// Insert records one run as its own document.
func (s *EntryStore) Insert(ctx context.Context, entry solves.Entry) (solves.Entry, error) {
	if entry.ID == "" {
		return solves.Entry{}, fmt.Errorf("entry id is required")
	}
	doc := toDocument(entry)
	if _, err := s.fetches.InsertOne(ctx, doc); err != nil {
		return solves.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return s.toEntry(doc), nil
}

// Merge upserts the (username, date) document with $addToSet, which the
// server applies atomically per document. Two concurrent first writers can
// race on the unique index; the loser retries once and lands on the
// winner's document.
func (s *EntryStore) Merge(ctx context.Context, entry solves.Entry) (solves.Entry, error) {
	if entry.ID == "" {
		return solves.Entry{}, fmt.Errorf("entry id is required")
	}
	doc := toDocument(entry)
	filter := bson.D{{Key: "username", Value: doc.Username}, {Key: "date", Value: doc.Date}}
	update := bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: "problems", Value: bson.D{{Key: "$each", Value: doc.Problems}}}}},
		{Key: "$set", Value: bson.D{{Key: "fetchedAt", Value: doc.FetchedAt}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "_id", Value: doc.ID}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var merged document
	err := s.daily.FindOneAndUpdate(ctx, filter, update, opts).Decode(&merged)
	if mongo.IsDuplicateKeyError(err) {
		merged = document{}
		err = s.daily.FindOneAndUpdate(ctx, filter, update, opts).Decode(&merged)
	}
	if err != nil {
		return solves.Entry{}, fmt.Errorf("merge entry: %w", err)
	}
	return s.toEntry(merged), nil
}

// Find lists both collections' documents for the day, oldest fetch first.
func (s *EntryStore) Find(ctx context.Context, username string, day time.Time) ([]solves.Entry, error) {
	filter := bson.D{{Key: "username", Value: username}, {Key: "date", Value: day.UTC()}}
	opts := options.Find().SetSort(bson.D{{Key: "fetchedAt", Value: 1}})

	var out []solves.Entry
	for _, coll := range []*mongo.Collection{s.daily, s.fetches} {
		cur, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, fmt.Errorf("find entries in %s: %w", coll.Name(), err)
		}
		var docs []document
		if err := cur.All(ctx, &docs); err != nil {
			return nil, fmt.Errorf("decode entries from %s: %w", coll.Name(), err)
		}
		for _, d := range docs {
			out = append(out, s.toEntry(d))
		}
	}
	slices.SortStableFunc(out, func(a, b solves.Entry) int {
		return a.FetchedAt.Compare(b.FetchedAt)
	})
	return out, nil
}

// Ping checks connectivity against the primary.
func (s *EntryStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return errors.New("mongo client is not configured")
	}
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

func toDocument(e solves.Entry) document {
	problems := e.Problems
	if problems == nil {
		problems = []string{}
	}
	return document{
		ID:        e.ID,
		Username:  e.Username,
		Date:      e.Day.UTC(),
		Problems:  problems,
		FetchedAt: e.FetchedAt.UTC(),
	}
}

func (s *EntryStore) toEntry(d document) solves.Entry {
	return solves.Entry{
		ID:        documentID(d.ID),
		Username:  d.Username,
		Day:       d.Date.In(s.loc),
		Problems:  append([]string(nil), d.Problems...),
		FetchedAt: d.FetchedAt,
	}
}

func documentID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case primitive.ObjectID:
		return v.Hex()
	default:
		return fmt.Sprint(v)
	}
}
