// Package store provides MongoDB persistence for search analytics and the CNAE
// mirror.
//
// Collections (all in database "lead_api"):
//   - cnae_searches  – one document per search (TTL: 90 days)
//   - cnae_analytics – one document per code selection (TTL: 90 days)
//   - cnaes          – mirror of the registry catalog, upserted by codigo
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

const (
	dbName           = "lead_api"
	searchesCol      = "cnae_searches"
	selectionsCol    = "cnae_analytics"
	cnaesCol         = "cnaes"
	eventTTLDays     = 90
	mirrorBatchLimit = 1000

	duplicateKeyCode = 11000
)

// Client wraps a MongoDB client.
type Client struct {
	mc  *mongo.Client
	mdb *mongo.Database
}

// New connects to MongoDB and returns a store Client.
func New(ctx context.Context, uri string) (*Client, error) {
	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: mongo connect: %w", err)
	}
	if err := mc.Ping(ctx, nil); err != nil {
		_ = mc.Disconnect(ctx)
		return nil, fmt.Errorf("store: mongo ping: %w", err)
	}

	c := &Client{mc: mc, mdb: mc.Database(dbName)}
	if err := c.ensureIndices(ctx); err != nil {
		_ = mc.Disconnect(ctx)
		return nil, err
	}
	return c, nil
}

// Disconnect cleanly closes the MongoDB connection.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.mc.Disconnect(ctx)
}

func (c *Client) ensureIndices(ctx context.Context) error {
	ttl := int32(eventTTLDays * 24 * 3600)
	for _, col := range []string{searchesCol, selectionsCol} {
		models := []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "timestamp", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(ttl),
			},
		}
		if col == selectionsCol {
			models = append(models, mongo.IndexModel{Keys: bson.D{{Key: "cnae_code", Value: 1}}})
		}
		if _, err := c.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("store: %s indices: %w", col, err)
		}
	}

	if _, err := c.mdb.Collection(cnaesCol).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "codigo", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("store: cnaes indices: %w", err)
	}
	return nil
}

// ─── Events ───────────────────────────────────────────────────────────────────

// Insert writes analytics events, routed to their collection by Kind. Events of an
// unknown kind are rejected.
func (c *Client) Insert(ctx context.Context, events []domain.Event) error {
	byCol, err := routeEvents(events)
	if err != nil {
		return err
	}
	for col, docs := range byCol {
		// Unordered so a retried batch skips ids that already landed.
		_, err := c.mdb.Collection(col).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if err != nil && !onlyDuplicateKeys(err) {
			return fmt.Errorf("store: insert %s: %w", col, err)
		}
	}
	return nil
}

func routeEvents(events []domain.Event) (map[string][]any, error) {
	out := make(map[string][]any, 2)
	for _, e := range events {
		var col string
		switch e.Kind {
		case domain.EventSearch:
			col = searchesCol
		case domain.EventSelection:
			col = selectionsCol
		default:
			return nil, fmt.Errorf("store: unknown event kind %q", e.Kind)
		}
		out[col] = append(out[col], e)
	}
	return out, nil
}

func onlyDuplicateKeys(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

// ─── Reports ──────────────────────────────────────────────────────────────────

func since(days int) time.Time {
	return time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

// TopCodes returns the most selected codes over the last days, most frequent first.
func (c *Client) TopCodes(ctx context.Context, limit, days int) ([]domain.TopCode, error) {
	cursor, err := c.mdb.Collection(selectionsCol).Aggregate(ctx, topCodesPipeline(limit, since(days)))
	if err != nil {
		return nil, fmt.Errorf("store: top codes: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.TopCode
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: top codes decode: %w", err)
	}
	return out, nil
}

func topCodesPipeline(limit int, from time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"timestamp": bson.M{"$gte": from}}}},
		{{Key: "$group", Value: bson.M{
			"_id":         "$cnae_code",
			"description": bson.M{"$first": "$cnae_description"},
			"count":       bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
	}
}

// SearchStats summarizes search events over the last days.
func (c *Client) SearchStats(ctx context.Context, days int) (domain.SearchStats, error) {
	cursor, err := c.mdb.Collection(searchesCol).Aggregate(ctx, searchStatsPipeline(since(days)))
	if err != nil {
		return domain.SearchStats{}, fmt.Errorf("store: search stats: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total       int     `bson:"total"`
		AvgResponse float64 `bson:"avg_response"`
		AvgResults  float64 `bson:"avg_results"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return domain.SearchStats{}, fmt.Errorf("store: search stats decode: %w", err)
	}
	if len(rows) == 0 {
		return domain.SearchStats{}, nil
	}
	return domain.SearchStats{
		TotalSearches:   rows[0].Total,
		AvgResponseTime: int(rows[0].AvgResponse + 0.5),
		AvgResults:      int(rows[0].AvgResults + 0.5),
	}, nil
}

func searchStatsPipeline(from time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"timestamp": bson.M{"$gte": from}}}},
		{{Key: "$group", Value: bson.M{
			"_id":          nil,
			"total":        bson.M{"$sum": 1},
			"avg_response": bson.M{"$avg": "$response_time_ms"},
			"avg_results":  bson.M{"$avg": "$results_count"},
		}}},
	}
}

// AIAccuracy reports, over the last days, how often the selected code had been
// suggested and how often it was the first result.
func (c *Client) AIAccuracy(ctx context.Context, days int) (domain.AIAccuracy, error) {
	cursor, err := c.mdb.Collection(selectionsCol).Aggregate(ctx, aiAccuracyPipeline(since(days)))
	if err != nil {
		return domain.AIAccuracy{}, fmt.Errorf("store: ai accuracy: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total       int `bson:"total"`
		AISuggested int `bson:"ai_suggested"`
		TopPosition int `bson:"top_position"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return domain.AIAccuracy{}, fmt.Errorf("store: ai accuracy decode: %w", err)
	}
	if len(rows) == 0 || rows[0].Total == 0 {
		return domain.AIAccuracy{}, nil
	}
	r := rows[0]
	return domain.AIAccuracy{
		Total:           r.Total,
		AISuggestedRate: float64(r.AISuggested) / float64(r.Total),
		TopPositionRate: float64(r.TopPosition) / float64(r.Total),
	}, nil
}

func aiAccuracyPipeline(from time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"timestamp": bson.M{"$gte": from}}}},
		{{Key: "$group", Value: bson.M{
			"_id":          nil,
			"total":        bson.M{"$sum": 1},
			"ai_suggested": bson.M{"$sum": bson.M{"$cond": bson.A{"$is_ai_suggested", 1, 0}}},
			"top_position": bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$lte": bson.A{"$position", 3}}, 1, 0}}},
		}}},
	}
}

// ─── CNAE mirror (lead_api.cnaes) ─────────────────────────────────────────────

// LoadCNAEs returns the mirrored catalog ordered by code.
func (c *Client) LoadCNAEs(ctx context.Context) ([]domain.ClassificationEntry, error) {
	cursor, err := c.mdb.Collection(cnaesCol).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "codigo", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("store: load cnaes: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []domain.ClassificationEntry
	for cursor.Next(ctx) {
		var e domain.ClassificationEntry
		if err := cursor.Decode(&e); err == nil && e.Code != "" {
			entries = append(entries, e)
		}
	}
	return entries, cursor.Err()
}

// SaveCNAEs upserts every entry by code.
func (c *Client) SaveCNAEs(ctx context.Context, entries []domain.ClassificationEntry) error {
	col := c.mdb.Collection(cnaesCol)
	for start := 0; start < len(entries); start += mirrorBatchLimit {
		batch := entries[start:min(start+mirrorBatchLimit, len(entries))]
		_, err := col.BulkWrite(ctx, upsertModels(batch), options.BulkWrite().SetOrdered(false))
		if err != nil {
			return fmt.Errorf("store: save cnaes: %w", err)
		}
	}
	return nil
}

func upsertModels(entries []domain.ClassificationEntry) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(entries))
	for _, e := range entries {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"codigo": e.Code}).
			SetUpdate(bson.M{"$set": e}).
			SetUpsert(true))
	}
	return models
}
