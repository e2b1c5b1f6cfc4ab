package database

import (
	"context"
	"fmt"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ViolationsCollection is the MongoDB collection holding the ledger.
const ViolationsCollection = "violations"

// ViolationStore is the MongoDB-backed violation ledger.
type ViolationStore struct {
	coll *mongo.Collection
}

func NewViolationStore(db *mongo.Database) *ViolationStore {
	return &ViolationStore{coll: db.Collection(ViolationsCollection)}
}

// EnsureIndexes creates the indexes every ledger query relies on.
func (s *ViolationStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "violation_type", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create violation indexes: %w", err)
	}
	return nil
}

func (s *ViolationStore) InsertViolation(ctx context.Context, v *models.ViolationRecord) error {
	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	_, err := s.coll.InsertOne(ctx, v)
	return err
}

func (s *ViolationStore) CountViolations(ctx context.Context, userID string) (int, error) {
	count, err := s.coll.CountDocuments(ctx, bson.M{"user_id": userIDMatch(userID)})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *ViolationStore) RecentViolations(ctx context.Context, userID string, limit int) ([]models.ViolationRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, bson.M{"user_id": userIDMatch(userID)}, opts)
	if err != nil {
		return nil, err
	}
	return decodeViolations(ctx, cursor)
}

func (s *ViolationStore) ListViolations(ctx context.Context, filter models.ViolationFilter, page models.Page) ([]models.ViolationRecord, int64, error) {
	query := violationQuery(filter)

	total, err := s.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(page.Skip)).
		SetLimit(int64(page.Limit))

	cursor, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	records, err := decodeViolations(ctx, cursor)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// violationQuery turns an admin filter into a MongoDB query. Legacy
// documents take part through the fields they actually carry.
func violationQuery(filter models.ViolationFilter) bson.M {
	query := bson.M{}
	var and []bson.M

	if filter.UserID != "" {
		query["user_id"] = userIDMatch(filter.UserID)
	}
	switch filter.Type {
	case "":
	case models.ViolationTypeModerationFlag:
		// Legacy kinds are all read back as moderation flags.
		and = append(and, bson.M{"$or": bson.A{
			bson.M{"violation_type": filter.Type},
			legacyOnly(),
		}})
	default:
		query["violation_type"] = filter.Type
	}
	if filter.Resolved != nil {
		if *filter.Resolved {
			query["is_resolved"] = true
		} else {
			query["is_resolved"] = bson.M{"$ne": true}
		}
	}
	if !filter.Since.IsZero() {
		and = append(and, sinceMatch(filter.Since))
	}

	switch len(and) {
	case 0:
	case 1:
		for k, v := range and[0] {
			query[k] = v
		}
	default:
		query["$and"] = and
	}
	return query
}

// userIDMatch also matches legacy owners stored as ObjectIDs. Current user
// ids are uuids and never parse as an ObjectID.
func userIDMatch(userID string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(userID); err == nil {
		return bson.M{"$in": bson.A{userID, oid}}
	}
	return userID
}

func legacyOnly() bson.M {
	return bson.M{
		"violation_type": bson.M{"$exists": false},
		"type":           bson.M{"$exists": true},
	}
}

// sinceMatch filters on timestamp, falling back to created_at for legacy
// documents that have no timestamp.
func sinceMatch(since time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"timestamp": bson.M{"$gte": since}},
		bson.M{
			"timestamp":  bson.M{"$exists": false},
			"created_at": bson.M{"$gte": since},
		},
	}}
}

// statsPipeline aggregates the window with legacy documents counted the way
// the read adapter maps them: moderation flags of severity 3.
func statsPipeline(since time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: sinceMatch(since)}},
		{{Key: "$facet", Value: bson.M{
			"by_type": bson.A{
				bson.M{"$group": bson.M{
					"_id":   bson.M{"$ifNull": bson.A{"$violation_type", models.ViolationTypeModerationFlag}},
					"count": bson.M{"$sum": 1},
				}},
			},
			"totals": bson.A{
				bson.M{"$group": bson.M{
					"_id":          nil,
					"total":        bson.M{"$sum": 1},
					"avg_severity": bson.M{"$avg": bson.M{"$ifNull": bson.A{"$severity_level", models.SeverityHigh}}},
					"users":        bson.M{"$addToSet": "$user_id"},
				}},
				bson.M{"$project": bson.M{
					"total":        1,
					"avg_severity": 1,
					"unique_users": bson.M{"$size": bson.M{"$setDifference": bson.A{"$users", bson.A{nil}}}},
				}},
			},
		}}},
	}
}

type statsFacet struct {
	ByType []struct {
		Type  models.ViolationType `bson:"_id"`
		Count int                  `bson:"count"`
	} `bson:"by_type"`
	Totals []struct {
		Total       int     `bson:"total"`
		AvgSeverity float64 `bson:"avg_severity"`
		UniqueUsers int     `bson:"unique_users"`
	} `bson:"totals"`
}

func (s *ViolationStore) ViolationStats(ctx context.Context, since time.Time) (models.ViolationStats, error) {
	pipeline := statsPipeline(since)

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return models.ViolationStats{}, err
	}
	defer cursor.Close(ctx)

	var facets []statsFacet
	if err := cursor.All(ctx, &facets); err != nil {
		return models.ViolationStats{}, err
	}

	stats := models.ViolationStats{Since: since, ByType: map[models.ViolationType]int{}}
	if len(facets) == 0 {
		return stats, nil
	}
	for _, t := range facets[0].ByType {
		stats.ByType[t.Type] = t.Count
	}
	if len(facets[0].Totals) > 0 {
		totals := facets[0].Totals[0]
		stats.TotalCount = totals.Total
		stats.AvgSeverity = totals.AvgSeverity
		stats.UniqueUserCount = totals.UniqueUsers
	}
	return stats, nil
}

func (s *ViolationStore) ResolveViolation(ctx context.Context, id, adminID string, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: invalid id %q", models.ErrViolationNotFound, id)
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"is_resolved": true,
		"resolved_by": adminID,
		"resolved_at": at,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrViolationNotFound
	}
	return nil
}

func decodeViolations(ctx context.Context, cursor *mongo.Cursor) ([]models.ViolationRecord, error) {
	defer cursor.Close(ctx)

	records := make([]models.ViolationRecord, 0)
	for cursor.Next(ctx) {
		var doc storedViolation
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode violation: %w", err)
		}
		records = append(records, doc.record())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// storedViolation reads both the current document shape and the legacy one
// written by the old blocked-content filter (type, message, created_at,
// action_taken and an ObjectID or null user_id).
type storedViolation struct {
	ID                   primitive.ObjectID   `bson:"_id"`
	Timestamp            time.Time            `bson:"timestamp"`
	UserID               bson.RawValue        `bson:"user_id"`
	IPAddress            string               `bson:"ip_address"`
	UserAgent            string               `bson:"user_agent"`
	ViolationType        models.ViolationType `bson:"violation_type"`
	DetectedWord         string               `bson:"detected_word"`
	Reason               string               `bson:"reason"`
	SeverityLevel        int                  `bson:"severity_level"`
	MessageContent       string               `bson:"message_content"`
	ModerationCategories map[string]float64   `bson:"moderation_categories"`
	IsResolved           bool                 `bson:"is_resolved"`
	ResolvedBy           string               `bson:"resolved_by"`
	ResolvedAt           *time.Time           `bson:"resolved_at"`

	LegacyType      string    `bson:"type"`
	LegacyMessage   string    `bson:"message"`
	LegacyCreatedAt time.Time `bson:"created_at"`
	LegacyAction    string    `bson:"action_taken"`
}

// legacyCategories maps the old violation kinds to classifier categories.
var legacyCategories = map[string]string{
	"threat":    "violence",
	"self_harm": "self-harm",
}

// record converts a stored document into the current model. Legacy
// documents are mapped here and nowhere else.
func (d storedViolation) record() models.ViolationRecord {
	r := models.ViolationRecord{
		ID:                   d.ID,
		Timestamp:            d.Timestamp,
		UserID:               rawUserID(d.UserID),
		IPAddress:            d.IPAddress,
		UserAgent:            d.UserAgent,
		ViolationType:        d.ViolationType,
		DetectedWord:         d.DetectedWord,
		Reason:               d.Reason,
		SeverityLevel:        d.SeverityLevel,
		MessageContent:       d.MessageContent,
		ModerationCategories: d.ModerationCategories,
		IsResolved:           d.IsResolved,
		ResolvedBy:           d.ResolvedBy,
		ResolvedAt:           d.ResolvedAt,
	}
	if d.ViolationType != "" || d.LegacyType == "" {
		return r
	}

	category, ok := legacyCategories[d.LegacyType]
	if !ok {
		category = d.LegacyType
	}
	r.ViolationType = models.ViolationTypeModerationFlag
	r.ModerationCategories = map[string]float64{category: 1}
	r.SeverityLevel = models.SeverityHigh
	r.Reason = "Legacy " + d.LegacyType + " violation"
	if d.LegacyAction != "" {
		r.Reason += " (action taken: " + d.LegacyAction + ")"
	}
	if r.MessageContent == "" {
		r.MessageContent = d.LegacyMessage
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = d.LegacyCreatedAt
	}
	return r
}

func rawUserID(v bson.RawValue) string {
	switch v.Type {
	case bsontype.String:
		return v.StringValue()
	case bsontype.ObjectID:
		return v.ObjectID().Hex()
	default:
		return ""
	}
}
