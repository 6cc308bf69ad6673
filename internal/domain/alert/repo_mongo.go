package alert

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/asha/records/internal/platform/apperr"
)

const alertCollection = "emergency_alerts"

type mongoAlert struct {
	ID    string `bson:"_id"`
	Alert `bson:",inline"`
}

func (d *mongoAlert) alert() *Alert {
	a := d.Alert
	a.ID = d.ID
	return &a
}

type alertRepoMongo struct {
	coll *mongo.Collection
}

func NewAlertRepoMongo(db *mongo.Database) Repository {
	return &alertRepoMongo{coll: db.Collection(alertCollection)}
}

// EnsureAlertIndexes creates the list indexes.
func EnsureAlertIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(alertCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "district", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "block", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "raisedBy", Value: 1}}},
	})
	if err != nil {
		return apperr.Storage("create alert indexes", err)
	}
	return nil
}

func (r *alertRepoMongo) Create(ctx context.Context, a *Alert) error {
	a.ID = uuid.New().String()
	a.Version = 1
	if _, err := r.coll.InsertOne(ctx, &mongoAlert{ID: a.ID, Alert: *a}); err != nil {
		return apperr.Storage("create alert", err)
	}
	return nil
}

func (r *alertRepoMongo) GetByID(ctx context.Context, id string) (*Alert, error) {
	var doc mongoAlert
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &apperr.NotFoundError{Resource: "alert", Key: id}
	}
	if err != nil {
		return nil, apperr.Storage("get alert", err)
	}
	return doc.alert(), nil
}

func (r *alertRepoMongo) Update(ctx context.Context, a *Alert) error {
	expected := a.Version
	a.Version++
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": a.ID, "version": expected}, &mongoAlert{ID: a.ID, Alert: *a})
	if err != nil {
		a.Version = expected
		return apperr.Storage("update alert", err)
	}
	if res.MatchedCount == 0 {
		a.Version = expected
		if _, err := r.GetByID(ctx, a.ID); err != nil {
			return err
		}
		return &apperr.ConflictError{Field: "version"}
	}
	return nil
}

func (r *alertRepoMongo) List(ctx context.Context, q Query) ([]*Alert, int, error) {
	filter := bson.M{}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	if q.District != "" {
		filter["district"] = q.District
	}
	if q.Block != "" {
		filter["block"] = q.Block
	}
	if q.RaisedBy != "" {
		filter["raisedBy"] = q.RaisedBy
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Storage("list alerts", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, apperr.Storage("list alerts", err)
	}
	defer cur.Close(ctx)

	out := []*Alert{}
	for cur.Next(ctx) {
		var doc mongoAlert
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, apperr.Storage("list alerts", err)
		}
		out = append(out, doc.alert())
	}
	if err := cur.Err(); err != nil {
		return nil, 0, apperr.Storage("list alerts", err)
	}
	return out, int(total), nil
}
