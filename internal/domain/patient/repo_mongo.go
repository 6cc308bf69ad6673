package patient

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/asha/records/internal/platform/apperr"
)

const patientCollection = "patients"

// mongoPatient stores Patient inline with the id as _id.
type mongoPatient struct {
	ID      string `bson:"_id"`
	Patient `bson:",inline"`
}

func (d *mongoPatient) patient() *Patient {
	p := d.Patient
	p.ID = d.ID
	return &p
}

type patientRepoMongo struct {
	coll *mongo.Collection
}

// NewPatientRepoMongo returns a Repository over the patients collection.
// Call EnsurePatientIndexes once at startup.
func NewPatientRepoMongo(db *mongo.Database) Repository {
	return &patientRepoMongo{coll: db.Collection(patientCollection)}
}

// EnsurePatientIndexes creates the uniqueness and lookup indexes.
func EnsurePatientIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(patientCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "healthId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(constraintHealthID),
		},
		{
			Keys: bson.D{{Key: "aadhaarNumber", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(constraintAadhaar).
				SetPartialFilterExpression(bson.M{"aadhaarNumber": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "phone", Value: 1}}},
		{Keys: bson.D{{Key: "address.district", Value: 1}, {Key: "address.block", Value: 1}, {Key: "address.village", Value: 1}}},
		{Keys: bson.D{{Key: "registrationDate", Value: -1}}},
		{Keys: bson.D{{Key: "registeredBy", Value: 1}}},
	})
	if err != nil {
		return apperr.Storage("create patient indexes", err)
	}
	return nil
}

func mongoWriteErr(op string, p *Patient, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), constraintAadhaar) {
			return &apperr.ConflictError{Field: "aadhaarNumber"}
		}
		return &apperr.ConflictError{Field: "healthId", Value: p.HealthID}
	}
	return apperr.Storage(op, err)
}

var notDeleted = bson.M{"$exists": false}

func (r *patientRepoMongo) Create(ctx context.Context, p *Patient) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	normalize(p)
	p.Version = 1
	if _, err := r.coll.InsertOne(ctx, &mongoPatient{ID: p.ID, Patient: *p}); err != nil {
		return mongoWriteErr("create patient", p, err)
	}
	return nil
}

func (r *patientRepoMongo) findOne(ctx context.Context, key string, filter bson.M) (*Patient, error) {
	var doc mongoPatient
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &apperr.NotFoundError{Resource: "patient", Key: key}
	}
	if err != nil {
		return nil, apperr.Storage("get patient", err)
	}
	return doc.patient(), nil
}

func (r *patientRepoMongo) GetByID(ctx context.Context, id string) (*Patient, error) {
	return r.findOne(ctx, id, bson.M{"_id": id})
}

func (r *patientRepoMongo) GetByHealthID(ctx context.Context, healthID string) (*Patient, error) {
	return r.findOne(ctx, healthID, bson.M{"healthId": healthID, "status": StatusActive, "deletedAt": notDeleted})
}

func (r *patientRepoMongo) GetByAadhaar(ctx context.Context, aadhaar string) (*Patient, error) {
	return r.findOne(ctx, "with that aadhaar", bson.M{"aadhaarNumber": aadhaar, "status": StatusActive, "deletedAt": notDeleted})
}

func (r *patientRepoMongo) Update(ctx context.Context, p *Patient) error {
	normalize(p)
	expected := p.Version
	p.Version = expected + 1

	res, err := r.coll.ReplaceOne(ctx,
		bson.M{"_id": p.ID, "version": expected, "deletedAt": notDeleted},
		&mongoPatient{ID: p.ID, Patient: *p},
	)
	if err != nil {
		p.Version = expected
		return mongoWriteErr("update patient", p, err)
	}
	if res.MatchedCount == 0 {
		p.Version = expected
		cur, err := r.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		if cur.IsDeleted() {
			return &apperr.NotFoundError{Resource: "patient", Key: p.ID}
		}
		return &apperr.ConflictError{Field: "version"}
	}
	return nil
}

func (r *patientRepoMongo) push(ctx context.Context, id, key string, item interface{}, by string, at time.Time) (*Patient, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc mongoPatient
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "deletedAt": notDeleted},
		bson.M{
			"$push": bson.M{key: item},
			"$set":  bson.M{"lastModified": at, "modifiedBy": by},
			"$inc":  bson.M{"version": 1},
		},
		opts,
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	if err != nil {
		return nil, apperr.Storage("append "+key, err)
	}
	return doc.patient(), nil
}

func (r *patientRepoMongo) AppendVisit(ctx context.Context, id string, v Visit, by string, at time.Time) (*Patient, error) {
	return r.push(ctx, id, "visits", v, by, at)
}

func (r *patientRepoMongo) AppendImmunization(ctx context.Context, id string, im Immunization, by string, at time.Time) (*Patient, error) {
	return r.push(ctx, id, "immunizationRecords", im, by, at)
}

func (r *patientRepoMongo) SoftDelete(ctx context.Context, id, by string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "deletedAt": notDeleted},
		bson.M{
			"$set": bson.M{
				"status": StatusInactive, "deletedAt": at, "deletedBy": by,
				"lastModified": at, "modifiedBy": by,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return apperr.Storage("delete patient", err)
	}
	if res.MatchedCount == 0 {
		return &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	return nil
}

func mongoFilter(f Filter) bson.M {
	m := bson.M{"deletedAt": notDeleted}
	if f.District != "" {
		m["address.district"] = f.District
	}
	if f.Block != "" {
		m["address.block"] = f.Block
	}
	if f.Village != "" {
		m["address.village"] = f.Village
	}
	return m
}

func (r *patientRepoMongo) Search(ctx context.Context, q Query) ([]*Patient, int, error) {
	filter := mongoFilter(q.Filter)
	status := q.Status
	if status == "" {
		status = StatusActive
	}
	if status != "all" {
		filter["status"] = status
	}
	if q.RegisteredBy != "" {
		filter["registeredBy"] = q.RegisteredBy
	}
	if len(q.RiskLevels) > 0 {
		filter["riskAssessment.riskLevel"] = bson.M{"$in": q.RiskLevels}
	}
	if q.Text != "" {
		rx := bson.Regex{Pattern: regexp.QuoteMeta(q.Text), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"fullName": rx},
			bson.M{"healthId": rx},
			bson.M{"phone": rx},
			bson.M{"aadhaarNumber": rx},
		}
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Storage("search patients", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "registrationDate", Value: -1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, apperr.Storage("search patients", err)
	}
	defer cur.Close(ctx)

	out := []*Patient{}
	for cur.Next(ctx) {
		var doc mongoPatient
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, apperr.Storage("search patients", err)
		}
		out = append(out, doc.patient())
	}
	if err := cur.Err(); err != nil {
		return nil, 0, apperr.Storage("search patients", err)
	}
	return out, int(total), nil
}

func (r *patientRepoMongo) Scan(ctx context.Context, f Filter, fn func(*Patient) error) error {
	filter := mongoFilter(f)
	filter["status"] = StatusActive
	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return apperr.Storage("scan patients", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc mongoPatient
		if err := cur.Decode(&doc); err != nil {
			return apperr.Storage("scan patients", err)
		}
		if err := fn(doc.patient()); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return apperr.Storage("scan patients", err)
	}
	return nil
}

func (r *patientRepoMongo) CountAll(ctx context.Context, f Filter) (int, error) {
	n, err := r.coll.CountDocuments(ctx, mongoFilter(f))
	if err != nil {
		return 0, apperr.Storage("count patients", err)
	}
	return int(n), nil
}
