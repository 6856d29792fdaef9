// Package search implements filtered Mongo queries over persisted runs
// for operator-facing run listings. runstore/mongo.Store's ListActive and
// ListByWorkOrder query the collection directly and do not use this
// package. Grounded on features/run/mongo/search/repository.go, adapted
// from session/org/principal filters to run/work-order/state filters.
package search

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentgate/core/fsm"
	"github.com/agentgate/core/run"
)

const defaultLimit = 50

// SortField enumerates supported sort fields for run listings.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
)

// Cursor encodes keyset pagination state.
type Cursor struct {
	Timestamp time.Time
	ID        bson.ObjectID
}

// Query captures filters for a run listing.
type Query struct {
	WorkOrderIDs []string
	States       []fsm.State
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	SortField    SortField
	Descending   bool
	Limit        int
	Cursor       *Cursor
}

// Record is one row of a run search result, carrying the Mongo document
// id needed to build the next page's Cursor.
type Record struct {
	Run        *run.Run
	DocumentID bson.ObjectID
}

// Result wraps a page of Records and the cursor for the next page, nil
// when this page was the last one.
type Result struct {
	Records    []Record
	NextCursor *Cursor
}

// Repository exposes indexed run searches backed by a Mongo collection.
type Repository struct {
	runs    *mongo.Collection
	timeout time.Duration
}

// NewRepository constructs a Repository over the given runs collection.
func NewRepository(runs *mongo.Collection, timeout time.Duration) (*Repository, error) {
	if runs == nil {
		return nil, errors.New("search: runs collection is required")
	}
	return &Repository{runs: runs, timeout: timeout}, nil
}

// Runs returns run records matching q, newest page first unless q.Descending is false.
func (r *Repository) Runs(ctx context.Context, q Query) (Result, error) {
	filter := buildFilter(q)
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}
	sortField := q.SortField
	if sortField == "" {
		sortField = SortByCreatedAt
	}
	order := 1
	if q.Descending {
		order = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: string(sortField), Value: order}, {Key: "_id", Value: order}}).SetLimit(limit)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	cur, err := r.runs.Find(ctx, filter, opts)
	if err != nil {
		return Result{}, err
	}
	defer cur.Close(ctx)

	var result Result
	for cur.Next(ctx) {
		var doc runSearchDoc
		if err := cur.Decode(&doc); err != nil {
			return Result{}, err
		}
		result.Records = append(result.Records, Record{Run: doc.toRun(), DocumentID: doc.ID})
	}
	if err := cur.Err(); err != nil {
		return Result{}, err
	}
	if len(result.Records) == int(limit) {
		last := result.Records[len(result.Records)-1]
		result.NextCursor = &Cursor{Timestamp: sortTimestamp(last.Run, sortField), ID: last.DocumentID}
	}
	return result, nil
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func buildFilter(q Query) bson.M {
	filter := bson.M{}
	if len(q.WorkOrderIDs) > 0 {
		filter["work_order_id"] = bson.M{"$in": q.WorkOrderIDs}
	}
	if len(q.States) > 0 {
		filter["state"] = bson.M{"$in": q.States}
	}
	if q.CreatedFrom != nil || q.CreatedTo != nil {
		rng := bson.M{}
		if q.CreatedFrom != nil {
			rng["$gte"] = *q.CreatedFrom
		}
		if q.CreatedTo != nil {
			rng["$lte"] = *q.CreatedTo
		}
		filter["created_at"] = rng
	}
	if cursor := q.Cursor; cursor != nil {
		field := string(q.SortField)
		if field == "" {
			field = string(SortByCreatedAt)
		}
		cmp := "$gt"
		if q.Descending {
			cmp = "$lt"
		}
		filter["$or"] = bson.A{
			bson.M{field: bson.M{cmp: cursor.Timestamp}},
			bson.M{field: cursor.Timestamp, "_id": bson.M{cmp: cursor.ID}},
		}
	}
	return filter
}

func sortTimestamp(r *run.Run, field SortField) time.Time {
	if field == SortByUpdatedAt {
		return r.UpdatedAt
	}
	return r.CreatedAt
}

type runSearchDoc struct {
	ID            bson.ObjectID          `bson:"_id"`
	RunID         string                 `bson:"run_id"`
	WorkOrderID   string                 `bson:"work_order_id"`
	WorkspaceID   string                 `bson:"workspace_id"`
	State         fsm.State              `bson:"state"`
	Result        run.Result             `bson:"result,omitempty"`
	Iteration     int                    `bson:"iteration"`
	MaxIterations int                    `bson:"max_iterations"`
	CreatedAt     time.Time              `bson:"created_at"`
	UpdatedAt     time.Time              `bson:"updated_at"`
	History       []run.TransitionRecord `bson:"history,omitempty"`
}

func (d runSearchDoc) toRun() *run.Run {
	return &run.Run{
		ID:            d.RunID,
		WorkOrderID:   d.WorkOrderID,
		WorkspaceID:   d.WorkspaceID,
		State:         d.State,
		Result:        d.Result,
		Iteration:     d.Iteration,
		MaxIterations: d.MaxIterations,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		History:       d.History,
	}
}
