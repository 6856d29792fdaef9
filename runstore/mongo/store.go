// Package mongo provides a MongoDB-backed runstore.Store, so Run
// records and their transition history survive process restarts.
// Grounded on features/run/mongo/store.go and clients/mongo/client.go's
// collection-wrapper/versioned-document pattern, generalized from a
// flat session record to a Run with append-only TransitionRecord
// history and a separate iteration collection.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentgate/core/fsm"
	"github.com/agentgate/core/run"
	"github.com/agentgate/core/runstore"
)

const (
	defaultRunsCollection       = "agentgate_runs"
	defaultIterationsCollection = "agentgate_iterations"
	defaultOpTimeout            = 5 * time.Second

	// schemaVersion is bumped whenever runDocument's shape changes in a
	// way that requires a migration. It is written into every document's
	// version field; runstore.Validate does not read it.
	schemaVersion = 1
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client               *mongodriver.Client
	Database             string
	RunsCollection       string
	IterationsCollection string
	Timeout              time.Duration
}

// Store implements runstore.Store over MongoDB.
type Store struct {
	runs       *mongodriver.Collection
	iterations *mongodriver.Collection
	timeout    time.Duration
}

// NewStore constructs a Store, creating the unique run_id index on the
// runs collection if it does not already exist.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("runstore/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("runstore/mongo: database is required")
	}
	runsColl := opts.RunsCollection
	if runsColl == "" {
		runsColl = defaultRunsCollection
	}
	iterColl := opts.IterationsCollection
	if iterColl == "" {
		iterColl = defaultIterationsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	runs := db.Collection(runsColl)
	iterations := db.Collection(iterColl)

	idxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := runs.Indexes().CreateOne(idxCtx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	if _, err := runs.Indexes().CreateOne(idxCtx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "work_order_id", Value: 1}},
	}); err != nil {
		return nil, err
	}

	return &Store{runs: runs, iterations: iterations, timeout: timeout}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

type runDocument struct {
	Version       int                     `bson:"version"`
	RunID         string                  `bson:"run_id"`
	WorkOrderID   string                  `bson:"work_order_id"`
	WorkspaceID   string                  `bson:"workspace_id"`
	State         fsm.State               `bson:"state"`
	Result        run.Result              `bson:"result,omitempty"`
	Iteration     int                     `bson:"iteration"`
	MaxIterations int                     `bson:"max_iterations"`
	SessionID     string                  `bson:"session_id,omitempty"`
	PRURL         string                  `bson:"pr_url,omitempty"`
	CreatedAt     time.Time               `bson:"created_at"`
	UpdatedAt     time.Time               `bson:"updated_at"`
	History       []run.TransitionRecord  `bson:"history,omitempty"`
}

func fromRun(r *run.Run) runDocument {
	return runDocument{
		Version:       schemaVersion,
		RunID:         r.ID,
		WorkOrderID:   r.WorkOrderID,
		WorkspaceID:   r.WorkspaceID,
		State:         r.State,
		Result:        r.Result,
		Iteration:     r.Iteration,
		MaxIterations: r.MaxIterations,
		SessionID:     r.SessionID,
		PRURL:         r.PRURL,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		History:       r.History,
	}
}

func (d runDocument) toRun() *run.Run {
	return &run.Run{
		ID:            d.RunID,
		WorkOrderID:   d.WorkOrderID,
		WorkspaceID:   d.WorkspaceID,
		State:         d.State,
		Result:        d.Result,
		Iteration:     d.Iteration,
		MaxIterations: d.MaxIterations,
		SessionID:     d.SessionID,
		PRURL:         d.PRURL,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		History:       d.History,
	}
}

func (s *Store) Create(ctx context.Context, r *run.Run) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.runs.InsertOne(ctx, fromRun(r))
	return err
}

func (s *Store) Get(ctx context.Context, runID string) (*run.Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	if err := s.runs.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, runstore.ErrNotFound
		}
		return nil, err
	}
	return doc.toRun(), nil
}

// UpdateWithTransition loads the run, applies the fsm transition, and
// writes the new state plus appended history back with a filter that
// only matches while the stored state is still the one it read, so two
// concurrent writers for the same run-id cannot silently clobber each
// other's transition. FEEDBACK_GENERATED also increments Iteration.
func (s *Store) UpdateWithTransition(ctx context.Context, runID string, evt fsm.Event, metadata map[string]any) (*run.Run, error) {
	for {
		current, err := s.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		to, err := fsm.Apply(current.State, evt)
		if err != nil {
			return nil, err
		}

		now := time.Now()
		record := run.TransitionRecord{Event: evt, To: to, At: now, Metadata: metadata}

		setFields := bson.M{"state": to, "updated_at": now}
		result := current.Result
		if to.Terminal() {
			if r, ok := run.ResultForTransition(evt); ok {
				result = r
				setFields["result"] = r
			}
		}

		update := bson.M{
			"$set":  setFields,
			"$push": bson.M{"history": record},
		}
		if evt == fsm.EventFeedbackGenerated {
			update["$inc"] = bson.M{"iteration": 1}
		}

		opCtx, cancel := s.withTimeout(ctx)
		res, err := s.runs.UpdateOne(opCtx, bson.M{"run_id": runID, "state": current.State}, update)
		cancel()
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			// Another writer changed the state between our read and
			// write; retry against the fresh state.
			continue
		}
		current.State = to
		current.UpdatedAt = now
		if evt == fsm.EventFeedbackGenerated {
			current.Iteration++
		}
		current.Result = result
		current.History = append(current.History, record)
		return current, nil
	}
}

func (s *Store) AppendIteration(ctx context.Context, runID string, iter run.Iteration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := bson.M{"run_id": runID, "iteration": iter}
	if _, err := s.iterations.InsertOne(ctx, doc); err != nil {
		return err
	}
	_, err := s.runs.UpdateOne(ctx, bson.M{"run_id": runID}, bson.M{
		"$set": bson.M{"iteration": iter.Index, "updated_at": time.Now()},
	})
	return err
}

func (s *Store) ListActive(ctx context.Context) ([]*run.Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"state": bson.M{"$nin": bson.A{fsm.Succeeded, fsm.Failed, fsm.Canceled}}}
	return s.listWithFilter(ctx, filter)
}

func (s *Store) ListByWorkOrder(ctx context.Context, workOrderID string) ([]*run.Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.listWithFilter(ctx, bson.M{"work_order_id": workOrderID})
}

func (s *Store) listWithFilter(ctx context.Context, filter bson.M) ([]*run.Run, error) {
	cur, err := s.runs.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*run.Run
	for cur.Next(ctx) {
		var doc runDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRun())
	}
	return out, cur.Err()
}
