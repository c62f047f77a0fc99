package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
	"github.com/redis/go-redis/v9"
)

type (
	// Store persists run records and their append-only event logs in
	// Redis. Status transitions go through a check-and-set loop so
	// concurrent writers cannot skip the run-state protocol
	Store struct {
		client redis.UniversalClient
		prefix string
	}

	// MutateFunc edits a run record inside a transition. Returning an
	// error aborts the write and surfaces unchanged
	MutateFunc func(*api.RunRecord) error
)

const casAttempts = 8

var (
	ErrRunExists    = errors.New("run already exists")
	ErrCASExhausted = errors.New("too much contention on run record")
)

func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "agentflow"
	}
	return &Store{
		client: client,
		prefix: prefix,
	}
}

func (s *Store) runKey(id api.RunID) string {
	return fmt.Sprintf("%s:run:%s", s.prefix, id)
}

func (s *Store) eventsKey(id api.RunID) string {
	return fmt.Sprintf("%s:events:%s", s.prefix, id)
}

func (s *Store) seqKey(id api.RunID) string {
	return fmt.Sprintf("%s:seq:%s", s.prefix, id)
}

// Create stores a new run record. The run id must be unused
func (s *Store) Create(ctx context.Context, run *api.RunRecord) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.runKey(run.RunID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.RunID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunExists, run.RunID)
	}
	return nil
}

// Get loads a run record
func (s *Store) Get(
	ctx context.Context, id api.RunID,
) (*api.RunRecord, error) {
	raw, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", api.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var run api.RunRecord
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}

// Mutate applies fn to the run record under WATCH and writes the result
// back atomically, retrying on contention
func (s *Store) Mutate(
	ctx context.Context, id api.RunID, fn MutateFunc,
) (*api.RunRecord, error) {
	key := s.runKey(id)
	var res *api.RunRecord
	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", api.ErrRunNotFound, id)
		}
		if err != nil {
			return err
		}
		var run api.RunRecord
		if err := json.Unmarshal(raw, &run); err != nil {
			return err
		}
		if err := fn(&run); err != nil {
			return err
		}
		out, err := json.Marshal(&run)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err != nil {
			return err
		}
		res = &run
		return nil
	}
	for i := 0; i < casAttempts; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrCASExhausted, id)
}

// Transition moves the run to a new status if the run-state protocol
// allows it, returning the updated record. An illegal transition
// surfaces as a status conflict
func (s *Store) Transition(
	ctx context.Context, id api.RunID, to api.RunStatus,
) (*api.RunRecord, error) {
	return s.Mutate(ctx, id, func(run *api.RunRecord) error {
		if !run.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s",
				api.ErrStatusConflict, run.Status, to)
		}
		if to.IsTerminal() {
			run.End(to)
		} else {
			run.Status = to
		}
		return nil
	})
}

// AppendEvent appends one event to the run's log, assigning the next
// sequence number. The stored event is returned; the input is not
// mutated
func (s *Store) AppendEvent(
	ctx context.Context, id api.RunID, ev *api.RunEvent,
) (*api.RunEvent, error) {
	seq, err := s.client.Incr(ctx, s.seqKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("next seq for %s: %w", id, err)
	}
	stored := *ev
	stored.Seq = seq
	raw, err := json.Marshal(&stored)
	if err != nil {
		return nil, err
	}
	if err := s.client.RPush(
		ctx, s.eventsKey(id), raw,
	).Err(); err != nil {
		return nil, fmt.Errorf("append event for %s: %w", id, err)
	}
	return &stored, nil
}

// Events returns the logged events with Seq greater than afterSeq, in
// append order
func (s *Store) Events(
	ctx context.Context, id api.RunID, afterSeq int64,
) ([]*api.RunEvent, error) {
	raws, err := s.client.LRange(ctx, s.eventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", id, err)
	}
	res := make([]*api.RunEvent, 0, len(raws))
	for _, raw := range raws {
		var ev api.RunEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode event for %s: %w", id, err)
		}
		if ev.Seq > afterSeq {
			res = append(res, &ev)
		}
	}
	return res, nil
}
