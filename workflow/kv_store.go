package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// ExecutionsBucket is the default KV bucket name for executions.
const ExecutionsBucket = "EXECUTIONS"

// KVStore persists executions in a JetStream KV bucket, one key per
// execution id. KV revisions back Execution.Revision.
type KVStore struct {
	bucket jetstream.KeyValue
}

// NewKVStore creates or binds the executions bucket.
func NewKVStore(ctx context.Context, nc *natsclient.Client, bucketName string) (*KVStore, error) {
	if nc == nil {
		return nil, fmt.Errorf("NATS client required")
	}
	if bucketName == "" {
		bucketName = ExecutionsBucket
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	// CreateOrUpdateKeyValue is idempotent and handles race conditions
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: "Workflow executions tracked by the autonomy scheduler",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}

	return NewKVStoreWithBucket(bucket), nil
}

// NewKVStoreWithBucket wraps an existing KV bucket.
func NewKVStoreWithBucket(bucket jetstream.KeyValue) *KVStore {
	return &KVStore{bucket: bucket}
}

// Get retrieves an execution by id.
func (s *KVStore) Get(ctx context.Context, id string) (*Execution, error) {
	entry, err := s.bucket.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return decodeEntry(entry)
}

// List retrieves all executions matching the filter, ordered by id.
func (s *KVStore) List(ctx context.Context, filter ListFilter) ([]*Execution, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		// Empty bucket returns ErrNoKeysFound - this is not an error
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []*Execution{}, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	execs := make([]*Execution, 0, len(keys))
	for _, key := range keys {
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			// Deleted between Keys and Get
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get execution %s: %w", key, err)
		}
		exec, err := decodeEntry(entry)
		if err != nil {
			return nil, err
		}
		if filter.Matches(exec) {
			execs = append(execs, exec)
		}
	}

	sort.Slice(execs, func(i, j int) bool { return execs[i].ID < execs[j].ID })
	return execs, nil
}

// Save writes the execution, creating it when Revision is zero and
// otherwise updating only if the stored revision still matches.
func (s *KVStore) Save(ctx context.Context, exec *Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution id is required")
	}

	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	var rev uint64
	if exec.Revision == 0 {
		rev, err = s.bucket.Create(ctx, exec.ID, data)
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: %s already exists", ErrConflict, exec.ID)
		}
	} else {
		rev, err = s.bucket.Update(ctx, exec.ID, data, exec.Revision)
		if isWrongSequence(err) {
			return fmt.Errorf("%w: %s at revision %d", ErrConflict, exec.ID, exec.Revision)
		}
	}
	if err != nil {
		return fmt.Errorf("put execution: %w", err)
	}

	exec.Revision = rev
	return nil
}

func decodeEntry(entry jetstream.KeyValueEntry) (*Execution, error) {
	var exec Execution
	if err := json.Unmarshal(entry.Value(), &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution %s: %w", entry.Key(), err)
	}
	exec.Revision = entry.Revision()
	return &exec, nil
}

func isWrongSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
