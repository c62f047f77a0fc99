package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
	"github.com/redis/go-redis/v9"
)

type (
	// Store persists workflow definitions and the uploaded-file index
	// in Redis
	Store struct {
		client redis.UniversalClient
		prefix string
	}
)

var (
	ErrNotFound     = errors.New("workflow not found")
	ErrFileNotFound = errors.New("file not found")
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

func (s *Store) wfKey(id api.WorkflowID) string {
	return fmt.Sprintf("%s:wf:%s", s.prefix, id)
}

func (s *Store) fileKey(id string) string {
	return fmt.Sprintf("%s:file:%s", s.prefix, id)
}

func (s *Store) wfSet() string {
	return s.prefix + ":wfs"
}

func (s *Store) fileSet() string {
	return s.prefix + ":files"
}

// Save persists a workflow, stamping its timestamps
func (s *Store) Save(ctx context.Context, wf *api.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	raw, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.wfKey(wf.ID), raw, 0)
	pipe.SAdd(ctx, s.wfSet(), string(wf.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// Get loads one workflow
func (s *Store) Get(
	ctx context.Context, id api.WorkflowID,
) (*api.Workflow, error) {
	raw, err := s.client.Get(ctx, s.wfKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	var wf api.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", id, err)
	}
	return &wf, nil
}

// List returns all workflows, newest first
func (s *Store) List(ctx context.Context) ([]*api.Workflow, error) {
	ids, err := s.client.SMembers(ctx, s.wfSet()).Result()
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	res := make([]*api.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.Get(ctx, api.WorkflowID(id))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, wf)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].UpdatedAt.After(res[j].UpdatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// AddFile records an upload in the file index
func (s *Store) AddFile(ctx context.Context, info *api.FileInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.fileKey(info.ID), raw, 0)
	pipe.SAdd(ctx, s.fileSet(), info.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index file %s: %w", info.ID, err)
	}
	return nil
}

// GetFile loads one upload record
func (s *Store) GetFile(
	ctx context.Context, id string,
) (*api.FileInfo, error) {
	raw, err := s.client.Get(ctx, s.fileKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	var info api.FileInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode file %s: %w", id, err)
	}
	return &info, nil
}

// Files lists upload records, newest first
func (s *Store) Files(ctx context.Context) ([]*api.FileInfo, error) {
	ids, err := s.client.SMembers(ctx, s.fileSet()).Result()
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	res := make([]*api.FileInfo, 0, len(ids))
	for _, id := range ids {
		info, err := s.GetFile(ctx, id)
		if errors.Is(err, ErrFileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, info)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].UploadedAt.Equal(res[j].UploadedAt) {
			return res[i].UploadedAt.After(res[j].UploadedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}
