package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomworks/loom/pkg/api"
)

type (
	// Redis is the production Store backed by a Redis instance. Execution
	// updates use optimistic WATCH transactions so status transitions and
	// result appends are a single atomic write that cannot race with the
	// stale sweep
	Redis struct {
		client *redis.Client
		prefix string
	}

	// RedisConfig holds connection settings for the Redis store
	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}
)

const txMaxAttempts = 8

var (
	ErrTxExhausted = errors.New("transaction retries exhausted")
)

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis-backed store and verifies connectivity
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client, prefix: cfg.Prefix}, nil
}

// NewRedisWithClient wraps an existing client; used by tests
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) CreateExecution(
	ctx context.Context, x *api.Execution,
) error {
	data, err := json.Marshal(x)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, r.execKey(x.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionExists, x.ID)
	}

	score := float64(x.StartedAt.UnixMilli())
	member := string(x.ID)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, r.key("executions"), redis.Z{
			Score: score, Member: member,
		})
		p.ZAdd(ctx, r.defKey(x.DefinitionID), redis.Z{
			Score: score, Member: member,
		})
		return nil
	})
	return err
}

func (r *Redis) GetExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.Execution, error) {
	data, err := r.client.Get(ctx, r.execKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return unmarshalExecution(data)
}

func (r *Redis) UpdateExecution(
	ctx context.Context, id api.ExecutionID, mutate Mutator,
) (*api.Execution, error) {
	key := r.execKey(id)

	var result *api.Execution
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		if err != nil {
			return err
		}

		x, err := unmarshalExecution(data)
		if err != nil {
			return err
		}

		next, err := mutate(x)
		if err != nil {
			return err
		}
		if next == nil {
			result = x
			return nil
		}
		if err := checkTransition(x.Status, next.Status); err != nil {
			return fmt.Errorf("%w: %s -> %s", err, x.Status, next.Status)
		}

		out, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, 0)
			switch {
			case next.Status == api.ExecutionRunning:
				p.ZAdd(ctx, r.runningKey(), redis.Z{
					Score:  float64(next.StartedAt.UnixMilli()),
					Member: string(id),
				})
			case next.Status.Terminal():
				p.ZRem(ctx, r.runningKey(), string(id))
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for range txMaxAttempts {
		err := r.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTxExhausted, id)
}

func (r *Redis) ListExecutions(
	ctx context.Context, f Filter,
) ([]*api.Execution, error) {
	index := r.key("executions")
	if f.DefinitionID != "" {
		index = r.defKey(f.DefinitionID)
	}

	ids, err := r.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var res []*api.Execution
	for _, id := range ids {
		x, err := r.GetExecution(ctx, api.ExecutionID(id))
		if errors.Is(err, ErrExecutionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !f.Matches(x) {
			continue
		}
		res = append(res, x)
		if f.Limit > 0 && len(res) >= f.Limit {
			break
		}
	}
	return res, nil
}

func (r *Redis) ListRunningBefore(
	ctx context.Context, cutoff time.Time,
) ([]api.ExecutionID, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.runningKey(),
		&redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
		},
	).Result()
	if err != nil {
		return nil, err
	}

	res := make([]api.ExecutionID, len(ids))
	for i, id := range ids {
		res[i] = api.ExecutionID(id)
	}
	return res, nil
}

func (r *Redis) PutFlow(
	ctx context.Context, d *api.FlowDefinition,
) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key("flow", string(d.ID)), data, 0)
		p.SAdd(ctx, r.key("flows"), string(d.ID))
		return nil
	})
	return err
}

func (r *Redis) GetFlow(
	ctx context.Context, id api.FlowID,
) (*api.FlowDefinition, error) {
	data, err := r.client.Get(ctx, r.key("flow", string(id))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var d api.FlowDefinition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Redis) ListFlows(
	ctx context.Context,
) ([]*api.FlowDefinition, error) {
	ids, err := r.client.SMembers(ctx, r.key("flows")).Result()
	if err != nil {
		return nil, err
	}

	res := make([]*api.FlowDefinition, 0, len(ids))
	for _, id := range ids {
		d, err := r.GetFlow(ctx, api.FlowID(id))
		if errors.Is(err, ErrFlowNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

func (r *Redis) PutOrchestration(
	ctx context.Context, d *api.OrchestrationDefinition,
) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key("orchestration", string(d.ID)), data, 0)
		p.SAdd(ctx, r.key("orchestrations"), string(d.ID))
		return nil
	})
	return err
}

func (r *Redis) GetOrchestration(
	ctx context.Context, id api.OrchestrationID,
) (*api.OrchestrationDefinition, error) {
	data, err := r.client.Get(
		ctx, r.key("orchestration", string(id)),
	).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrOrchestrationNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var d api.OrchestrationDefinition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Redis) ListOrchestrations(
	ctx context.Context,
) ([]*api.OrchestrationDefinition, error) {
	ids, err := r.client.SMembers(ctx, r.key("orchestrations")).Result()
	if err != nil {
		return nil, err
	}

	res := make([]*api.OrchestrationDefinition, 0, len(ids))
	for _, id := range ids {
		d, err := r.GetOrchestration(ctx, api.OrchestrationID(id))
		if errors.Is(err, ErrOrchestrationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(parts ...string) string {
	res := r.prefix
	for _, p := range parts {
		res += ":" + p
	}
	return res
}

func (r *Redis) execKey(id api.ExecutionID) string {
	return r.key("execution", string(id))
}

func (r *Redis) defKey(definitionID string) string {
	return r.key("executions", "def", definitionID)
}

func (r *Redis) runningKey() string {
	return r.key("executions", "running")
}

func unmarshalExecution(data []byte) (*api.Execution, error) {
	var x api.Execution
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}
