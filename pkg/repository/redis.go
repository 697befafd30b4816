package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "lifeops:"
	redisAgentsKey   = redisKeyPrefix + "agents"
	redisDecisionAll = redisKeyPrefix + "decisions"
	redisMemoriesKey = redisKeyPrefix + "memories"

	fieldData      = "data"
	fieldStatus    = "status"
	fieldUpdatedAt = "updated_at"
	fieldContext   = "context"
	fieldSummary   = "context_summary"
	fieldSynthesis = "synthesis"
	fieldOutcome   = "outcome"

	upsertAttempts = 10
)

// statusGuard aborts with NOT_FOUND or INVALID_STATE unless the decision hash at KEYS[1]
// has one of the comma separated statuses in ARGV[1]
const statusGuard = `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return redis.error_reply('NOT_FOUND')
end
local allowed = false
for s in string.gmatch(ARGV[1], '[^,]+') do
  if s == status then
    allowed = true
  end
end
if not allowed then
  return redis.error_reply('INVALID_STATE ' .. status)
end
`

var (
	// ARGV: allowed, new status, updated_at, then field/value pairs
	setDecisionFieldScript = redis.NewScript(statusGuard + `
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
for i = 4, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

	// KEYS[2] is the consultation list. ARGV: allowed, new status, updated_at, entry
	appendConsultationScript = redis.NewScript(statusGuard + `
redis.call('RPUSH', KEYS[2], ARGV[4])
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
return redis.call('LLEN', KEYS[2])
`)
)

var decisionStatuses = []model.DecisionStatus{
	model.DecisionStatusCreated,
	model.DecisionStatusContextAttached,
	model.DecisionStatusAgentsConsulted,
	model.DecisionStatusSynthesized,
	model.DecisionStatusOutcomeRecorded,
}

func allowedStatuses(allowed func(model.DecisionStatus) bool) string {
	var list []string
	for _, s := range decisionStatuses {
		if allowed(s) {
			list = append(list, string(s))
		}
	}
	return strings.Join(list, ",")
}

func decisionKey(id model.DecisionID) string {
	return redisKeyPrefix + "decision:" + string(id)
}

func consultationsKey(id model.DecisionID) string {
	return decisionKey(id) + ":consultations"
}

func ownerDecisionsKey(owner string) string {
	return redisDecisionAll + ":owner:" + owner
}


// Redis stores everything in Redis. A decision is a hash whose fields are written
// independently; the consultation log is a separate list so appends never rewrite the
// decision. Memory records are kept in one hash and mirrored into an in-process vector
// index that is rebuilt when the repository is opened.
type Redis struct {
	client *redis.Client
	index  *InProcess
}

var _ Repository = (*Redis)(nil)

// NewRedis connects to the Redis server at url (redis://host:port/db)
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse redis url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", opts.Addr))
	}

	index, err := NewInProcess()
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	repo := &Redis{client: client, index: index}
	if err := repo.loadMemories(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// scriptError maps script error replies to model sentinels
func scriptError(err error, id model.DecisionID) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NOT_FOUND"):
		return goerr.Wrap(model.ErrNotFound, "decision not found", goerr.V("id", id))
	case strings.Contains(msg, "INVALID_STATE"):
		return goerr.Wrap(model.ErrInvalidState, "operation not allowed in current state",
			goerr.V("id", id),
			goerr.V("status", strings.TrimSpace(strings.TrimPrefix(msg, "INVALID_STATE"))))
	default:
		return goerr.Wrap(err, "failed to run decision script", goerr.V("id", id))
	}
}

func (r *Redis) PutDecision(ctx context.Context, decision *model.Decision) error {
	core := *decision
	core.AgentsConsulted = nil
	core.Synthesis = nil
	core.Outcome = nil
	data, err := json.Marshal(core)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal decision", goerr.V("id", decision.ID))
	}

	ctxData, err := json.Marshal(decision.ContextMemoryIDs)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal decision context", goerr.V("id", decision.ID))
	}

	fields := map[string]any{
		fieldData:      data,
		fieldStatus:    string(decision.Status),
		fieldUpdatedAt: decision.UpdatedAt.Format(time.RFC3339Nano),
		fieldContext:   ctxData,
		fieldSummary:   decision.ContextSummary,
	}
	if decision.Synthesis != nil {
		raw, err := json.Marshal(decision.Synthesis)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal synthesis", goerr.V("id", decision.ID))
		}
		fields[fieldSynthesis] = raw
	}
	if decision.Outcome != nil {
		raw, err := json.Marshal(decision.Outcome)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal outcome", goerr.V("id", decision.ID))
		}
		fields[fieldOutcome] = raw
	}

	entries := make([]any, 0, len(decision.AgentsConsulted))
	for _, c := range decision.AgentsConsulted {
		raw, err := json.Marshal(c)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal consultation", goerr.V("id", decision.ID))
		}
		entries = append(entries, raw)
	}

	score := float64(decision.CreatedAt.UnixNano())
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, decisionKey(decision.ID), consultationsKey(decision.ID))
		pipe.HSet(ctx, decisionKey(decision.ID), fields)
		if len(entries) > 0 {
			pipe.RPush(ctx, consultationsKey(decision.ID), entries...)
		}
		pipe.ZAdd(ctx, redisDecisionAll, redis.Z{Score: score, Member: string(decision.ID)})
		pipe.ZAdd(ctx, ownerDecisionsKey(decision.OwnerID), redis.Z{Score: score, Member: string(decision.ID)})
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to put decision", goerr.V("id", decision.ID))
	}
	return nil
}

func (r *Redis) GetDecision(ctx context.Context, id model.DecisionID) (*model.Decision, error) {
	var (
		hash *redis.MapStringStringCmd
		log  *redis.StringSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hash = pipe.HGetAll(ctx, decisionKey(id))
		log = pipe.LRange(ctx, consultationsKey(id), 0, -1)
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get decision", goerr.V("id", id))
	}

	fields := hash.Val()
	if len(fields) == 0 {
		return nil, goerr.Wrap(model.ErrNotFound, "decision not found", goerr.V("id", id))
	}

	return decodeDecision(id, fields, log.Val())
}

func decodeDecision(id model.DecisionID, fields map[string]string, log []string) (*model.Decision, error) {
	var decision model.Decision
	if err := json.Unmarshal([]byte(fields[fieldData]), &decision); err != nil {
		return nil, goerr.Wrap(err, "failed to decode decision", goerr.V("id", id))
	}

	decision.Status = model.DecisionStatus(fields[fieldStatus])
	if v := fields[fieldUpdatedAt]; v != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to parse updated_at", goerr.V("id", id), goerr.V("value", v))
		}
		decision.UpdatedAt = updatedAt
	}

	if v := fields[fieldContext]; v != "" {
		var ids []model.MemoryID
		if err := json.Unmarshal([]byte(v), &ids); err != nil {
			return nil, goerr.Wrap(err, "failed to decode decision context", goerr.V("id", id))
		}
		decision.ContextMemoryIDs = ids
	}
	if v, ok := fields[fieldSummary]; ok {
		decision.ContextSummary = v
	}

	if v := fields[fieldSynthesis]; v != "" {
		var s model.Synthesis
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, goerr.Wrap(err, "failed to decode synthesis", goerr.V("id", id))
		}
		decision.Synthesis = &s
	}

	if v := fields[fieldOutcome]; v != "" {
		var o model.Outcome
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			return nil, goerr.Wrap(err, "failed to decode outcome", goerr.V("id", id))
		}
		decision.Outcome = &o
	}

	decision.AgentsConsulted = make([]model.Consultation, 0, len(log))
	for _, entry := range log {
		var c model.Consultation
		if err := json.Unmarshal([]byte(entry), &c); err != nil {
			return nil, goerr.Wrap(err, "failed to decode consultation", goerr.V("id", id))
		}
		decision.AgentsConsulted = append(decision.AgentsConsulted, c)
	}

	return &decision, nil
}

func (r *Redis) ListDecisions(ctx context.Context, owner string, limit int) ([]*model.Decision, error) {
	key := redisDecisionAll
	if owner != "" {
		key = ownerDecisionsKey(owner)
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list decisions", goerr.V("owner", owner))
	}

	decisions := make([]*model.Decision, 0, len(ids))
	for _, id := range ids {
		d, err := r.GetDecision(ctx, model.DecisionID(id))
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// setDecisionFields writes field/value pairs under the status guard. Strings are stored
// as is, anything else as JSON.
func (r *Redis) setDecisionFields(ctx context.Context, id model.DecisionID, allowed func(model.DecisionStatus) bool, next model.DecisionStatus, at time.Time, pairs ...any) error {
	args := []any{
		allowedStatuses(allowed),
		string(next),
		at.Format(time.RFC3339Nano),
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		value := pairs[i+1]
		if _, ok := value.(string); !ok {
			raw, err := json.Marshal(value)
			if err != nil {
				return goerr.Wrap(err, "failed to marshal decision field", goerr.V("id", id), goerr.V("field", pairs[i]))
			}
			value = raw
		}
		args = append(args, pairs[i], value)
	}

	if err := setDecisionFieldScript.Run(ctx, r.client, []string{decisionKey(id)}, args...).Err(); err != nil {
		return scriptError(err, id)
	}
	return nil
}

func (r *Redis) SetDecisionContext(ctx context.Context, id model.DecisionID, memoryIDs []model.MemoryID, summary string, at time.Time) error {
	if memoryIDs == nil {
		memoryIDs = []model.MemoryID{}
	}
	pairs := []any{fieldContext, memoryIDs}
	if summary != "" {
		pairs = append(pairs, fieldSummary, summary)
	}
	return r.setDecisionFields(ctx, id, model.DecisionStatus.CanAttachContext, model.DecisionStatusContextAttached, at, pairs...)
}

func (r *Redis) AppendConsultation(ctx context.Context, id model.DecisionID, consultation *model.Consultation) error {
	raw, err := json.Marshal(consultation)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal consultation", goerr.V("id", id))
	}

	err = appendConsultationScript.Run(ctx, r.client,
		[]string{decisionKey(id), consultationsKey(id)},
		allowedStatuses(model.DecisionStatus.CanConsult),
		string(model.DecisionStatusAgentsConsulted),
		consultation.Timestamp.Format(time.RFC3339Nano),
		raw,
	).Err()
	if err != nil {
		return scriptError(err, id)
	}
	return nil
}

func (r *Redis) SetDecisionSynthesis(ctx context.Context, id model.DecisionID, synthesis *model.Synthesis, at time.Time) error {
	return r.setDecisionFields(ctx, id, model.DecisionStatus.CanSynthesize, model.DecisionStatusSynthesized, at,
		fieldSynthesis, synthesis)
}

func (r *Redis) SetDecisionOutcome(ctx context.Context, id model.DecisionID, outcome *model.Outcome) error {
	return r.setDecisionFields(ctx, id, model.DecisionStatus.CanRecordOutcome, model.DecisionStatusOutcomeRecorded, outcome.RecordedAt,
		fieldOutcome, outcome)
}

func (r *Redis) UpsertAgent(ctx context.Context, agent *model.Agent) error {
	upsert := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, redisAgentsKey, agent.Slug).Result()
		switch {
		case err == nil:
			var current model.Agent
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				return goerr.Wrap(err, "failed to decode agent", goerr.V("slug", agent.Slug))
			}
			agent.ID = current.ID
			agent.CreatedAt = current.CreatedAt
		case !errors.Is(err, redis.Nil):
			return goerr.Wrap(err, "failed to get agent", goerr.V("slug", agent.Slug))
		}

		data, err := json.Marshal(agent)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal agent", goerr.V("slug", agent.Slug))
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisAgentsKey, agent.Slug, data)
			return nil
		})
		return err
	}

	for range upsertAttempts {
		err := r.client.Watch(ctx, upsert, redisAgentsKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return goerr.Wrap(err, "failed to upsert agent", goerr.V("slug", agent.Slug))
		}
		return nil
	}

	return goerr.New("agent upsert kept conflicting", goerr.V("slug", agent.Slug), goerr.V("attempts", upsertAttempts))
}

func (r *Redis) GetAgent(ctx context.Context, slug string) (*model.Agent, error) {
	raw, err := r.client.HGet(ctx, redisAgentsKey, slug).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, goerr.Wrap(model.ErrNotFound, "agent not found", goerr.V("slug", slug))
		}
		return nil, goerr.Wrap(err, "failed to get agent", goerr.V("slug", slug))
	}

	var agent model.Agent
	if err := json.Unmarshal([]byte(raw), &agent); err != nil {
		return nil, goerr.Wrap(err, "failed to decode agent", goerr.V("slug", slug))
	}
	return &agent, nil
}

func (r *Redis) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	all, err := r.client.HGetAll(ctx, redisAgentsKey).Result()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list agents")
	}

	agents := make([]*model.Agent, 0, len(all))
	for slug, raw := range all {
		var agent model.Agent
		if err := json.Unmarshal([]byte(raw), &agent); err != nil {
			return nil, goerr.Wrap(err, "failed to decode agent", goerr.V("slug", slug))
		}
		agents = append(agents, &agent)
	}
	return agents, nil
}
