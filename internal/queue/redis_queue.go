package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odvcencio/indexq/internal/database"
	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/site"
)

var (
	ErrRedisNotReady = errors.New("redis did not become ready")
	ErrItemNotFound  = errors.New("queue item not found")
)

const (
	defaultRedisPrefix   = "indexq"
	redisConnectAttempts = 3
	redisRetryInterval   = time.Second
)

// ConnectRedis parses url and pings the server, retrying a few times before giving up.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt < redisConnectAttempts; attempt++ {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()
		if attempt == redisConnectAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(redisRetryInterval):
		}
	}
	return nil, errors.Join(ErrRedisNotReady, lastErr)
}

// RedisQueue keeps items as hashes in redis. Content records are still read from the database.
//
// Key layout under the prefix:
//
//	<p>:seq                       item id counter
//	<p>:item:<id>                 item hash
//	<p>:site:<site>:cfgs          configuration names with items
//	<p>:site:<site>:cfg:<name>    item ids of one configuration
//	<p>:record:<type>:<uid>       item ids of one content record
//	<p>:errors                    item ids carrying an error
type RedisQueue struct {
	client  redis.UniversalClient
	records database.DB
	prefix  string
}

func NewRedisQueue(client redis.UniversalClient, records database.DB, prefix string) *RedisQueue {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisQueue{client: client, records: records, prefix: prefix}
}

func (q *RedisQueue) ImplementationID() models.QueueImplementationID {
	return models.QueueImplementationRedis
}

// Healthcheck pings the redis server backing the queue.
func (q *RedisQueue) Healthcheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (q *RedisQueue) seqKey() string    { return q.prefix + ":seq" }
func (q *RedisQueue) errorsKey() string { return q.prefix + ":errors" }

func (q *RedisQueue) itemKey(id int64) string {
	return q.prefix + ":item:" + strconv.FormatInt(id, 10)
}

func (q *RedisQueue) configurationsKey(siteID string) string {
	return q.prefix + ":site:" + siteID + ":cfgs"
}

func (q *RedisQueue) configurationKey(siteID, name string) string {
	return q.prefix + ":site:" + siteID + ":cfg:" + name
}

func (q *RedisQueue) recordKey(itemType string, recordID int64) string {
	return q.prefix + ":record:" + itemType + ":" + strconv.FormatInt(recordID, 10)
}

func (q *RedisQueue) Statistics(ctx context.Context, s *site.Site, configuration string) (models.QueueStatistics, error) {
	if err := requireSite(s); err != nil {
		return models.QueueStatistics{}, err
	}
	items, err := q.siteItems(ctx, s.ID, configuration)
	if err != nil {
		return models.QueueStatistics{}, fmt.Errorf("queue statistics: %w", err)
	}
	var stats models.QueueStatistics
	for _, item := range items {
		stats.Add(item)
	}
	return stats, nil
}

func (q *RedisQueue) Errors(ctx context.Context, s *site.Site) ([]models.QueueError, error) {
	if err := requireSite(s); err != nil {
		return nil, err
	}
	ids, err := q.client.SMembers(ctx, q.errorsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list queue errors: %w", err)
	}
	items, err := q.loadItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list queue errors: %w", err)
	}
	var out []models.QueueError
	for _, item := range items {
		if item.SiteID != s.ID || !item.HasErrors() {
			continue
		}
		out = append(out, models.QueueError{
			ItemID:                item.ID,
			ItemType:              item.ItemType,
			RecordID:              item.RecordID,
			IndexingConfiguration: item.IndexingConfiguration,
			Message:               item.Errors,
			Changed:               item.Changed,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Changed != out[j].Changed {
			return out[i].Changed > out[j].Changed
		}
		return out[i].ItemID > out[j].ItemID
	})
	return out, nil
}

func (q *RedisQueue) ResetAllErrors(ctx context.Context) (int64, error) {
	ids, err := q.client.SMembers(ctx, q.errorsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("reset queue errors: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	items, err := q.loadItems(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("reset queue errors: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			pipe.HSet(ctx, q.itemKey(item.ID), "errors", "")
		}
		pipe.Del(ctx, q.errorsKey())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reset queue errors: %w", err)
	}
	return int64(len(items)), nil
}

// UpdateItem requeues every item of a record. changed is raised past indexed so an item
// indexed in the same second is still pending.
func (q *RedisQueue) UpdateItem(ctx context.Context, itemType string, recordID int64, changed time.Time) (int64, error) {
	ids, err := q.client.SMembers(ctx, q.recordKey(itemType, recordID)).Result()
	if err != nil {
		return 0, fmt.Errorf("update queue item: %w", err)
	}
	items, err := q.loadItems(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("update queue item: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			pipe.HSet(ctx, q.itemKey(item.ID), "changed", max(changed.Unix(), item.Indexed+1), "errors", "")
			pipe.SRem(ctx, q.errorsKey(), strconv.FormatInt(item.ID, 10))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("update queue item: %w", err)
	}
	return int64(len(items)), nil
}

func (q *RedisQueue) Item(ctx context.Context, itemID int64) (*models.IndexQueueItem, error) {
	fields, err := q.client.HGetAll(ctx, q.itemKey(itemID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return itemFromHash(itemID, fields)
}

func (q *RedisQueue) Initializer() Initializer {
	return &redisInitializer{queue: q}
}

func (q *RedisQueue) Pending(ctx context.Context, s *site.Site, limit int) ([]models.IndexQueueItem, error) {
	if err := requireSite(s); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}
	items, err := q.siteItems(ctx, s.ID, "")
	if err != nil {
		return nil, err
	}
	pending := items[:0]
	for _, item := range items {
		if item.IsPending() {
			pending = append(pending, item)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Changed != b.Changed {
			return a.Changed < b.Changed
		}
		return a.ID < b.ID
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (q *RedisQueue) MarkIndexed(ctx context.Context, itemID int64, indexed time.Time) error {
	if err := q.requireItem(ctx, itemID); err != nil {
		return err
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.itemKey(itemID), "indexed", indexed.Unix(), "errors", "")
		pipe.SRem(ctx, q.errorsKey(), strconv.FormatInt(itemID, 10))
		return nil
	})
	return err
}

func (q *RedisQueue) MarkFailed(ctx context.Context, itemID int64, message string) error {
	if err := q.requireItem(ctx, itemID); err != nil {
		return err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "indexing failed"
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.itemKey(itemID), "errors", message)
		pipe.SAdd(ctx, q.errorsKey(), strconv.FormatInt(itemID, 10))
		return nil
	})
	return err
}

func (q *RedisQueue) requireItem(ctx context.Context, itemID int64) error {
	n, err := q.client.Exists(ctx, q.itemKey(itemID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}
	return nil
}

// siteItems loads every item of a site, or of one configuration when configuration is set.
func (q *RedisQueue) siteItems(ctx context.Context, siteID, configuration string) ([]models.IndexQueueItem, error) {
	configurations := []string{configuration}
	if configuration == "" {
		names, err := q.client.SMembers(ctx, q.configurationsKey(siteID)).Result()
		if err != nil {
			return nil, err
		}
		sort.Strings(names)
		configurations = names
	}
	var ids []string
	for _, name := range configurations {
		members, err := q.client.SMembers(ctx, q.configurationKey(siteID, name)).Result()
		if err != nil {
			return nil, err
		}
		ids = append(ids, members...)
	}
	return q.loadItems(ctx, ids)
}

// loadItems fetches item hashes in one pipeline. Ids without a hash are skipped.
func (q *RedisQueue) loadItems(ctx context.Context, ids []string) ([]models.IndexQueueItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parsed := make([]int64, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid item id %q: %w", raw, err)
		}
		parsed = append(parsed, id)
	}
	cmds := make([]*redis.MapStringStringCmd, len(parsed))
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range parsed {
			cmds[i] = pipe.HGetAll(ctx, q.itemKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	items := make([]models.IndexQueueItem, 0, len(parsed))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		item, err := itemFromHash(parsed[i], fields)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

func itemFromHash(id int64, fields map[string]string) (*models.IndexQueueItem, error) {
	item := &models.IndexQueueItem{
		ID:                    id,
		SiteID:                fields["site"],
		ItemType:              fields["type"],
		IndexingConfiguration: fields["configuration"],
		Errors:                fields["errors"],
	}
	var err error
	if item.RecordID, err = parseIntField(fields, "uid"); err != nil {
		return nil, err
	}
	if item.Changed, err = parseIntField(fields, "changed"); err != nil {
		return nil, err
	}
	if item.Indexed, err = parseIntField(fields, "indexed"); err != nil {
		return nil, err
	}
	priority, err := parseIntField(fields, "priority")
	if err != nil {
		return nil, err
	}
	item.Priority = int(priority)
	return item, nil
}

func parseIntField(fields map[string]string, name string) (int64, error) {
	raw := fields[name]
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("item field %s: %w", name, err)
	}
	return v, nil
}

type redisInitializer struct {
	queue *RedisQueue
}

func (i *redisInitializer) InitializeByConfigurations(ctx context.Context, s *site.Site, configurations []string) (map[string]bool, error) {
	if err := requireSite(s); err != nil {
		return nil, err
	}
	statuses := make(map[string]bool, len(configurations))
	var errs []error
	for _, name := range configurations {
		statuses[name] = false
		c, err := lookupConfiguration(s, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := i.initialize(ctx, s.ID, c); err != nil {
			errs = append(errs, &InitializationError{Configuration: name, Code: CodeStorage, Err: err})
			continue
		}
		statuses[name] = true
	}
	return statuses, errors.Join(errs...)
}

// initialize replaces the items of one configuration in a single MULTI/EXEC, so a failed
// write leaves the previous items in place. Item ids are reserved up front; a failed
// transaction leaves a gap in the sequence.
func (i *redisInitializer) initialize(ctx context.Context, siteID string, c site.IndexingConfiguration) error {
	q := i.queue
	records, err := q.records.ListContentRecords(ctx, siteID, c.Type)
	if err != nil {
		return fmt.Errorf("list content records: %w", err)
	}
	ids, err := q.client.SMembers(ctx, q.configurationKey(siteID, c.Name)).Result()
	if err != nil {
		return fmt.Errorf("list queue items: %w", err)
	}
	stale, err := q.loadItems(ctx, ids)
	if err != nil {
		return fmt.Errorf("load queue items: %w", err)
	}
	var firstID int64
	if len(records) > 0 {
		lastID, err := q.client.IncrBy(ctx, q.seqKey(), int64(len(records))).Result()
		if err != nil {
			return fmt.Errorf("reserve item ids: %w", err)
		}
		firstID = lastID - int64(len(records)) + 1
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range stale {
			member := strconv.FormatInt(item.ID, 10)
			pipe.Del(ctx, q.itemKey(item.ID))
			pipe.SRem(ctx, q.recordKey(item.ItemType, item.RecordID), member)
			pipe.SRem(ctx, q.errorsKey(), member)
		}
		pipe.Del(ctx, q.configurationKey(siteID, c.Name))
		pipe.SAdd(ctx, q.configurationsKey(siteID), c.Name)
		for n, record := range records {
			id := firstID + int64(n)
			member := strconv.FormatInt(id, 10)
			pipe.HSet(ctx, q.itemKey(id),
				"site", siteID,
				"type", record.RecordType,
				"uid", record.RecordID,
				"configuration", c.Name,
				"changed", record.UpdatedAt.Unix(),
				"indexed", 0,
				"priority", c.Priority,
				"errors", "",
			)
			pipe.SAdd(ctx, q.configurationKey(siteID, c.Name), member)
			pipe.SAdd(ctx, q.recordKey(record.RecordType, record.RecordID), member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace queue items: %w", err)
	}
	return nil
}
