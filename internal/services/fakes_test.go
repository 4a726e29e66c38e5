package services

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"snowbridge/internal/models"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeBridge 可编排的桥接假实现
type fakeBridge struct {
	mu         sync.Mutex
	records    map[string][]models.Record
	failTables map[string]bool
	failAll    bool
	lastParams map[string]map[string]string
	updates    []models.Record
	updateFail bool

	// 非空时QueryTable对blockTable表在started发信号后阻塞等待block
	block      chan struct{}
	blockTable string
	started    chan struct{}
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		records:    make(map[string][]models.Record),
		failTables: make(map[string]bool),
		lastParams: make(map[string]map[string]string),
	}
}

func (b *fakeBridge) QueryTable(ctx context.Context, table string, params map[string]string) *QueryResult {
	b.mu.Lock()
	captured := make(map[string]string, len(params))
	for key, value := range params {
		captured[key] = value
	}
	b.lastParams[table] = captured
	block := b.block
	blockTable := b.blockTable
	started := b.started
	b.mu.Unlock()

	if block != nil && table == blockTable {
		if started != nil {
			select {
			case started <- struct{}{}:
			default:
			}
		}
		<-block
	}

	if b.failAll || b.failTables[table] {
		return &QueryResult{Success: false, Error: "上游不可用"}
	}

	all := b.records[table]

	offset, _ := strconv.Atoi(params["sysparm_offset"])
	limit, _ := strconv.Atoi(params["sysparm_limit"])
	if offset > len(all) {
		offset = len(all)
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return &QueryResult{Success: true, Records: all[offset:end]}
}

func (b *fakeBridge) GetRecord(ctx context.Context, table, sysID string) *RecordResult {
	for _, record := range b.records[table] {
		if record.SysID() == sysID {
			return &RecordResult{Success: true, Record: record}
		}
	}
	return &RecordResult{Success: true, Record: nil}
}

func (b *fakeBridge) CreateRecord(ctx context.Context, table string, data models.Record) *RecordResult {
	if b.failAll {
		return &RecordResult{Success: false, Error: "boom"}
	}
	return &RecordResult{Success: true, Record: data}
}

func (b *fakeBridge) UpdateRecord(ctx context.Context, table, sysID string, data models.Record) *RecordResult {
	b.mu.Lock()
	b.updates = append(b.updates, data)
	b.mu.Unlock()

	if b.failAll || b.updateFail {
		return &RecordResult{Success: false, Error: "boom"}
	}
	return &RecordResult{Success: true, Record: data}
}

func (b *fakeBridge) DeleteRecord(ctx context.Context, table, sysID string) *OpResult {
	if b.failAll {
		return &OpResult{Success: false, Error: "boom"}
	}
	return &OpResult{Success: true}
}

func (b *fakeBridge) HealthCheck(ctx context.Context) *HealthResult {
	if b.failAll {
		return &HealthResult{Success: false, Auth: false, Error: "上游不可用"}
	}
	return &HealthResult{Success: true, Auth: true}
}

func (b *fakeBridge) lastQuery(table string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastParams[table]
}

// fakeStore 内存版副本存储
type fakeStore struct {
	mu      sync.Mutex
	data    map[string]map[string]models.Record
	healthy bool
	writes  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data:    make(map[string]map[string]models.Record),
		healthy: true,
	}
}

func (s *fakeStore) table(name string) map[string]models.Record {
	if s.data[name] == nil {
		s.data[name] = make(map[string]models.Record)
	}
	return s.data[name]
}

func filterSysID(filter bson.M) string {
	value, _ := filter["sys_id"].(string)
	return value
}

func (s *fakeStore) FindOne(ctx context.Context, table string, filter bson.M) (models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.table(table)[filterSysID(filter)]
	return record, ok
}

func (s *fakeStore) Find(ctx context.Context, table string, filter bson.M, opts ...*options.FindOptions) []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.Record
	for _, record := range s.table(table) {
		records = append(records, record)
	}
	return records
}

func (s *fakeStore) InsertOne(ctx context.Context, table string, doc models.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.table(table)[doc.SysID()] = doc
	return true
}

func (s *fakeStore) UpdateOne(ctx context.Context, table string, filter bson.M, update bson.M) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.table(table)[filterSysID(filter)]
	if !ok {
		return false
	}
	s.writes++
	for key, value := range update {
		record[key] = value
	}
	return true
}

func (s *fakeStore) DeleteOne(ctx context.Context, table string, filter bson.M) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	delete(s.table(table), filterSysID(filter))
	return true
}

func (s *fakeStore) Upsert(ctx context.Context, table string, filter bson.M, doc models.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.table(table)[filterSysID(filter)] = doc
	return true
}

func (s *fakeStore) DeleteMany(ctx context.Context, table string, filter bson.M) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	inner, _ := filter["sys_id"].(bson.M)
	ids, _ := inner["$in"].([]string)

	var deleted int64
	for _, id := range ids {
		if _, ok := s.table(table)[id]; ok {
			delete(s.table(table), id)
			deleted++
		}
	}
	return deleted
}

func (s *fakeStore) Distinct(ctx context.Context, table, field string, filter bson.M) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	var values []interface{}
	for id := range s.table(table) {
		values = append(values, id)
	}
	return values
}

func (s *fakeStore) Count(ctx context.Context, table string, filter bson.M) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.table(table)))
}

func (s *fakeStore) HealthCheck(ctx context.Context) bool {
	return s.healthy
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *fakeStore) get(table, sysID string) (models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.table(table)[sysID]
	return record, ok
}

// fakeCache 内存版缓存层
type fakeCache struct {
	mu        sync.Mutex
	values    map[string]string
	published map[string]int
	streams   map[string][]redis.XMessage
	healthy   bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		values:    make(map[string]string),
		published: make(map[string]int),
		streams:   make(map[string][]redis.XMessage),
		healthy:   true,
	}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[key]
	return value, ok
}

func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *fakeCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, string(data), ttl)
}

func (c *fakeCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.values, key)
	}
	return nil
}

func (c *fakeCache) Publish(ctx context.Context, channel string, message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[channel]++
	return nil
}

func (c *fakeCache) XRead(ctx context.Context, stream, lastID string, block time.Duration) ([]redis.XMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := c.streams[stream]
	if len(messages) == 0 {
		return nil, redis.Nil
	}
	c.streams[stream] = nil
	return messages, nil
}

func (c *fakeCache) HealthCheck(ctx context.Context) bool {
	return c.healthy
}

func (c *fakeCache) publishCount(channel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published[channel]
}
