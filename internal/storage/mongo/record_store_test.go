package mongostore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/forumharvest/internal/crawler"
)

type storedDoc struct {
	date time.Time
	tags []string
}

// fakeCollection understands the filter and update shapes the store sends.
type fakeCollection struct {
	mu   sync.Mutex
	docs map[int64]storedDoc

	updateCalls int
	findCalls   int
	insertCalls int

	// insertRace simulates another writer inserting the id right before
	// InsertOne runs.
	insertRace bool
	failWith   error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[int64]storedDoc)}
}

func (f *fakeCollection) UpdateOne(
	_ context.Context,
	filter, update interface{},
	opts ...*options.UpdateOptions,
) (*mongo.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	id := filterID(filter)
	set := setDoc(update)
	upsert := false
	for _, o := range opts {
		if o != nil && o.Upsert != nil {
			upsert = *o.Upsert
		}
	}
	if _, ok := f.docs[id]; ok {
		f.docs[id] = set
		return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}
	if !upsert {
		return &mongo.UpdateResult{}, nil
	}
	f.docs[id] = set
	return &mongo.UpdateResult{UpsertedCount: 1, UpsertedID: id}, nil
}

func (f *fakeCollection) FindOneAndUpdate(
	_ context.Context,
	filter, update interface{},
	_ ...*options.FindOneAndUpdateOptions,
) *mongo.SingleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.failWith != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, f.failWith, nil)
	}
	id := filterID(filter)
	if _, ok := f.docs[id]; !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	f.docs[id] = setDoc(update)
	return mongo.NewSingleResultFromDocument(bson.D{{Key: "_id", Value: id}}, nil, nil)
}

func (f *fakeCollection) InsertOne(
	_ context.Context,
	document interface{},
	_ ...*options.InsertOneOptions,
) (*mongo.InsertOneResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	doc, ok := document.(bson.D)
	if !ok {
		return nil, errors.New("unexpected document type")
	}
	var (
		id  int64
		val storedDoc
	)
	for _, e := range doc {
		switch e.Key {
		case "_id":
			id, _ = e.Value.(int64)
		case "date":
			val.date, _ = e.Value.(time.Time)
		case "tags":
			val.tags, _ = e.Value.([]string)
		}
	}
	if f.insertRace {
		f.docs[id] = storedDoc{tags: []string{"racer"}}
	}
	if _, exists := f.docs[id]; exists {
		return nil, mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}
	}
	f.docs[id] = val
	return &mongo.InsertOneResult{InsertedID: id}, nil
}

func (f *fakeCollection) get(id int64) (storedDoc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	return d, ok
}

func filterID(filter interface{}) int64 {
	d, _ := filter.(bson.D)
	for _, e := range d {
		if e.Key == "_id" {
			id, _ := e.Value.(int64)
			return id
		}
	}
	return 0
}

func setDoc(update interface{}) storedDoc {
	var out storedDoc
	d, _ := update.(bson.D)
	for _, op := range d {
		if op.Key != "$set" {
			continue
		}
		fields, _ := op.Value.(bson.D)
		for _, e := range fields {
			switch e.Key {
			case "date":
				out.date, _ = e.Value.(time.Time)
			case "tags":
				out.tags, _ = e.Value.([]string)
			}
		}
	}
	return out
}

func sampleRecord() crawler.Record {
	return crawler.Record{
		ID:        12345,
		Timestamp: time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC),
		Labels:    []string{"python", "web-scraping"},
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	for _, strategy := range []Strategy{StrategyAtomic, StrategyTwoStep} {
		t.Run(string(strategy), func(t *testing.T) {
			t.Parallel()
			coll := newFakeCollection()
			store, err := NewRecordStoreWithCollection(coll, strategy)
			require.NoError(t, err)

			rec := sampleRecord()
			require.NoError(t, store.Upsert(context.Background(), rec))
			require.NoError(t, store.Upsert(context.Background(), rec))

			require.Len(t, coll.docs, 1)
			doc, ok := coll.get(rec.ID)
			require.True(t, ok)
			require.Equal(t, rec.Labels, doc.tags)
			require.True(t, rec.Timestamp.Equal(doc.date))
		})
	}
}

func TestUpsertOverwritesLabels(t *testing.T) {
	t.Parallel()

	for _, strategy := range []Strategy{StrategyAtomic, StrategyTwoStep} {
		t.Run(string(strategy), func(t *testing.T) {
			t.Parallel()
			coll := newFakeCollection()
			store, err := NewRecordStoreWithCollection(coll, strategy)
			require.NoError(t, err)

			rec := sampleRecord()
			require.NoError(t, store.Upsert(context.Background(), rec))
			rec.Labels = []string{"python"}
			require.NoError(t, store.Upsert(context.Background(), rec))

			require.Len(t, coll.docs, 1)
			doc, _ := coll.get(rec.ID)
			require.Equal(t, []string{"python"}, doc.tags)
		})
	}
}

func TestAtomicUsesSingleCall(t *testing.T) {
	t.Parallel()

	coll := newFakeCollection()
	store, err := NewRecordStoreWithCollection(coll, "")
	require.NoError(t, err)

	require.NoError(t, store.Upsert(context.Background(), sampleRecord()))
	require.Equal(t, 1, coll.updateCalls)
	require.Zero(t, coll.findCalls)
	require.Zero(t, coll.insertCalls)
}

func TestTwoStepInsertsWhenAbsent(t *testing.T) {
	t.Parallel()

	coll := newFakeCollection()
	store, err := NewRecordStoreWithCollection(coll, StrategyTwoStep)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(context.Background(), sampleRecord()))
	require.Equal(t, 1, coll.findCalls)
	require.Equal(t, 1, coll.insertCalls)
	require.Zero(t, coll.updateCalls)
}

func TestTwoStepRetriesDuplicateKeyAsUpdate(t *testing.T) {
	t.Parallel()

	coll := newFakeCollection()
	coll.insertRace = true
	store, err := NewRecordStoreWithCollection(coll, StrategyTwoStep)
	require.NoError(t, err)

	rec := sampleRecord()
	require.NoError(t, store.Upsert(context.Background(), rec))
	require.Equal(t, 1, coll.updateCalls)
	require.Len(t, coll.docs, 1)
	doc, _ := coll.get(rec.ID)
	require.Equal(t, rec.Labels, doc.tags)
}

func TestUpsertNilLabelsStoresEmptyArray(t *testing.T) {
	t.Parallel()

	coll := newFakeCollection()
	store, err := NewRecordStoreWithCollection(coll, StrategyAtomic)
	require.NoError(t, err)

	rec := sampleRecord()
	rec.Labels = nil
	require.NoError(t, store.Upsert(context.Background(), rec))
	doc, _ := coll.get(rec.ID)
	require.NotNil(t, doc.tags)
	require.Empty(t, doc.tags)
}

func TestUpsertWrapsStoreError(t *testing.T) {
	t.Parallel()

	boom := errors.New("server selection timeout")
	for _, strategy := range []Strategy{StrategyAtomic, StrategyTwoStep} {
		t.Run(string(strategy), func(t *testing.T) {
			t.Parallel()
			coll := newFakeCollection()
			coll.failWith = boom
			store, err := NewRecordStoreWithCollection(coll, strategy)
			require.NoError(t, err)

			err = store.Upsert(context.Background(), sampleRecord())
			require.ErrorIs(t, err, crawler.ErrStore)
			require.ErrorIs(t, err, boom)
			require.Contains(t, err.Error(), "12345")
		})
	}
}

func TestConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStoreWithCollection(nil, StrategyAtomic)
	require.Error(t, err)

	_, err = NewRecordStoreWithCollection(newFakeCollection(), "eventual")
	require.ErrorContains(t, err, "unknown upsert strategy")

	_, err = NewRecordStore(context.Background(), Config{})
	require.Error(t, err)
}

func TestCloseWithoutClient(t *testing.T) {
	t.Parallel()

	store, err := NewRecordStoreWithCollection(newFakeCollection(), StrategyAtomic)
	require.NoError(t, err)
	require.NoError(t, store.Close(context.Background()))
}
