package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig holds MongoDB backend configuration.
type MongoConfig struct {
	// URI is the connection string, e.g. mongodb://localhost:27017.
	URI string

	// Database holds both logs and the id counters.
	// Default: "last-stop"
	Database string

	// CappedSize is the size in bytes of each capped log collection.
	// Default: 16 MiB
	CappedSize int64

	// ConnectTimeout bounds connection and socket operations.
	// Default: 5s
	ConnectTimeout time.Duration

	// MaxAwait is how long the server holds a tailing getMore open.
	// Default: 1s
	MaxAwait time.Duration
}

// DefaultMongoConfig returns configuration with sensible defaults.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "last-stop",
		CappedSize:     16 << 20,
		ConnectTimeout: 5 * time.Second,
		MaxAwait:       time.Second,
	}
}

const countersCollection = "counters"

// Mongo is a Backend over capped MongoDB collections. Each log is a capped
// collection whose _id is drawn from a per-log counter, which gives dense,
// strictly increasing positions shared by every writer.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	config MongoConfig
	closed atomic.Bool

	mu   sync.Mutex
	logs map[string]*MongoLog
}

// ConnectMongo connects to MongoDB and verifies the server answers.
func ConnectMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	def := DefaultMongoConfig()
	if cfg.URI == "" {
		cfg.URI = def.URI
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.CappedSize <= 0 {
		cfg.CappedSize = def.CappedSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxAwait <= 0 {
		cfg.MaxAwait = def.MaxAwait
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetSocketTimeout(cfg.ConnectTimeout + cfg.MaxAwait)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &Mongo{
		client: client,
		db:     client.Database(cfg.Database),
		config: cfg,
		logs:   make(map[string]*MongoLog),
	}, nil
}

// Client returns the underlying client for administrative commands.
func (m *Mongo) Client() *mongo.Client {
	return m.client
}

// Log returns the named log, creating its capped collection if needed.
func (m *Mongo) Log(name string) (AppendLog, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if m.closed.Load() {
		return nil, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.logs[name]; ok {
		return l, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.ensureCapped(ctx, name); err != nil {
		return nil, err
	}

	l := &MongoLog{
		name:     name,
		coll:     m.db.Collection(name),
		counters: m.db.Collection(countersCollection),
		maxAwait: m.config.MaxAwait,
		closed:   &m.closed,
	}
	m.logs[name] = l
	return l, nil
}

func (m *Mongo) ensureCapped(ctx context.Context, name string) error {
	names, err := m.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	if len(names) > 0 {
		return nil
	}
	opts := options.CreateCollection().SetCapped(true).SetSizeInBytes(m.config.CappedSize)
	err = m.db.CreateCollection(ctx, name, opts)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create capped collection %s: %w", name, err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// mongoDoc is the stored shape of an entry.
type mongoDoc struct {
	ID       int64     `bson:"_id"`
	Time     time.Time `bson:"time"`
	Sender   string    `bson:"sender"`
	SenderID string    `bson:"sender_id"`
	Message  *string   `bson:"message,omitempty"`
	Speech   *string   `bson:"speech,omitempty"`
}

func (d mongoDoc) record() Record {
	doc := document{Time: d.Time, Sender: d.Sender, SenderID: d.SenderID, Message: d.Message, Speech: d.Speech}
	return Record{ID: Position(d.ID), Entry: doc.entry()}
}

// MongoLog is one capped collection.
type MongoLog struct {
	name     string
	coll     *mongo.Collection
	counters *mongo.Collection
	maxAwait time.Duration
	closed   *atomic.Bool
}

// Name returns the collection name.
func (l *MongoLog) Name() string { return l.name }

// Append reserves the next id and inserts the entry under it.
func (l *MongoLog) Append(ctx context.Context, e Entry) (Position, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if err := e.Validate(); err != nil {
		return 0, err
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := l.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": l.name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("reserve id: %w", err)
	}

	d := toDocument(e)
	doc := mongoDoc{
		ID:       counter.Seq,
		Time:     d.Time,
		Sender:   d.Sender,
		SenderID: d.SenderID,
		Message:  d.Message,
		Speech:   d.Speech,
	}
	if _, err := l.coll.InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	return Position(counter.Seq), nil
}

// Last returns the highest _id present.
func (l *MongoLog) Last(ctx context.Context) (Position, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	var doc mongoDoc
	err := l.coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Before, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find last: %w", err)
	}
	return Position(doc.ID), nil
}

// Subscribe opens a tailable, await-data cursor on _id > after.
func (l *MongoLog) Subscribe(ctx context.Context, after Position) (Cursor, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	c := &mongoCursor{log: l, after: after}
	if err := c.open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

type mongoCursor struct {
	log   *MongoLog
	after Position
	cur   *mongo.Cursor
}

func (c *mongoCursor) open(ctx context.Context) error {
	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetMaxAwaitTime(c.log.maxAwait)
	cur, err := c.log.coll.Find(ctx, bson.M{"_id": bson.M{"$gt": int64(c.after)}}, opts)
	if err != nil {
		return fmt.Errorf("tail find: %w", err)
	}
	c.cur = cur
	return nil
}

// Next returns the next document. A tailable cursor dies when its query
// first matches nothing, so a dead cursor is re-issued after a short pause
// from the highest id below which nothing is missing.
func (c *mongoCursor) Next(ctx context.Context) (Record, error) {
	for {
		if c.log.closed.Load() {
			return Record{}, ErrClosed
		}
		if c.cur == nil {
			if err := c.open(ctx); err != nil {
				return Record{}, err
			}
		}
		if c.cur.TryNext(ctx) {
			var doc mongoDoc
			if err := c.cur.Decode(&doc); err != nil {
				return Record{}, fmt.Errorf("decode: %w", err)
			}
			rec := doc.record()
			if rec.ID == c.after+1 {
				c.after = rec.ID
			}
			return rec, nil
		}
		if err := c.cur.Err(); err != nil {
			return Record{}, err
		}
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		if c.cur.ID() == 0 {
			c.cur.Close(context.Background())
			c.cur = nil
			select {
			case <-ctx.Done():
				return Record{}, ctx.Err()
			case <-time.After(c.log.maxAwait):
			}
		}
	}
}

func (c *mongoCursor) Close() error {
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close(context.Background())
	c.cur = nil
	return err
}
