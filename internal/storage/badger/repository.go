// Package badger stores run and match records in an embedded BadgerDB so the
// daemon can keep history without an external database.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/internal/storage"
)

// Config 描述 BadgerDB 仓库参数。
type Config struct {
	// Path 是数据目录，InMemory 为 true 时忽略。
	Path       string
	InMemory   bool
	SyncWrites bool
	// GCInterval 为 0 时不启动值日志回收。
	GCInterval     time.Duration
	GCDiscardRatio float64
	Logger         *slog.Logger
}

const (
	runPrefix   = "run/"
	matchPrefix = "match/"
	runIDs      = "run-id/"
	matchIDs    = "match-id/"
	seqKey      = "meta/seq"
)

// RecordRepository 将记录写入 BadgerDB，键为递增序号，列表按序号倒序读取。
type RecordRepository struct {
	db     *badger.DB
	seq    *badger.Sequence
	mu     sync.Mutex
	stopGC chan struct{}
	gcDone chan struct{}
	logger *slog.Logger
}

// Open 打开数据库并按需启动值日志回收。
func Open(cfg Config) (*RecordRepository, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "badger path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("创建 badger 目录失败: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open badger database")
	}
	seq, err := db.GetSequence([]byte(seqKey), 64)
	if err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "acquire badger sequence")
	}

	repo := &RecordRepository{db: db, seq: seq, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		repo.stopGC = make(chan struct{})
		repo.gcDone = make(chan struct{})
		go repo.runGC(cfg.GCInterval, ratio)
	}
	return repo, nil
}

// AppendRun 写入运行记录，同一 ID 只能写入一次。
func (r *RecordRepository) AppendRun(ctx context.Context, record storage.RunRecord) error {
	if err := storage.CheckRun(record); err != nil {
		return err
	}
	return r.append(ctx, runPrefix, runIDs, "run", record.ID, record)
}

// AppendMatch 写入对局记录，同一 ID 只能写入一次。
func (r *RecordRepository) AppendMatch(ctx context.Context, record storage.MatchRecord) error {
	if err := storage.CheckMatch(record); err != nil {
		return err
	}
	return r.append(ctx, matchPrefix, matchIDs, "match", record.ID, record)
}

// ListRuns 按写入顺序倒序返回运行记录。
func (r *RecordRepository) ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	return list[storage.RunRecord](ctx, r.db, runPrefix, limit)
}

// ListMatches 按写入顺序倒序返回对局记录。
func (r *RecordRepository) ListMatches(ctx context.Context, limit int) ([]storage.MatchRecord, error) {
	return list[storage.MatchRecord](ctx, r.db, matchPrefix, limit)
}

// Close 停止回收协程、归还序号租约并关闭数据库。
func (r *RecordRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	if r.stopGC != nil {
		close(r.stopGC)
		<-r.gcDone
		r.stopGC = nil
	}
	if err := r.seq.Release(); err != nil && r.logger != nil {
		r.logger.Warn("释放 badger 序号失败", slog.String("error", err.Error()))
	}
	return r.db.Close()
}

func (r *RecordRepository) append(ctx context.Context, prefix, idPrefix, kind, id string, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化记录失败: %w", err)
	}

	// 序号分配与写入串行，保证键序与写入顺序一致。
	r.mu.Lock()
	defer r.mu.Unlock()

	idKey := []byte(idPrefix + id)
	err = r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(idKey)
		return err
	})
	switch {
	case err == nil:
		return storage.Duplicate(kind, id)
	case !errors.Is(err, badger.ErrKeyNotFound):
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "read badger index")
	}

	next, err := r.seq.Next()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "allocate badger sequence")
	}
	key := recordKey(prefix, next)
	if err := r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(idKey, key); err != nil {
			return err
		}
		return txn.Set(key, encoded)
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write badger record")
	}
	return nil
}

func list[T any](ctx context.Context, db *badger.DB, prefix string, limit int) ([]T, error) {
	limit = storage.ClampLimit(limit, 0)
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(recordKey(prefix, ^uint64(0))); it.ValidForPrefix(opts.Prefix) && len(out) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			out = append(out, record)
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list badger records")
	}
	return out, nil
}

func recordKey(prefix string, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func (r *RecordRepository) runGC(interval time.Duration, ratio float64) {
	defer close(r.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopGC:
			return
		case <-ticker.C:
			if err := r.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
				r.logger.Warn("badger 值日志回收失败", slog.String("error", err.Error()))
			}
		}
	}
}

// badgerLogger 将 badger 的日志接口适配到 slog。
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

var _ storage.RecordRepository = (*RecordRepository)(nil)
