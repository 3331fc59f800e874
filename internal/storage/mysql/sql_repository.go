package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"AgentOS-Bridge/internal/storage"
)

// mysqlDuplicateEntry 是 MySQL 主键冲突的错误号。
const mysqlDuplicateEntry = 1062

// SQLRecordRepository 使用 MySQL 存储运行与对局记录，只执行 INSERT 与 SELECT。
type SQLRecordRepository struct {
	db *sql.DB
}

// NewSQLRecordRepository 创建连接池并执行迁移。
func NewSQLRecordRepository(ctx context.Context, cfg Config) (*SQLRecordRepository, error) {
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &SQLRecordRepository{db: db}, nil
}

const insertRunSQL = `INSERT INTO run_records
    (id, strategy, goal, status, answer, error_code, error_text, steps, trace, created_at, finished_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertMatchSQL = `INSERT INTO match_records
    (id, family, puzzle, expected, winner, margin, scorecard, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const listRunsSQL = `SELECT id, strategy, goal, status, answer, error_code, error_text, steps, trace, created_at, finished_at
    FROM run_records ORDER BY seq DESC LIMIT ?`

const listMatchesSQL = `SELECT id, family, puzzle, expected, winner, margin, scorecard, created_at
    FROM match_records ORDER BY seq DESC LIMIT ?`

// AppendRun 将运行记录写入 MySQL。
func (s *SQLRecordRepository) AppendRun(ctx context.Context, record storage.RunRecord) error {
	if err := storage.CheckRun(record); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertRunSQL,
		record.ID,
		record.Strategy,
		record.Goal,
		record.Status,
		record.Answer,
		record.ErrorCode,
		record.ErrorText,
		record.Steps,
		nullJSON(record.Trace),
		record.CreatedAt,
		record.FinishedAt,
	); err != nil {
		if isDuplicate(err) {
			return storage.Duplicate("run", record.ID)
		}
		return fmt.Errorf("写入运行记录失败: %w", err)
	}
	return nil
}

// AppendMatch 将对局记录写入 MySQL。
func (s *SQLRecordRepository) AppendMatch(ctx context.Context, record storage.MatchRecord) error {
	if err := storage.CheckMatch(record); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertMatchSQL,
		record.ID,
		record.Family,
		record.Puzzle,
		record.Expected,
		record.Winner,
		record.Margin,
		nullJSON(record.Scorecard),
		record.CreatedAt,
	); err != nil {
		if isDuplicate(err) {
			return storage.Duplicate("match", record.ID)
		}
		return fmt.Errorf("写入对局记录失败: %w", err)
	}
	return nil
}

// ListRuns 查询最近的若干条运行记录。
func (s *SQLRecordRepository) ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, listRunsSQL, storage.ClampLimit(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var records []storage.RunRecord
	for rows.Next() {
		var (
			record storage.RunRecord
			trace  []byte
		)
		if err := rows.Scan(&record.ID, &record.Strategy, &record.Goal, &record.Status, &record.Answer,
			&record.ErrorCode, &record.ErrorText, &record.Steps, &trace, &record.CreatedAt, &record.FinishedAt); err != nil {
			return nil, fmt.Errorf("解析运行记录失败: %w", err)
		}
		record.Trace = trace
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历运行记录失败: %w", err)
	}
	return records, nil
}

// ListMatches 查询最近的若干条对局记录。
func (s *SQLRecordRepository) ListMatches(ctx context.Context, limit int) ([]storage.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, listMatchesSQL, storage.ClampLimit(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("查询对局记录失败: %w", err)
	}
	defer rows.Close()

	var records []storage.MatchRecord
	for rows.Next() {
		var (
			record    storage.MatchRecord
			scorecard []byte
		)
		if err := rows.Scan(&record.ID, &record.Family, &record.Puzzle, &record.Expected, &record.Winner,
			&record.Margin, &scorecard, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析对局记录失败: %w", err)
		}
		record.Scorecard = scorecard
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历对局记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRecordRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

var (
	_ storage.RecordRepository = (*SQLRecordRepository)(nil)
	_ storage.RecordRepository = (*FileRecordRepository)(nil)
)
