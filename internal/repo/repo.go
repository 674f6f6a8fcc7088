package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"flowai/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const taskColumns = `id,publisher,title,description,requirements,reward,category,deadline,created_at,worker,is_claimed,is_completed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                         domain.Task
		title, desc, reqs, reward string
		isClaimed, isCompleted    int
	)
	err := row.Scan(&t.ID, &t.Publisher, &title, &desc, &reqs, &reward, &t.Category, &t.Deadline, &t.CreatedAt, &t.Worker, &isClaimed, &isCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	wei, err := domain.ParseWei(reward)
	if err != nil {
		return t, fmt.Errorf("task %d: %w", t.ID, err)
	}
	t.Reward = wei
	t.Title = domain.ParseText(title)
	t.Description = domain.ParseText(desc)
	t.Requirements = domain.ParseText(reqs)
	t.IsClaimed = isClaimed != 0
	t.IsCompleted = isCompleted != 0
	return t, nil
}

// InsertTask publishes t unless the id already exists. It reports whether a row was written.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (bool, error) {
	worker := t.Worker
	if worker == "" {
		worker = domain.ZeroAddress
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Publisher, t.Title.Encode(), t.Description.Encode(), t.Requirements.Encode(), t.RewardOrZero().String(),
		t.Category, t.Deadline, t.CreatedAt, worker, boolInt(t.IsClaimed), boolInt(t.IsCompleted))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetTask(ctx context.Context, id uint64) (domain.Task, error) {
	return getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id uint64) (domain.Task, error) {
	return getTask(ctx, tx, id)
}

func getTask(ctx context.Context, q queryer, id uint64) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// TaskFilters narrows ListTasks. Status is open, claimed, completed or empty for all.
type TaskFilters struct {
	Status string
	Worker string
	Limit  int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	switch f.Status {
	case "":
	case "open":
		clauses = append(clauses, "is_claimed=0", "is_completed=0")
	case "claimed":
		clauses = append(clauses, "is_claimed=1", "is_completed=0")
	case "completed":
		clauses = append(clauses, "is_completed=1")
	default:
		return nil, fmt.Errorf("unknown task status filter %q", f.Status)
	}
	if f.Worker != "" {
		clauses = append(clauses, "lower(worker)=lower(?)")
		args = append(args, f.Worker)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// OpenTaskIDs lists unclaimed, uncompleted task ids in ascending order.
func (r Repo) OpenTaskIDs(ctx context.Context) ([]uint64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM tasks WHERE is_claimed=0 AND is_completed=0 ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimTask assigns an open task to worker. False means it was not open.
func (r Repo) ClaimTask(ctx context.Context, tx *sql.Tx, id uint64, worker string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET is_claimed=1, worker=? WHERE id=? AND is_claimed=0 AND is_completed=0`, worker, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteTask marks a task claimed by worker as completed. False means the
// task was not held by worker or was already completed.
func (r Repo) CompleteTask(ctx context.Context, tx *sql.Tx, id uint64, worker, result, completedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET is_completed=1, result=?, completed_at=? WHERE id=? AND is_claimed=1 AND is_completed=0 AND lower(worker)=lower(?)`,
		result, completedAt, id, worker)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) TaskResult(ctx context.Context, id uint64) (string, error) {
	var result sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT result FROM tasks WHERE id=?`, id).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !result.Valid) {
		return "", ErrNotFound
	}
	return result.String, err
}

func (r Repo) GetWorker(ctx context.Context, addr string) (domain.WorkerStats, error) {
	return getWorker(ctx, r.DB, addr)
}

func (r Repo) GetWorkerTx(ctx context.Context, tx *sql.Tx, addr string) (domain.WorkerStats, error) {
	return getWorker(ctx, tx, addr)
}

func getWorker(ctx context.Context, q queryer, addr string) (domain.WorkerStats, error) {
	var (
		s        domain.WorkerStats
		earnings string
		active   int
	)
	err := q.QueryRowContext(ctx, `SELECT address,reputation,completed_tasks,total_earnings,is_active FROM workers WHERE address=?`, addrKey(addr)).
		Scan(&s.Address, &s.Reputation, &s.CompletedTasks, &earnings, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.TotalEarnings, err = domain.ParseWei(earnings); err != nil {
		return s, err
	}
	s.IsActive = active != 0
	return s, nil
}

func (r Repo) UpsertWorker(ctx context.Context, tx *sql.Tx, s domain.WorkerStats, updatedAt string) error {
	earnings := "0"
	if s.TotalEarnings != nil {
		earnings = s.TotalEarnings.String()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO workers(address,reputation,completed_tasks,total_earnings,is_active,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(address) DO UPDATE SET reputation=excluded.reputation, completed_tasks=excluded.completed_tasks, total_earnings=excluded.total_earnings, is_active=excluded.is_active, updated_at=excluded.updated_at`,
		addrKey(s.Address), s.Reputation, s.CompletedTasks, earnings, boolInt(s.IsActive), updatedAt)
	return err
}

// GetBalance returns zero for unknown accounts.
func (r Repo) GetBalance(ctx context.Context, addr string) (*big.Int, error) {
	return getBalance(ctx, r.DB, addr)
}

func getBalance(ctx context.Context, q queryer, addr string) (*big.Int, error) {
	var wei string
	err := q.QueryRowContext(ctx, `SELECT wei FROM balances WHERE address=?`, addrKey(addr)).Scan(&wei)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return domain.ParseWei(wei)
}

func (r Repo) AddBalance(ctx context.Context, tx *sql.Tx, addr string, amount *big.Int) error {
	cur, err := getBalance(ctx, tx, addr)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(cur, amount)
	_, err = tx.ExecContext(ctx, `INSERT INTO balances(address,wei) VALUES (?,?) ON CONFLICT(address) DO UPDATE SET wei=excluded.wei`,
		addrKey(addr), next.String())
	return err
}

// EventFilters narrows LatestEvents.
type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Before     int64
	Limit      int
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func addrKey(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
