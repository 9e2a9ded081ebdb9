package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

// PostgresStore is the durable JobStore. The conditional update runs inside
// one transaction with a row lock, so concurrent accept attempts serialize
// on the database and at most one sees the expected prior state. The change
// feed is a poll on updated_at since Postgres gives us no push channel the
// rest of the stack uses.
type PostgresStore struct {
	db           *sql.DB
	pollInterval time.Duration
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, pollInterval: time.Second}, nil
}

const jobColumns = `id, customer_id, worker_id, status, waste_type, volume_option_id, bag_size_id,
	pickup_lat, pickup_lon, base_fee, service_fee, disposal_fee, total, worker_payout,
	is_asap, scheduled_at, created_at, assigned_at, started_at, completed_at`

func (p *PostgresStore) Create(ctx context.Context, j *models.Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	pr := j.Pricing
	if pr == nil {
		pr = &models.PriceBreakdown{}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`, updated_at)
		VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,now())`,
		j.ID, j.CustomerID, j.WorkerID, string(j.Status), j.WasteType, j.VolumeOptionID, j.BagSizeID,
		j.Pickup.Lat, j.Pickup.Lon, pr.BaseFee, pr.ServiceFee, pr.DisposalFee, pr.Total, pr.WorkerPayout,
		j.IsASAP, j.ScheduledAt, j.CreatedAt, j.AssignedAt, j.StartedAt, j.CompletedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	return scanJob(row)
}

func (p *PostgresStore) TryUpdate(ctx context.Context, id string, expect Expect, apply func(*models.Job)) (*models.Job, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1 FOR UPDATE`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if !expect.matches(j) {
		return nil, ErrConflict
	}
	apply(j)
	_, err = tx.ExecContext(ctx, `UPDATE jobs SET worker_id=NULLIF($2,''), status=$3,
		assigned_at=$4, started_at=$5, completed_at=$6, updated_at=now() WHERE id=$1`,
		j.ID, j.WorkerID, string(j.Status), j.AssignedAt, j.StartedAt, j.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return j, nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status=$1`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Subscribe polls for rows touched since the last sweep. Creation vs update
// is distinguished by created_at falling inside the window.
func (p *PostgresStore) Subscribe(ctx context.Context) (<-chan JobChange, func()) {
	ch := make(chan JobChange, 128)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		last := time.Now()
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			now := time.Now()
			rows, err := p.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE updated_at > $1`, last)
			if err != nil {
				continue
			}
			for rows.Next() {
				j, err := scanJob(rows)
				if err != nil {
					break
				}
				kind := ChangeUpdated
				if j.CreatedAt.After(last) {
					kind = ChangeCreated
				}
				select {
				case ch <- JobChange{Job: j, Kind: kind}:
				default:
				}
			}
			rows.Close()
			last = now
		}
	}()
	var once sync.Once
	return ch, func() { once.Do(func() { close(done) }) }
}

// RecordSettlement persists a failed payout for manual reconciliation.
func (p *PostgresStore) RecordSettlement(ctx context.Context, jobID, workerID string, amount float64, reason string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO pending_settlements(job_id, worker_id, amount, reason, created_at) VALUES($1,$2,$3,$4,now())`,
		jobID, workerID, amount, reason)
	return err
}

// Migrate executes raw DDL, used by the server's optional migration hook.
func (p *PostgresStore) Migrate(ctx context.Context, ddl string) error {
	_, err := p.db.ExecContext(ctx, ddl)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*models.Job, error) {
	var (
		j        models.Job
		pr       models.PriceBreakdown
		workerID sql.NullString
		status   string
	)
	err := r.Scan(&j.ID, &j.CustomerID, &workerID, &status, &j.WasteType, &j.VolumeOptionID, &j.BagSizeID,
		&j.Pickup.Lat, &j.Pickup.Lon, &pr.BaseFee, &pr.ServiceFee, &pr.DisposalFee, &pr.Total, &pr.WorkerPayout,
		&j.IsASAP, &j.ScheduledAt, &j.CreatedAt, &j.AssignedAt, &j.StartedAt, &j.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.WorkerID = workerID.String
	j.Status = models.JobStatus(status)
	j.Pricing = &pr
	return &j, nil
}
