package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"soulcrush/internal/common"
	"soulcrush/internal/config"
	"soulcrush/internal/model"
)

// Store wraps access to the companies and applications tables via a
// shared *sqlx.DB. Queries are written with ? placeholders and rebound
// for the underlying driver.
type Store struct {
	DB     *sqlx.DB
	logger *slog.Logger

	// Now and NewID are the server-side sources of creation timestamps
	// and row ids. Tests replace them to get deterministic ordering.
	Now   func() time.Time
	NewID func() uuid.UUID
}

// New creates a new Store that uses a shared *sqlx.DB with pooling.
func New(database *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		DB:     database,
		logger: logger,
		Now:    time.Now,
		NewID:  uuid.New,
	}
}

// Open connects to the configured database and applies pool settings.
// sqlite only tolerates one writer, so its pool is capped at a single
// connection.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == config.DriverSQLite {
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}

// Ping checks connectivity for deep health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

const (
	insertCompanySQL = `INSERT INTO companies (id, name, website, ceo, industry) VALUES (?, ?, ?, ?, ?)`

	insertApplicationSQL = `INSERT INTO applications (id, company_id, status, date) VALUES (?, ?, ?, ?)`

	listApplicationsSQL = `SELECT a.id, a.status, a.date,
       c.id AS company_id, c.name, c.website, c.ceo, c.industry
FROM applications a
JOIN companies c ON a.company_id = c.id
ORDER BY a.date DESC, a.id DESC`

	deleteApplicationSQL = `DELETE FROM applications WHERE id = ?`

	updateStatusSQL = `UPDATE applications SET status = ? WHERE id = ?`

	selectStatusSQL = `SELECT status FROM applications WHERE id = ?`
)

// advanceStatusSQL moves a row one step along the status cycle in a
// single statement. Unknown stored tokens are left as they are.
var advanceStatusSQL, advanceStatusArgs = buildAdvanceStatus()

func buildAdvanceStatus() (string, []any) {
	var b strings.Builder
	args := make([]any, 0, 2*len(model.Statuses))
	b.WriteString(`UPDATE applications SET status = CASE status`)
	for _, st := range model.Statuses {
		b.WriteString(` WHEN ? THEN ?`)
		args = append(args, st.String(), st.Next().String())
	}
	b.WriteString(` ELSE status END WHERE id = ? RETURNING status`)
	return b.String(), args
}

// CreateApplication inserts a fresh company and an application that
// references it inside one transaction. Either both rows are committed
// or neither is. Ids and the creation date are generated here, never
// taken from the caller.
func (s *Store) CreateApplication(ctx context.Context, req model.CreateCompanyRequest, status model.Status) (model.ApplicationResponse, error) {
	company := model.Company{
		ID:       s.NewID(),
		Name:     req.Name,
		Website:  req.Website,
		CEO:      req.CEO,
		Industry: req.Industry,
	}
	app := model.Application{
		ID:        s.NewID(),
		CompanyID: company.ID,
		Status:    status,
		CreatedAt: s.Now().UTC(),
	}
	date := model.FormatDate(app.CreatedAt)

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return model.ApplicationResponse{}, common.StoreError("begin transaction", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.DB.Rebind(insertCompanySQL),
		company.ID.String(), company.Name, company.Website, company.CEO, company.Industry); err != nil {
		s.logger.Error("insert company failed", "company", company.Name, "error", err)
		return model.ApplicationResponse{}, common.StoreError("insert company", err)
	}

	if _, err := tx.ExecContext(ctx, s.DB.Rebind(insertApplicationSQL),
		app.ID.String(), company.ID.String(), app.Status.String(), date); err != nil {
		s.logger.Error("insert application failed", "company", company.Name, "error", err)
		return model.ApplicationResponse{}, common.StoreError("insert application", err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("commit create application failed", "company", company.Name, "error", err)
		return model.ApplicationResponse{}, common.StoreError("commit transaction", err)
	}

	return model.ApplicationResponse{
		ID:      app.ID,
		Company: company,
		Status:  app.Status,
		Date:    date,
	}, nil
}

type applicationRow struct {
	ID        string `db:"id"`
	Status    string `db:"status"`
	Date      string `db:"date"`
	CompanyID string `db:"company_id"`
	Name      string `db:"name"`
	Website   string `db:"website"`
	CEO       string `db:"ceo"`
	Industry  string `db:"industry"`
}

func (r applicationRow) decode() (model.ApplicationResponse, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return model.ApplicationResponse{}, common.DecodeError(fmt.Sprintf("application %q: malformed id", r.ID), err)
	}
	companyID, err := uuid.Parse(r.CompanyID)
	if err != nil {
		return model.ApplicationResponse{}, common.DecodeError(fmt.Sprintf("application %s: malformed company id %q", r.ID, r.CompanyID), err)
	}
	status, err := model.ParseStatus(r.Status)
	if err != nil {
		return model.ApplicationResponse{}, common.DecodeError(fmt.Sprintf("application %s: unknown status", r.ID), err)
	}
	return model.ApplicationResponse{
		ID: id,
		Company: model.Company{
			ID:       companyID,
			Name:     r.Name,
			Website:  r.Website,
			CEO:      r.CEO,
			Industry: r.Industry,
		},
		Status: status,
		Date:   r.Date,
	}, nil
}

// ListApplications returns every application joined with its company,
// newest first. A single undecodable row fails the whole call.
func (s *Store) ListApplications(ctx context.Context) ([]model.ApplicationResponse, error) {
	var rows []applicationRow
	if err := s.DB.SelectContext(ctx, &rows, listApplicationsSQL); err != nil {
		s.logger.Error("list applications failed", "error", err)
		return nil, common.StoreError("fetch applications", err)
	}

	out := make([]model.ApplicationResponse, 0, len(rows))
	for _, r := range rows {
		item, err := r.decode()
		if err != nil {
			s.logger.Error("decode application row failed", "application_id", r.ID, "error", err)
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// DeleteApplication removes one application row. The company row is
// left in place. Deleting an absent id affects zero rows and is not an
// error; the affected row count is returned for logging.
func (s *Store) DeleteApplication(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(deleteApplicationSQL), id.String())
	if err != nil {
		s.logger.Error("delete application failed", "application_id", id, "error", err)
		return 0, common.StoreError("delete application", err)
	}
	return rowsAffected(res), nil
}

// UpdateApplicationStatus overwrites the status of one application.
// Last write wins. An absent id affects zero rows and is not an error.
func (s *Store) UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status model.Status) (int64, error) {
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(updateStatusSQL), status.String(), id.String())
	if err != nil {
		s.logger.Error("update application status failed", "application_id", id, "status", status, "error", err)
		return 0, common.StoreError("update application status", err)
	}
	return rowsAffected(res), nil
}

// AdvanceApplicationStatus moves one application to the next status and
// returns the stored result. The read and the write are one statement, so
// concurrent advances never lose a step. The boolean is false when no
// row has the id.
func (s *Store) AdvanceApplicationStatus(ctx context.Context, id uuid.UUID) (model.Status, bool, error) {
	args := append(append([]any{}, advanceStatusArgs...), id.String())

	var token string
	err := s.DB.GetContext(ctx, &token, s.DB.Rebind(advanceStatusSQL), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("advance application status failed", "application_id", id, "error", err)
		return "", false, common.StoreError("advance application status", err)
	}
	status, err := model.ParseStatus(token)
	if err != nil {
		return "", false, common.DecodeError(fmt.Sprintf("application %s: unknown status", id), err)
	}
	return status, true, nil
}

// GetApplicationStatus reads the stored status of one application. The
// boolean is false when no row has the id.
func (s *Store) GetApplicationStatus(ctx context.Context, id uuid.UUID) (model.Status, bool, error) {
	var token string
	err := s.DB.GetContext(ctx, &token, s.DB.Rebind(selectStatusSQL), id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, common.StoreError("read application status", err)
	}
	status, err := model.ParseStatus(token)
	if err != nil {
		return "", false, common.DecodeError(fmt.Sprintf("application %s: unknown status", id), err)
	}
	return status, true, nil
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return -1
	}
	return n
}
