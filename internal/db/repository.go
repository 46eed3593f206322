package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for alerts
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new alert repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	id, jurisdiction_ids::text[], subject, message,
	methods, receivers, statistics, revision,
	created_at, updated_at, deleted_at
`

// ListOptions filters, sorts and paginates alert listings.
type ListOptions struct {
	Search        string
	Jurisdictions []uuid.UUID
	Receivers     []Receiver
	Methods       []Method
	Sort          string
	Limit         int
	Skip          int
}

// Page is one page of alerts plus paging metadata.
type Page struct {
	Data         []*Alert   `json:"data"`
	Total        int        `json:"total"`
	Size         int        `json:"size"`
	Limit        int        `json:"limit"`
	Skip         int        `json:"skip"`
	Page         int        `json:"page"`
	Pages        int        `json:"pages"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

var sortColumns = map[string]string{
	"createdAt":  "created_at ASC",
	"-createdAt": "created_at DESC",
	"updatedAt":  "updated_at ASC",
	"-updatedAt": "updated_at DESC",
	"subject":    "subject ASC",
	"-subject":   "subject DESC",
}

// ValidSort reports whether key is an accepted sort expression.
func ValidSort(key string) bool {
	_, ok := sortColumns[key]
	return ok
}

// CreateAlert inserts a new alert. The alert must already be validated.
func (r *Repository) CreateAlert(ctx context.Context, a *Alert) error {
	stats, err := json.Marshal(a.Statistics)
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}

	query := `
		INSERT INTO alerts (
			id, jurisdiction_ids, subject, message,
			methods, receivers, statistics, revision
		) VALUES (
			$1, $2::uuid[], $3, $4, $5, $6, $7::jsonb, 1
		)
		RETURNING revision, created_at, updated_at
	`

	err = r.db.Pool().QueryRow(ctx, query,
		a.ID,
		uuidStrings(a.JurisdictionIDs()),
		a.Subject,
		a.Message,
		methodStrings(a.Methods),
		receiverStrings(a.Receivers),
		stats,
	).Scan(&a.Revision, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create alert",
			zap.Error(err),
			zap.String("alert_id", a.ID.String()),
		)
		return fmt.Errorf("insert alert: %w", err)
	}

	r.logger.Info("alert created",
		zap.String("alert_id", a.ID.String()),
		zap.Int("jurisdictions", len(a.Jurisdictions)),
	)

	return nil
}

// GetAlert retrieves a live (not soft deleted) alert by ID
func (r *Repository) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1 AND deleted_at IS NULL`

	a, err := scanAlert(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}

	if err := r.populateJurisdictions(ctx, []*Alert{a}); err != nil {
		return nil, err
	}
	return a, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ListAlerts returns one page of live alerts matching opts.
func (r *Repository) ListAlerts(ctx context.Context, opts ListOptions) (*Page, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if s := strings.TrimSpace(opts.Search); s != "" {
		p := arg("%" + escapeLike(s) + "%")
		where = append(where, fmt.Sprintf(`(subject ILIKE %s ESCAPE '\' OR message ILIKE %s ESCAPE '\')`, p, p))
	}
	if len(opts.Jurisdictions) > 0 {
		where = append(where, fmt.Sprintf("jurisdiction_ids && %s::uuid[]", arg(uuidStrings(opts.Jurisdictions))))
	}
	if len(opts.Receivers) > 0 {
		where = append(where, fmt.Sprintf("receivers && %s::text[]", arg(receiverStrings(opts.Receivers))))
	}
	if len(opts.Methods) > 0 {
		where = append(where, fmt.Sprintf("methods && %s::text[]", arg(methodStrings(opts.Methods))))
	}
	cond := strings.Join(where, " AND ")

	page := &Page{Limit: opts.Limit, Skip: opts.Skip, Data: []*Alert{}}

	countQuery := `SELECT COUNT(*), MAX(updated_at) FROM alerts WHERE ` + cond
	if err := r.db.Pool().QueryRow(ctx, countQuery, args...).Scan(&page.Total, &page.LastModified); err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}

	order, ok := sortColumns[opts.Sort]
	if !ok {
		order = sortColumns["-createdAt"]
	}

	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE %s ORDER BY %s, id LIMIT %s OFFSET %s`,
		alertColumns, cond, order, arg(opts.Limit), arg(opts.Skip))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		page.Data = append(page.Data, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	if err := r.populateJurisdictions(ctx, page.Data); err != nil {
		return nil, err
	}

	page.Size = len(page.Data)
	if page.Limit > 0 {
		page.Page = page.Skip/page.Limit + 1
		page.Pages = (page.Total + page.Limit - 1) / page.Limit
	}

	return page, nil
}

// ReplaceAlert rewrites every mutable field of an alert if its revision still
// matches expectedRevision.
func (r *Repository) ReplaceAlert(ctx context.Context, a *Alert, expectedRevision int64) error {
	stats, err := json.Marshal(a.Statistics)
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}

	query := `
		UPDATE alerts
		SET jurisdiction_ids = $1::uuid[], subject = $2, message = $3,
			methods = $4, receivers = $5, statistics = $6::jsonb,
			revision = revision + 1, updated_at = NOW()
		WHERE id = $7 AND revision = $8 AND deleted_at IS NULL
		RETURNING revision, created_at, updated_at
	`

	err = r.db.Pool().QueryRow(ctx, query,
		uuidStrings(a.JurisdictionIDs()),
		a.Subject,
		a.Message,
		methodStrings(a.Methods),
		receiverStrings(a.Receivers),
		stats,
		a.ID,
		expectedRevision,
	).Scan(&a.Revision, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.missOrConflict(ctx, a.ID)
	}
	if err != nil {
		return fmt.Errorf("replace alert: %w", err)
	}

	return nil
}

// UpdateAlertStatistics writes only the statistics of an alert, guarded by
// a revision check, and returns the updated record.
func (r *Repository) UpdateAlertStatistics(ctx context.Context, id uuid.UUID, stats Statistics, expectedRevision int64) (*Alert, error) {
	raw, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("marshal statistics: %w", err)
	}

	query := `
		UPDATE alerts
		SET statistics = $1::jsonb, revision = revision + 1, updated_at = NOW()
		WHERE id = $2 AND revision = $3 AND deleted_at IS NULL
		RETURNING ` + alertColumns

	a, err := scanAlert(r.db.Pool().QueryRow(ctx, query, raw, id, expectedRevision))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missOrConflict(ctx, id)
	}
	if err != nil {
		r.logger.Error("failed to update alert statistics",
			zap.Error(err),
			zap.String("alert_id", id.String()),
		)
		return nil, fmt.Errorf("update alert statistics: %w", err)
	}

	if err := r.populateJurisdictions(ctx, []*Alert{a}); err != nil {
		return nil, err
	}
	return a, nil
}

// SoftDeleteAlert marks an alert deleted and returns its final state.
func (r *Repository) SoftDeleteAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	query := `
		UPDATE alerts
		SET deleted_at = NOW(), revision = revision + 1, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + alertColumns

	a, err := scanAlert(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("soft delete alert: %w", err)
	}

	if err := r.populateJurisdictions(ctx, []*Alert{a}); err != nil {
		return nil, err
	}

	r.logger.Info("alert deleted", zap.String("alert_id", id.String()))

	return a, nil
}

func (r *Repository) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1 AND deleted_at IS NULL)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check alert: %w", err)
	}
	if !exists {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("alert %s: %w", id, ErrRevisionConflict)
}

// populateJurisdictions fills the denormalized code/name of every reference.
func (r *Repository) populateJurisdictions(ctx context.Context, alerts []*Alert) error {
	var ids []uuid.UUID
	for _, a := range alerts {
		ids = append(ids, a.JurisdictionIDs()...)
	}
	if len(ids) == 0 {
		return nil
	}

	found, err := r.JurisdictionsByID(ctx, ids)
	if err != nil {
		return err
	}

	for _, a := range alerts {
		for i, ref := range a.Jurisdictions {
			if j, ok := found[ref.ID]; ok {
				a.Jurisdictions[i] = JurisdictionRef(j)
			}
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var (
		a             Alert
		jurisdictions []string
		methods       []string
		receivers     []string
		stats         []byte
	)

	err := row.Scan(
		&a.ID,
		&jurisdictions,
		&a.Subject,
		&a.Message,
		&methods,
		&receivers,
		&stats,
		&a.Revision,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, s := range jurisdictions {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse jurisdiction id: %w", err)
		}
		a.Jurisdictions = append(a.Jurisdictions, JurisdictionRef{ID: id})
	}
	for _, m := range methods {
		a.Methods = append(a.Methods, Method(m))
	}
	for _, rc := range receivers {
		a.Receivers = append(a.Receivers, Receiver(rc))
	}

	a.Statistics = Statistics{}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &a.Statistics); err != nil {
			return nil, fmt.Errorf("decode statistics: %w", err)
		}
	}

	return &a, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func methodStrings(ms []Method) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}

func receiverStrings(rs []Receiver) []string {
	out := make([]string, len(rs))
	for i, rc := range rs {
		out[i] = string(rc)
	}
	return out
}
