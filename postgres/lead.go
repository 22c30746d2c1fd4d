package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/phbpx/leadsvc"
)

const leadColumns = `id, company_name, phone, sector, status, notes, created_at, updated_at`

type LeadService struct {
	db  *sqlx.DB
	loc *time.Location
}

// NewLeadService returns a store backed by db. loc decides which calendar day
// counts as "today" in analytics.
func NewLeadService(db *sqlx.DB, loc *time.Location) leadsvc.LeadService {
	if loc == nil {
		loc = time.UTC
	}
	return &LeadService{
		db:  db,
		loc: loc,
	}
}

func (ls LeadService) Create(ctx context.Context, newLead leadsvc.NewLead) (leadsvc.Lead, error) {
	var lead leadsvc.Lead

	tx, err := ls.db.BeginTxx(ctx, nil)
	if err != nil {
		return lead, fmt.Errorf("begin: %w", err)
	}

	// Postgres keeps microseconds; truncate so the returned value matches
	// what is stored.
	now := time.Now().UTC().Truncate(time.Microsecond)

	query := `
	INSERT INTO leads (
		company_name, phone, sector, status, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $5
	) RETURNING ` + leadColumns

	err = tx.GetContext(ctx, &lead, query,
		newLead.CompanyName,
		newLead.Phone,
		string(newLead.Sector),
		string(leadsvc.StatusNew),
		now,
	)
	if err != nil {
		tx.Rollback()
		if isCheckViolation(err) {
			return lead, fmt.Errorf("inserting lead: %w", leadsvc.ErrInvalidInput)
		}
		return lead, fmt.Errorf("inserting lead: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return leadsvc.Lead{}, fmt.Errorf("commit: %w", err)
	}
	return lead, nil
}

func (ls LeadService) GetByID(ctx context.Context, id int64) (leadsvc.Lead, error) {
	query := `
	SELECT ` + leadColumns + `
	FROM leads
	WHERE id = $1`

	var lead leadsvc.Lead
	if err := ls.db.GetContext(ctx, &lead, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lead, leadsvc.ErrLeadNotFound
		}
		return lead, fmt.Errorf("selecting lead %d: %w", id, err)
	}
	return lead, nil
}

func (ls LeadService) List(ctx context.Context, filter leadsvc.Filter) ([]leadsvc.Lead, int, error) {
	where, args := filterClause(filter)

	var total int
	if err := ls.db.GetContext(ctx, &total, `SELECT count(*) FROM leads`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("counting leads: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = leadsvc.DefaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
	SELECT %s
	FROM leads%s
	ORDER BY created_at DESC, id DESC
	LIMIT $%d OFFSET $%d`, leadColumns, where, len(args)+1, len(args)+2)

	leads := []leadsvc.Lead{}
	if err := ls.db.SelectContext(ctx, &leads, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("selecting leads: %w", err)
	}
	return leads, total, nil
}

// filterClause builds the WHERE clause shared by the count and page queries.
func filterClause(filter leadsvc.Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Sector != "" {
		args = append(args, string(filter.Sector))
		conds = append(conds, fmt.Sprintf("sector = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		conds = append(conds, fmt.Sprintf("(company_name ILIKE $%d OR phone ILIKE $%d)", len(args), len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike makes LIKE wildcards in user input match literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (ls LeadService) Update(ctx context.Context, id int64, upd leadsvc.Update) (leadsvc.Lead, error) {
	now := time.Now().UTC()

	// updated_at must strictly increase even when two updates land within
	// the same clock tick.
	sets := []string{"updated_at = GREATEST($1, updated_at + interval '1 microsecond')"}
	args := []interface{}{now}

	if upd.Status != nil {
		args = append(args, string(*upd.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.Notes.Set {
		if upd.ClearsNotes() {
			sets = append(sets, "notes = NULL")
		} else {
			args = append(args, upd.Notes.Value)
			sets = append(sets, fmt.Sprintf("notes = $%d", len(args)))
		}
	}

	args = append(args, id)
	query := fmt.Sprintf(`
	UPDATE leads
	SET %s
	WHERE id = $%d
	RETURNING %s`, strings.Join(sets, ", "), len(args), leadColumns)

	var lead leadsvc.Lead
	if err := ls.db.GetContext(ctx, &lead, query, args...); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return lead, leadsvc.ErrLeadNotFound
		case isCheckViolation(err):
			return lead, fmt.Errorf("updating lead %d: %w", id, leadsvc.ErrInvalidInput)
		}
		return lead, fmt.Errorf("updating lead %d: %w", id, err)
	}
	return lead, nil
}

func (ls LeadService) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := ls.db.ExecContext(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting lead %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting lead %d: %w", id, err)
	}
	return n > 0, nil
}

// Analytics reads every count from one snapshot so the grouped numbers always
// add up to the total.
func (ls LeadService) Analytics(ctx context.Context, now time.Time) (leadsvc.Analytics, error) {
	tx, err := ls.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return leadsvc.Analytics{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	start, end := leadsvc.DayBounds(now, ls.loc)

	var counts struct {
		Total int `db:"total"`
		Today int `db:"today"`
	}
	query := `
	SELECT
		count(*) AS total,
		count(*) FILTER (WHERE created_at >= $1 AND created_at < $2) AS today
	FROM leads`
	if err := tx.GetContext(ctx, &counts, query, start, end); err != nil {
		return leadsvc.Analytics{}, fmt.Errorf("counting leads: %w", err)
	}

	byStatus, err := groupCounts(ctx, tx, `SELECT status AS key, count(*) AS count FROM leads GROUP BY status`)
	if err != nil {
		return leadsvc.Analytics{}, fmt.Errorf("grouping by status: %w", err)
	}

	bySector, err := groupCounts(ctx, tx, `SELECT sector AS key, count(*) AS count FROM leads GROUP BY sector`)
	if err != nil {
		return leadsvc.Analytics{}, fmt.Errorf("grouping by sector: %w", err)
	}

	return leadsvc.ComputeAnalytics(counts.Total, counts.Today, byStatus, bySector), nil
}

func groupCounts(ctx context.Context, q sqlx.QueryerContext, query string) (map[string]int, error) {
	var rows []struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, query); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out, nil
}
