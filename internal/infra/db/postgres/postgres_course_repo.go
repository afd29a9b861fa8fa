package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/domain/ports/repository"
)

var _ repository.CourseRepository = (*courseRepo)(nil)

type courseRepo struct{ pool *pgxpool.Pool }

func NewCourseRepo(pool *pgxpool.Pool) *courseRepo {
	return &courseRepo{pool: pool}
}

const courseColumns = `id, display_id, title, price::text, is_free, is_active`

func (r *courseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+courseColumns+` FROM courses WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	c, err := scanCourse(row)
	if err != nil {
		return nil, mapScanErr(err, domain.ErrCourseNotFound)
	}
	return c, nil
}

// Upsert writes a catalog row. Only the seed tool uses it; the settlement
// flow never writes the catalog.
func (r *courseRepo) Upsert(ctx context.Context, tx repository.Tx, c *model.Course) error {
	const q = `
INSERT INTO courses (id, display_id, title, price, is_free, is_active)
VALUES ($1,$2,$3,$4::numeric,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  display_id=$2, title=$3, price=$4::numeric, is_free=$5, is_active=$6;`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.DisplayID, c.Title, c.Price.String(), c.IsFree, c.IsActive)
	return mapExecErr(err)
}

func (r *courseRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Course, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+courseColumns+` FROM courses WHERE is_active ORDER BY display_id;`)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCourse(s scanner) (*model.Course, error) {
	var (
		c     model.Course
		price string
	)
	if err := s.Scan(&c.ID, &c.DisplayID, &c.Title, &price, &c.IsFree, &c.IsActive); err != nil {
		return nil, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, err
	}
	c.Price = p
	return &c, nil
}
