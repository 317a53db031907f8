package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/database"
	"github.com/hbomb79/Lumen/pkg/logger"
	"github.com/jmoiron/sqlx"
)

var log = logger.Get("Catalog")

type (
	dbManager interface {
		GetSqlxDb() *sqlx.DB
		WrapTx(context.Context, func(*sqlx.Tx) error) error
	}

	// mediaModel is the row representation of a MediaRecord. The metadata
	// is stored as a single JSONB column.
	mediaModel struct {
		ID        uuid.UUID                     `db:"id"`
		Filename  string                        `db:"filename"`
		Metadata  database.JsonColumn[Metadata] `db:"metadata"`
		CreatedAt time.Time                     `db:"created_at"`
	}

	// PostgresStore is the SQL implementation of the catalog. All queries
	// are executed against the connection held by the database manager, with
	// InsertAll wrapping its inserts in a single transaction.
	PostgresStore struct {
		db    dbManager
		clock *monotonicClock
	}
)

func NewPostgresStore(db dbManager) *PostgresStore {
	return &PostgresStore{db: db, clock: newMonotonicClock()}
}

func (store *PostgresStore) Insert(ctx context.Context, record NewRecord) (*MediaRecord, error) {
	if err := record.Validate(); err != nil {
		return nil, wrapErr("insert", err)
	}

	created := record.toMediaRecord(store.clock.Next())
	if err := insertRecord(ctx, store.db.GetSqlxDb(), created); err != nil {
		return nil, wrapErr("insert", err)
	}

	log.Emit(logger.NEW, "Inserted media record %s (%s)\n", created.ID, created.Filename)
	return created, nil
}

// InsertAll inserts every record given inside of a single transaction. If any
// insert fails, none of the records are persisted.
func (store *PostgresStore) InsertAll(ctx context.Context, records []NewRecord) ([]*MediaRecord, error) {
	for _, record := range records {
		if err := record.Validate(); err != nil {
			return nil, wrapErr("insert", err)
		}
	}

	created := make([]*MediaRecord, 0, len(records))
	if err := store.db.WrapTx(ctx, func(tx *sqlx.Tx) error {
		for _, record := range records {
			model := record.toMediaRecord(store.clock.Next())
			if err := insertRecord(ctx, tx, model); err != nil {
				return err
			}

			created = append(created, model)
		}

		return nil
	}); err != nil {
		return nil, wrapErr("insert", err)
	}

	log.Emit(logger.NEW, "Inserted %d media records\n", len(created))
	return created, nil
}

// List returns every record in the catalog, ordered by the time of insertion (oldest
// first), with the record ID used to break any ties.
func (store *PostgresStore) List(ctx context.Context) ([]*MediaRecord, error) {
	query, args, err := selectMediaBuilder().OrderBy("created_at ASC", "id ASC").ToSql()
	if err != nil {
		return nil, wrapErr("list", fmt.Errorf("failed to construct list media query: %w", err))
	}

	db := store.db.GetSqlxDb()
	var results []mediaModel
	if err := db.SelectContext(ctx, &results, db.Rebind(query), args...); err != nil {
		return nil, wrapErr("list", err)
	}

	output := make([]*MediaRecord, len(results))
	for k, v := range results {
		output[k] = mediaModelToRecord(&v)
	}

	return output, nil
}

func (store *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*MediaRecord, error) {
	query, args, err := selectMediaBuilder().Where("id=?", id).ToSql()
	if err != nil {
		return nil, wrapErr("lookup", fmt.Errorf("failed to construct select media query: %w", err))
	}

	db := store.db.GetSqlxDb()
	var model mediaModel
	if err := db.GetContext(ctx, &model, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}

		return nil, wrapErr("lookup", err)
	}

	return mediaModelToRecord(&model), nil
}

// DeleteByID removes the record with the given ID, returning true if a record
// was removed or false if no such record existed.
func (store *PostgresStore) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := store.db.GetSqlxDb().ExecContext(ctx, `DELETE FROM media WHERE id=$1`, id)
	if err != nil {
		return false, wrapErr("delete", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("delete", err)
	}

	if affected > 0 {
		log.Emit(logger.REMOVE, "Deleted media record %s\n", id)
	}
	return affected > 0, nil
}

func insertRecord(ctx context.Context, db database.Queryable, record *MediaRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO media(id, filename, metadata, created_at)
		VALUES ($1, $2, $3, $4)
	`, record.ID, record.Filename, database.NewJsonColumn(record.Metadata), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert media record for %s: %w", record.Filename, err)
	}

	return nil
}

func selectMediaBuilder() squirrel.SelectBuilder {
	return squirrel.Select("id", "filename", "metadata", "created_at").From("media")
}

func mediaModelToRecord(model *mediaModel) *MediaRecord {
	meta := *model.Metadata.Get()
	if meta.Tags == nil {
		meta.Tags = []string{}
	}

	return &MediaRecord{
		ID:        model.ID,
		Filename:  model.Filename,
		Metadata:  meta,
		CreatedAt: model.CreatedAt.UTC(),
	}
}
