// Package sqlite stores federated client datasets in a SQLite database so
// large simulated populations do not have to live in memory.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/fedsim/pkg/data"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/tensor"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrMigration    = errors.New("database migration error")
)

const specKey = "element_spec"

type Database struct {
	*sqlx.DB
}

func NewDatabase(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}
	if err := database.Migrate(); err != nil {
		db.Close()

		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_client_data",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS metadata (
						key TEXT PRIMARY KEY,
						value TEXT NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS examples (
						client_id TEXT NOT NULL,
						idx INTEGER NOT NULL,
						x TEXT NOT NULL,
						y TEXT NOT NULL,
						PRIMARY KEY (client_id, idx)
					)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS examples`,
					`DROP TABLE IF EXISTS metadata`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "sqlite3", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}

type dbExample struct {
	ClientID string `db:"client_id"`
	Idx      int    `db:"idx"`
	X        string `db:"x"`
	Y        string `db:"y"`
}

// Import writes every client of src into db, replacing what was there.
func Import(ctx context.Context, db *Database, src data.ClientData) error {
	spec, err := json.Marshal(src.ElementSpec())
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM examples`); err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, specKey, string(spec)); err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	const q = `INSERT INTO examples (client_id, idx, x, y) VALUES (:client_id, :idx, :x, :y)`
	for _, id := range src.ClientIDs() {
		ds, err := src.CreateDatasetForClient(ctx, id)
		if err != nil {
			return err
		}
		for i := range ds.Len() {
			row, err := toDB(id, i, ds.Example(i))
			if err != nil {
				return err
			}
			if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
				return fmt.Errorf("%w: %w", ErrDBQuery, err)
			}
		}
	}

	return tx.Commit()
}

type clientData struct {
	db   *Database
	spec tensor.ElementSpec
	ids  []string
}

// NewClientData reads the client index of a database written by Import.
func NewClientData(ctx context.Context, db *Database) (data.ClientData, error) {
	var raw string
	if err := db.GetContext(ctx, &raw, `SELECT value FROM metadata WHERE key = ?`, specKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("element spec: %w", pkgerrors.ErrNotFound)
		}

		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var spec tensor.ElementSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	var ids []string
	if err := db.SelectContext(ctx, &ids, `SELECT DISTINCT client_id FROM examples ORDER BY client_id`); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return &clientData{db: db, spec: spec, ids: ids}, nil
}

func (c *clientData) ClientIDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)

	return out
}

func (c *clientData) ElementSpec() tensor.ElementSpec {
	return c.spec
}

func (c *clientData) CreateDatasetForClient(ctx context.Context, id string) (*data.Dataset, error) {
	var rows []dbExample
	if err := c.db.SelectContext(ctx, &rows,
		`SELECT client_id, idx, x, y FROM examples WHERE client_id = ? ORDER BY idx`, id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("client %q: %w", id, pkgerrors.ErrNotFound)
	}

	examples := make([]data.Example, len(rows))
	for i, row := range rows {
		e, err := fromDB(row)
		if err != nil {
			return nil, err
		}
		examples[i] = e
	}

	return data.NewDataset(c.spec, examples)
}

func toDB(clientID string, idx int, e data.Example) (dbExample, error) {
	x, err := json.Marshal(e.X)
	if err != nil {
		return dbExample{}, err
	}
	y, err := json.Marshal(e.Y)
	if err != nil {
		return dbExample{}, err
	}

	return dbExample{ClientID: clientID, Idx: idx, X: string(x), Y: string(y)}, nil
}

func fromDB(row dbExample) (data.Example, error) {
	var e data.Example
	if err := json.Unmarshal([]byte(row.X), &e.X); err != nil {
		return data.Example{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}
	if err := json.Unmarshal([]byte(row.Y), &e.Y); err != nil {
		return data.Example{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	return e, nil
}
