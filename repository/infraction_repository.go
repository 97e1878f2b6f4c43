package repository

import (
	"context"
	"fmt"

	"quizzy-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InfractionRepository handles database operations for the infractions corpus
type InfractionRepository struct {
	db *pgxpool.Pool
}

// NewInfractionRepository creates a new infraction repository
func NewInfractionRepository(db *pgxpool.Pool) *InfractionRepository {
	return &InfractionRepository{db: db}
}

// ListAll returns every infraction ordered by id
func (r *InfractionRepository) ListAll(ctx context.Context) ([]models.Infraction, error) {
	query := `
		SELECT
			id,
			categorie,
			infraction,
			description,
			article,
			sanction_prison,
			sanction_amende,
			aggravation,
			COALESCE(mots_cles, '{}'),
			COALESCE(exemples, '{}'),
			created_at,
			updated_at
		FROM infractions
		ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query infractions: %w", err)
	}
	defer rows.Close()

	var infractions []models.Infraction
	for rows.Next() {
		var inf models.Infraction
		err := rows.Scan(
			&inf.ID,
			&inf.Categorie,
			&inf.Infraction,
			&inf.Description,
			&inf.Article,
			&inf.SanctionPrison,
			&inf.SanctionAmende,
			&inf.Aggravation,
			&inf.MotsCles,
			&inf.Exemples,
			&inf.CreatedAt,
			&inf.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan infraction: %w", err)
		}
		infractions = append(infractions, inf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating infractions: %w", err)
	}

	return infractions, nil
}

// Count returns the number of stored infractions
func (r *InfractionRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM infractions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count infractions: %w", err)
	}
	return n, nil
}

// ReplaceAll deletes every infraction and inserts the given ones in one transaction.
// Records with a zero id are numbered after the highest explicit id.
func (r *InfractionRepository) ReplaceAll(ctx context.Context, infractions []models.Infraction) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM infractions`); err != nil {
		return 0, fmt.Errorf("failed to clear infractions: %w", err)
	}

	nextID := 0
	for _, inf := range infractions {
		if inf.ID > nextID {
			nextID = inf.ID
		}
	}

	batch := &pgx.Batch{}
	for _, inf := range infractions {
		id := inf.ID
		if id == 0 {
			nextID++
			id = nextID
		}
		batch.Queue(`
			INSERT INTO infractions (
				id, categorie, infraction, description, article,
				sanction_prison, sanction_amende, aggravation, mots_cles, exemples
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id,
			inf.Categorie,
			inf.Infraction,
			inf.Description,
			inf.Article,
			inf.SanctionPrison,
			inf.SanctionAmende,
			inf.Aggravation,
			nonNil(inf.MotsCles),
			nonNil(inf.Exemples),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("failed to insert infractions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit infractions: %w", err)
	}

	return len(infractions), nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
