package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/postwire/postwire-backend/internal/posts"
)

const postColumns = "id, uuid, title, content, published, rating, created_at, updated_at, deleted_at"

// PostsRepository is the durable store adapter for posts. Every mutating call
// runs inside its own transaction; no multi-call transactions are exposed.
type PostsRepository struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewPostsRepository(db *sql.DB, logger *zap.SugaredLogger) *PostsRepository {
	return &PostsRepository{
		db:     db,
		logger: logger,
	}
}

// Insert persists a new post. The database assigns id, uuid and timestamps;
// the full stored record is returned.
func (r *PostsRepository) Insert(ctx context.Context, title, content string, rating float64, published bool) (*posts.Post, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &posts.StorageError{Op: "insert", Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback()

	query := `
		INSERT INTO posts (title, content, rating, published)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + postColumns

	var post posts.Post
	err = tx.QueryRowContext(ctx, query, title, content, rating, published).Scan(
		&post.ID,
		&post.UUID,
		&post.Title,
		&post.Content,
		&post.Published,
		&post.Rating,
		&post.CreatedAt,
		&post.UpdatedAt,
		&post.DeletedAt,
	)
	if err != nil {
		return nil, &posts.StorageError{Op: "insert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &posts.StorageError{Op: "insert", Err: fmt.Errorf("commit: %w", err)}
	}

	r.logger.Debugw("Inserted post", "id", post.ID, "uuid", post.UUID)
	return &post, nil
}

// FindAll returns every post that has not been soft-deleted.
func (r *PostsRepository) FindAll(ctx context.Context) ([]posts.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE deleted_at IS NULL ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &posts.StorageError{Op: "find_all", Err: err}
	}
	defer rows.Close()

	var result []posts.Post
	for rows.Next() {
		var post posts.Post
		err := rows.Scan(
			&post.ID,
			&post.UUID,
			&post.Title,
			&post.Content,
			&post.Published,
			&post.Rating,
			&post.CreatedAt,
			&post.UpdatedAt,
			&post.DeletedAt,
		)
		if err != nil {
			return nil, &posts.StorageError{Op: "find_all", Err: fmt.Errorf("scan: %w", err)}
		}
		result = append(result, post)
	}

	if err := rows.Err(); err != nil {
		return nil, &posts.StorageError{Op: "find_all", Err: fmt.Errorf("row iteration: %w", err)}
	}

	return result, nil
}

// FindByUUID returns the post identified by uuid, or posts.ErrNotFound when it
// is absent or soft-deleted.
func (r *PostsRepository) FindByUUID(ctx context.Context, uuid string) (*posts.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE uuid = $1 AND deleted_at IS NULL`

	var post posts.Post
	err := r.db.QueryRowContext(ctx, query, uuid).Scan(
		&post.ID,
		&post.UUID,
		&post.Title,
		&post.Content,
		&post.Published,
		&post.Rating,
		&post.CreatedAt,
		&post.UpdatedAt,
		&post.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, posts.ErrNotFound
		}
		return nil, &posts.StorageError{Op: "find_by_uuid", Err: err}
	}

	return &post, nil
}

// DeleteByUUID soft-deletes the post by setting deleted_at. The schema defines
// deleted_at and every read filters on it, so the delete path marks rather
// than removes. Returns the number of rows affected (0 when the uuid is absent
// or already deleted).
func (r *PostsRepository) DeleteByUUID(ctx context.Context, uuid string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &posts.StorageError{Op: "delete_by_uuid", Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback()

	query := `
		UPDATE posts
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE uuid = $1 AND deleted_at IS NULL
	`

	res, err := tx.ExecContext(ctx, query, uuid)
	if err != nil {
		return 0, &posts.StorageError{Op: "delete_by_uuid", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &posts.StorageError{Op: "delete_by_uuid", Err: fmt.Errorf("rows affected: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return 0, &posts.StorageError{Op: "delete_by_uuid", Err: fmt.Errorf("commit: %w", err)}
	}

	r.logger.Debugw("Soft-deleted post", "uuid", uuid, "affected", affected)
	return affected, nil
}

// PatchByUUID rewrites the mutable fields of the post from the merged record
// and returns the number of rows affected. Callers treat anything other than
// exactly 1 as a failure.
func (r *PostsRepository) PatchByUUID(ctx context.Context, uuid string, merged posts.Post) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &posts.StorageError{Op: "patch_by_uuid", Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback()

	query := `
		UPDATE posts
		SET title = $1, content = $2, published = $3, rating = $4, updated_at = $5
		WHERE uuid = $6 AND deleted_at IS NULL
	`

	res, err := tx.ExecContext(ctx, query,
		merged.Title,
		merged.Content,
		merged.Published,
		merged.Rating,
		merged.UpdatedAt.UTC(),
		uuid,
	)
	if err != nil {
		return 0, &posts.StorageError{Op: "patch_by_uuid", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &posts.StorageError{Op: "patch_by_uuid", Err: fmt.Errorf("rows affected: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return 0, &posts.StorageError{Op: "patch_by_uuid", Err: fmt.Errorf("commit: %w", err)}
	}

	return affected, nil
}

// Ping verifies database connectivity within a bounded timeout.
func (r *PostsRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}
