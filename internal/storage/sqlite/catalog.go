package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

// CatalogRepository stores categories and the playlists filed under them.
type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(dbConn *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: dbConn}
}

const selectCategories = `SELECT id, name, download_path, use_series_folders FROM categories`

func (r *CatalogRepository) ListCategories(ctx context.Context) ([]storage.Category, error) {
	rows, err := r.db.QueryContext(ctx, selectCategories+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []storage.Category

	for rows.Next() {
		var c storage.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.DownloadPath, &c.UseSeriesFolders); err != nil {
			return nil, err
		}

		categories = append(categories, c)
	}

	return categories, rows.Err()
}

func (r *CatalogRepository) GetCategory(ctx context.Context, id int64) (storage.Category, error) {
	return r.getCategory(ctx, `WHERE id = ?`, id)
}

func (r *CatalogRepository) GetCategoryByName(ctx context.Context, name string) (storage.Category, error) {
	return r.getCategory(ctx, `WHERE name = ?`, name)
}

func (r *CatalogRepository) getCategory(ctx context.Context, where string, arg any) (storage.Category, error) {
	var c storage.Category

	err := r.db.QueryRowContext(ctx, selectCategories+" "+where, arg).
		Scan(&c.ID, &c.Name, &c.DownloadPath, &c.UseSeriesFolders)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Category{}, fmt.Errorf("category %v: %w", arg, storage.ErrNotFound)
	}

	return c, err
}

func (r *CatalogRepository) CreateCategory(ctx context.Context, c storage.Category) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (name, download_path, use_series_folders) VALUES (?, ?, ?)`,
		c.Name, c.DownloadPath, c.UseSeriesFolders,
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("category %q: %w", c.Name, storage.ErrConflict)
	}

	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (r *CatalogRepository) UpdateCategory(ctx context.Context, c storage.Category) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE categories SET name = ?, download_path = ?, use_series_folders = ? WHERE id = ?`,
		c.Name, c.DownloadPath, c.UseSeriesFolders, c.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("category %q: %w", c.Name, storage.ErrConflict)
	}

	if err != nil {
		return err
	}

	return requireAffected(res, "category", c.ID)
}

// DeleteCategory removes the category and, through the foreign key, its playlists.
func (r *CatalogRepository) DeleteCategory(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return requireAffected(res, "category", id)
}

const selectLinks = `
	SELECT m.id, m.category_id, m.url, m.name, c.name
	FROM m3u_links m
	JOIN categories c ON m.category_id = c.id`

func (r *CatalogRepository) ListLinks(ctx context.Context) ([]storage.M3ULink, error) {
	return r.queryLinks(ctx, selectLinks+` ORDER BY c.name, m.name, m.id`)
}

func (r *CatalogRepository) ListLinksByCategory(ctx context.Context, categoryID int64) ([]storage.M3ULink, error) {
	return r.queryLinks(ctx, selectLinks+` WHERE m.category_id = ? ORDER BY m.name, m.id`, categoryID)
}

func (r *CatalogRepository) queryLinks(ctx context.Context, query string, args ...any) ([]storage.M3ULink, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []storage.M3ULink

	for rows.Next() {
		var l storage.M3ULink
		if err := rows.Scan(&l.ID, &l.CategoryID, &l.URL, &l.Name, &l.CategoryName); err != nil {
			return nil, err
		}

		links = append(links, l)
	}

	return links, rows.Err()
}

func (r *CatalogRepository) GetLink(ctx context.Context, id int64) (storage.M3ULink, error) {
	var l storage.M3ULink

	err := r.db.QueryRowContext(ctx, selectLinks+` WHERE m.id = ?`, id).
		Scan(&l.ID, &l.CategoryID, &l.URL, &l.Name, &l.CategoryName)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.M3ULink{}, fmt.Errorf("m3u link %d: %w", id, storage.ErrNotFound)
	}

	return l, err
}

// CreateLink stores a playlist. The name defaults to the URL.
func (r *CatalogRepository) CreateLink(ctx context.Context, l storage.M3ULink) (int64, error) {
	if l.Name == "" {
		l.Name = l.URL
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO m3u_links (category_id, url, name) VALUES (?, ?, ?)`,
		l.CategoryID, l.URL, l.Name,
	)
	if isForeignKeyViolation(err) {
		return 0, fmt.Errorf("category %d: %w", l.CategoryID, storage.ErrNotFound)
	}

	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (r *CatalogRepository) UpdateLink(ctx context.Context, l storage.M3ULink) error {
	if l.Name == "" {
		l.Name = l.URL
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE m3u_links SET category_id = ?, url = ?, name = ? WHERE id = ?`,
		l.CategoryID, l.URL, l.Name, l.ID,
	)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("category %d: %w", l.CategoryID, storage.ErrNotFound)
	}

	if err != nil {
		return err
	}

	return requireAffected(res, "m3u link", l.ID)
}

func (r *CatalogRepository) DeleteLink(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM m3u_links WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return requireAffected(res, "m3u link", id)
}

func requireAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, storage.ErrNotFound)
	}

	return nil
}
