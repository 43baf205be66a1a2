package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
)

var _ port.DocumentStore = DocumentsRepository{}

// A DocumentsRepository keeps documents as JSONB rows of the documents
// table, keyed by collection and product id.
type DocumentsRepository struct {
	sqldb sqldb
}

func NewDocumentsRepository(sqldb sqldb) DocumentsRepository {
	return DocumentsRepository{sqldb}
}

func (r DocumentsRepository) AddDocument(
	ctx context.Context, collection string, p domain.Product,
) (string, error) {
	const op = "DocumentsRepository.AddDocument"

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	body, err := json.Marshal(toDocument(p))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	query := `
		INSERT INTO documents (collection, product_id, body)
		VALUES ($1, $2, $3)
		RETURNING doc_id::text;`

	var docID string
	err = r.sqldb.QueryRowContext(
		ctx, query, collection, p.ID, string(body),
	).Scan(&docID)
	if err != nil {
		return "", fmt.Errorf("%s: failed to insert: %w", op, err)
	}
	return docID, nil
}

func (r DocumentsRepository) FindDocument(
	ctx context.Context, collection string, productID string,
) (domain.Product, error) {
	const op = "DocumentsRepository.FindDocument"

	if err := ctx.Err(); err != nil {
		return domain.Product{}, fmt.Errorf("%s: %w", op, err)
	}

	query := `
		SELECT body FROM documents
		WHERE collection = $1 AND product_id = $2;`

	var body []byte
	err := r.sqldb.QueryRowContext(ctx, query, collection, productID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return domain.Product{}, fmt.Errorf("%s: %w", op, err)
	}

	var d document
	if err := json.Unmarshal(body, &d); err != nil {
		return domain.Product{}, fmt.Errorf("%s: %w", op, err)
	}
	return d.toDomain(), nil
}
