package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"campus-market/internal/models"
)

var (
	ErrListingNotFound  = errors.New("listing not found")
	ErrListingNotActive = errors.New("listing is no longer active")
)

// ListingRepository is the listing status store.
type ListingRepository interface {
	Get(ctx context.Context, listingID int64) (models.Listing, error)
	GetSellerID(ctx context.Context, listingID int64) (string, error)
	// MarkSold moves an active listing to sold; it is the only status
	// transition the chat service performs. It returns ErrListingNotActive
	// when the listing was already sold.
	MarkSold(ctx context.Context, listingID int64) error
}

// ListingRepo is a sqlx implementation of ListingRepository.
type ListingRepo struct {
	db *sqlx.DB
}

// NewListingRepo constructs a ListingRepo.
func NewListingRepo(db *sqlx.DB) *ListingRepo {
	return &ListingRepo{db: db}
}

// Get fetches a single listing.
func (r *ListingRepo) Get(ctx context.Context, listingID int64) (models.Listing, error) {
	var listing models.Listing
	err := r.db.GetContext(ctx, &listing, `SELECT id, seller_id, title, price_cents, status, created_at FROM listings WHERE id=$1`, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Listing{}, ErrListingNotFound
	}
	return listing, err
}

// GetSellerID returns the owner of a listing.
func (r *ListingRepo) GetSellerID(ctx context.Context, listingID int64) (string, error) {
	var sellerID string
	err := r.db.GetContext(ctx, &sellerID, `SELECT seller_id FROM listings WHERE id=$1`, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrListingNotFound
	}
	return sellerID, err
}

// MarkSold is a compare-and-swap on the status column.
func (r *ListingRepo) MarkSold(ctx context.Context, listingID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE listings SET status='sold' WHERE id=$1 AND status='active'`, listingID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 1 {
		return nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM listings WHERE id=$1)`, listingID); err != nil {
		return err
	}
	if !exists {
		return ErrListingNotFound
	}
	return ErrListingNotActive
}
