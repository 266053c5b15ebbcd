package models

import "time"

// ListingStatus is the sale status of a listing.
type ListingStatus string

const (
	ListingActive ListingStatus = "active"
	ListingSold   ListingStatus = "sold"
)

// Listing is the part of a marketplace listing the chat needs.
type Listing struct {
	ID         int64         `db:"id" json:"listing_id"`
	SellerID   string        `db:"seller_id" json:"seller_id"`
	Title      string        `db:"title" json:"title"`
	PriceCents int64         `db:"price_cents" json:"price_cents"`
	Status     ListingStatus `db:"status" json:"status"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}
