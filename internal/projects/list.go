package projects

import (
	"strings"

	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	"github.com/quickbuyer/quickbuyer-backend/pkg/pagination"
)

// ListMode selects which slice of the catalog a listing covers.
type ListMode string

const (
	// ListPublic shows approved projects only.
	ListPublic ListMode = "public"
	// ListMine shows every project the caller owns regardless of status.
	ListMine ListMode = "mine"
	// ListAll is the moderation view; admins only.
	ListAll ListMode = "all"
)

// SortOrder names a supported catalog ordering.
type SortOrder string

const (
	SortNewest    SortOrder = "newest"
	SortOldest    SortOrder = "oldest"
	SortPriceLow  SortOrder = "price_low"
	SortPriceHigh SortOrder = "price_high"
	SortRating    SortOrder = "rating"
	SortPopular   SortOrder = "popular"
)

// ParseSortOrder falls back to popular for unknown values.
func ParseSortOrder(value string) SortOrder {
	switch SortOrder(strings.ToLower(strings.TrimSpace(value))) {
	case SortNewest:
		return SortNewest
	case SortOldest:
		return SortOldest
	case SortPriceLow:
		return SortPriceLow
	case SortPriceHigh:
		return SortPriceHigh
	case SortRating:
		return SortRating
	default:
		return SortPopular
	}
}

func (s SortOrder) clauses() []string {
	switch s {
	case SortNewest:
		return []string{"created_at DESC", "id"}
	case SortOldest:
		return []string{"created_at ASC", "id"}
	case SortPriceLow:
		return []string{"price ASC", "created_at DESC", "id"}
	case SortPriceHigh:
		return []string{"price DESC", "created_at DESC", "id"}
	case SortRating:
		return []string{"rating DESC", "review_count DESC", "id"}
	default:
		return []string{"download_count DESC", "created_at DESC", "id"}
	}
}

// ListQuery captures the browse filters accepted by the catalog endpoint.
type ListQuery struct {
	Mode       ListMode
	Status     *enums.ProjectStatus
	Category   string
	Search     string
	Sort       SortOrder
	Pagination pagination.Params
}
