package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/pricing"
	"peerlend-backend/internal/repository"
)

// DefaultReferenceHours is the rental length a listed price refers to.
const DefaultReferenceHours = 4

type listingService struct {
	items          repository.ItemRepository
	users          repository.UserRepository
	pricing        *pricing.Engine
	referenceHours int
	now            func() time.Time
}

func NewListingService(items repository.ItemRepository, users repository.UserRepository, engine *pricing.Engine, referenceHours int) ListingService {
	if referenceHours <= 0 {
		referenceHours = DefaultReferenceHours
	}
	if engine == nil {
		engine = pricing.NewEngine()
	}
	return &listingService{
		items:          items,
		users:          users,
		pricing:        engine,
		referenceHours: referenceHours,
		now:            time.Now,
	}
}

// review checks a price against the corridor and the fair suggestion for the
// reference period. Severe abuse blocks the operation.
func (s *listingService) review(category domain.ItemCategory, condition domain.ItemCondition, demand domain.DemandLevel, price int64) (domain.PriceSuggestion, domain.AbuseLevel, error) {
	if err := s.pricing.ValidatePrice(price, category); err != nil {
		return domain.PriceSuggestion{}, "", err
	}
	suggestion, err := s.pricing.SuggestPrice(category, s.referenceHours, condition, demand)
	if err != nil {
		return domain.PriceSuggestion{}, "", err
	}
	abuse := s.pricing.CheckAbuse(price, suggestion.SuggestedPrice)
	if abuse == domain.AbuseSevere {
		logger.Warn("Listing blocked for price abuse", "category", category, "price", price, "suggested", suggestion.SuggestedPrice)
		return suggestion, abuse, domain.ErrPriceAbuse.With("suggested_price", strconv.FormatInt(suggestion.SuggestedPrice, 10))
	}
	return suggestion, abuse, nil
}

func (s *listingService) ListItem(ctx context.Context, in ListItemInput) (*ListingResult, error) {
	logger.EnterMethod("listingService.ListItem", "ownerID", in.OwnerID, "category", in.Category)
	if in.OwnerID == "" || strings.TrimSpace(in.Title) == "" {
		return nil, domain.NewValidationError("owner and title are required")
	}
	if !in.Condition.Valid() {
		return nil, domain.NewValidationError("unknown item condition", "condition", string(in.Condition))
	}
	if in.ValuePaise < 0 {
		return nil, domain.NewValidationError("item value cannot be negative")
	}
	if in.Demand == "" {
		in.Demand = domain.DemandMedium
	}
	if _, err := s.users.GetByID(ctx, in.OwnerID); err != nil {
		return nil, err
	}

	suggestion, abuse, err := s.review(in.Category, in.Condition, in.Demand, in.Price)
	if err != nil {
		logger.ExitMethodWithError("listingService.ListItem", err)
		return nil, err
	}

	now := s.now()
	item := &domain.Item{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Category:    in.Category,
		Condition:   in.Condition,
		ValuePaise:  in.ValuePaise,
		ListedPrice: in.Price,
		Demand:      in.Demand,
		IsAvailable: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.items.Create(ctx, item); err != nil {
		return nil, err
	}
	logger.ExitMethod("listingService.ListItem", "itemID", item.ID, "abuse", abuse)
	return &ListingResult{
		Item:            item,
		Suggestion:      suggestion,
		Abuse:           abuse,
		ReportingPrompt: abuse == domain.AbuseModerate,
	}, nil
}

func (s *listingService) ownedItem(ctx context.Context, ownerID, itemID string) (*domain.Item, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != ownerID {
		logger.Warn("Listing change by non-owner rejected", "itemID", itemID, "userID", ownerID)
		return nil, domain.ErrNotItemOwner.With("item_id", itemID)
	}
	return item, nil
}

func (s *listingService) UpdateListingPrice(ctx context.Context, ownerID, itemID string, price int64) (*ListingResult, error) {
	item, err := s.ownedItem(ctx, ownerID, itemID)
	if err != nil {
		return nil, err
	}
	suggestion, abuse, err := s.review(item.Category, item.Condition, item.Demand, price)
	if err != nil {
		return nil, err
	}
	item.ListedPrice = price
	if err := s.items.Update(ctx, item); err != nil {
		return nil, err
	}
	return &ListingResult{
		Item:            item,
		Suggestion:      suggestion,
		Abuse:           abuse,
		ReportingPrompt: abuse == domain.AbuseModerate,
	}, nil
}

func (s *listingService) Delist(ctx context.Context, ownerID, itemID string) error {
	if _, err := s.ownedItem(ctx, ownerID, itemID); err != nil {
		return err
	}
	return s.items.Delist(ctx, itemID, s.now())
}

func (s *listingService) RecordView(ctx context.Context, itemID string) (int64, error) {
	return s.items.IncrementViewCount(ctx, itemID)
}

func (s *listingService) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	return s.items.GetByID(ctx, itemID)
}
