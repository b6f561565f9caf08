package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/pricing"
	"peerlend-backend/internal/service"
)

const ListingServiceName = "peerlend.custody.v1.ListingService"

// ListingServer is the server API for ListingService.
type ListingServer interface {
	ListItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateListingPrice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delist(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SuggestPrice(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ListingServiceDesc = grpc.ServiceDesc{
	ServiceName: ListingServiceName,
	HandlerType: (*ListingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ListingServiceName, "ListItem", ListingServer.ListItem),
		unary(ListingServiceName, "UpdateListingPrice", ListingServer.UpdateListingPrice),
		unary(ListingServiceName, "Delist", ListingServer.Delist),
		unary(ListingServiceName, "GetItem", ListingServer.GetItem),
		unary(ListingServiceName, "SuggestPrice", ListingServer.SuggestPrice),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "peerlend/custody/v1/listing.proto",
}

func RegisterListingServer(s grpc.ServiceRegistrar, srv ListingServer) {
	s.RegisterService(&ListingServiceDesc, srv)
}

type ListingHandler struct {
	listingSvc service.ListingService
	pricing    *pricing.Engine
}

func NewListingHandler(listingSvc service.ListingService, engine *pricing.Engine) *ListingHandler {
	if engine == nil {
		engine = pricing.NewEngine()
	}
	return &ListingHandler{listingSvc: listingSvc, pricing: engine}
}

var _ ListingServer = (*ListingHandler)(nil)

func listingResult(res *service.ListingResult) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"item":             MapItem(res.Item),
		"suggestion":       MapSuggestion(res.Suggestion),
		"abuse":            string(res.Abuse),
		"reporting_prompt": res.ReportingPrompt,
	})
}

func (h *ListingHandler) ListItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	price, _ := getInt(req, "price")
	value, _ := getInt(req, "value_paise")
	res, err := h.listingSvc.ListItem(ctx, service.ListItemInput{
		OwnerID:     userID,
		Title:       getString(req, "title"),
		Description: getString(req, "description"),
		Category:    domain.ItemCategory(getString(req, "category")),
		Condition:   domain.ItemCondition(getString(req, "condition")),
		ValuePaise:  value,
		Price:       price,
		Demand:      domain.DemandLevel(getString(req, "demand")),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return listingResult(res)
}

func (h *ListingHandler) UpdateListingPrice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	price, ok := getInt(req, "price")
	if !ok {
		return nil, toStatus(domain.NewValidationError("price is required", "field", "price"))
	}
	res, err := h.listingSvc.UpdateListingPrice(ctx, userID, getString(req, "item_id"), price)
	if err != nil {
		return nil, toStatus(err)
	}
	return listingResult(res)
}

func (h *ListingHandler) Delist(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.listingSvc.Delist(ctx, userID, getString(req, "item_id")); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"success": true})
}

// GetItem returns an item and counts the view.
func (h *ListingHandler) GetItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	itemID := getString(req, "item_id")
	item, err := h.listingSvc.GetItem(ctx, itemID)
	if err != nil {
		return nil, toStatus(err)
	}
	if views, err := h.listingSvc.RecordView(ctx, itemID); err == nil {
		item.ViewCount = views
	}
	return toStruct(map[string]any{"item": MapItem(item)})
}

// SuggestPrice quotes a fair rental price without touching any listing.
func (h *ListingHandler) SuggestPrice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	hours, _ := getInt(req, "duration_hours")
	demand := domain.DemandLevel(getString(req, "demand"))
	if demand == "" {
		demand = domain.DemandMedium
	}
	s, err := h.pricing.SuggestPrice(domain.ItemCategory(getString(req, "category")), int(hours),
		domain.ItemCondition(getString(req, "condition")), demand)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"suggestion": MapSuggestion(s)})
}
