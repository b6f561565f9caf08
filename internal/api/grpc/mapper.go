package grpc

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/utils"
)

// Messages on the wire are google.protobuf.Struct values. The helpers below
// read request fields and build response objects from domain types.

func getString(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func getBool(in *structpb.Struct, key string) bool {
	return in.GetFields()[key].GetBoolValue()
}

// getInt returns a numeric field and whether it was present.
func getInt(in *structpb.Struct, key string) (int64, bool) {
	v, ok := in.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return int64(n.NumberValue), true
}

func requireString(in *structpb.Struct, key string) (string, error) {
	s := getString(in, key)
	if s == "" {
		return "", domain.NewValidationError(key+" is required", "field", key)
	}
	return s, nil
}

func getRentalWindow(in *structpb.Struct) (utils.RentalWindow, error) {
	start, err := requireString(in, "borrow_start")
	if err != nil {
		return utils.RentalWindow{}, err
	}
	end, err := requireString(in, "expected_return")
	if err != nil {
		return utils.RentalWindow{}, err
	}
	w, err := utils.ParseRentalWindow(start, end)
	if err != nil {
		return utils.RentalWindow{}, domain.NewValidationError("invalid rental window", "reason", err.Error())
	}
	return w, nil
}

// getPayment decodes {"method": "...", "details": {...}} into a variant.
func getPayment(in *structpb.Struct) (domain.PaymentDetails, error) {
	p := in.GetFields()["payment"].GetStructValue()
	if p == nil {
		return nil, domain.NewValidationError("payment is required", "field", "payment")
	}
	details := p.GetFields()["details"].GetStructValue()
	if details == nil {
		details = &structpb.Struct{}
	}
	raw, err := details.MarshalJSON()
	if err != nil {
		return nil, domain.NewValidationError("payment details are malformed", "field", "payment")
	}
	return domain.DecodePaymentDetails(domain.PaymentMethod(getString(p, "method")), raw)
}

func timeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeValue(*t)
}

func tokenValue(t domain.IssuedToken) map[string]any {
	return map[string]any{
		"issued_at":   timeValue(t.IssuedAt),
		"consumed_at": timePtrValue(t.ConsumedAt),
	}
}

func riskValue(r domain.RiskAssessment) map[string]any {
	factors := make([]any, 0, len(r.Factors))
	for _, f := range r.Factors {
		factors = append(factors, map[string]any{
			"name":     f.Name,
			"impact":   f.Impact,
			"polarity": string(f.Polarity),
		})
	}
	return map[string]any{
		"score":               r.Score,
		"level":               string(r.Level),
		"factors":             factors,
		"collateral_required": r.CollateralRequired,
		"suggested_deposit":   r.SuggestedDeposit,
	}
}

// MapTransaction renders the party-visible view of a transaction.
// Verification codes and payment instrument details are never exposed.
func MapTransaction(tx *domain.Transaction) map[string]any {
	out := map[string]any{
		"id":                    tx.ID,
		"item_id":               tx.ItemID,
		"borrower_id":           tx.BorrowerID,
		"lender_id":             tx.LenderID,
		"category":              string(tx.Category),
		"borrow_start":          timeValue(tx.BorrowStart),
		"expected_return":       timeValue(tx.ExpectedReturn),
		"duration_hours":        tx.DurationHours,
		"suggested_price":       tx.SuggestedPrice,
		"agreed_price_paise":    tx.AgreedPricePaise,
		"platform_fee_paise":    tx.PlatformFeePaise,
		"delivery_fee_paise":    tx.DeliveryFeePaise,
		"total_amount_paise":    tx.TotalAmountPaise,
		"pre_auth_amount_paise": tx.PreAuthAmountPaise,
		"late_fee_paise":        tx.LateFeePaise,
		"collateral_paise":      nil,
		"handoff_token":         tokenValue(tx.HandoffToken),
		"return_token":          tokenValue(tx.ReturnToken),
		"handoff_verified":      tx.HandoffVerified,
		"return_verified":       tx.ReturnVerified,
		"handoff_at":            timePtrValue(tx.HandoffAt),
		"returned_at":           timePtrValue(tx.ReturnedAt),
		"delivery_method":       string(tx.DeliveryMethod),
		"risk":                  riskValue(tx.Risk),
		"status":                string(tx.Status),
		"version":               tx.Version,
		"created_at":            timeValue(tx.CreatedAt),
		"updated_at":            timeValue(tx.UpdatedAt),
	}
	if tx.CollateralPaise != nil {
		out["collateral_paise"] = *tx.CollateralPaise
	}
	if tx.PaymentMethod != nil {
		out["payment_method"] = string(tx.PaymentMethod.Method())
	}
	if tx.LateFeeStatus != domain.LateFeeNone {
		out["late_fee_status"] = string(tx.LateFeeStatus)
	}
	if tx.CancelledBy != "" {
		out["cancelled_by"] = tx.CancelledBy
		out["cancel_reason"] = tx.CancelReason
	}
	if tx.Issue != nil {
		out["issue"] = map[string]any{
			"reporter_id": tx.Issue.ReporterID,
			"category":    string(tx.Issue.Category),
			"description": tx.Issue.Description,
			"reported_at": timeValue(tx.Issue.ReportedAt),
		}
	}
	return out
}

func MapItem(it *domain.Item) map[string]any {
	return map[string]any{
		"id":           it.ID,
		"owner_id":     it.OwnerID,
		"title":        it.Title,
		"description":  it.Description,
		"category":     string(it.Category),
		"condition":    string(it.Condition),
		"value_paise":  it.ValuePaise,
		"listed_price": it.ListedPrice,
		"demand":       string(it.Demand),
		"is_available": it.IsAvailable,
		"view_count":   it.ViewCount,
		"rental_count": it.RentalCount,
		"created_at":   timeValue(it.CreatedAt),
		"delisted_at":  timePtrValue(it.DelistedAt),
	}
}

func MapSuggestion(s domain.PriceSuggestion) map[string]any {
	return map[string]any{
		"category":        string(s.Category),
		"suggested_price": s.SuggestedPrice,
		"min_price":       s.MinPrice,
		"max_price":       s.MaxPrice,
		"base_price":      s.BasePrice,
		"breakdown": map[string]any{
			"duration_cost":        s.Breakdown.DurationCost.InexactFloat64(),
			"discount":             s.Breakdown.Discount.InexactFloat64(),
			"condition_adjustment": s.Breakdown.ConditionAdjustment.InexactFloat64(),
			"demand_adjustment":    s.Breakdown.DemandAdjustment.InexactFloat64(),
		},
	}
}

// toStruct builds a response message. Conversion only fails on unsupported
// Go types, which would be a programming error in this package.
func toStruct(m map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(m)
}
