package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/service"
)

const CustodyServiceName = "peerlend.custody.v1.CustodyService"

// CustodyServer is the server API for CustodyService.
type CustodyServer interface {
	CreateTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyHandoff(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyReturn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReportIssue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReissueToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordDisputeOutcome(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var CustodyServiceDesc = grpc.ServiceDesc{
	ServiceName: CustodyServiceName,
	HandlerType: (*CustodyServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(CustodyServiceName, "CreateTransaction", CustodyServer.CreateTransaction),
		unary(CustodyServiceName, "GetTransaction", CustodyServer.GetTransaction),
		unary(CustodyServiceName, "VerifyHandoff", CustodyServer.VerifyHandoff),
		unary(CustodyServiceName, "VerifyReturn", CustodyServer.VerifyReturn),
		unary(CustodyServiceName, "CancelTransaction", CustodyServer.CancelTransaction),
		unary(CustodyServiceName, "ReportIssue", CustodyServer.ReportIssue),
		unary(CustodyServiceName, "ReissueToken", CustodyServer.ReissueToken),
		unary(CustodyServiceName, "RecordDisputeOutcome", CustodyServer.RecordDisputeOutcome),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "peerlend/custody/v1/custody.proto",
}

func RegisterCustodyServer(s grpc.ServiceRegistrar, srv CustodyServer) {
	s.RegisterService(&CustodyServiceDesc, srv)
}

type CustodyHandler struct {
	custodySvc service.CustodyService
}

func NewCustodyHandler(custodySvc service.CustodyService) *CustodyHandler {
	return &CustodyHandler{custodySvc: custodySvc}
}

var _ CustodyServer = (*CustodyHandler)(nil)

// CreateTransaction books an item for the calling borrower.
func (h *CustodyHandler) CreateTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	in, err := createInput(req, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	tx, err := h.custodySvc.Create(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	logger.Info("Transaction created over gRPC", "transactionID", tx.ID, "borrowerID", userID)
	return toStruct(map[string]any{
		"transaction":   MapTransaction(tx),
		"handoff_token": tx.HandoffToken.Encoded,
		"return_token":  tx.ReturnToken.Encoded,
	})
}

func createInput(req *structpb.Struct, borrowerID string) (service.CreateTransactionInput, error) {
	itemID, err := requireString(req, "item_id")
	if err != nil {
		return service.CreateTransactionInput{}, err
	}
	lenderID, err := requireString(req, "lender_id")
	if err != nil {
		return service.CreateTransactionInput{}, err
	}
	window, err := getRentalWindow(req)
	if err != nil {
		return service.CreateTransactionInput{}, err
	}
	pay, err := getPayment(req)
	if err != nil {
		return service.CreateTransactionInput{}, err
	}
	in := service.CreateTransactionInput{
		ItemID:          itemID,
		BorrowerID:      borrowerID,
		LenderID:        lenderID,
		BorrowStart:     window.Start,
		ExpectedReturn:  window.End,
		Demand:          domain.DemandLevel(getString(req, "demand")),
		DeliveryMethod:  domain.DeliveryMethod(getString(req, "delivery_method")),
		Payment:         pay,
		OfferCollateral: getBool(req, "offer_collateral"),
		IdempotencyKey:  getString(req, "idempotency_key"),
	}
	if in.DeliveryMethod == "" {
		in.DeliveryMethod = domain.DeliverySelf
	}
	if price, ok := getInt(req, "agreed_price"); ok {
		in.AgreedPrice = &price
	}
	return in, nil
}

func (h *CustodyHandler) GetTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := h.custodySvc.Get(ctx, getString(req, "transaction_id"), userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"transaction": MapTransaction(tx)})
}

func (h *CustodyHandler) VerifyHandoff(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.verify(ctx, req, h.custodySvc.VerifyHandoff)
}

func (h *CustodyHandler) VerifyReturn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.verify(ctx, req, h.custodySvc.VerifyReturn)
}

type verifyFunc func(ctx context.Context, transactionID, scannerID, rawToken string) (*domain.Transaction, service.ScanResult, error)

func (h *CustodyHandler) verify(ctx context.Context, req *structpb.Struct, fn verifyFunc) (*structpb.Struct, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	token, err := requireString(req, "token")
	if err != nil {
		return nil, toStatus(err)
	}
	tx, res, err := fn(ctx, getString(req, "transaction_id"), userID, token)
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{
		"transaction":       MapTransaction(tx),
		"already_processed": res.AlreadyProcessed,
	}
	if res.Outcome != "" {
		out["outcome"] = string(res.Outcome)
	}
	return toStruct(out)
}

func (h *CustodyHandler) CancelTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := h.custodySvc.Cancel(ctx, getString(req, "transaction_id"), userID, getString(req, "reason"))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"transaction": MapTransaction(tx)})
}

func (h *CustodyHandler) ReportIssue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	report := service.IssueInput{
		Category:    domain.IssueCategory(getString(req, "category")),
		Description: getString(req, "description"),
	}
	tx, err := h.custodySvc.ReportIssue(ctx, getString(req, "transaction_id"), userID, report)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"transaction": MapTransaction(tx)})
}

func (h *CustodyHandler) ReissueToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	tokenType := domain.TokenType(getString(req, "type"))
	tx, encoded, err := h.custodySvc.ReissueToken(ctx, getString(req, "transaction_id"), userID, tokenType)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"transaction": MapTransaction(tx),
		"token":       encoded,
	})
}

// RecordDisputeOutcome applies the disputed trust outcome to a party once a
// dispute is resolved. Only arbiters may call it.
func (h *CustodyHandler) RecordDisputeOutcome(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	callerID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !HasRole(ctx, RoleArbiter) {
		logger.Warn("Dispute outcome rejected", "callerID", callerID)
		return nil, status.Error(codes.PermissionDenied, "arbiter role required")
	}
	applied, err := h.custodySvc.RecordDisputeOutcome(ctx, getString(req, "transaction_id"), getString(req, "user_id"))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"applied": applied})
}
