package grpc

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/logger"
)

// ErrorDomain is reported in ErrorInfo details.
const ErrorDomain = "peerlend.custody"

const retryMessage = "service temporarily unavailable, please try again"

func grpcCode(kind domain.Kind) codes.Code {
	switch kind {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindAuthorization:
		return codes.PermissionDenied
	case domain.KindState, domain.KindPolicy:
		return codes.FailedPrecondition
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindConflict:
		return codes.Aborted
	case domain.KindCollaborator:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus converts a service error into a gRPC status carrying the domain
// code as ErrorInfo.Reason. Collaborator failures expose only a generic
// message; the cause stays in the logs.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "request cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "request timed out")
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		logger.Error("Unhandled service error", "error", err)
		return status.Error(codes.Internal, "internal error")
	}

	code := grpcCode(de.Kind())
	message := de.Message
	switch {
	case de.Code == domain.CodePaymentDeclined:
		code = codes.FailedPrecondition
	case de.Kind() == domain.KindCollaborator:
		logger.Error("Collaborator failure", "code", de.Code, "error", err)
		message = retryMessage
	}

	st, derr := status.New(code, message).WithDetails(&errdetails.ErrorInfo{
		Reason:   string(de.Code),
		Domain:   ErrorDomain,
		Metadata: de.Metadata,
	})
	if derr != nil {
		return status.Error(code, message)
	}
	return st.Err()
}

// ReasonOf returns the domain code carried by a status error, if any.
func ReasonOf(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.Reason
		}
	}
	return ""
}
