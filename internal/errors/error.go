package errors

import (
	"errors"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrEmptyAuth        = errors.New("missing authorization")
	ErrEmptySubject     = errors.New("missing subject")
	ErrTokenInvalid     = errors.New("invalid token")
	ErrSessionNotFound  = errors.New("session not found")
	ErrRecordNotFound   = errors.New("cart record not found")
	ErrDuplicateRecord  = errors.New("cart record already exists")
	ErrInvalidLineItem  = errors.New("invalid cart line item")
	ErrAnonymousRemote  = errors.New("remote id on anonymous cart")
	ErrUnknownStore     = errors.New("unknown store backend")
	ErrInvalidProductID = errors.New("invalid product id")
	ErrProviderClosed   = errors.New("session provider closed")
)

func HandleError(err error, span trace.Span) {
	if err == nil {
		return
	}
	span.AddEvent(err.Error())
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}
