package server

import (
	"context"
	"errors"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/session"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps domain outcomes onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, card.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, card.ErrInvalidMutation):
		code = codes.FailedPrecondition
	case errors.Is(err, card.ErrSourceUnavailable), errors.Is(err, card.ErrPersistence):
		code = codes.Unavailable
	case errors.Is(err, session.ErrScanInFlight), errors.Is(err, session.ErrStale):
		code = codes.Aborted
	case errors.Is(err, session.ErrClosed):
		code = codes.Unauthenticated
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// committed splits a persistence failure off err: the in-memory change stands
// and the caller still gets a result, flagged as not persisted.
func committed(err error) (persisted bool, rest error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, card.ErrPersistence) {
		return false, nil
	}
	return false, err
}
