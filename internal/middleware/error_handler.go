package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/anchorpay/settlement/internal/dto"
	"github.com/anchorpay/settlement/internal/repository"
	"github.com/anchorpay/settlement/internal/secrets"
	"github.com/anchorpay/settlement/internal/service"
)

// MapError translates domain and database errors to an HTTP status and a
// structured body. The mapping policy lives only at this boundary.
func MapError(err error) (int, dto.ErrorResponse) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return http.StatusNotFound, dto.ErrorResponse{Error: "resource not found"}
	case errors.Is(err, service.ErrInvalidAmount):
		return http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()}
	case errors.Is(err, service.ErrAlreadyDelivered):
		return http.StatusConflict, dto.ErrorResponse{Error: "webhook already delivered"}
	case errors.Is(err, repository.ErrAlreadySettled):
		return http.StatusConflict, dto.ErrorResponse{Error: "payment already settled"}
	case errors.Is(err, secrets.ErrSecretUnavailable), errors.Is(err, secrets.ErrMisconfigured):
		return http.StatusServiceUnavailable, dto.ErrorResponse{Error: "secret provider unavailable"}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return http.StatusConflict, dto.ErrorResponse{
				Error:   "resource already exists",
				Details: pgErr.Detail,
			}
		case "23503": // foreign_key_violation
			return http.StatusBadRequest, dto.ErrorResponse{
				Error:   "referenced resource does not exist",
				Details: pgErr.Detail,
			}
		case "23514": // check_violation
			return http.StatusBadRequest, dto.ErrorResponse{
				Error:   "constraint violation",
				Details: pgErr.Detail,
			}
		}
	}

	log.Error().Err(err).Msg("unhandled error")
	return http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"}
}

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			status, resp := MapError(err)
			c.JSON(status, resp)
		}
	}
}
