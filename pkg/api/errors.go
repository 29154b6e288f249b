package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/httputil"
	"github.com/notewise/notewise/pkg/observability"
)

// writeError maps the error taxonomy onto status codes. Client bodies only
// carry safe messages; causes go to the log.
func writeError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error) {
	log := observability.FromContextOr(r.Context(), logger).WithError(err)

	var (
		verr   *apperrors.ValidationError
		uperr  *apperrors.UnknownPlanError
		iperr  *apperrors.InvalidPlanError
		uaerr  *apperrors.UnauthenticatedError
		qerr   *apperrors.QuotaExceededError
		pperr  *apperrors.PaymentProviderError
		cfgErr *apperrors.ConfigurationError
		sigErr *apperrors.SignatureVerificationError
		tferr  *apperrors.TransformationFailedError
	)

	switch {
	case errors.As(err, &verr):
		var details map[string]string
		if verr.Field != "" {
			details = map[string]string{"field": verr.Field}
		}
		httputil.WriteDetailedError(w, http.StatusBadRequest, apperrors.CodeValidation, verr.Error(), details)
	case errors.As(err, &uperr):
		httputil.WriteErrorCode(w, http.StatusBadRequest, apperrors.CodeUnknownPlan, uperr.Error())
	case errors.As(err, &iperr):
		httputil.WriteErrorCode(w, http.StatusBadRequest, apperrors.CodeInvalidPlan, iperr.Error())
	case errors.As(err, &uaerr):
		httputil.WriteErrorCode(w, http.StatusUnauthorized, apperrors.CodeUnauthenticated, "authentication required")
	case errors.As(err, &qerr):
		httputil.WriteDetailedError(w, http.StatusPaymentRequired, apperrors.CodeQuotaExceeded,
			"Monthly transformation limit reached. Upgrade your plan to continue.",
			map[string]string{
				"planId": qerr.PlanID,
				"limit":  strconv.Itoa(qerr.Limit),
				"used":   strconv.Itoa(qerr.Used),
			})
	case errors.As(err, &pperr):
		log.Error("Payment provider request failed")
		httputil.WriteErrorCode(w, http.StatusBadGateway, apperrors.CodePaymentProvider, "Payment provider unavailable, please try again")
	case errors.As(err, &cfgErr):
		log.Error("Configuration error while serving request")
		httputil.WriteErrorCode(w, http.StatusInternalServerError, apperrors.CodeConfiguration, "Billing is not configured for this plan")
	case errors.As(err, &sigErr):
		httputil.WriteErrorCode(w, http.StatusBadRequest, apperrors.CodeSignatureVerification, "invalid webhook signature")
	case errors.As(err, &tferr):
		httputil.WriteErrorCode(w, http.StatusBadGateway, apperrors.CodeTransformationFailed, "Transformation failed, please try again")
	default:
		log.Error("Unhandled error while serving request")
		httputil.WriteInternalError(w)
	}
}
