package handler

import (
	"net/http"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Client Profile Handlers
// ============================================================

func createProfileHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /profiles")
		defer span.End()

		var in domain.ProfileInput
		if err := decodeJSON(w, r, &in); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		profile, err := svc.CreateProfile(ctx, in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, profile)
	}
}

func listProfilesHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /workspaces/{workspaceId}/profiles")
		defer span.End()

		profiles, err := svc.ListProfiles(ctx, chi.URLParam(r, "workspaceId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if profiles == nil {
			profiles = []domain.ClientProfile{}
		}
		writeJSON(w, http.StatusOK, profiles)
	}
}

func getProfileHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /profiles/{profileId}")
		defer span.End()

		profile, err := svc.GetProfile(ctx, chi.URLParam(r, "profileId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func updateProfileHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /profiles/{profileId}")
		defer span.End()

		var in domain.ProfileInput
		if err := decodeJSON(w, r, &in); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		profile, err := svc.UpdateProfile(ctx, chi.URLParam(r, "profileId"), in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func setProfileActiveHandler(svc *service.ProfileService, active bool, logger *zap.Logger) http.HandlerFunc {
	name := "POST /profiles/{profileId}/deactivate"
	if active {
		name = "POST /profiles/{profileId}/activate"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), name)
		defer span.End()

		profile, err := svc.SetProfileActive(ctx, chi.URLParam(r, "profileId"), active)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func listProfileAssignmentsHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /profiles/{profileId}/assignments")
		defer span.End()

		page, pageSize := parsePagination(r)
		assignments, err := svc.ListProfileAssignments(ctx, chi.URLParam(r, "profileId"), page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, listResponse(assignments, page, pageSize))
	}
}

func profileUsageHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /profiles/{profileId}/usage")
		defer span.End()

		usage, err := svc.GetProfileUsage(ctx, chi.URLParam(r, "profileId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, usage)
	}
}
