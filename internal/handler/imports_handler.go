package handler

import (
	"errors"
	"net/http"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Import Handlers
// ============================================================

// uploadImportHandler takes a multipart "file" field. Options come from the
// query string: route, fan_out, sheet.
func uploadImportHandler(im *service.Importer, maxBytes int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /imports")
		defer span.End()

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				handleServiceError(w, err, logger)
				return
			}
			handleServiceError(w, &domain.ErrValidation{Field: "file", Message: "multipart field 'file' is required"}, logger)
			return
		}
		defer file.Close()

		format, err := service.FormatFromName(header.Filename)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		fanOut, err := parseFanOut(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("import.file", header.Filename), attribute.Int64("import.size", header.Size))

		summary, err := im.Import(ctx, file, domain.ImportOptions{
			Format: format,
			Sheet:  r.URL.Query().Get("sheet"),
			FanOut: fanOut,
			Route:  parseBoolParam(r, "route"),
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("import finished",
			zap.String("file", header.Filename),
			zap.Int("rows", summary.Rows),
			zap.Int("created", summary.Created),
			zap.Int("invalid", summary.Invalid),
		)
		writeJSON(w, http.StatusOK, summary)
	}
}

type objectImportRequest struct {
	Key    string `json:"key"`
	Format string `json:"format"`
	Sheet  string `json:"sheet"`
	FanOut int    `json:"fan_out"`
	Route  bool   `json:"route"`
}

func objectImportHandler(im *service.Importer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /imports/object")
		defer span.End()

		var req objectImportRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if req.Key == "" {
			handleServiceError(w, &domain.ErrValidation{Field: "key", Message: "is required"}, logger)
			return
		}
		if req.FanOut < 0 {
			handleServiceError(w, &domain.ErrValidation{Field: "fan_out", Message: "must not be negative"}, logger)
			return
		}
		span.SetAttributes(attribute.String("import.key", req.Key))

		summary, err := im.ImportObject(ctx, req.Key, domain.ImportOptions{
			Format: domain.ImportFormat(req.Format),
			Sheet:  req.Sheet,
			FanOut: req.FanOut,
			Route:  req.Route,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
