package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/port"
)

var importTracer = otel.Tracer("service/import")

// maxRowErrors caps the row errors returned in a summary.
const maxRowErrors = 100

// headerAliases maps normalized column headers to lead fields.
var headerAliases = map[string]string{
	"email": "email", "emailaddress": "email", "workemail": "email", "contactemail": "email",
	"phone": "phone", "phonenumber": "phone", "telephone": "phone", "tel": "phone", "mobile": "phone", "workphone": "phone",
	"firstname": "first_name", "first": "first_name", "givenname": "first_name",
	"lastname": "last_name", "last": "last_name", "surname": "last_name", "familyname": "last_name",
	"name": "full_name", "fullname": "full_name", "contactname": "full_name", "contact": "full_name",
	"company": "company", "companyname": "company", "organization": "company", "business": "company", "businessname": "company", "account": "company",
	"industry": "industry", "industrycode": "industry", "industrycodes": "industry", "sic": "industry", "siccode": "industry", "naics": "industry", "naicscode": "industry",
	"companysize": "company_size", "employees": "company_size", "employeecount": "company_size", "size": "company_size", "headcount": "company_size",
	"city": "city", "town": "city",
	"state": "state", "st": "state", "province": "state", "region": "state",
	"zip": "zip", "zipcode": "zip", "postalcode": "zip", "postcode": "zip",
	"lat": "lat", "latitude": "lat",
	"lng": "lng", "lon": "lng", "long": "lng", "longitude": "lng",
	"emailverified": "email_verified", "verified": "email_verified",
	"phoneverified": "phone_verified",
}

// ImporterConfig bounds an import run.
type ImporterConfig struct {
	Concurrency int
	MaxRows     int
}

// Importer turns uploaded CSV/XLSX files into leads.
type Importer struct {
	leads   *LeadService
	objects port.ObjectStore
	cfg     ImporterConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewImporter creates the import pipeline. objects may be nil when object
// storage is not configured.
func NewImporter(leads *LeadService, objects port.ObjectStore, cfg ImporterConfig, metrics *observability.Metrics, logger *zap.Logger) *Importer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Importer{leads: leads, objects: objects, cfg: cfg, metrics: metrics, logger: logger}
}

// Import parses r and ingests every row. Row failures are collected in the
// summary; the returned error is reserved for unreadable files and
// cancellation.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts domain.ImportOptions) (*domain.ImportSummary, error) {
	ctx, span := importTracer.Start(ctx, "Importer.Import")
	defer span.End()
	span.SetAttributes(attribute.String("import.format", string(opts.Format)))

	start := time.Now()
	defer func() { im.metrics.RecordDuration("import", time.Since(start)) }()

	rows, err := readRows(r, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrValidation{Field: "file", Message: "file has no header row"}
	}

	columns := mapHeader(rows[0])
	if _, ok := columns["email"]; !ok {
		if _, ok := columns["phone"]; !ok {
			return nil, &domain.ErrValidation{Field: "file", Message: "file needs an email or phone column"}
		}
	}

	data := rows[1:]
	maxRows := opts.MaxRows
	if maxRows <= 0 || (im.cfg.MaxRows > 0 && maxRows > im.cfg.MaxRows) {
		maxRows = im.cfg.MaxRows
	}
	if maxRows > 0 && len(data) > maxRows {
		return nil, &domain.ErrValidation{Field: "file", Message: fmt.Sprintf("file has %d rows, limit is %d", len(data), maxRows)}
	}

	mode := domain.IngestAsync
	if opts.Route {
		mode = domain.IngestSync
	}

	var (
		mu      sync.Mutex
		summary = &domain.ImportSummary{}
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.Concurrency)

	for i, record := range data {
		rowNum := i + 2 // 1-based, after the header
		if isBlank(record) {
			continue
		}
		in := rowToInput(columns, record)

		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res, err := im.leads.IngestLead(gCtx, in, domain.SourceUpload, mode, opts.FanOut)

			mu.Lock()
			defer mu.Unlock()
			summary.Rows++
			im.tally(summary, rowNum, res, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	sort.Slice(summary.Errors, func(i, j int) bool { return summary.Errors[i].Row < summary.Errors[j].Row })
	if len(summary.Errors) > maxRowErrors {
		summary.Errors = summary.Errors[:maxRowErrors]
	}

	im.logger.Info("import finished",
		zap.Int("rows", summary.Rows),
		zap.Int("created", summary.Created),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("invalid", summary.Invalid),
		zap.Int("failed", summary.Failed),
		zap.Int("routed", summary.Routed),
	)
	return summary, nil
}

// tally records one row outcome. Caller holds the summary lock.
func (im *Importer) tally(s *domain.ImportSummary, row int, res *domain.IngestResult, err error) {
	if err != nil {
		var verr *domain.ErrValidation
		if errors.As(err, &verr) {
			s.Invalid++
			im.metrics.IncrImportRow("invalid")
		} else {
			s.Failed++
			im.metrics.IncrImportRow("failed")
		}
		s.Errors = append(s.Errors, domain.RowError{Row: row, Message: err.Error()})
		return
	}
	if res.Duplicate {
		s.Duplicates++
		im.metrics.IncrImportRow("duplicate")
		return
	}
	s.Created++
	im.metrics.IncrImportRow("created")
	if res.Routing != nil {
		switch res.Routing.Status {
		case domain.RoutingRouted:
			s.Routed++
		case domain.RoutingUnroutable:
			s.Unroutable++
		}
	}
}

// ImportObject fetches key from object storage and imports it. The format is
// taken from the key's extension when opts.Format is empty.
func (im *Importer) ImportObject(ctx context.Context, key string, opts domain.ImportOptions) (*domain.ImportSummary, error) {
	ctx, span := importTracer.Start(ctx, "Importer.ImportObject")
	defer span.End()

	if im.objects == nil {
		return nil, &domain.ErrValidation{Field: "key", Message: "object storage is not configured"}
	}
	if opts.Format == "" {
		f, err := FormatFromName(key)
		if err != nil {
			return nil, err
		}
		opts.Format = f
	}

	body, err := im.objects.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return im.Import(ctx, body, opts)
}

// FormatFromName infers the import format from a file name.
func FormatFromName(name string) (domain.ImportFormat, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".txt":
		return domain.FormatCSV, nil
	case ".xlsx", ".xlsm":
		return domain.FormatXLSX, nil
	}
	return "", &domain.ErrValidation{Field: "format", Message: "unsupported file type, use csv or xlsx"}
}

func readRows(r io.Reader, opts domain.ImportOptions) ([][]string, error) {
	switch opts.Format {
	case domain.FormatCSV, "":
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		cr.LazyQuotes = true
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, &domain.ErrValidation{Field: "file", Message: "invalid csv: " + err.Error()}
		}
		if len(rows) > 0 && len(rows[0]) > 0 {
			rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
		}
		return rows, nil
	case domain.FormatXLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, &domain.ErrValidation{Field: "file", Message: "invalid xlsx: " + err.Error()}
		}
		defer func() { _ = f.Close() }()

		sheet := opts.Sheet
		if sheet == "" {
			sheet = f.GetSheetName(0)
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, &domain.ErrValidation{Field: "sheet", Message: err.Error()}
		}
		return rows, nil
	}
	return nil, &domain.ErrValidation{Field: "format", Message: "unsupported format " + string(opts.Format)}
}

// mapHeader returns field name -> column index for recognised headers.
func mapHeader(header []string) map[string]int {
	cols := make(map[string]int)
	for i, h := range header {
		field, ok := headerAliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, seen := cols[field]; !seen {
			cols[field] = i
		}
	}
	return cols
}

func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func rowToInput(cols map[string]int, record []string) domain.LeadInput {
	get := func(field string) string {
		i, ok := cols[field]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	in := domain.LeadInput{
		FirstName:     get("first_name"),
		LastName:      get("last_name"),
		Email:         get("email"),
		Phone:         get("phone"),
		Company:       get("company"),
		IndustryCode:  get("industry"),
		CompanySize:   get("company_size"),
		City:          get("city"),
		State:         get("state"),
		Zip:           get("zip"),
		EmailVerified: parseBool(get("email_verified")),
		PhoneVerified: parseBool(get("phone_verified")),
	}
	if in.FirstName == "" && in.LastName == "" {
		if full := strings.Fields(get("full_name")); len(full) > 0 {
			in.FirstName = full[0]
			in.LastName = strings.Join(full[1:], " ")
		}
	}
	if lat, err := strconv.ParseFloat(get("lat"), 64); err == nil {
		if lng, err := strconv.ParseFloat(get("lng"), 64); err == nil {
			in.Lat, in.Lng = &lat, &lng
		}
	}
	return in
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "t", "verified":
		return true
	}
	return false
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
