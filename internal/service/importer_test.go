package service_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/memstore"
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/service"
)

type mockObjects struct {
	files map[string][]byte
}

func (m *mockObjects) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.files[key]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "object", ID: key}
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func newImporter(store *memstore.Store, objects *mockObjects) *service.Importer {
	metrics := observability.NewMetrics()
	router := service.NewRouter(store, nil, service.RouterConfig{FanOutLimit: 1}, metrics, zap.NewNop())
	leads := service.NewLeadService(store, router, nil, nil, metrics, zap.NewNop())
	cfg := service.ImporterConfig{Concurrency: 3, MaxRows: 100}
	if objects == nil {
		return service.NewImporter(leads, nil, cfg, metrics, zap.NewNop())
	}
	return service.NewImporter(leads, objects, cfg, metrics, zap.NewNop())
}

const sampleCSV = "\ufeffE-mail Address,Full Name,Company Name,SIC Code,City,ST,Postal Code,Employees\n" +
	"ann@example.com,Ann Lee,Acme,7349,Austin,Texas,78701,11-50\n" +
	"ANN@example.com,Ann Lee,Acme,7349,Austin,TX,78701,11-50\n" +
	"bob@example.com,Bob Ray,Bobco,5812,Reno,NV,89501,5\n" +
	",,,,,,,\n" +
	"not-an-email,No Phone,Nowhere,,,,,\n"

func TestImport_CSVSummary(t *testing.T) {
	store := memstore.New()
	mustProfile(t, store, domain.ClientProfile{ID: "tx", States: []string{"TX"}})
	im := newImporter(store, nil)

	summary, err := im.Import(context.Background(), strings.NewReader(sampleCSV), domain.ImportOptions{Format: domain.FormatCSV, Route: true})

	require.NoError(t, err)
	assert.Equal(t, 4, summary.Rows)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 1, summary.Routed)
	assert.Equal(t, 1, summary.Unroutable)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 6, summary.Errors[0].Row)

	leads, err := store.ListLeads(context.Background(), domain.LeadFilter{})
	require.NoError(t, err)
	for _, l := range leads {
		assert.Equal(t, domain.SourceUpload, l.Source)
		if l.Email == "ann@example.com" {
			assert.Equal(t, "Ann", l.FirstName)
			assert.Equal(t, "Lee", l.LastName)
			assert.Equal(t, "TX", l.State)
			assert.Equal(t, 11, l.CompanySize)
		}
	}
}

func TestImport_XLSX(t *testing.T) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()
	sheet := xl.GetSheetName(0)
	header := []string{"email", "phone", "industry", "state", "zip"}
	require.NoError(t, xl.SetSheetRow(sheet, "A1", &header))
	row := []string{"xl@example.com", "512 555 0100", "7349", "TX", "78701"}
	require.NoError(t, xl.SetSheetRow(sheet, "A2", &row))
	buf, err := xl.WriteToBuffer()
	require.NoError(t, err)

	store := memstore.New()
	mustProfile(t, store, domain.ClientProfile{ID: "tx", Industries: []string{"73*"}})
	im := newImporter(store, &mockObjects{files: map[string][]byte{"uploads/leads.xlsx": buf.Bytes()}})

	summary, err := im.ImportObject(context.Background(), "uploads/leads.xlsx", domain.ImportOptions{Route: true})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Routed)
}

func TestImport_RejectsFilesWithoutContactColumn(t *testing.T) {
	im := newImporter(memstore.New(), nil)

	_, err := im.Import(context.Background(), strings.NewReader("company,city\nAcme,Austin\n"), domain.ImportOptions{Format: domain.FormatCSV})

	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "file", verr.Field)
}

func TestImport_RowLimit(t *testing.T) {
	im := newImporter(memstore.New(), nil)
	var b strings.Builder
	b.WriteString("email\n")
	for i := 0; i < 5; i++ {
		b.WriteString("a@example.com\n")
	}

	_, err := im.Import(context.Background(), strings.NewReader(b.String()), domain.ImportOptions{Format: domain.FormatCSV, MaxRows: 3})

	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
}

func TestImportObject_UnknownExtension(t *testing.T) {
	im := newImporter(memstore.New(), &mockObjects{})

	_, err := im.ImportObject(context.Background(), "leads.pdf", domain.ImportOptions{})

	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "format", verr.Field)
}

func TestImportObject_NotConfigured(t *testing.T) {
	im := newImporter(memstore.New(), nil)

	_, err := im.ImportObject(context.Background(), "leads.csv", domain.ImportOptions{})

	assert.Error(t, err)
}
