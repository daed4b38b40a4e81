package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/service"
)

func TestLeadProcessor_Normalize(t *testing.T) {
	p := service.NewLeadProcessor()

	lead, err := p.Normalize(domain.LeadInput{
		FirstName:     "  mary   ann ",
		LastName:      "o'BRIEN",
		Email:         " Mary.OBrien@Example.COM ",
		EmailVerified: true,
		Phone:         "+1 (512) 555-0100",
		Company:       "  Acme   Janitorial ",
		IndustryCode:  "7349; 7342",
		IndustryCodes: []string{"SIC 7349", "0782"},
		CompanySize:   "11-50",
		City:          "san   antonio",
		State:         "Texas",
		Zip:           "78205-1234",
	}, domain.SourceAPI)

	require.NoError(t, err)
	assert.Equal(t, "Mary Ann", lead.FirstName)
	assert.Equal(t, "O'Brien", lead.LastName)
	assert.Equal(t, "mary.obrien@example.com", lead.Email)
	assert.True(t, lead.EmailVerified)
	assert.Equal(t, "5125550100", lead.Phone)
	assert.Equal(t, "Acme Janitorial", lead.Company)
	assert.Equal(t, []string{"7349", "7342", "0782"}, lead.IndustryCodes)
	assert.Equal(t, 11, lead.CompanySize)
	assert.Equal(t, "San Antonio", lead.City)
	assert.Equal(t, "TX", lead.State)
	assert.Equal(t, "78205", lead.Zip)
	assert.Equal(t, domain.SourceAPI, lead.Source)
	assert.Equal(t, domain.LeadStatusNew, lead.Status)
	assert.Equal(t, domain.RoutingUnrouted, lead.RoutingStatus)
	assert.Equal(t, 90, lead.QualityScore)
}

func TestLeadProcessor_InvalidEmailNotVerified(t *testing.T) {
	lead, err := service.NewLeadProcessor().Normalize(domain.LeadInput{
		Email:         "not-an-email",
		EmailVerified: true,
		Phone:         "512-555-0100",
	}, domain.SourceWebhook)

	require.NoError(t, err)
	assert.Empty(t, lead.Email)
	assert.False(t, lead.EmailVerified)
	assert.Equal(t, "5125550100", lead.Phone)
}

func TestLeadProcessor_RequiresContact(t *testing.T) {
	_, err := service.NewLeadProcessor().Normalize(domain.LeadInput{
		Company: "No Contact LLC",
		Phone:   "555-01",
	}, domain.SourceUpload)

	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)
}

func TestLeadProcessor_PartialCoordinatesDropped(t *testing.T) {
	lat := 30.1
	lead, err := service.NewLeadProcessor().Normalize(domain.LeadInput{
		Email: "x@example.com",
		Lat:   &lat,
	}, domain.SourceAPI)

	require.NoError(t, err)
	assert.False(t, lead.HasCoordinates())
}

func TestNormalizeHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state code", service.NormalizeState("ca"), "CA"},
		{"state name with dots", service.NormalizeState("N. Dakota"), ""},
		{"state full name", service.NormalizeState("new  york"), "NY"},
		{"unknown state", service.NormalizeState("Ontario"), ""},
		{"zip plus four", service.NormalizeZip("10001-0001"), "10001"},
		{"zip nine digits", service.NormalizeZip("100010001"), "10001"},
		{"zip lost leading zero", service.NormalizeZip("2134"), "02134"},
		{"zip garbage", service.NormalizeZip("abc"), ""},
		{"phone eleven digits", service.NormalizePhone("1-800-555-0199"), "8005550199"},
		{"phone too short", service.NormalizePhone("555-0199"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestParseCompanySize(t *testing.T) {
	assert.Equal(t, 11, service.ParseCompanySize("11-50"))
	assert.Equal(t, 500, service.ParseCompanySize("500+"))
	assert.Equal(t, 1200, service.ParseCompanySize("1,200 employees"))
	assert.Equal(t, 0, service.ParseCompanySize("unknown"))
}

func TestQualityScore_Bounds(t *testing.T) {
	empty := &domain.Lead{}
	assert.Equal(t, 0, service.QualityScore(empty))

	full := &domain.Lead{
		FirstName: "A", Email: "a@b.co", EmailVerified: true, Phone: "5125550100", PhoneVerified: true,
		Company: "C", IndustryCodes: []string{"1"}, State: "TX", CompanySize: 10,
	}
	assert.Equal(t, 100, service.QualityScore(full))
}
