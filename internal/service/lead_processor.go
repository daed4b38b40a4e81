package service

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/badoux/checkmail"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

var (
	nonDigits      = regexp.MustCompile(`\D+`)
	industrySplit  = regexp.MustCompile(`[,;/|]+`)
	firstNumber    = regexp.MustCompile(`\d[\d,]*`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

var stateCodes = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR", "california": "CA",
	"colorado": "CO", "connecticut": "CT", "delaware": "DE", "district of columbia": "DC",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID", "illinois": "IL",
	"indiana": "IN", "iowa": "IA", "kansas": "KS", "kentucky": "KY", "louisiana": "LA",
	"maine": "ME", "maryland": "MD", "massachusetts": "MA", "michigan": "MI", "minnesota": "MN",
	"mississippi": "MS", "missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK", "oregon": "OR",
	"pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC", "south dakota": "SD",
	"tennessee": "TN", "texas": "TX", "utah": "UT", "vermont": "VT", "virginia": "VA",
	"washington": "WA", "west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
	"puerto rico": "PR",
}

var validStateCodes = func() map[string]bool {
	m := make(map[string]bool, len(stateCodes))
	for _, code := range stateCodes {
		m[code] = true
	}
	return m
}()

// LeadProcessor turns raw lead input from any source into a normalized Lead
// and computes its quality score.
type LeadProcessor struct{}

// NewLeadProcessor creates a processor.
func NewLeadProcessor() *LeadProcessor {
	return &LeadProcessor{}
}

// Normalize cleans in and returns a lead ready to persist. It fails only when
// the lead has no usable contact (email or phone).
func (p *LeadProcessor) Normalize(in domain.LeadInput, source domain.LeadSource) (*domain.Lead, error) {
	lead := &domain.Lead{
		FirstName:     cleanName(in.FirstName),
		LastName:      cleanName(in.LastName),
		Company:       collapse(in.Company),
		City:          titleCase(collapse(in.City)),
		State:         NormalizeState(in.State),
		Zip:           NormalizeZip(in.Zip),
		Lat:           in.Lat,
		Lng:           in.Lng,
		PhoneVerified: in.PhoneVerified,
		Source:        source,
		Status:        domain.LeadStatusNew,
		RoutingStatus: domain.RoutingUnrouted,
	}
	if in.Source != "" {
		lead.Source = domain.LeadSource(in.Source)
	}

	if email, ok := NormalizeEmail(in.Email); ok {
		lead.Email = email
		lead.EmailVerified = in.EmailVerified
	}
	if lead.Phone = NormalizePhone(in.Phone); lead.Phone == "" {
		lead.PhoneVerified = false
	}

	raw := append([]string{in.IndustryCode}, in.IndustryCodes...)
	lead.IndustryCodes = NormalizeIndustryCodes(raw...)
	lead.CompanySize = ParseCompanySize(in.CompanySize)

	if (lead.Lat == nil) != (lead.Lng == nil) {
		lead.Lat, lead.Lng = nil, nil
	}

	if lead.Email == "" && lead.Phone == "" {
		return nil, &domain.ErrValidation{Field: "email", Message: "a valid email or phone is required"}
	}

	lead.QualityScore = QualityScore(lead)
	return lead, nil
}

// NormalizeEmail lower-cases and syntax-checks an email address.
func NormalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", false
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return "", false
	}
	return email, true
}

// NormalizePhone keeps digits only and reduces US numbers to 10 digits.
// Anything that is not a 10-digit number is dropped.
func NormalizePhone(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	return digits
}

// NormalizeState maps full state names and codes to the 2-letter code.
func NormalizeState(raw string) string {
	s := strings.ToLower(collapse(strings.ReplaceAll(raw, ".", "")))
	if s == "" {
		return ""
	}
	if code, ok := stateCodes[s]; ok {
		return code
	}
	up := strings.ToUpper(s)
	if validStateCodes[up] {
		return up
	}
	return ""
}

// NormalizeZip returns the 5-digit ZIP, restoring dropped leading zeros.
func NormalizeZip(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		raw = raw[:i]
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	switch {
	case len(digits) == 9:
		return digits[:5]
	case len(digits) >= 3 && len(digits) <= 5:
		return strings.Repeat("0", 5-len(digits)) + digits
	}
	return ""
}

// NormalizeIndustryCodes splits on common separators, keeps the digits of
// each code and removes duplicates.
func NormalizeIndustryCodes(raw ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range raw {
		for _, part := range industrySplit.Split(r, -1) {
			code := nonDigits.ReplaceAllString(part, "")
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

// ParseCompanySize reads the lower bound of values like "11-50", "500+" or "1,200".
func ParseCompanySize(raw string) int {
	m := firstNumber.FindString(raw)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// QualityScore rates completeness and verification from 0 to 100.
func QualityScore(l *domain.Lead) int {
	score := 0
	if l.Email != "" {
		score += 20
		if l.EmailVerified {
			score += 15
		}
	}
	if l.Phone != "" {
		score += 15
		if l.PhoneVerified {
			score += 10
		}
	}
	if l.Company != "" {
		score += 10
	}
	if len(l.IndustryCodes) > 0 {
		score += 10
	}
	if l.State != "" || l.Zip != "" || l.City != "" {
		score += 10
	}
	if l.CompanySize > 0 {
		score += 5
	}
	if l.FirstName != "" || l.LastName != "" {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(s, " "))
}

func cleanName(s string) string {
	return titleCase(collapse(s))
}

// titleCase upper-cases the first letter of each word and lower-cases the rest.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	out := []rune(strings.ToLower(s))
	start := true
	for i, r := range out {
		if start && unicode.IsLetter(r) {
			out[i] = unicode.ToUpper(r)
		}
		start = r == ' ' || r == '-' || r == '\''
	}
	return string(out)
}
