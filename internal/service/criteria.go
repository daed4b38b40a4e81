package service

import (
	"math"
	"strings"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

const earthRadiusMiles = 3958.8

// HaversineMiles returns the great-circle distance between two points.
func HaversineMiles(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(a)))
}

// matchProfile evaluates industry, geography and quality rules in that order.
// It returns the criteria that fired, or false when any rule rejects the lead.
func matchProfile(p *domain.ClientProfile, lead *domain.Lead) (domain.MatchedCriteria, bool) {
	mc := domain.MatchedCriteria{Priority: p.Priority}

	industry, ok := matchIndustry(p.Industries, lead.IndustryCodes)
	if !ok {
		return mc, false
	}
	mc.Industry = industry

	if !matchGeography(p, lead, &mc) {
		return mc, false
	}

	rules, ok := matchQuality(p.Quality, lead)
	if !ok {
		return mc, false
	}
	mc.QualityRules = rules
	return mc, true
}

// matchIndustry reports the first lead code accepted by the allowed set.
// An empty set accepts any lead; an entry ending in "*" is a prefix.
func matchIndustry(allowed, codes []string) (string, bool) {
	if len(allowed) == 0 {
		return "", true
	}
	for _, code := range codes {
		if code == "" {
			continue
		}
		for _, a := range allowed {
			if prefix, ok := strings.CutSuffix(a, "*"); ok {
				if strings.HasPrefix(code, prefix) {
					return code, true
				}
			} else if a == code {
				return code, true
			}
		}
	}
	return "", false
}

// matchGeography applies radius targeting when configured, otherwise the
// union of states, cities and zips. No geography means anywhere.
func matchGeography(p *domain.ClientProfile, lead *domain.Lead, mc *domain.MatchedCriteria) bool {
	if p.Radius != nil {
		if !lead.HasCoordinates() {
			return false
		}
		d := HaversineMiles(p.Radius.CenterLat, p.Radius.CenterLng, *lead.Lat, *lead.Lng)
		if d > p.Radius.Miles {
			return false
		}
		miles := p.Radius.Miles
		d = math.Round(d*100) / 100
		mc.RadiusMiles, mc.DistanceMi = &miles, &d
		return true
	}

	if len(p.States) == 0 && len(p.Cities) == 0 && len(p.Zips) == 0 {
		return true
	}

	matched := false
	if lead.State != "" && containsFold(p.States, lead.State) {
		mc.State = lead.State
		matched = true
	}
	if lead.City != "" && containsFold(p.Cities, lead.City) {
		mc.City = lead.City
		matched = true
	}
	if zip := zip5(lead.Zip); zip != "" && contains(p.Zips, zip) {
		mc.Zip = zip
		matched = true
	}
	return matched
}

// matchQuality returns the names of the thresholds the lead satisfied.
func matchQuality(q domain.QualityRules, lead *domain.Lead) ([]string, bool) {
	var fired []string
	if q.RequiresVerifiedEmail {
		if lead.Email == "" || !lead.EmailVerified {
			return nil, false
		}
		fired = append(fired, "requires_verified_email")
	}
	if q.RequiresPhone {
		if lead.Phone == "" {
			return nil, false
		}
		fired = append(fired, "requires_phone")
	}
	if q.RequiresCompany {
		if strings.TrimSpace(lead.Company) == "" {
			return nil, false
		}
		fired = append(fired, "requires_company")
	}
	if q.MinCompanySize > 0 {
		if lead.CompanySize < q.MinCompanySize {
			return nil, false
		}
		fired = append(fired, "min_company_size")
	}
	if q.MinQualityScore > 0 {
		if lead.QualityScore < q.MinQualityScore {
			return nil, false
		}
		fired = append(fired, "min_quality_score")
	}
	return fired, true
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func zip5(z string) string {
	z = strings.TrimSpace(z)
	if len(z) > 5 {
		return z[:5]
	}
	return z
}
