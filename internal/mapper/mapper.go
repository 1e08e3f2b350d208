// Package mapper transforms raw OCDS releases into canonical notice records.
// Everything in this package is a pure function: no I/O, no shared state.
package mapper

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tendhunt/data-sync-service/internal/models"
)

// cpvSectorMap maps the two-digit CPV division of a classification code to a
// human-readable sector label (EU standard vocabulary).
var cpvSectorMap = map[string]string{
	"03": "Agriculture & Forestry",
	"09": "Energy",
	"14": "Mining",
	"15": "Food & Beverages",
	"18": "Clothing & Textiles",
	"22": "Publishing & Printing",
	"24": "Chemicals",
	"30": "IT Equipment",
	"31": "Electrical Equipment",
	"32": "Telecoms",
	"33": "Medical Equipment",
	"34": "Transport Equipment",
	"35": "Security & Defence",
	"37": "Musical & Sports Equipment",
	"38": "Laboratory Equipment",
	"39": "Furniture",
	"41": "Water",
	"42": "Industrial Machinery",
	"43": "Mining Machinery",
	"44": "Construction Materials",
	"45": "Construction",
	"48": "Software",
	"50": "Repair & Maintenance",
	"51": "Installation",
	"55": "Hospitality",
	"60": "Transport",
	"63": "Transport Support",
	"64": "Postal & Telecom",
	"65": "Utilities",
	"66": "Financial Services",
	"70": "Real Estate",
	"71": "Architecture & Engineering",
	"72": "IT Services",
	"73": "R&D",
	"75": "Public Administration",
	"76": "Oil & Gas",
	"77": "Agriculture Services",
	"79": "Business Services",
	"80": "Education",
	"85": "Health & Social",
	"90": "Environmental Services",
	"92": "Recreation & Culture",
	"98": "Other Services",
}

// MappingError is a per-release transformation failure. It never aborts a
// batch; the orchestrator records it and continues with the next release.
type MappingError struct {
	ReleaseID string
	Err       error
}

func (e *MappingError) Error() string {
	id := e.ReleaseID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("failed to map release %s: %v", id, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// SectorFromCPV derives a sector label from the first two digits of a CPV
// code. Unknown or missing codes yield an empty string, not an error.
func SectorFromCPV(code string) string {
	if len(code) < 2 {
		return ""
	}
	return cpvSectorMap[code[:2]]
}

var (
	slugSpace  = regexp.MustCompile(`\s+`)
	slugStrip  = regexp.MustCompile(`[^a-z0-9-]`)
	slugHyphen = regexp.MustCompile(`-+`)
)

// Slugify turns a buyer display name into a stable identifier fragment:
// lower-cased, whitespace to hyphens, punctuation stripped, hyphen runs
// collapsed.
func Slugify(name string) string {
	s := strings.ToLower(name)
	s = slugSpace.ReplaceAllString(s, "-")
	s = slugStrip.ReplaceAllString(s, "")
	s = slugHyphen.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// OrganizationKey computes the key a notice's buyer is stored under: the
// upstream organization reference when one exists, otherwise a slug derived
// from the display name. Empty when the notice carries no usable buyer.
//
// Two differently-punctuated spellings of the same name slug identically and
// merge into one organization; identity fields are first-observation-wins.
func OrganizationKey(n models.Notice) string {
	if n.BuyerOrgRef != "" {
		return n.BuyerOrgRef
	}
	slug := Slugify(n.BuyerName)
	if slug == "" {
		return ""
	}
	return "auto-" + slug
}

// MapRelease transforms one raw OCDS release into a canonical notice.
// All optional upstream fields fall back safely; the only hard failures are
// a missing release id and unparsable timestamps.
func MapRelease(release models.Release, source models.Source) (models.Notice, error) {
	if release.ID == "" {
		return models.Notice{}, &MappingError{Err: errors.New("release has no id")}
	}

	fail := func(err error) (models.Notice, error) {
		return models.Notice{}, &MappingError{ReleaseID: release.ID, Err: err}
	}

	buyerParty := findBuyerParty(release.Parties)

	buyerName := "Unknown"
	buyerOrgRef := ""
	buyerRegion := ""
	if buyerParty != nil {
		if buyerParty.Name != "" {
			buyerName = buyerParty.Name
		}
		buyerOrgRef = buyerParty.ID
		if buyerParty.Address != nil {
			buyerRegion = buyerParty.Address.Region
		}
	}
	if buyerName == "Unknown" && release.Buyer != nil && release.Buyer.Name != "" {
		buyerName = release.Buyer.Name
	}
	if buyerOrgRef == "" && release.Buyer != nil {
		buyerOrgRef = release.Buyer.ID
	}

	cpvCodes := collectCPVCodes(release)

	notice := models.Notice{
		Source:      source,
		NoticeID:    release.ID,
		OCID:        release.OCID,
		SourceURL:   sourceURL(source, release.ID),
		Title:       "Untitled",
		Status:      models.StatusOpen,
		Stage:       mapStage(release.Tag),
		BuyerName:   buyerName,
		BuyerOrgRef: buyerOrgRef,
		BuyerRegion: buyerRegion,
		CPVCodes:    cpvCodes,
		Currency:    "GBP",
		RawData:     release,
	}
	if len(cpvCodes) > 0 {
		notice.Sector = SectorFromCPV(cpvCodes[0])
	}

	published, err := parseDate(release.Date)
	if err != nil {
		return fail(fmt.Errorf("published date: %w", err))
	}
	notice.PublishedDate = published

	if t := release.Tender; t != nil {
		if t.Title != "" {
			notice.Title = t.Title
		}
		notice.Description = t.Description
		notice.Status = mapStatus(t.Status)
		notice.ProcurementMethod = t.ProcurementMethod
		notice.ProcurementMethodDetails = t.ProcurementMethodDetails

		if t.Value != nil {
			notice.ValueMax = t.Value.Amount
			notice.ValueMin = t.Value.Amount
			if t.Value.Currency != "" {
				notice.Currency = t.Value.Currency
			}
		}
		if t.MinValue != nil && t.MinValue.Amount != nil {
			notice.ValueMin = t.MinValue.Amount
		}

		if t.TenderPeriod != nil {
			deadline, err := parseDate(t.TenderPeriod.EndDate)
			if err != nil {
				return fail(fmt.Errorf("deadline date: %w", err))
			}
			notice.DeadlineDate = deadline
		}
	}

	if err := applyAwards(&notice, release); err != nil {
		return fail(err)
	}
	if err := applyContractPeriod(&notice, release); err != nil {
		return fail(err)
	}

	return notice, nil
}

// findBuyerParty locates the embedded party holding the "buyer" role.
// Role matching is case-insensitive for resilience.
func findBuyerParty(parties []models.Party) *models.Party {
	for i := range parties {
		for _, role := range parties[i].Roles {
			if strings.EqualFold(role, "buyer") {
				return &parties[i]
			}
		}
	}
	return nil
}

// collectCPVCodes gathers item-level classification codes in order, with the
// top-level tender classification first, de-duplicated.
func collectCPVCodes(release models.Release) []string {
	if release.Tender == nil {
		return nil
	}

	var codes []string
	seen := make(map[string]bool)

	if c := release.Tender.Classification; c != nil && c.ID != "" {
		codes = append(codes, c.ID)
		seen[c.ID] = true
	}
	for _, item := range release.Tender.Items {
		if item.Classification == nil || item.Classification.ID == "" {
			continue
		}
		if seen[item.Classification.ID] {
			continue
		}
		codes = append(codes, item.Classification.ID)
		seen[item.Classification.ID] = true
	}
	return codes
}

// mapStatus normalizes the free-text tender status. Absent or unrecognized
// values default to OPEN; tests pin this behaviour.
func mapStatus(tenderStatus string) models.NoticeStatus {
	switch strings.ToLower(tenderStatus) {
	case "active", "open":
		return models.StatusOpen
	case "closed", "complete":
		return models.StatusClosed
	case "cancelled":
		return models.StatusCancelled
	case "awarded":
		return models.StatusAwarded
	default:
		return models.StatusOpen
	}
}

// mapStage derives the procurement stage from the release tags. Absent or
// unrecognized tags default to TENDER; tests pin this behaviour.
func mapStage(tags []string) models.NoticeStage {
	joined := strings.ToLower(strings.Join(tags, ","))
	switch {
	case strings.Contains(joined, "planning"):
		return models.StagePlanning
	case strings.Contains(joined, "award"):
		return models.StageAward
	default:
		return models.StageTender
	}
}

func sourceURL(source models.Source, noticeID string) string {
	if source == models.SourceFindATender {
		return "https://www.find-tender.service.gov.uk/Notice/" + noticeID
	}
	return "https://www.contractsfinder.service.gov.uk/Notice/" + noticeID
}

func applyAwards(notice *models.Notice, release models.Release) error {
	for _, award := range release.Awards {
		for _, s := range award.Suppliers {
			if s.Name != "" {
				notice.AwardedSuppliers = append(notice.AwardedSuppliers, s.Name)
			}
		}
	}
	if len(release.Awards) == 0 {
		return nil
	}

	first := release.Awards[0]
	awardDate, err := parseDate(first.Date)
	if err != nil {
		return fmt.Errorf("award date: %w", err)
	}
	notice.AwardDate = awardDate
	if first.Value != nil {
		notice.AwardValue = first.Value.Amount
	}
	return nil
}

// applyContractPeriod prefers the awarded contract period over the tendered
// one.
func applyContractPeriod(notice *models.Notice, release models.Release) error {
	var period *models.Period
	if len(release.Awards) > 0 && release.Awards[0].ContractPeriod != nil {
		period = release.Awards[0].ContractPeriod
	} else if release.Tender != nil && release.Tender.ContractPeriod != nil {
		period = release.Tender.ContractPeriod
	}
	if period == nil {
		return nil
	}

	start, err := parseDate(period.StartDate)
	if err != nil {
		return fmt.Errorf("contract start: %w", err)
	}
	end, err := parseDate(period.EndDate)
	if err != nil {
		return fmt.Errorf("contract end: %w", err)
	}
	notice.ContractStart = start
	notice.ContractEnd = end
	return nil
}

// dateLayouts covers the timestamp shapes both APIs emit; not every release
// carries a zone offset and some carry bare dates.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unparsable date %q", raw)
}
