package models

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies which upstream procurement API a record came from.
type Source string

const (
	SourceFindATender     Source = "FIND_A_TENDER"
	SourceContractsFinder Source = "CONTRACTS_FINDER"
)

// Sources lists all upstream APIs in the order they are synced.
func Sources() []Source {
	return []Source{SourceFindATender, SourceContractsFinder}
}

// ParseSource resolves a source identifier from operator input. Both the
// canonical form and the common short names are accepted.
func ParseSource(s string) (Source, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FIND_A_TENDER", "FAT":
		return SourceFindATender, nil
	case "CONTRACTS_FINDER", "CF":
		return SourceContractsFinder, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// NoticeStatus is the normalized lifecycle status of a notice.
type NoticeStatus string

const (
	StatusOpen      NoticeStatus = "OPEN"
	StatusClosed    NoticeStatus = "CLOSED"
	StatusAwarded   NoticeStatus = "AWARDED"
	StatusCancelled NoticeStatus = "CANCELLED"
)

// NoticeStage is the procurement stage a notice belongs to.
type NoticeStage string

const (
	StagePlanning NoticeStage = "PLANNING"
	StageTender   NoticeStage = "TENDER"
	StageAward    NoticeStage = "AWARD"
)

// SyncStatus is the operating mode of a sync job.
type SyncStatus string

const (
	SyncBackfilling SyncStatus = "backfilling"
	SyncSyncing     SyncStatus = "syncing"
	SyncError       SyncStatus = "error"
)

// Money is an OCDS monetary value. Amount is a pointer because upstream
// frequently omits it.
type Money struct {
	Amount   *float64 `json:"amount,omitempty" bson:"amount,omitempty"`
	Currency string   `json:"currency,omitempty" bson:"currency,omitempty"`
}

// Period is an OCDS date range. Dates stay as strings until the mapper
// parses them, so one malformed timestamp cannot fail a whole page decode.
type Period struct {
	StartDate string `json:"startDate,omitempty" bson:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty" bson:"endDate,omitempty"`
}

// Classification is an OCDS classification entry (CPV codes in practice).
type Classification struct {
	Scheme      string `json:"scheme,omitempty" bson:"scheme,omitempty"`
	ID          string `json:"id,omitempty" bson:"id,omitempty"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
}

// Item is a tender line item carrying its own classification.
type Item struct {
	ID             string          `json:"id,omitempty" bson:"id,omitempty"`
	Description    string          `json:"description,omitempty" bson:"description,omitempty"`
	Classification *Classification `json:"classification,omitempty" bson:"classification,omitempty"`
}

// Address is the subset of an OCDS party address the mapper reads.
type Address struct {
	Locality    string `json:"locality,omitempty" bson:"locality,omitempty"`
	Region      string `json:"region,omitempty" bson:"region,omitempty"`
	PostalCode  string `json:"postalCode,omitempty" bson:"postalCode,omitempty"`
	CountryName string `json:"countryName,omitempty" bson:"countryName,omitempty"`
}

// Party is an organization embedded in a release with one or more roles.
type Party struct {
	ID      string   `json:"id,omitempty" bson:"id,omitempty"`
	Name    string   `json:"name,omitempty" bson:"name,omitempty"`
	Roles   []string `json:"roles,omitempty" bson:"roles,omitempty"`
	Address *Address `json:"address,omitempty" bson:"address,omitempty"`
}

// OrgReference is a lightweight organization reference (id + name).
type OrgReference struct {
	ID   string `json:"id,omitempty" bson:"id,omitempty"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`
}

// Tender is the tender section of an OCDS release.
type Tender struct {
	ID                       string          `json:"id,omitempty" bson:"id,omitempty"`
	Title                    string          `json:"title,omitempty" bson:"title,omitempty"`
	Description              string          `json:"description,omitempty" bson:"description,omitempty"`
	Status                   string          `json:"status,omitempty" bson:"status,omitempty"`
	Value                    *Money          `json:"value,omitempty" bson:"value,omitempty"`
	MinValue                 *Money          `json:"minValue,omitempty" bson:"minValue,omitempty"`
	TenderPeriod             *Period         `json:"tenderPeriod,omitempty" bson:"tenderPeriod,omitempty"`
	ContractPeriod           *Period         `json:"contractPeriod,omitempty" bson:"contractPeriod,omitempty"`
	Classification           *Classification `json:"classification,omitempty" bson:"classification,omitempty"`
	Items                    []Item          `json:"items,omitempty" bson:"items,omitempty"`
	ProcurementMethod        string          `json:"procurementMethod,omitempty" bson:"procurementMethod,omitempty"`
	ProcurementMethodDetails string          `json:"procurementMethodDetails,omitempty" bson:"procurementMethodDetails,omitempty"`
}

// Award is a single award section entry of an OCDS release.
type Award struct {
	ID             string         `json:"id,omitempty" bson:"id,omitempty"`
	Status         string         `json:"status,omitempty" bson:"status,omitempty"`
	Date           string         `json:"date,omitempty" bson:"date,omitempty"`
	Value          *Money         `json:"value,omitempty" bson:"value,omitempty"`
	Suppliers      []OrgReference `json:"suppliers,omitempty" bson:"suppliers,omitempty"`
	ContractPeriod *Period        `json:"contractPeriod,omitempty" bson:"contractPeriod,omitempty"`
}

// Release is a raw OCDS release as returned by either upstream API. Every
// nested field is optional; upstream payload quality varies a lot.
type Release struct {
	OCID           string        `json:"ocid,omitempty" bson:"ocid,omitempty"`
	ID             string        `json:"id,omitempty" bson:"id,omitempty"`
	Date           string        `json:"date,omitempty" bson:"date,omitempty"`
	Tag            []string      `json:"tag,omitempty" bson:"tag,omitempty"`
	InitiationType string        `json:"initiationType,omitempty" bson:"initiationType,omitempty"`
	Tender         *Tender       `json:"tender,omitempty" bson:"tender,omitempty"`
	Parties        []Party       `json:"parties,omitempty" bson:"parties,omitempty"`
	Buyer          *OrgReference `json:"buyer,omitempty" bson:"buyer,omitempty"`
	Awards         []Award       `json:"awards,omitempty" bson:"awards,omitempty"`
}

// Notice is the canonical, source-agnostic representation of one procurement
// notice. The (Source, NoticeID) pair is the natural key used for idempotent
// upserts; it is never regenerated once assigned.
type Notice struct {
	Source    Source `json:"source" bson:"source"`
	NoticeID  string `json:"noticeId" bson:"noticeId"`
	OCID      string `json:"ocid,omitempty" bson:"ocid,omitempty"`
	SourceURL string `json:"sourceUrl" bson:"sourceUrl"`

	Title       string       `json:"title" bson:"title"`
	Description string       `json:"description,omitempty" bson:"description,omitempty"`
	Status      NoticeStatus `json:"status" bson:"status"`
	Stage       NoticeStage  `json:"stage" bson:"stage"`

	BuyerName   string `json:"buyerName" bson:"buyerName"`
	BuyerOrgRef string `json:"buyerOrgRef,omitempty" bson:"buyerOrgRef,omitempty"`
	BuyerRegion string `json:"buyerRegion,omitempty" bson:"buyerRegion,omitempty"`

	CPVCodes []string `json:"cpvCodes,omitempty" bson:"cpvCodes,omitempty"`
	Sector   string   `json:"sector,omitempty" bson:"sector,omitempty"`

	ValueMin *float64 `json:"valueMin,omitempty" bson:"valueMin,omitempty"`
	ValueMax *float64 `json:"valueMax,omitempty" bson:"valueMax,omitempty"`
	Currency string   `json:"currency" bson:"currency"`

	PublishedDate *time.Time `json:"publishedDate,omitempty" bson:"publishedDate,omitempty"`
	DeadlineDate  *time.Time `json:"deadlineDate,omitempty" bson:"deadlineDate,omitempty"`
	ContractStart *time.Time `json:"contractStart,omitempty" bson:"contractStart,omitempty"`
	ContractEnd   *time.Time `json:"contractEnd,omitempty" bson:"contractEnd,omitempty"`

	ProcurementMethod        string `json:"procurementMethod,omitempty" bson:"procurementMethod,omitempty"`
	ProcurementMethodDetails string `json:"procurementMethodDetails,omitempty" bson:"procurementMethodDetails,omitempty"`

	AwardedSuppliers []string   `json:"awardedSuppliers,omitempty" bson:"awardedSuppliers,omitempty"`
	AwardDate        *time.Time `json:"awardDate,omitempty" bson:"awardDate,omitempty"`
	AwardValue       *float64   `json:"awardValue,omitempty" bson:"awardValue,omitempty"`

	// RawData keeps the untransformed upstream release for audit/debugging.
	RawData Release `json:"rawData" bson:"rawData"`

	CreatedAt time.Time `json:"createdAt,omitempty" bson:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
}

// Organization is a buyer record derived from ingested notices. Identity
// fields are written once on first observation and never overwritten by
// ingestion; only ContractCount and UpdatedAt change afterwards.
type Organization struct {
	OrgID         string    `json:"orgId" bson:"orgId"`
	Name          string    `json:"name" bson:"name"`
	Sector        string    `json:"sector,omitempty" bson:"sector,omitempty"`
	Region        string    `json:"region,omitempty" bson:"region,omitempty"`
	ContractCount int64     `json:"contractCount" bson:"contractCount"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt" bson:"updatedAt"`
}

// OrganizationSeed is one distinct organization observed in a batch of
// notices, with the number of notices in the batch referencing it.
type OrganizationSeed struct {
	OrgID   string
	Name    string
	Sector  string
	Region  string
	Notices int
}

// SyncJob tracks backfill/sync progress for one source. Exactly one job
// exists per source for the lifetime of the deployment.
type SyncJob struct {
	Source            Source     `json:"source" bson:"source"`
	Status            SyncStatus `json:"status" bson:"status"`
	Cursor            string     `json:"cursor,omitempty" bson:"cursor,omitempty"`
	BackfillStartDate time.Time  `json:"backfillStartDate" bson:"backfillStartDate"`
	LastSyncedDate    *time.Time `json:"lastSyncedDate,omitempty" bson:"lastSyncedDate,omitempty"`
	TotalFetched      int64      `json:"totalFetched" bson:"totalFetched"`
	LastRunAt         time.Time  `json:"lastRunAt" bson:"lastRunAt"`
	LastRunFetched    int        `json:"lastRunFetched" bson:"lastRunFetched"`
	LastRunErrors     int        `json:"lastRunErrors" bson:"lastRunErrors"`
	ErrorLog          []string   `json:"errorLog,omitempty" bson:"errorLog,omitempty"`
	CreatedAt         time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// RunSummary is what one bounded sync invocation reports back to its caller.
type RunSummary struct {
	Fetched int  `json:"fetched"`
	Errors  int  `json:"errors"`
	Done    bool `json:"done"`
}
