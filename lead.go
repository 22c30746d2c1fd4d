package leadsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrLeadNotFound = errors.New("lead not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Sector is the business vertical a lead belongs to.
type Sector string

const (
	SectorPharmacy    Sector = "pharmacy"
	SectorRestaurant  Sector = "restaurant"
	SectorClinic      Sector = "clinic"
	SectorEcommerce   Sector = "ecommerce"
	SectorTourism     Sector = "tourism"
	SectorServices    Sector = "services"
	SectorEducation   Sector = "education"
	SectorRealEstate  Sector = "realestate"
	SectorMaintenance Sector = "maintenance"
	SectorOther       Sector = "other"
)

// Sectors lists every valid sector in display order.
var Sectors = []Sector{
	SectorPharmacy,
	SectorRestaurant,
	SectorClinic,
	SectorEcommerce,
	SectorTourism,
	SectorServices,
	SectorEducation,
	SectorRealEstate,
	SectorMaintenance,
	SectorOther,
}

var sectorLabels = map[Sector]string{
	SectorPharmacy:    "صيدلية",
	SectorRestaurant:  "مطعم",
	SectorClinic:      "عيادة / مستشفى",
	SectorEcommerce:   "متجر إلكتروني",
	SectorTourism:     "سياحة",
	SectorServices:    "خدمات مهنية",
	SectorEducation:   "مراكز تعليمية",
	SectorRealEstate:  "عقارات",
	SectorMaintenance: "خدمات صيانة",
	SectorOther:       "أخرى",
}

// Valid reports whether s is one of the known sectors.
func (s Sector) Valid() bool {
	_, ok := sectorLabels[s]
	return ok
}

// Label returns the display text of the sector, or the raw value when unknown.
func (s Sector) Label() string {
	if l, ok := sectorLabels[s]; ok {
		return l
	}
	return string(s)
}

// Status is the stage of a lead in the sales funnel.
type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusConverted Status = "converted"
	StatusRejected  Status = "rejected"
)

// Statuses lists every valid status in funnel order.
var Statuses = []Status{
	StatusNew,
	StatusContacted,
	StatusConverted,
	StatusRejected,
}

var statusLabels = map[Status]string{
	StatusNew:       "جديد",
	StatusContacted: "تم التواصل",
	StatusConverted: "تم التحويل",
	StatusRejected:  "مرفوض",
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Label is a value/display-text pair.
type Label struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// SectorLabels returns the sector label table in display order.
func SectorLabels() []Label {
	out := make([]Label, 0, len(Sectors))
	for _, s := range Sectors {
		out = append(out, Label{Value: string(s), Label: s.Label()})
	}
	return out
}

// StatusLabels returns the status label table in funnel order.
func StatusLabels() []Label {
	out := make([]Label, 0, len(Statuses))
	for _, s := range Statuses {
		out = append(out, Label{Value: string(s), Label: s.Label()})
	}
	return out
}

type Lead struct {
	ID          int64     `json:"id" db:"id"`
	CompanyName string    `json:"company_name" db:"company_name"`
	Phone       string    `json:"phone" db:"phone"`
	Sector      Sector    `json:"sector" db:"sector"`
	Status      Status    `json:"status" db:"status"`
	Notes       *string   `json:"notes" db:"notes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// NewLead is a validated prospect submission, ready to be stored.
type NewLead struct {
	CompanyName string
	Phone       string
	Sector      Sector
}

// NullString is a nullable string that remembers whether it was present in
// the decoded JSON document at all.
type NullString struct {
	Set   bool
	Valid bool
	Value string
}

func (n *NullString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(data, []byte("null")) {
		n.Valid = false
		n.Value = ""
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// Update describes a partial change of a lead. Nil Status and an unset Notes
// leave the stored values untouched.
type Update struct {
	Status *Status
	Notes  NullString
}

// ClearsNotes reports whether the update resets notes to NULL.
func (u Update) ClearsNotes() bool {
	return u.Notes.Set && (!u.Notes.Valid || u.Notes.Value == "")
}

// Page sizes for lead listings.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	ExportLimit      = 10000
)

// Filter narrows a lead listing. Empty fields do not filter. A non-positive
// Limit means DefaultListLimit.
type Filter struct {
	Status Status
	Sector Sector
	Search string
	Limit  int
	Offset int
}

// LeadService is the persistence contract for leads.
type LeadService interface {
	Create(ctx context.Context, newLead NewLead) (Lead, error)
	GetByID(ctx context.Context, id int64) (Lead, error)
	List(ctx context.Context, filter Filter) ([]Lead, int, error)
	Update(ctx context.Context, id int64, upd Update) (Lead, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Analytics(ctx context.Context, now time.Time) (Analytics, error)
}

// Event types published on lead lifecycle changes.
const (
	EventLeadCreated = "lead.created"
	EventLeadUpdated = "lead.updated"
	EventLeadDeleted = "lead.deleted"
)

type LeadEvent struct {
	Type       string    `json:"type"`
	LeadID     int64     `json:"lead_id"`
	Lead       *Lead     `json:"lead,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher delivers lead lifecycle events to interested consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event LeadEvent) error
}
