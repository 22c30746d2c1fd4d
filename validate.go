package leadsvc

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field messages shown to the submitter.
const (
	msgCompanyName = "اسم الشركة لازم يكون حرفين على الأقل"
	msgPhone       = "رقم الهاتف غير صحيح"
	msgSector      = "القطاع غير صحيح"
	msgStatus      = "الحالة غير صحيحة"
	msgLimit       = "الحد لازم يكون رقم صحيح موجب"
	msgOffset      = "الإزاحة لازم تكون رقم صحيح غير سالب"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("sector", func(fl validator.FieldLevel) bool {
		return Sector(fl.Field().String()).Valid()
	})
	v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		return Status(fl.Field().String()).Valid()
	})

	return v
}

// ValidationError lists the rejected fields and the reason for each.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// LeadSubmission is the raw public intake payload.
type LeadSubmission struct {
	CompanyName string `json:"company_name" validate:"min=2,max=200"`
	Phone       string `json:"phone" validate:"min=10,max=15"`
	Sector      string `json:"sector" validate:"sector"`
}

// NormalizePhone trims the number and strips spaces and hyphens.
func NormalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
}

// Validate normalizes the submission and checks it. Nothing invalid ever
// reaches the store.
func (s LeadSubmission) Validate() (NewLead, error) {
	s.CompanyName = strings.TrimSpace(s.CompanyName)
	s.Phone = NormalizePhone(s.Phone)

	if err := validate.Struct(s); err != nil {
		return NewLead{}, toValidationError(err, map[string]string{
			"company_name": msgCompanyName,
			"phone":        msgPhone,
			"sector":       msgSector,
		})
	}

	return NewLead{
		CompanyName: s.CompanyName,
		Phone:       s.Phone,
		Sector:      Sector(s.Sector),
	}, nil
}

// LeadPatch is the raw admin update payload. Null status counts as absent.
type LeadPatch struct {
	Status *string    `json:"status" validate:"omitnil,status"`
	Notes  NullString `json:"notes" validate:"-"`
}

// Validate checks the patch and converts it to an Update.
func (p LeadPatch) Validate() (Update, error) {
	if err := validate.Struct(p); err != nil {
		return Update{}, toValidationError(err, map[string]string{
			"status": msgStatus,
		})
	}

	var upd Update
	if p.Status != nil {
		st := Status(*p.Status)
		upd.Status = &st
	}
	upd.Notes = p.Notes
	return upd, nil
}

func toValidationError(err error, messages map[string]string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	ve := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		msg, ok := messages[fe.Field()]
		if !ok {
			msg = fmt.Sprintf("failed on %q", fe.Tag())
		}
		ve.Fields[fe.Field()] = msg
	}
	return ve
}

// ListQuery is the raw admin listing query string.
type ListQuery struct {
	Status string
	Sector string
	Search string
	Limit  string
	Offset string
}

// Validate converts the query to a Filter. Unknown enum values and malformed
// numbers are rejected; an oversized limit is capped at MaxListLimit.
func (q ListQuery) Validate() (Filter, error) {
	fields := map[string]string{}

	filter := Filter{
		Status: Status(q.Status),
		Sector: Sector(q.Sector),
		Search: q.Search,
		Limit:  DefaultListLimit,
	}

	if filter.Status != "" && !filter.Status.Valid() {
		fields["status"] = msgStatus
	}
	if filter.Sector != "" && !filter.Sector.Valid() {
		fields["sector"] = msgSector
	}

	if q.Limit != "" {
		n, err := strconv.Atoi(q.Limit)
		switch {
		case err != nil || n < 1:
			fields["limit"] = msgLimit
		case n > MaxListLimit:
			filter.Limit = MaxListLimit
		default:
			filter.Limit = n
		}
	}
	if q.Offset != "" {
		n, err := strconv.Atoi(q.Offset)
		if err != nil || n < 0 {
			fields["offset"] = msgOffset
		}
		filter.Offset = n
	}

	if len(fields) > 0 {
		return Filter{}, &ValidationError{Fields: fields}
	}
	return filter, nil
}
