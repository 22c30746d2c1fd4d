package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phbpx/leadsvc"
	"github.com/phbpx/leadsvc/pkg/metrics"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

const (
	submittedMessage = "تم استلام طلبك بنجاح! سنتواصل معك قريباً."
	exportTimeLayout = "2006-01-02 15:04"
	publishTimeout   = 5 * time.Second
)

// utf8BOM lets spreadsheet software detect the encoding of the Arabic labels.
const utf8BOM = "\xEF\xBB\xBF"

var exportHeader = []string{"ID", "Company", "Phone", "Sector", "Status", "Notes", "Created"}

type LeadHandler struct {
	service leadsvc.LeadService
	events  leadsvc.EventPublisher
	metrics *metrics.Metrics
	loc     *time.Location
	log     *otelzap.SugaredLogger
}

func NewLeadHandler(service leadsvc.LeadService, events leadsvc.EventPublisher, m *metrics.Metrics, loc *time.Location, log *otelzap.SugaredLogger) *LeadHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &LeadHandler{
		service: service,
		events:  events,
		metrics: m,
		loc:     loc,
		log:     log,
	}
}

// Submit is the public intake endpoint.
func (lh LeadHandler) Submit(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sub leadsvc.LeadSubmission
	if err := decode(rw, r, &sub); err != nil {
		lh.log.Ctx(ctx).Infow("Submit", "error", err.Error())
		respondErr(ctx, rw, http.StatusBadRequest, errors.New("request body is not valid JSON"))
		return
	}

	newLead, err := sub.Validate()
	if err != nil {
		respondInvalid(ctx, rw, http.StatusUnprocessableEntity, err)
		return
	}

	lead, err := lh.service.Create(ctx, newLead)
	if err != nil {
		if errors.Is(err, leadsvc.ErrInvalidInput) {
			respondErr(ctx, rw, http.StatusUnprocessableEntity, leadsvc.ErrInvalidInput)
			return
		}
		respondInternal(ctx, rw, lh.log, "Submit", err)
		return
	}

	if lh.metrics != nil {
		lh.metrics.LeadsSubmitted.WithLabelValues(string(lead.Sector)).Inc()
	}
	lh.publish(ctx, leadsvc.EventLeadCreated, lead.ID, &lead)

	respond(ctx, rw, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": submittedMessage,
		"id":      lead.ID,
	})
}

func (lh LeadHandler) List(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		respondInvalid(ctx, rw, http.StatusBadRequest, err)
		return
	}

	leads, total, err := lh.service.List(ctx, filter)
	if err != nil {
		respondInternal(ctx, rw, lh.log, "List", err)
		return
	}

	respond(ctx, rw, http.StatusOK, map[string]interface{}{
		"leads": leads,
		"total": total,
	})
}

func parseFilter(r *http.Request) (leadsvc.Filter, error) {
	q := r.URL.Query()
	return leadsvc.ListQuery{
		Status: q.Get("status"),
		Sector: q.Get("sector"),
		Search: q.Get("search"),
		Limit:  q.Get("limit"),
		Offset: q.Get("offset"),
	}.Validate()
}

func (lh LeadHandler) GetByID(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := leadID(r)
	if err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, errBadID)
		return
	}

	lead, err := lh.service.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, leadsvc.ErrLeadNotFound) {
			respondErr(ctx, rw, http.StatusNotFound, err)
			return
		}
		respondInternal(ctx, rw, lh.log, "GetByID", err)
		return
	}

	respond(ctx, rw, http.StatusOK, lead)
}

func (lh LeadHandler) Update(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := leadID(r)
	if err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, errBadID)
		return
	}

	var patch leadsvc.LeadPatch
	if err := decode(rw, r, &patch); err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, errors.New("request body is not valid JSON"))
		return
	}

	upd, err := patch.Validate()
	if err != nil {
		respondInvalid(ctx, rw, http.StatusBadRequest, err)
		return
	}

	lead, err := lh.service.Update(ctx, id, upd)
	if err != nil {
		switch {
		case errors.Is(err, leadsvc.ErrLeadNotFound):
			respondErr(ctx, rw, http.StatusNotFound, leadsvc.ErrLeadNotFound)
		case errors.Is(err, leadsvc.ErrInvalidInput):
			respondErr(ctx, rw, http.StatusBadRequest, leadsvc.ErrInvalidInput)
		default:
			respondInternal(ctx, rw, lh.log, "Update", err)
		}
		return
	}

	lh.publish(ctx, leadsvc.EventLeadUpdated, lead.ID, &lead)

	respond(ctx, rw, http.StatusOK, map[string]interface{}{
		"success": true,
		"lead":    lead,
	})
}

func (lh LeadHandler) Delete(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := leadID(r)
	if err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, errBadID)
		return
	}

	deleted, err := lh.service.Delete(ctx, id)
	if err != nil {
		respondInternal(ctx, rw, lh.log, "Delete", err)
		return
	}
	if !deleted {
		respondErr(ctx, rw, http.StatusNotFound, leadsvc.ErrLeadNotFound)
		return
	}

	lh.publish(ctx, leadsvc.EventLeadDeleted, id, nil)

	respond(ctx, rw, http.StatusOK, map[string]bool{"success": true})
}

func (lh LeadHandler) Analytics(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := lh.service.Analytics(ctx, time.Now())
	if err != nil {
		respondInternal(ctx, rw, lh.log, "Analytics", err)
		return
	}

	respond(ctx, rw, http.StatusOK, stats)
}

// Export streams up to leadsvc.ExportLimit leads, newest first, as CSV.
func (lh LeadHandler) Export(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	leads, _, err := lh.service.List(ctx, leadsvc.Filter{Limit: leadsvc.ExportLimit})
	if err != nil {
		respondInternal(ctx, rw, lh.log, "Export", err)
		return
	}

	rw.Header().Set("Content-Type", "text/csv; charset=utf-8")
	rw.Header().Set("Content-Disposition", "attachment; filename=leads.csv")
	rw.WriteHeader(http.StatusOK)

	if _, err := rw.Write([]byte(utf8BOM)); err != nil {
		lh.log.Ctx(ctx).Errorw("Export", "error", err.Error())
		return
	}

	w := csv.NewWriter(rw)
	w.Write(exportHeader)
	for _, lead := range leads {
		w.Write(lh.exportRow(lead))
	}
	w.Flush()

	if err := w.Error(); err != nil {
		lh.log.Ctx(ctx).Errorw("Export", "error", err.Error())
	}
}

func (lh LeadHandler) exportRow(lead leadsvc.Lead) []string {
	notes := ""
	if lead.Notes != nil {
		notes = *lead.Notes
	}
	return []string{
		strconv.FormatInt(lead.ID, 10),
		lead.CompanyName,
		lead.Phone,
		lead.Sector.Label(),
		lead.Status.Label(),
		notes,
		lead.CreatedAt.In(lh.loc).Format(exportTimeLayout),
	}
}

// publish sends the event in the background; a slow or absent broker never
// holds up the request.
func (lh LeadHandler) publish(ctx context.Context, eventType string, id int64, lead *leadsvc.Lead) {
	if lh.events == nil {
		return
	}

	event := leadsvc.LeadEvent{
		Type:       eventType,
		LeadID:     id,
		Lead:       lead,
		OccurredAt: time.Now().UTC(),
	}
	log := lh.log.Ctx(ctx)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := lh.events.Publish(ctx, event); err != nil {
			log.Errorw("publish", "type", eventType, "lead_id", id, "error", err.Error())
		}
	}()
}

func leadID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, err
	}
	if id < 1 {
		return 0, fmt.Errorf("invalid id %d", id)
	}
	return id, nil
}
