package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/phbpx/leadsvc"
	"github.com/phbpx/leadsvc/pkg/database"
)

// setupTestDB connects to the test database, migrates it and empties the
// leads table. The test is skipped when postgres is unavailable.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		User:       envOrDefault("LEADS_TEST_DB_USER", "leadsvc"),
		Password:   envOrDefault("LEADS_TEST_DB_PASSWORD", "leadsvc"),
		Host:       envOrDefault("LEADS_TEST_DB_HOST", "localhost"),
		Name:       envOrDefault("LEADS_TEST_DB_NAME", "leads_test"),
		DisableTLS: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := database.StatusCheck(ctx, db); err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE leads RESTART IDENTITY`); err != nil {
		t.Fatalf("Failed to clean database: %v", err)
	}
	return db
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustCreate(t *testing.T, ls leadsvc.LeadService, company, phone string, sector leadsvc.Sector) leadsvc.Lead {
	t.Helper()
	lead, err := ls.Create(context.Background(), leadsvc.NewLead{CompanyName: company, Phone: phone, Sector: sector})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return lead
}

func TestLeadServiceCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	ls := NewLeadService(db, time.UTC)
	ctx := context.Background()

	lead := mustCreate(t, ls, "Acme Pharmacy", "0501234567", leadsvc.SectorPharmacy)

	if lead.ID == 0 {
		t.Error("expected an assigned id")
	}
	if lead.Status != leadsvc.StatusNew {
		t.Errorf("Status = %q, want new", lead.Status)
	}
	if !lead.CreatedAt.Equal(lead.UpdatedAt) {
		t.Errorf("CreatedAt %v != UpdatedAt %v", lead.CreatedAt, lead.UpdatedAt)
	}
	if lead.Notes != nil {
		t.Errorf("Notes = %v, want nil", *lead.Notes)
	}

	got, err := ls.GetByID(ctx, lead.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.CompanyName != "Acme Pharmacy" || got.Sector != leadsvc.SectorPharmacy {
		t.Errorf("GetByID() = %+v", got)
	}

	if _, err := ls.GetByID(ctx, lead.ID+1000); !errors.Is(err, leadsvc.ErrLeadNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrLeadNotFound", err)
	}
}

func TestLeadServiceList(t *testing.T) {
	db := setupTestDB(t)
	ls := NewLeadService(db, time.UTC)
	ctx := context.Background()

	a := mustCreate(t, ls, "Acme Pharmacy", "0501234567", leadsvc.SectorPharmacy)
	b := mustCreate(t, ls, "Blue Clinic", "0559876543", leadsvc.SectorClinic)
	c := mustCreate(t, ls, "acme tours", "0561112222", leadsvc.SectorTourism)
	d := mustCreate(t, ls, "100%_Real Estate", "0573334444", leadsvc.SectorRealEstate)

	status := leadsvc.StatusConverted
	if _, err := ls.Update(ctx, b.ID, leadsvc.Update{Status: &status}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	tests := []struct {
		name      string
		filter    leadsvc.Filter
		wantIDs   []int64
		wantTotal int
	}{
		{name: "all newest first", filter: leadsvc.Filter{}, wantIDs: []int64{d.ID, c.ID, b.ID, a.ID}, wantTotal: 4},
		{name: "paged", filter: leadsvc.Filter{Limit: 2, Offset: 1}, wantIDs: []int64{c.ID, b.ID}, wantTotal: 4},
		{name: "past the end", filter: leadsvc.Filter{Limit: 2, Offset: 10}, wantIDs: []int64{}, wantTotal: 4},
		{name: "by sector", filter: leadsvc.Filter{Sector: leadsvc.SectorPharmacy}, wantIDs: []int64{a.ID}, wantTotal: 1},
		{name: "by status", filter: leadsvc.Filter{Status: leadsvc.StatusConverted}, wantIDs: []int64{b.ID}, wantTotal: 1},
		{name: "search is case-insensitive", filter: leadsvc.Filter{Search: "ACME"}, wantIDs: []int64{c.ID, a.ID}, wantTotal: 2},
		{name: "search phone", filter: leadsvc.Filter{Search: "98765"}, wantIDs: []int64{b.ID}, wantTotal: 1},
		{name: "wildcards are literal", filter: leadsvc.Filter{Search: "%_"}, wantIDs: []int64{d.ID}, wantTotal: 1},
		{name: "combined", filter: leadsvc.Filter{Search: "acme", Sector: leadsvc.SectorTourism}, wantIDs: []int64{c.ID}, wantTotal: 1},
		{name: "total ignores limit", filter: leadsvc.Filter{Search: "acme", Limit: 1}, wantIDs: []int64{c.ID}, wantTotal: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leads, total, err := ls.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(leads) != len(tt.wantIDs) {
				t.Fatalf("got %d leads, want %d", len(leads), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if leads[i].ID != id {
					t.Errorf("leads[%d].ID = %d, want %d", i, leads[i].ID, id)
				}
			}
		})
	}
}

func TestLeadServiceUpdate(t *testing.T) {
	db := setupTestDB(t)
	ls := NewLeadService(db, time.UTC)
	ctx := context.Background()

	lead := mustCreate(t, ls, "Acme Pharmacy", "0501234567", leadsvc.SectorPharmacy)

	// Notes only: status untouched.
	upd := leadsvc.Update{Notes: leadsvc.NullString{Set: true, Valid: true, Value: "call on sunday"}}
	got, err := ls.Update(ctx, lead.ID, upd)
	if err != nil {
		t.Fatalf("Update(notes) error = %v", err)
	}
	if got.Status != leadsvc.StatusNew {
		t.Errorf("Status = %q, want new", got.Status)
	}
	if got.Notes == nil || *got.Notes != "call on sunday" {
		t.Errorf("Notes = %v", got.Notes)
	}
	if !got.UpdatedAt.After(lead.UpdatedAt) {
		t.Errorf("UpdatedAt %v did not increase past %v", got.UpdatedAt, lead.UpdatedAt)
	}
	if !got.CreatedAt.Equal(lead.CreatedAt) {
		t.Error("CreatedAt changed on update")
	}
	prev := got

	// Status only: notes untouched.
	status := leadsvc.StatusContacted
	got, err = ls.Update(ctx, lead.ID, leadsvc.Update{Status: &status})
	if err != nil {
		t.Fatalf("Update(status) error = %v", err)
	}
	if got.Status != leadsvc.StatusContacted {
		t.Errorf("Status = %q, want contacted", got.Status)
	}
	if got.Notes == nil || *got.Notes != "call on sunday" {
		t.Errorf("Notes changed to %v", got.Notes)
	}
	if !got.UpdatedAt.After(prev.UpdatedAt) {
		t.Errorf("UpdatedAt %v did not increase past %v", got.UpdatedAt, prev.UpdatedAt)
	}

	// Explicit null clears notes.
	got, err = ls.Update(ctx, lead.ID, leadsvc.Update{Notes: leadsvc.NullString{Set: true}})
	if err != nil {
		t.Fatalf("Update(clear) error = %v", err)
	}
	if got.Notes != nil {
		t.Errorf("Notes = %q, want nil", *got.Notes)
	}

	if _, err := ls.Update(ctx, lead.ID+1000, leadsvc.Update{Status: &status}); !errors.Is(err, leadsvc.ErrLeadNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrLeadNotFound", err)
	}
}

func TestLeadServiceDelete(t *testing.T) {
	db := setupTestDB(t)
	ls := NewLeadService(db, time.UTC)
	ctx := context.Background()

	lead := mustCreate(t, ls, "Acme Pharmacy", "0501234567", leadsvc.SectorPharmacy)

	ok, err := ls.Delete(ctx, lead.ID)
	if err != nil || !ok {
		t.Fatalf("Delete() = %v, %v; want true, nil", ok, err)
	}

	ok, err = ls.Delete(ctx, lead.ID)
	if err != nil || ok {
		t.Fatalf("second Delete() = %v, %v; want false, nil", ok, err)
	}

	if _, err := ls.GetByID(ctx, lead.ID); !errors.Is(err, leadsvc.ErrLeadNotFound) {
		t.Errorf("GetByID(deleted) error = %v, want ErrLeadNotFound", err)
	}
}

func TestLeadServiceAnalytics(t *testing.T) {
	db := setupTestDB(t)
	ls := NewLeadService(db, time.UTC)
	ctx := context.Background()

	empty, err := ls.Analytics(ctx, time.Now())
	if err != nil {
		t.Fatalf("Analytics() error = %v", err)
	}
	if empty.Total != 0 || empty.ConversionRate != 0 || empty.TopSector != leadsvc.NoTopSector {
		t.Errorf("empty analytics = %+v", empty)
	}

	var ids []int64
	for i := 0; i < 10; i++ {
		sector := leadsvc.SectorPharmacy
		if i%3 == 0 {
			sector = leadsvc.SectorClinic
		}
		ids = append(ids, mustCreate(t, ls, "Company", "0501234567", sector).ID)
	}
	converted := leadsvc.StatusConverted
	for _, id := range ids[:3] {
		if _, err := ls.Update(ctx, id, leadsvc.Update{Status: &converted}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	// One lead from yesterday.
	if _, err := db.Exec(`UPDATE leads SET created_at = created_at - interval '2 days', updated_at = updated_at - interval '1 day' WHERE id = $1`, ids[9]); err != nil {
		t.Fatalf("backdating: %v", err)
	}

	a, err := ls.Analytics(ctx, time.Now())
	if err != nil {
		t.Fatalf("Analytics() error = %v", err)
	}
	if a.Total != 10 {
		t.Errorf("Total = %d, want 10", a.Total)
	}
	if a.Today != 9 {
		t.Errorf("Today = %d, want 9", a.Today)
	}
	if a.Converted != 3 || a.New != 7 {
		t.Errorf("Converted = %d, New = %d", a.Converted, a.New)
	}
	if a.ConversionRate != 30.0 {
		t.Errorf("ConversionRate = %v, want 30.0", a.ConversionRate)
	}
	if a.BySector["pharmacy"] != 6 || a.BySector["clinic"] != 4 {
		t.Errorf("BySector = %v", a.BySector)
	}
	if a.TopSector != "pharmacy" {
		t.Errorf("TopSector = %q, want pharmacy", a.TopSector)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"acme":    "acme",
		"100%":    `100\%`,
		"a_b":     `a\_b`,
		`back\sl`: `back\\sl`,
	}
	for in, want := range tests {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFilterClause(t *testing.T) {
	where, args := filterClause(leadsvc.Filter{Status: leadsvc.StatusNew, Search: "ac"})
	want := " WHERE status = $1 AND (company_name ILIKE $2 OR phone ILIKE $2)"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 2 || args[1] != "%ac%" {
		t.Errorf("args = %v", args)
	}

	where, args = filterClause(leadsvc.Filter{})
	if where != "" || len(args) != 0 {
		t.Errorf("empty filter = %q %v", where, args)
	}
}
