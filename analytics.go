package leadsvc

import (
	"math"
	"sort"
	"time"
)

// NoTopSector is reported as the top sector when there are no leads.
const NoTopSector = "-"

type Analytics struct {
	Total          int            `json:"total"`
	Today          int            `json:"today"`
	New            int            `json:"new"`
	Contacted      int            `json:"contacted"`
	Converted      int            `json:"converted"`
	Rejected       int            `json:"rejected"`
	ConversionRate float64        `json:"conversion_rate"`
	BySector       map[string]int `json:"by_sector"`
	ByStatus       map[string]int `json:"by_status"`
	TopSector      string         `json:"top_sector"`
}

// ComputeAnalytics derives the summary from grouped counts. Only keys present
// in the grouped maps are reported; ties for the top sector go to the
// alphabetically smallest key.
func ComputeAnalytics(total, today int, byStatus, bySector map[string]int) Analytics {
	if byStatus == nil {
		byStatus = map[string]int{}
	}
	if bySector == nil {
		bySector = map[string]int{}
	}

	a := Analytics{
		Total:     total,
		Today:     today,
		New:       byStatus[string(StatusNew)],
		Contacted: byStatus[string(StatusContacted)],
		Converted: byStatus[string(StatusConverted)],
		Rejected:  byStatus[string(StatusRejected)],
		BySector:  bySector,
		ByStatus:  byStatus,
		TopSector: topKey(bySector),
	}

	if total > 0 {
		a.ConversionRate = math.Round(float64(a.Converted)/float64(total)*1000) / 10
	}

	return a
}

func topKey(counts map[string]int) string {
	if len(counts) == 0 {
		return NoTopSector
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	top := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[top] {
			top = k
		}
	}
	return top
}

// DayBounds returns the start of the calendar day containing now in loc and
// the start of the following day.
func DayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
