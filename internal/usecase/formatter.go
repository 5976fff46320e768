package usecase

import (
	"fmt"

	"busbot/internal/domain"
)

const operatingHoursNotice = " (Please note buses cease operation at 00:00 and begin at 05:00)"

// FormatArrivals turns a transit query result into the texts sent to the user.
// Only the first arrival of each route is reported; transport failures produce
// nothing.
func FormatArrivals(result domain.QueryResult) []string {
	switch r := result.(type) {
	case domain.Records:
		return formatRecords(r.Arrivals)
	case domain.UpstreamError:
		if r.Code == 0 {
			return nil
		}
		return []string{r.Message + operatingHoursNotice}
	default:
		return nil
	}
}

func formatRecords(arrivals []domain.ArrivalRecord) []string {
	if len(arrivals) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(arrivals))
	out := make([]string, 0, len(arrivals))
	for _, a := range arrivals {
		if _, dup := seen[a.Route]; dup {
			continue
		}
		seen[a.Route] = struct{}{}
		out = append(out, arrivalText(a))
	}
	return out
}

func arrivalText(a domain.ArrivalRecord) string {
	switch n := a.Due.Minutes(); {
	case a.Due.IsNow():
		return fmt.Sprintf("A %s bus is arriving now!", a.Route)
	case n > 1:
		return fmt.Sprintf("A %s bus will arrive in %d minutes!", a.Route, n)
	default:
		return fmt.Sprintf("A %s bus will arrive in %d minute!", a.Route, n)
	}
}
