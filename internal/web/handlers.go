package web

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

type statusHandler struct {
	db *sql.DB
}

// StatsResponse summarizes enrichment coverage across all campaigns.
type StatsResponse struct {
	TotalRoutes          int     `json:"total_routes"`
	RoutesWithStreets    int     `json:"routes_with_streets"`
	RoutesWithHouseholds int     `json:"routes_with_households"`
	TotalPostcodes       int     `json:"total_postcodes"`
	PostcodesWithCoords  int     `json:"postcodes_with_coords"`
	StreetCoverage       float64 `json:"street_coverage"`
}

// RouteStatus is one route's enrichment state.
type RouteStatus struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	PostcodeCount  int    `json:"postcode_count"`
	StreetCount    int    `json:"street_count"`
	HouseholdCount *int   `json:"household_count"`
}

// Health reports liveness plus database reachability.
func (h *statusHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// GetStats returns overall enrichment coverage.
func (h *statusHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	var stats StatsResponse

	err := h.db.QueryRow(`
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN streets IS NOT NULL AND array_length(streets, 1) > 0 THEN 1 END) as with_streets,
			COUNT(CASE WHEN household_count IS NOT NULL THEN 1 END) as with_households
		FROM target_areas
	`).Scan(&stats.TotalRoutes, &stats.RoutesWithStreets, &stats.RoutesWithHouseholds)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = h.db.QueryRow(`
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN lat IS NOT NULL AND lng IS NOT NULL THEN 1 END) as with_coords
		FROM route_postcodes
	`).Scan(&stats.TotalPostcodes, &stats.PostcodesWithCoords)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if stats.TotalRoutes > 0 {
		stats.StreetCoverage = float64(stats.RoutesWithStreets) / float64(stats.TotalRoutes)
	}

	writeJSON(w, stats)
}

// ListCampaignRoutes returns per-route enrichment state for a campaign.
func (h *statusHandler) ListCampaignRoutes(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["id"]

	rows, err := h.db.Query(`
		SELECT ta.id, ta.area_name,
			(SELECT COUNT(*) FROM route_postcodes rp WHERE rp.target_area_id = ta.id),
			COALESCE(array_length(ta.streets, 1), 0),
			ta.household_count
		FROM target_areas ta
		WHERE ta.campaign_id = $1
		ORDER BY ta.area_name
	`, campaignID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	routes := []RouteStatus{}
	for rows.Next() {
		var rs RouteStatus
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.PostcodeCount, &rs.StreetCount, &rs.HouseholdCount); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		routes = append(routes, rs)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, routes)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
