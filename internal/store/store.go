// Package store is the only component that touches the campaign
// database. The rest of the pipeline depends on three shapes: read rows
// matching an equality filter, update named fields on a row by id, and
// bulk insert with conflict-do-nothing.
package store

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Route is a delivery target area. Streets and HouseholdCount are
// derived attributes written back by the enrichment pipeline.
type Route struct {
	ID             string
	Name           string
	CampaignID     string
	Sector         string
	Outcode        string
	Streets        []string
	HouseholdCount *int
}

// Postcode is one route postcode row. Coordinates and the output-area
// code are nullable; rows are immutable once written.
type Postcode struct {
	Postcode string
	Lat      *float64
	Lng      *float64
	OA21Code *string
	RouteID  string
}

// DemographicRow is a feedback row awaiting tenure enrichment.
type DemographicRow struct {
	ID       string
	OA21Code string
}

// Store wraps the campaign database.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// RoutesForCampaign returns the target areas for a campaign, or all
// target areas when campaignID is "all".
func (s *Store) RoutesForCampaign(campaignID string) ([]Route, error) {
	query := `SELECT id, area_name, campaign_id, COALESCE(sector, ''), COALESCE(outcode, '')
		FROM target_areas`
	var args []interface{}
	if campaignID != "all" {
		query += ` WHERE campaign_id = $1`
		args = append(args, campaignID)
	}
	query += ` ORDER BY area_name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query target areas: %w", err)
	}
	defer rows.Close()

	return scanRoutes(rows)
}

// RouteByID returns a single target area.
func (s *Store) RouteByID(id string) (*Route, error) {
	rows, err := s.db.Query(`SELECT id, area_name, campaign_id, COALESCE(sector, ''), COALESCE(outcode, '')
		FROM target_areas WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query target area: %w", err)
	}
	defer rows.Close()

	routes, err := scanRoutes(rows)
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("route %s not found", id)
	}
	return &routes[0], nil
}

func scanRoutes(rows *sql.Rows) ([]Route, error) {
	var routes []Route
	for rows.Next() {
		var r Route
		if err := rows.Scan(&r.ID, &r.Name, &r.CampaignID, &r.Sector, &r.Outcode); err != nil {
			return nil, fmt.Errorf("failed to scan target area: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// PostcodesForRoute returns the postcode rows belonging to a route.
func (s *Store) PostcodesForRoute(routeID string) ([]Postcode, error) {
	rows, err := s.db.Query(`SELECT postcode, lat, lng, oa21_code, target_area_id
		FROM route_postcodes WHERE target_area_id = $1`, routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query route postcodes: %w", err)
	}
	defer rows.Close()

	var postcodes []Postcode
	for rows.Next() {
		var p Postcode
		if err := rows.Scan(&p.Postcode, &p.Lat, &p.Lng, &p.OA21Code, &p.RouteID); err != nil {
			return nil, fmt.Errorf("failed to scan route postcode: %w", err)
		}
		postcodes = append(postcodes, p)
	}
	return postcodes, rows.Err()
}

// UpdateRouteStreets writes the derived street list for a route.
func (s *Store) UpdateRouteStreets(routeID string, streets []string) error {
	_, err := s.db.Exec(`UPDATE target_areas SET streets = $2 WHERE id = $1`,
		routeID, pq.Array(streets))
	if err != nil {
		return fmt.Errorf("failed to update streets for route %s: %w", routeID, err)
	}
	return nil
}

// UpdateRouteHouseholds writes the derived household count for a route.
func (s *Store) UpdateRouteHouseholds(routeID string, count int) error {
	_, err := s.db.Exec(`UPDATE target_areas SET household_count = $2 WHERE id = $1`,
		routeID, count)
	if err != nil {
		return fmt.Errorf("failed to update household count for route %s: %w", routeID, err)
	}
	return nil
}

// InsertPostcodes bulk-inserts route postcode rows. Conflicts on the
// postcode primary key are ignored, so re-running a fetch is safe.
func (s *Store) InsertPostcodes(postcodes []Postcode) error {
	if len(postcodes) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO route_postcodes (postcode, lat, lng, oa21_code, target_area_id)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (postcode) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range postcodes {
		if _, err := stmt.Exec(p.Postcode, p.Lat, p.Lng, p.OA21Code, p.RouteID); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert postcode %s: %w", p.Postcode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit postcode insert: %w", err)
	}
	return nil
}

// ExecBatch executes one generated batch statement (reference table
// loads delegate execution here).
func (s *Store) ExecBatch(statement string) error {
	if _, err := s.db.Exec(statement); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// QueryCount runs a generated single-count statement (reference loads
// delegate their verification query here, alongside ExecBatch).
func (s *Store) QueryCount(statement string) (int, error) {
	var count int
	if err := s.db.QueryRow(statement).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to run count query: %w", err)
	}
	return count, nil
}

// OACodesForCampaign returns the distinct output-area codes across a
// campaign's route postcodes.
func (s *Store) OACodesForCampaign(campaignID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT rp.oa21_code
		FROM route_postcodes rp
		JOIN target_areas ta ON ta.id = rp.target_area_id
		WHERE ta.campaign_id = $1 AND rp.oa21_code IS NOT NULL
		ORDER BY rp.oa21_code`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query OA codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan OA code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// DemographicRowsMissingTenure returns feedback rows that have an OA
// code but no owner-occupied percentage yet.
func (s *Store) DemographicRowsMissingTenure() ([]DemographicRow, error) {
	rows, err := s.db.Query(`SELECT id, oa21_code FROM demographic_feedback
		WHERE owner_occupied_pct IS NULL AND oa21_code IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query demographic rows: %w", err)
	}
	defer rows.Close()

	var result []DemographicRow
	for rows.Next() {
		var r DemographicRow
		if err := rows.Scan(&r.ID, &r.OA21Code); err != nil {
			return nil, fmt.Errorf("failed to scan demographic row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// UpdateDemographicTenure writes the owner-occupied percentage on a
// feedback row.
func (s *Store) UpdateDemographicTenure(id string, pct float64) error {
	_, err := s.db.Exec(`UPDATE demographic_feedback SET owner_occupied_pct = $2 WHERE id = $1`,
		id, pct)
	if err != nil {
		return fmt.Errorf("failed to update demographic row %s: %w", id, err)
	}
	return nil
}
