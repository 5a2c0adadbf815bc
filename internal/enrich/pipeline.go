// Package enrich drives the enrichment pipeline end to end: it reads
// routes and postcodes from the store, runs the fetchers and resolvers,
// and writes derived attributes back. All writes are idempotent upserts
// or field updates, so an interrupted run can simply be re-run.
package enrich

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/richardfarnhill/leaflet-campaign/internal/debug"
	"github.com/richardfarnhill/leaflet-campaign/internal/nomis"
	"github.com/richardfarnhill/leaflet-campaign/internal/onspd"
	"github.com/richardfarnhill/leaflet-campaign/internal/postcodes"
	"github.com/richardfarnhill/leaflet-campaign/internal/store"
	"github.com/richardfarnhill/leaflet-campaign/internal/streets"
)

// Pipeline wires the enrichment components against the store. DryRun
// performs and reports all computation but suppresses the final writes.
type Pipeline struct {
	Store    *store.Store
	Resolver *streets.Resolver
	Fetcher  *postcodes.Fetcher
	Nomis    *nomis.Client
	DryRun   bool
	Debug    bool
}

// routesFor selects the routes to process: one route, one campaign, or
// everything.
func (p *Pipeline) routesFor(campaignID, routeID string) ([]store.Route, error) {
	if routeID != "" {
		route, err := p.Store.RouteByID(routeID)
		if err != nil {
			return nil, err
		}
		return []store.Route{*route}, nil
	}
	return p.Store.RoutesForCampaign(campaignID)
}

// EnrichStreets resolves street names for every route in scope and
// writes them to the routes' streets attribute. A single route failing
// to resolve yields an empty list for that route, never an aborted run.
func (p *Pipeline) EnrichStreets(ctx context.Context, campaignID, routeID string) error {
	defer debug.Timing(p.Debug, "street enrichment")()

	routes, err := p.routesFor(campaignID, routeID)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		return fmt.Errorf("no routes found")
	}
	log.Printf("Found %d route(s)", len(routes))

	// Every selected route stays in the set: a failed or empty postcode
	// load resolves to an empty street list, which still gets written.
	// Skipping would leave stale streets behind.
	resolved := make([]streets.Route, 0, len(routes))
	for _, route := range routes {
		target := streets.Route{ID: route.ID, Name: route.Name}

		rows, err := p.Store.PostcodesForRoute(route.ID)
		if err != nil {
			log.Printf("  %s: failed to load postcodes: %v", route.Name, err)
		}
		for _, row := range rows {
			target.Points = append(target.Points, streets.Point{Postcode: row.Postcode, Lat: row.Lat, Lng: row.Lng})
		}
		resolved = append(resolved, target)
	}

	enriched := p.Resolver.Enrich(ctx, resolved)

	for _, route := range enriched {
		preview := route.Streets
		if len(preview) > 5 {
			preview = preview[:5]
		}
		log.Printf("  %s: %d streets %v", route.Name, len(route.Streets), preview)
	}

	if p.DryRun {
		log.Printf("[DRY RUN] Would update %d routes", len(enriched))
		return nil
	}

	updated := 0
	for _, route := range enriched {
		if err := p.Store.UpdateRouteStreets(route.ID, route.Streets); err != nil {
			log.Printf("  update failed for %s: %v", route.Name, err)
			continue
		}
		updated++
	}
	log.Printf("Updated %d/%d routes", updated, len(enriched))
	return nil
}

// EnrichHouseholds fetches household counts for every output area in a
// campaign, rolls them up per route, and writes household_count. Missed
// output areas are reported explicitly so the operator can re-run the gap.
func (p *Pipeline) EnrichHouseholds(ctx context.Context, campaignID string) error {
	defer debug.Timing(p.Debug, "household enrichment")()

	codes, err := p.Store.OACodesForCampaign(campaignID)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return fmt.Errorf("no output areas found for campaign %s", campaignID)
	}
	log.Printf("Fetching household counts for %d OA21 codes...", len(codes))

	counts, missed := p.Nomis.FetchHouseholds(ctx, codes)
	log.Printf("Done: %d/%d fetched, %d missed", len(counts), len(codes), len(missed))
	if len(missed) > 0 {
		log.Printf("Missed OAs: %v", missed)
	}

	routes, err := p.Store.RoutesForCampaign(campaignID)
	if err != nil {
		return err
	}

	updated := 0
	for _, route := range routes {
		rows, err := p.Store.PostcodesForRoute(route.ID)
		if err != nil {
			log.Printf("  %s: failed to load postcodes: %v", route.Name, err)
			continue
		}

		// Sum counts over the route's distinct output areas. Missed
		// areas contribute nothing rather than a silent zero baseline;
		// the missed report above is the source of truth for gaps.
		seen := make(map[string]struct{})
		total := 0
		for _, row := range rows {
			if row.OA21Code == nil {
				continue
			}
			if _, dup := seen[*row.OA21Code]; dup {
				continue
			}
			seen[*row.OA21Code] = struct{}{}
			total += counts[*row.OA21Code]
		}

		log.Printf("  %s: %d households across %d OAs", route.Name, total, len(seen))
		if p.DryRun {
			continue
		}
		if err := p.Store.UpdateRouteHouseholds(route.ID, total); err != nil {
			log.Printf("  update failed for %s: %v", route.Name, err)
			continue
		}
		updated++
	}

	if p.DryRun {
		log.Printf("[DRY RUN] Would update %d routes", len(routes))
	} else {
		log.Printf("Updated %d/%d routes", updated, len(routes))
	}
	return nil
}

// FetchSector retrieves every postcode in a sector and inserts the rows
// under a route. Inserts are conflict-do-nothing, so a repeated fetch of
// the same sector is harmless.
func (p *Pipeline) FetchSector(ctx context.Context, sector, routeID string) error {
	defer debug.Timing(p.Debug, "sector fetch")()

	records, pages, err := p.Fetcher.Fetch(ctx, sector)
	if err != nil {
		return fmt.Errorf("failed to fetch sector %s: %w", sector, err)
	}
	log.Printf("Sector %s: %d postcodes across %d pages", sector, len(records), pages)

	if p.DryRun {
		log.Printf("[DRY RUN] Would insert %d postcode rows", len(records))
		return nil
	}

	rows := make([]store.Postcode, 0, len(records))
	for _, r := range records {
		rows = append(rows, store.Postcode{
			Postcode: r.Postcode,
			Lat:      r.Lat,
			Lng:      r.Lng,
			OA21Code: r.OA21Code,
			RouteID:  routeID,
		})
	}
	if err := p.Store.InsertPostcodes(rows); err != nil {
		return err
	}
	log.Printf("Inserted %d postcode rows for route %s", len(rows), routeID)
	return nil
}

// LoadReference loads an ONSPD outcode extract into the lookup table.
// With outDir set, the generated batch statements are written to
// numbered .sql files instead of being executed.
func (p *Pipeline) LoadReference(loader *onspd.Loader, outcode, outDir string) error {
	defer debug.Timing(p.Debug, "reference load")()

	rows, err := loader.Load(outcode)
	if err != nil {
		return err
	}
	log.Printf("Found %d England/Wales rows for %s", len(rows), outcode)
	if len(rows) == 0 {
		log.Printf("Nothing to insert.")
		return nil
	}

	statements := onspd.Statements(rows)
	log.Printf("Inserting in %d batches of up to %d rows...", len(statements), onspd.BatchSize)

	if outDir != "" {
		for i, statement := range statements {
			path := filepath.Join(outDir, fmt.Sprintf("%s_batch_%d.sql", outcode, i))
			if err := os.WriteFile(path, []byte(statement), 0644); err != nil {
				return fmt.Errorf("failed to write batch file: %w", err)
			}
			log.Printf("Wrote batch %d/%d", i+1, len(statements))
		}
		return nil
	}

	if p.DryRun {
		log.Printf("[DRY RUN] Would execute %d batches", len(statements))
		return nil
	}

	for i, statement := range statements {
		if err := p.Store.ExecBatch(statement); err != nil {
			return fmt.Errorf("batch %d/%d: %w", i+1, len(statements), err)
		}
		log.Printf("Executed batch %d/%d", i+1, len(statements))
	}

	count, err := p.Store.QueryCount(onspd.VerifySQL(outcode))
	if err != nil {
		return err
	}
	log.Printf("Verified: %d lookup rows for %s", count, outcode)
	return nil
}

// BackfillDemographics fills owner_occupied_pct on historic feedback
// rows that have an output area but no percentage yet. Rows the service
// has no figure for are skipped, not failed; counts are reported at the
// end.
func (p *Pipeline) BackfillDemographics(ctx context.Context) error {
	defer debug.Timing(p.Debug, "demographic backfill")()

	rows, err := p.Store.DemographicRowsMissingTenure()
	if err != nil {
		return err
	}
	log.Printf("Found %d rows to backfill", len(rows))

	progress := debug.NewProgress("rows", 10)
	enriched, skipped, failed := 0, 0, 0

	for _, row := range rows {
		progress.Tick()

		pct, ok := p.Nomis.FetchOwnerOccupiedPct(ctx, row.OA21Code)
		if !ok {
			skipped++
			continue
		}

		if p.DryRun {
			enriched++
			continue
		}
		if err := p.Store.UpdateDemographicTenure(row.ID, pct); err != nil {
			log.Printf("  failed to update %s: %v", row.ID, err)
			failed++
			continue
		}
		enriched++
	}

	log.Printf("Backfill complete: %d total, %d enriched, %d skipped, %d failed",
		len(rows), enriched, skipped, failed)
	return nil
}
