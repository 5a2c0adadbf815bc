package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/richardfarnhill/leaflet-campaign/internal/config"
	"github.com/richardfarnhill/leaflet-campaign/internal/db"
	"github.com/richardfarnhill/leaflet-campaign/internal/enrich"
	"github.com/richardfarnhill/leaflet-campaign/internal/geo"
	"github.com/richardfarnhill/leaflet-campaign/internal/nomis"
	"github.com/richardfarnhill/leaflet-campaign/internal/onspd"
	"github.com/richardfarnhill/leaflet-campaign/internal/pacer"
	"github.com/richardfarnhill/leaflet-campaign/internal/postcodes"
	"github.com/richardfarnhill/leaflet-campaign/internal/store"
	"github.com/richardfarnhill/leaflet-campaign/internal/streets"
	"github.com/richardfarnhill/leaflet-campaign/internal/web"
)

var dbConn *db.Connection

// requireDB connects on first use so commands that only generate files
// can run without credentials.
func requireDB() *db.Connection {
	if dbConn != nil {
		return dbConn
	}
	conn, err := db.NewConnection()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	dbConn = conn
	return dbConn
}

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	rootCmd := &cobra.Command{
		Use:   "enrich",
		Short: "Leaflet campaign route enrichment",
		Long:  `Enriches delivery routes with postcodes, street names, household counts and output-area reference data`,
	}

	rootCmd.AddCommand(createStreetsCmd())
	rootCmd.AddCommand(createHouseholdsCmd())
	rootCmd.AddCommand(createFetchSectorCmd())
	rootCmd.AddCommand(createLoadPostcodesCmd())
	rootCmd.AddCommand(createBackfillCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createPingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if dbConn != nil {
		dbConn.Close()
	}
}

// validateCampaign rejects malformed campaign selectors before any work.
func validateCampaign(campaignID string) {
	if campaignID == "all" {
		return
	}
	if _, err := uuid.Parse(campaignID); err != nil {
		log.Fatalf("Invalid campaign id %q: %v", campaignID, err)
	}
}

func validateRoute(routeID string) {
	if routeID == "" {
		return
	}
	if _, err := uuid.Parse(routeID); err != nil {
		log.Fatalf("Invalid route id %q: %v", routeID, err)
	}
}

func newPipeline(dryRun, debugFlag bool) *enrich.Pipeline {
	return &enrich.Pipeline{
		Store: store.New(requireDB().DB),
		Fetcher: postcodes.NewFetcher(
			config.GetEnv("POSTCODES_API_URL", postcodes.DefaultBaseURL),
			pacer.PerSecond(config.GetEnvFloat("POSTCODES_RPS", 5))),
		Nomis: nomis.NewClient(
			config.GetEnv("NOMIS_API_URL", nomis.DefaultBaseURL),
			pacer.PerSecond(config.GetEnvFloat("NOMIS_RPS", 3))),
		DryRun: dryRun,
		Debug:  debugFlag,
	}
}

func createStreetsCmd() *cobra.Command {
	var campaignID, routeID, csvPath string
	var dryRun, debugFlag bool

	cmd := &cobra.Command{
		Use:   "streets",
		Short: "Enrich routes with nearby street names",
		Long:  `Resolves street names near each route's postcodes, from a local OS Open Names CSV when given or reverse geocoding otherwise`,
		Run: func(cmd *cobra.Command, args []string) {
			validateCampaign(campaignID)
			validateRoute(routeID)

			var index *geo.Index
			if csvPath != "" {
				points, err := geo.LoadStreetPoints(csvPath)
				if err != nil {
					log.Fatalf("Failed to load street names CSV: %v", err)
				}
				index = geo.BuildIndex(points)
				log.Printf("Built spatial index: %d street records indexed", index.Size())
			}

			pipeline := newPipeline(dryRun, debugFlag)
			pipeline.Resolver = streets.NewResolver(index,
				pacer.PerSecond(config.GetEnvFloat("NOMINATIM_RPS", 1)))

			if err := pipeline.EnrichStreets(context.Background(), campaignID, routeID); err != nil {
				log.Fatalf("Street enrichment failed: %v", err)
			}
		},
	}

	cmd.Flags().StringVar(&campaignID, "campaign", "", `Campaign id or "all"`)
	cmd.Flags().StringVar(&routeID, "route", "", "Single route id to enrich")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Path to OS Open Names CSV (remote mode if omitted)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute and report without writing")
	cmd.Flags().BoolVar(&debugFlag, "debug", false, "Verbose debug output")
	cmd.MarkFlagRequired("campaign")

	return cmd
}

func createHouseholdsCmd() *cobra.Command {
	var campaignID string
	var dryRun, debugFlag bool

	cmd := &cobra.Command{
		Use:   "households",
		Short: "Enrich routes with census household counts",
		Run: func(cmd *cobra.Command, args []string) {
			validateCampaign(campaignID)
			if campaignID == "all" {
				log.Fatalf("households requires a specific campaign id")
			}

			pipeline := newPipeline(dryRun, debugFlag)
			if err := pipeline.EnrichHouseholds(context.Background(), campaignID); err != nil {
				log.Fatalf("Household enrichment failed: %v", err)
			}
		},
	}

	cmd.Flags().StringVar(&campaignID, "campaign", "", "Campaign id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute and report without writing")
	cmd.Flags().BoolVar(&debugFlag, "debug", false, "Verbose debug output")
	cmd.MarkFlagRequired("campaign")

	return cmd
}

func createFetchSectorCmd() *cobra.Command {
	var routeID string
	var dryRun, debugFlag bool

	cmd := &cobra.Command{
		Use:   "fetch-sector [sector]",
		Short: "Fetch all postcodes in a sector onto a route",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			validateRoute(routeID)
			if routeID == "" {
				log.Fatalf("fetch-sector requires --route")
			}

			pipeline := newPipeline(dryRun, debugFlag)
			if err := pipeline.FetchSector(context.Background(), args[0], routeID); err != nil {
				log.Fatalf("Sector fetch failed: %v", err)
			}
		},
	}

	cmd.Flags().StringVar(&routeID, "route", "", "Route id to attach postcodes to")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fetch and report without writing")
	cmd.Flags().BoolVar(&debugFlag, "debug", false, "Verbose debug output")
	cmd.MarkFlagRequired("route")

	return cmd
}

func createLoadPostcodesCmd() *cobra.Command {
	var csvDir, outDir string
	var dryRun, debugFlag bool

	cmd := &cobra.Command{
		Use:   "load-postcodes [outcode]",
		Short: "Load an ONSPD outcode extract into the lookup table",
		Long:  `Filters the ONSPD extract to England and Wales rows and upserts postcode/output-area pairs in batches`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			// Fail fast on denied jurisdictions before touching anything.
			outcode, err := onspd.ValidateOutcode(args[0])
			if err != nil {
				log.Fatalf("ERROR: %v", err)
			}

			pipeline := &enrich.Pipeline{DryRun: dryRun, Debug: debugFlag}
			if outDir == "" {
				pipeline.Store = store.New(requireDB().DB)
			}

			loader := onspd.NewLoader(csvDir)
			if err := pipeline.LoadReference(loader, outcode, outDir); err != nil {
				log.Fatalf("Reference load failed: %v", err)
			}
		},
	}

	cmd.Flags().StringVar(&csvDir, "csv-dir", "multi_csv", "Directory containing ONSPD extracts")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Write batch .sql files here instead of executing")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Generate and report without executing")
	cmd.Flags().BoolVar(&debugFlag, "debug", false, "Verbose debug output")

	return cmd
}

func createBackfillCmd() *cobra.Command {
	var dryRun, debugFlag bool

	cmd := &cobra.Command{
		Use:   "backfill-demographics",
		Short: "Backfill owner-occupied percentages on feedback rows",
		Run: func(cmd *cobra.Command, args []string) {
			pipeline := newPipeline(dryRun, debugFlag)
			if err := pipeline.BackfillDemographics(context.Background()); err != nil {
				log.Fatalf("Backfill failed: %v", err)
			}
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fetch and report without writing")
	cmd.Flags().BoolVar(&debugFlag, "debug", false, "Verbose debug output")

	return cmd
}

func createServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		Run: func(cmd *cobra.Command, args []string) {
			server := web.NewServer(requireDB().DB, host, port)
			if err := server.Start(); err != nil {
				log.Fatalf("Server failed: %v", err)
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Bind address")
	cmd.Flags().IntVar(&port, "port", 8080, "Listen port")

	return cmd
}

func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			conn := requireDB()
			fmt.Println("Database connection successful!")

			var count int
			if err := conn.DB.QueryRow("SELECT COUNT(*) FROM target_areas").Scan(&count); err != nil {
				log.Printf("Error counting target areas: %v", err)
			} else {
				fmt.Printf("Target areas: %d\n", count)
			}

			if err := conn.DB.QueryRow("SELECT COUNT(*) FROM postcode_oa_lookup").Scan(&count); err != nil {
				log.Printf("Error counting lookup rows: %v", err)
			} else {
				fmt.Printf("Postcode lookup rows: %d\n", count)
			}
		},
	}
}
