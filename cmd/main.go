package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"pes-advisor/internal/api"
	"pes-advisor/internal/config"
	"pes-advisor/internal/db"
	"pes-advisor/internal/models"
	"pes-advisor/internal/parser"
	"pes-advisor/internal/pes"
	"pes-advisor/internal/rag"

	"github.com/spf13/cobra"
)

var (
	cfg      *config.Config
	dbPath   string
	database *db.Database
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pes-advisor",
		Short: "PES Advisor - Le Mans setup scoring and advice",
		Long: `A CLI tool for scoring car setups with the Performance Efficiency Score,
estimating lap times and retrieving advice from historical setups stored in
SQLite.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("db") {
				dbPath = cfg.DBPath
			}
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "pes_advisor.db", "Path to SQLite database (overrides PES_DB_PATH)")

	// Add commands
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(rangesCmd())
	rootCmd.AddCommand(passagesCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initDB initializes database connection
func initDB() error {
	var err error
	database, err = db.New(dbPath)
	return err
}

// newEmbedder builds the configured embedding backend
func newEmbedder() (rag.Embedder, error) {
	switch cfg.Embedder {
	case config.EmbedderSageMaker:
		return rag.NewSageMakerEmbedder(cfg.SageMakerEndpoint, cfg.AWSRegion)
	default:
		return rag.NewHashEmbedder(cfg.EmbedDim), nil
	}
}

// newPipeline wires the embedder to the open database
func newPipeline() (*rag.Pipeline, error) {
	embedder, err := newEmbedder()
	if err != nil {
		return nil, fmt.Errorf("embedder error: %w", err)
	}
	return rag.NewPipeline(embedder, database, cfg.TopK), nil
}

// ingestFiles parses the files and indexes them. Without appendRows only an
// empty store is indexed.
func ingestFiles(ctx context.Context, p *rag.Pipeline, format string, validate, appendRows bool, files []string) (int, int, error) {
	ps := parser.NewParser(format)
	var rows []models.HistoricalRow
	skipped := 0

	for _, file := range files {
		fmt.Printf("Processing %s...\n", file)
		parsed, err := ps.ParseFile(file)
		if err != nil {
			return 0, skipped, fmt.Errorf("parse %s: %w", file, err)
		}

		// Validate if requested
		for _, r := range parsed {
			if validate {
				if errs := parser.ValidateRecord(r.TelemetryRecord); len(errs) > 0 {
					skipped++
					continue
				}
			}
			rows = append(rows, r)
		}
	}

	if appendRows {
		n, err := p.Index(ctx, rows)
		return n, skipped, err
	}
	n, err := p.Bootstrap(ctx, rows)
	return n, skipped, err
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server and dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Addr
			}
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			pipeline, err := newPipeline()
			if err != nil {
				return err
			}

			if cfg.Dataset != "" {
				existing, err := database.CountPassages(cmd.Context())
				if err != nil {
					return fmt.Errorf("database error: %w", err)
				}
				if existing > 0 {
					fmt.Printf("  Store already populated (%d passages); skipping %s\n", existing, cfg.Dataset)
				} else {
					start := time.Now()
					n, skipped, err := ingestFiles(cmd.Context(), pipeline, cfg.DatasetFormat, true, false, []string{cfg.Dataset})
					if err != nil {
						return fmt.Errorf("indexing error: %w", err)
					}
					fmt.Printf("  ✓ Indexed %d passages in %v (%d skipped)\n", n, time.Since(start), skipped)
				}
			}

			server := api.NewServer(pipeline, database)

			fmt.Printf("🏁 PES Advisor API Server\n")
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Database: %s\n", dbPath)
			fmt.Printf("   Embedder: %s\n\n", cfg.Embedder)
			fmt.Println("Available endpoints:")
			fmt.Println("  GET  /health")
			fmt.Println("  POST /analyze")
			fmt.Println("  GET  /optimal-ranges")
			fmt.Println("  POST /api/v1/analysis")
			fmt.Println("  POST /api/v1/rag/query")
			fmt.Println("  GET  /api/v1/stats")
			fmt.Println("  GET  /api/v1/passages")
			fmt.Println("  GET  /api/v1/passages/{id}")
			fmt.Println("  GET  /dashboard")
			fmt.Println()

			return http.ListenAndServe(addr, server.Router())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Listen address (overrides PES_ADDR)")
	return cmd
}

// ingestCmd indexes historical setups from files
func ingestCmd() *cobra.Command {
	var format string
	var validate bool
	var appendRows bool

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Index historical setups into the passage store",
		Long: `Parse historical datasets and index them as retrieval passages.
By default indexing only runs against an empty store; use --append to add
rows to a populated one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("format") {
				format = cfg.DatasetFormat
			}
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			pipeline, err := newPipeline()
			if err != nil {
				return err
			}

			if !appendRows {
				existing, err := database.CountPassages(cmd.Context())
				if err != nil {
					return fmt.Errorf("database error: %w", err)
				}
				if existing > 0 {
					fmt.Printf("Store already populated (%d passages); nothing indexed. Use --append to add rows.\n", existing)
					return nil
				}
			}

			start := time.Now()
			n, skipped, err := ingestFiles(cmd.Context(), pipeline, format, validate, appendRows, args)
			if err != nil {
				return err
			}

			elapsed := time.Since(start)
			fmt.Printf("\nTotal: %d passages indexed in %v", n, elapsed)
			if skipped > 0 {
				fmt.Printf(", %d invalid rows skipped", skipped)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "File format (csv, json)")
	cmd.Flags().BoolVarP(&validate, "validate", "v", true, "Skip rows the engine cannot score")
	cmd.Flags().BoolVar(&appendRows, "append", false, "Append to a populated store")
	return cmd
}

// queryCmd answers a question from the historical setups
func queryCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Retrieve the closest historical setup and advise on it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			pipeline, err := newPipeline()
			if err != nil {
				return err
			}

			start := time.Now()
			result, err := pipeline.Query(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}
			elapsed := time.Since(start)

			switch outputFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			default:
				fmt.Printf("Closest match (similarity %.3f, query time: %v)\n", result.Score, elapsed)
				fmt.Printf("  %s\n\n", result.Context)
				printAnalysis(result.Analysis)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// analyzeCmd scores a setup given on the command line
func analyzeCmd() *cobra.Command {
	var r models.TelemetryRecord
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score a setup and suggest adjustments",
		RunE: func(cmd *cobra.Command, args []string) error {
			// ErrZeroLapTime is reported through SpeedError
			analysis, _ := pes.Analyze(r)

			if outputFormat == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(analysis)
			}
			printAnalysis(analysis)
			return nil
		},
	}

	cmd.Flags().Float64Var(&r.TirePressureFront, "pressure-front", 22, "Front tire pressure (PSI)")
	cmd.Flags().Float64Var(&r.TirePressureRear, "pressure-rear", 22, "Rear tire pressure (PSI)")
	cmd.Flags().Float64Var(&r.TireSizeFront, "size-front", 305, "Front tire size (mm)")
	cmd.Flags().Float64Var(&r.TireSizeRear, "size-rear", 305, "Rear tire size (mm)")
	cmd.Flags().Float64Var(&r.DriverWeightKG, "weight", 70, "Driver weight (kg)")
	cmd.Flags().Float64Var(&r.CoolantTemperatureC, "coolant", 90, "Coolant temperature (°C)")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func printAnalysis(a models.Analysis) {
	fmt.Printf("  Estimated PES:  %.6f", a.PES)
	if a.ScoreReason != "" {
		fmt.Printf(" (%s)", a.ScoreReason)
	}
	fmt.Println()
	fmt.Printf("  Lap Time:       %.2f s (%+.2f s vs ideal)\n", a.LapTime, a.LapDelta)
	fmt.Printf("  Distance:       %.3f km\n", a.DistanceKM)
	if a.SpeedKPH != nil {
		fmt.Printf("  Average Speed:  %.2f km/h\n", *a.SpeedKPH)
	} else {
		fmt.Printf("  Average Speed:  %s\n", a.SpeedError)
	}
	fmt.Println("\nSuggestions:")
	for _, s := range a.Suggestions {
		fmt.Printf("  %s\n", s)
	}
}

// statsCmd shows passage store statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show passage store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("📊 PES Advisor Statistics")
			fmt.Println("=========================")
			fmt.Printf("  Passages:       %d\n", stats.TotalPassages)
			fmt.Printf("  Embedding Dim:  %d\n", stats.EmbeddingDim)
			fmt.Printf("  PES min/avg/max: %.3g / %.3g / %.3g\n", stats.MinPES, stats.AvgPES, stats.MaxPES)
			fmt.Printf("  Database:       %s\n", dbPath)
			return nil
		},
	}
}

// rangesCmd prints the reference ranges
func rangesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ranges",
		Short: "Show the optimal parameter ranges",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pes.OptimalRanges())
		},
	}
}

// generateCmd generates a synthetic historical dataset
func generateCmd() *cobra.Command {
	var count int
	var seed int64
	var format string
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a sample historical dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			rows := generateRows(rand.New(rand.NewSource(seed)), count)

			w := os.Stdout
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()
				w = file
			}

			switch format {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rows); err != nil {
					return err
				}
			case "csv":
				if err := parser.WriteCSV(w, rows); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported format: %s", format)
			}

			if output != "" {
				fmt.Printf("✓ Generated %d setups to %s\n", len(rows), output)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "c", 1000, "Number of setups to generate")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 uses the clock)")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "Output format (csv, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (stdout when empty)")
	return cmd
}

var coolantTypes = []string{"Water", "Glycol", "Hybrid"}

// generateRows draws setups around the recommended ranges and scores them
func generateRows(rng *rand.Rand, count int) []models.HistoricalRow {
	sizes := []float64{295, 305, 315}
	rows := make([]models.HistoricalRow, 0, count)
	for i := 0; i < count; i++ {
		r := models.TelemetryRecord{
			TirePressureFront:   round2(20.5 + rng.Float64()*3),
			TirePressureRear:    round2(20.5 + rng.Float64()*3),
			TireSizeFront:       sizes[rng.Intn(len(sizes))],
			TireSizeRear:        sizes[rng.Intn(len(sizes))],
			DriverWeightKG:      round2(64 + rng.Float64()*12),
			CoolantTemperatureC: round2(82 + rng.Float64()*16),
		}
		rows = append(rows, models.HistoricalRow{
			TelemetryRecord: r,
			CoolantType:     coolantTypes[rng.Intn(len(coolantTypes))],
			PES:             pes.ComputeScore(r),
		})
	}
	return rows
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// passagesCmd inspects stored passages
func passagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passages",
		Short: "Passage store commands",
	}

	var limit, offset int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored passages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			passages, err := database.ListPassages(cmd.Context(), limit, offset)
			if err != nil {
				return fmt.Errorf("error listing passages: %w", err)
			}

			if len(passages) == 0 {
				fmt.Println("No passages found. Use 'pes-advisor ingest' to index a dataset.")
				return nil
			}

			fmt.Printf("%-36s  %-8s  %-12s  %s\n", "ID", "COOLANT", "PES", "CREATED")
			for _, p := range passages {
				fmt.Printf("%-36s  %-8s  %-12.4g  %s\n",
					p.ID, p.Row.CoolantType, p.Row.PES, p.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum passages to list")
	listCmd.Flags().IntVar(&offset, "offset", 0, "Passages to skip")

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one passage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			p, err := database.GetPassage(cmd.Context(), args[0])
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("passage %s not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("error getting passage: %w", err)
			}
			fmt.Println(p.Text)
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

// migrateCmd manages the store schema
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Schema migration commands",
	}

	// New applies pending migrations, so up only opens the store
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()
			return printVersion()
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations (drops the passage store)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()
			if err := database.MigrateDown(); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			return printVersion()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()
			return printVersion()
		},
	}

	cmd.AddCommand(upCmd, downCmd, versionCmd)
	return cmd
}

func printVersion() error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("migrate version: %w", err)
	}
	fmt.Printf("Schema version: %d", version)
	if dirty {
		fmt.Print(" (dirty)")
	}
	fmt.Println()
	return nil
}
