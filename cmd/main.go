package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/airport-bench/internal/bench"
	"github.com/airport-bench/internal/config"
	"github.com/airport-bench/internal/geocache"
	"github.com/airport-bench/internal/i18n"
	"github.com/airport-bench/internal/metrics"
	"github.com/airport-bench/internal/mihomo"
	"github.com/airport-bench/internal/report"
	"github.com/airport-bench/internal/source"
	"github.com/airport-bench/internal/status"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	flagSources      string
	flagNoSpeed      bool
	flagNoGeo        bool
	flagExport       string
	flagExportFile   string
	flagConcurrency  int
	flagSpeedWorkers int
	flagSortBy       string
	flagFilterDead   bool
	flagLang         string
	flagMihomo       string
	flagStatusAddr   string
	flagGeoCache     string
	flagLogLevel     string
)

func main() {
	root := &cobra.Command{
		Use:           "airport-bench [FILE_OR_URL ...]",
		Short:         "Benchmark proxy subscription sources",
		Long:          "Benchmarks proxy subscriptions (airports): per-node latency distribution, download throughput and egress geolocation, ranked into one report.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.Flags().StringVar(&flagSources, "sources", "sources.yaml", "path to sources.yaml config")
	root.Flags().BoolVar(&flagNoSpeed, "no-speed", false, "skip download speed tests")
	root.Flags().BoolVar(&flagNoGeo, "no-geo", false, "skip IP geolocation")
	root.Flags().StringVar(&flagExport, "export", "", "export results to file (json or csv)")
	root.Flags().StringVar(&flagExportFile, "export-file", "", "export file path")
	root.Flags().IntVar(&flagConcurrency, "concurrency", config.DefaultConcurrency, "max parallel latency tests")
	root.Flags().IntVar(&flagSpeedWorkers, "speed-workers", config.DefaultSpeedWorkers, "parallel speed test workers")
	root.Flags().StringVar(&flagSortBy, "sort-by", "latency", "sort nodes by field (latency, p95, speed, name)")
	root.Flags().BoolVar(&flagFilterDead, "filter-dead", false, "hide dead nodes from output")
	root.Flags().StringVar(&flagLang, "lang", "", "output language: en or zh (default: auto-detect)")
	root.Flags().StringVar(&flagMihomo, "mihomo", "", "path to mihomo binary (default: auto-detect from PATH)")
	root.Flags().StringVar(&flagStatusAddr, "status-addr", "", "serve live progress and metrics on this address (e.g. :8083)")
	root.Flags().StringVar(&flagGeoCache, "geo-cache", "", "geolocation cache backend (file:PATH, sqlite:PATH or redis:ADDR)")
	root.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level")

	// A signal cancels the run context: the orchestrator stops dispatching
	// new nodes and the deferred instance/cache cleanup in run() fires.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	lang := flagLang
	if lang == "" {
		lang = i18n.DetectSystemLocale()
	}
	if err := i18n.SetLocale(lang); err != nil {
		return err
	}

	if level, err := log.ParseLevel(flagLogLevel); err == nil {
		log.SetLevel(level)
	}

	opts := &config.Options{
		NoSpeed:      flagNoSpeed,
		NoGeo:        flagNoGeo,
		Export:       strings.ToLower(flagExport),
		ExportFile:   flagExportFile,
		Concurrency:  flagConcurrency,
		SpeedWorkers: flagSpeedWorkers,
		SortBy:       flagSortBy,
		FilterDead:   flagFilterDead,
		Lang:         lang,
		MihomoPath:   flagMihomo,
		StatusAddr:   flagStatusAddr,
		LogLevel:     flagLogLevel,
	}
	opts.Geo.CacheSpec = flagGeoCache
	opts.Normalize()

	sources, err := resolveSources(args)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("%s", i18n.T("no_sources"))
	}
	opts.Sources = sources

	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	binPath, err := mihomo.FindBinary(opts.MihomoPath)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("mihomo_not_found"))
	}

	ctx := cmd.Context()

	collector := metrics.NewCollector("airportbench")
	progress := &bench.Progress{}

	var statusServer *status.Server
	if opts.StatusAddr != "" {
		statusServer = status.NewServer(opts.StatusAddr, progress, collector)
		go func() {
			if err := statusServer.Start(); err != nil {
				log.Errorf("Status server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				log.Errorf("Status server shutdown error: %v", err)
			}
		}()
	}

	// Load sources
	fmt.Println(i18n.T("loading_sources"))
	loader := source.NewLoader()
	nodes, sourceStats, err := loader.LoadAll(ctx, sources)
	if err != nil {
		return err
	}
	for _, st := range sourceStats {
		if st.Error != "" {
			fmt.Println(i18n.T("source_load_failed", st.Name, st.Error))
			continue
		}
		fmt.Println(i18n.T("source_loaded", st.Name, st.TotalNodes, st.RealNodes, st.FilteredInfo))
		collector.RecordSourceNodes(st.Name, st.RealNodes)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no nodes resolvable from any source")
	}
	fmt.Println(i18n.T("total_nodes", len(nodes)))

	// One shared instance carries all delay tests; the control API is
	// safe for concurrent per-node measurement.
	probeInstance := mihomo.NewInstance(nodes, binPath)
	if err := probeInstance.Start(ctx); err != nil {
		return fmt.Errorf("start control service: %w", err)
	}
	defer probeInstance.Stop()

	ctrl := probeInstance.Client()
	if err := ctrl.Ping(ctx); err != nil {
		return err
	}

	// Dedicated routing workers for the speed/geo phases, one instance
	// per pool slot.
	var workers []bench.Worker
	if !opts.NoSpeed || !opts.NoGeo {
		for i := 0; i < opts.SpeedWorkers; i++ {
			inst := mihomo.NewInstance(nodes, binPath)
			if err := inst.Start(ctx); err != nil {
				return fmt.Errorf("start routing worker %d: %w", i+1, err)
			}
			defer inst.Stop()
			workers = append(workers, mihomo.NewRoutingWorker(inst))
		}
	}

	var cache geocache.Store
	if opts.Geo.CacheSpec != "" {
		cache, err = geocache.Open(opts.Geo.CacheSpec)
		if err != nil {
			log.Warnf("Geo cache disabled: %v", err)
		} else {
			defer cache.Close()
		}
	}

	orch := bench.NewOrchestrator(opts, ctrl, workers, cache, collector, progress)
	rep, err := orch.Run(ctx, nodes, sourceStats)
	if err != nil {
		return err
	}

	report.Print(os.Stdout, rep)

	if opts.Export != "" {
		path := opts.ExportFile
		if path == "" {
			path = report.ExportFilename(opts.Export, rep.TestedAt)
		}
		if err := report.Export(opts.Export, path, rep); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Println(i18n.T("exported", path))
	}

	return nil
}

// resolveSources combines positional file/URL arguments with the
// sources.yaml config. Positional arguments win; the config file is only
// consulted when none are given.
func resolveSources(args []string) ([]config.Source, error) {
	if len(args) > 0 {
		sources := make([]config.Source, 0, len(args))
		for _, arg := range args {
			if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
				name := arg
				if u, err := url.Parse(arg); err == nil && u.Host != "" {
					name = u.Host
				}
				sources = append(sources, config.Source{Name: name, Type: "url", URL: arg})
				continue
			}
			name := strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
			sources = append(sources, config.Source{Name: name, Type: "file", Path: arg})
		}
		return sources, nil
	}

	if _, err := os.Stat(flagSources); err != nil {
		if flagSources != "sources.yaml" {
			return nil, fmt.Errorf("%s", i18n.T("sources_file_not_found", flagSources))
		}
		return nil, nil
	}
	return config.LoadSources(flagSources)
}
