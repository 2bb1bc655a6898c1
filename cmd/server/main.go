package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vidvault/internal/api"
	"vidvault/internal/cache"
	"vidvault/internal/logging"
	"vidvault/internal/metrics"
	"vidvault/internal/store"
)

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func printStats(st store.Store, backend string) {
	ctx := context.Background()
	videos, err := st.GetAllVideos(ctx, "date", "desc")
	if err != nil {
		logging.Internal.Fatalf("failed to load library: %v", err)
	}

	var rated, tagged, favorites, totalViews int
	var totalBytes int64
	for _, v := range videos {
		if v.Rating > 0 {
			rated++
		}
		if len(v.Tags) > 0 {
			tagged++
		}
		if v.IsFavorite {
			favorites++
		}
		totalViews += v.Views
		totalBytes += v.FileSize
	}

	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║           VidVault Statistics            ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Backend:         %-22s║\n", backend)
	fmt.Printf("║  Total Videos:    %-22d║\n", len(videos))
	fmt.Printf("║  ├─ Rated:        %-22d║\n", rated)
	fmt.Printf("║  ├─ Tagged:       %-22d║\n", tagged)
	fmt.Printf("║  └─ Favorites:    %-22d║\n", favorites)
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Total Views:     %-22d║\n", totalViews)
	fmt.Printf("║  Total Size:      %-22s║\n", formatBytes(totalBytes))
	fmt.Println("╚══════════════════════════════════════════╝")
}

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "vidvault.db", "SQLite database path")
	dataDir := flag.String("data", "./data", "Flat-file store directory (fallback backend)")
	mediaDir := flag.String("media", "./media", "Video media directory")
	ttl := flag.Duration("ttl", cache.DefaultTTL, "Cache TTL for metadata categories")
	writeLimit := flag.Int("write-limit", 30, "Max write requests per client per minute")
	showStats := flag.Bool("stats", false, "Show library statistics and exit")
	devMode := flag.Bool("dev", false, "Development mode: disables CORS restrictions and general rate limiting")
	corsOrigins := flag.String("cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.Parse()

	// Initialize store, falling back to flat files if SQLite cannot open
	st, backend, err := store.Open(*dbPath, *dataDir)
	if err != nil {
		logging.Internal.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()
	logging.Internal.Printf("using %s backend", backend)

	// Show stats and exit if requested
	if *showStats {
		printStats(st, backend)
		return
	}

	recorder := metrics.NewRecorder()

	videoCache := cache.New(st, cache.Config{
		TTL:      *ttl,
		MediaDir: *mediaDir,
		Backend:  backend,
		Observer: recorder,
	})

	// Warm the cache so the first request doesn't pay the full reload
	if err := videoCache.RefreshAll(context.Background()); err != nil {
		logging.Internal.Printf("warning: initial cache refresh failed: %v", err)
	}

	writeLimiter := api.NewRateLimiter(*writeLimit, time.Minute)

	aggregator := metrics.NewAggregator(recorder,
		func() any { return videoCache.Diagnostics() },
		func() any { return writeLimiter.State() },
	)

	// Setup HTTP handler
	handler := api.NewHandler(videoCache, recorder, aggregator, writeLimiter)

	mux := http.NewServeMux()
	mux.Handle("/api/", handler)
	mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(*mediaDir))))

	// Configure CORS
	var corsConfig api.CORSConfig
	if *devMode {
		logging.Internal.Println("development mode: CORS allowing all origins")
	} else if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i, o := range origins {
			origins[i] = strings.TrimSpace(o)
		}
		corsConfig.AllowedOrigins = origins
		logging.Internal.Printf("CORS restricted to origins: %v", origins)
	}

	// Apply middleware (order: Logger -> GeneralLimit -> CORS -> handler)
	var finalHandler http.Handler = mux
	finalHandler = api.CORS(corsConfig)(finalHandler)
	if !*devMode {
		finalHandler = api.GeneralLimit(api.DefaultGeneralLimitConfig())(finalHandler)
		logging.Internal.Println("general rate limiting enabled")
	}
	finalHandler = api.Logger(recorder, finalHandler)

	server := &http.Server{
		Addr:    *addr,
		Handler: finalHandler,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logging.Internal.Println("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Internal.Printf("shutdown error: %v", err)
		}
	}()

	logging.Internal.Printf("starting server on %s", *addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logging.Internal.Fatalf("server error: %v", err)
	}
}
