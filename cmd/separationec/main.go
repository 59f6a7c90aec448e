package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/audit"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/config"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/ecapi"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/notify"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/obs"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/run"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/store/mssql"
)

var version = "1.2.0"

const (
	apiConfigName   = "EVSeparationECIntegration"
	emailConfigName = "EVSeparationECIntegrationEmail"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version)
	if dir := os.Getenv("SEPEC_LOG_DIR"); dir != "" {
		obs.SetFileDir(dir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional scrape endpoint for the duration of the run.
	if addr := os.Getenv("SEPEC_METRICS_ADDR"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", obs.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	}

	// One transport for the whole process. Every outbound call reuses
	// its connection pool; components receive it by reference and must
	// not build their own.
	httpClient := &http.Client{Timeout: 60 * time.Second}

	tenants := strings.Split(envOr("SEPEC_TENANTS", "atos,eviden"), ",")
	log.Printf("Starting separationec %s for tenants %v", version, tenants)

	for _, tenant := range tenants {
		tenant = strings.TrimSpace(strings.ToLower(tenant))
		if tenant == "" {
			continue
		}
		runTenant(ctx, tenant, httpClient)
	}

	log.Println("Done")
}

// runTenant performs one isolated pass: batch run, then notification
// dispatch. A tenant failing never blocks the next one.
func runTenant(ctx context.Context, tenant string, httpClient *http.Client) {
	suffix := strings.ToUpper(tenant)
	dsn := os.Getenv("SEPEC_MSSQL_DSN_" + suffix)
	if dsn == "" {
		log.Printf("tenant %s: no DSN configured (SEPEC_MSSQL_DSN_%s), skipping", tenant, suffix)
		return
	}

	store, err := mssql.Open(dsn, tenant, os.Getenv("SEPEC_PROC_SCHEMA_"+suffix))
	if err != nil {
		obs.AppendFile(tenant, "[FATAL ERROR] open store: "+err.Error())
		return
	}
	defer store.Close()

	values, err := store.APIConfig(ctx, apiConfigName)
	if err != nil {
		obs.AppendFile(tenant, "[FATAL ERROR] load api config: "+err.Error())
		return
	}
	cfg := config.New(tenant, values)
	if err := cfg.Validate(config.RequiredAPIKeys); err != nil {
		// A missing key is fatal before any record is touched.
		obs.AppendFile(tenant, "[FATAL ERROR] "+err.Error())
		return
	}

	tokens := ecapi.NewTokenManager(httpClient, cfg)
	client := ecapi.NewClient(httpClient, tokens)
	sink := audit.Func(func(e audit.Entry) error {
		return store.AppendCallLog(ctx, e)
	})

	rc := run.New(cfg, tokens, client, store, sink).Run(ctx)

	notifyStatus(ctx, store, rc)
}

func notifyStatus(ctx context.Context, store *mssql.Store, rc *run.Context) {
	values, err := store.APIConfig(ctx, emailConfigName)
	if err != nil {
		obs.AppendFile(rc.Tenant, "[ERROR] load email config: "+err.Error())
		return
	}
	it, hr, err := store.RunLog(ctx, rc.RunID)
	if err != nil {
		obs.AppendFile(rc.Tenant, "[ERROR] fetch run log: "+err.Error())
		return
	}
	notify.New(config.New(rc.Tenant, values), store).Dispatch(ctx, rc.RunID, it, hr)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
