package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/shoplane/settler/internal/api"
	"github.com/shoplane/settler/internal/attribution"
	"github.com/shoplane/settler/internal/commission"
	"github.com/shoplane/settler/internal/config"
	"github.com/shoplane/settler/internal/domain"
	"github.com/shoplane/settler/internal/events"
	"github.com/shoplane/settler/internal/repository"
	"github.com/shoplane/settler/internal/settlement"
	"github.com/shoplane/settler/internal/sweeper"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, using system environment")
	}
	cfg := config.Load()

	log.Printf("Initializing database at %s", cfg.DBPath)
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Create repositories.
	partnerRepo := repository.NewPartnerRepo(db)
	linkRepo := repository.NewLinkRepo(db)
	clickRepo := repository.NewClickRepo(db)
	convRepo := repository.NewConversionRepo(db)
	commRepo := repository.NewCommissionRepo(db)
	batchRepo := repository.NewBatchRepo(db)

	// Create services.
	attrSvc := attribution.NewService(clickRepo, linkRepo, convRepo, partnerRepo, cfg.AttributionWindow())
	commSvc := commission.NewService(commRepo, convRepo, partnerRepo)
	settSvc := settlement.NewService(batchRepo, commRepo)
	eventSvc := events.NewService(attrSvc, commSvc)

	// Seed partners if DB is empty.
	count, err := partnerRepo.Count()
	if err != nil {
		log.Fatalf("Failed to count partners: %v", err)
	}
	if count == 0 {
		log.Println("Database is empty, seeding partners from testdata...")
		if err := seedPartners(partnerRepo); err != nil {
			log.Printf("WARNING: Failed to seed partners: %v", err)
		}
	} else {
		log.Printf("Database already has %d partners, skipping seed", count)
	}

	// Background expiry sweeper.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw := sweeper.New(convRepo, cfg.ConversionGraceDays, cfg.SweepInterval)
	go sw.Run(ctx)

	// Create router.
	router := api.NewRouter(partnerRepo, convRepo, attrSvc, commSvc, settSvc, eventSvc)

	log.Printf("Partner Attribution & Commission Settlement Engine")
	log.Printf("Listening on http://localhost:%s", cfg.Port)
	log.Printf("API base: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("Attribution window: %d days, grace period: %d days, sweep every %s",
		cfg.AttributionWindowDays, cfg.ConversionGraceDays, cfg.SweepInterval)

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func seedPartners(repo *repository.PartnerRepo) error {
	// Try multiple possible locations for testdata.
	candidates := []string{
		"testdata/partners.json",
		filepath.Join(".", "testdata", "partners.json"),
	}

	// Also try to find relative to the executable.
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "testdata", "partners.json"),
			filepath.Join(dir, "..", "..", "testdata", "partners.json"),
		)
	}

	var data []byte
	var loadErr error
	for _, path := range candidates {
		data, loadErr = os.ReadFile(path)
		if loadErr == nil {
			log.Printf("Loaded partners from %s", path)
			break
		}
	}
	if loadErr != nil {
		return fmt.Errorf("could not find partners.json in any candidate path: %w", loadErr)
	}

	var partners []domain.Partner
	if err := json.Unmarshal(data, &partners); err != nil {
		return fmt.Errorf("unmarshal partners: %w", err)
	}

	for i := range partners {
		if err := repo.Insert(&partners[i]); err != nil {
			return fmt.Errorf("insert partner %s: %w", partners[i].ID, err)
		}
	}

	log.Printf("Seeded %d partners", len(partners))
	return nil
}
