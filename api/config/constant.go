package config

import (
	"log"
	"strings"
)

const (
	// ProdDbId is the identifier for the production database
	ProdDbId = "sitterhub-prod"
)

// IsProdDB reports whether the database URL points at the production project.
func IsProdDB(databaseURL string) bool {
	return strings.Contains(databaseURL, ProdDbId)
}

// CheckNotProdDB aborts immediately if the configured database URL contains ProdDbId.
// This should be called at the start of any test that interacts with the database.
func CheckNotProdDB() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DatabaseURL is not configured")
	}
	if IsProdDB(cfg.DatabaseURL) {
		log.Fatalf("Tests aborted: DatabaseURL contains production identifier %s", ProdDbId)
	}
}
