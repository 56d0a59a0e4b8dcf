package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationRedirectStore(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	runStoreConformance(t, func(t *testing.T) redirect.RedirectStore {
		store, err := NewPostgresStore(dsn)
		if err != nil {
			t.Fatalf("new postgres store: %v", err)
		}
		store.tableName = postgresIntegrationTableName("externalredirect_it")
		t.Cleanup(func() {
			postgresIntegrationDropTable(t, dsn, store.tableName)
		})
		return store
	})
}

func TestPostgresIntegrationConcurrentUpsert(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	store.tableName = postgresIntegrationTableName("externalredirect_it")
	t.Cleanup(func() {
		_ = store.Close()
		postgresIntegrationDropTable(t, dsn, store.tableName)
	})

	ctx := context.Background()
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			_, err := store.Add(ctx, "shared", fmt.Sprintf("target-%d", i), 301, []string{"www.example.com"})
			errs <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent add failed: %v", err)
		}
	}
	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("list redirects: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one redirect per identity, got %d", len(all))
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("EXTERNALREDIRECT_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set EXTERNALREDIRECT_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	if strings.TrimSpace(dsn) == "" || strings.TrimSpace(tableName) == "" {
		return
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdentifier(tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
