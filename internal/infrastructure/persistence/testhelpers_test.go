package persistence

import (
	"testing"
	"time"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func newTestOrder(t *testing.T, sellerID string, placedAt time.Time, prices ...string) *payout.Order {
	t.Helper()
	items := make([]payout.LineItem, len(prices))
	for i, p := range prices {
		items[i] = payout.LineItem{
			ProductID:   "prod-" + p,
			ProductName: "Product " + p,
			UnitPrice:   decimal.RequireFromString(p),
			Quantity:    i + 1,
		}
	}
	o, err := payout.NewOrder(sellerID, "buyer-1", "EUR", items, placedAt)
	require.NoError(t, err)
	return o
}
