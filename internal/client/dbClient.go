package client

import (
	"log"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"recordstore-checkout/internal/model"
)

// InitDBClient opens the commerce store database. A mysql DSN in
// DATABASE_URL selects the mysql driver; anything else (including empty)
// falls back to a local sqlite file, which is enough for development.
func InitDBClient(databaseURL string) *gorm.DB {
	var dialector gorm.Dialector
	if databaseURL == "" {
		dialector = sqlite.Open("recordstore.db")
	} else if strings.Contains(databaseURL, "@tcp(") {
		dialector = mysql.Open(databaseURL)
	} else {
		dialector = sqlite.Open(databaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal(err)
	}

	// Connection pool (important for webhooks)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&model.Cart{},
		&model.CartItem{},
		&model.Order{},
		&model.WebhookEventLog{},
	); err != nil {
		log.Fatal(err)
	}

	return db
}
