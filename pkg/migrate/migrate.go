package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const fileScheme = "file://"

// Migrator 包裝 migrate 實例與底層連線
type Migrator struct {
	*migrate.Migrate
	db *sql.DB
}

// Open 建立 migrate 實例（使用 pgx 驅動）
func Open(databaseURL, migrationPath string) (*Migrator, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("連接資料庫失敗: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("建立 migration driver 失敗: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(ResolvePath(migrationPath), "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("建立 migrate 實例失敗: %w", err)
	}

	return &Migrator{Migrate: m, db: db}, nil
}

// Close 關閉 migrate 實例與資料庫連線
func (m *Migrator) Close() error {
	srcErr, dbErr := m.Migrate.Close()
	return errors.Join(srcErr, dbErr, m.db.Close())
}

// RunMigrations 執行資料庫 migration
func RunMigrations(databaseURL string, migrationPath string) error {
	m, err := Open(databaseURL, migrationPath)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("資料庫已是最新版本，無需 migration")
			return nil
		}
		return fmt.Errorf("執行 migration 失敗: %w", err)
	}

	log.Println("資料庫 migration 執行成功")
	return nil
}

// ResolvePath 相對路徑找不到時，改從專案根目錄（../../）查找
func ResolvePath(migrationPath string) string {
	if !strings.HasPrefix(migrationPath, fileScheme) {
		return migrationPath
	}

	dir := strings.TrimPrefix(migrationPath, fileScheme)
	if filepath.IsAbs(dir) {
		return migrationPath
	}
	if _, err := os.Stat(dir); err == nil {
		return migrationPath
	}

	fallback := filepath.Join("..", "..", dir)
	if _, err := os.Stat(fallback); err == nil {
		return fileScheme + filepath.ToSlash(fallback)
	}
	return migrationPath
}
