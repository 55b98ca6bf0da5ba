package main

import (
	"ec-order-lifecycle-service/internal/config"
	"ec-order-lifecycle-service/pkg/migrate"
	"errors"
	"flag"
	"fmt"
	"log"

	gomigrate "github.com/golang-migrate/migrate/v4"
)

func main() {
	var (
		command = flag.String("command", "up", "migration 命令: up, down, version, force")
		steps   = flag.Int("steps", 0, "執行步數（用於 up/down，0 表示執行所有）")
		version = flag.Int("version", 0, "版本號（用於 force 命令）")
	)
	flag.Parse()

	// 載入配置
	cfg := config.LoadConfig()

	m, err := migrate.Open(cfg.GetDatabaseURL(), cfg.MigrationsPath)
	if err != nil {
		log.Fatalf("初始化 migration 失敗: %v", err)
	}
	defer m.Close()

	// 執行命令
	switch *command {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
		reportResult(err, "Migration up 執行成功", "資料庫已是最新版本，無需 migration")

	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
		reportResult(err, "Migration down 執行成功", "資料庫已是最舊版本，無需 migration")

	case "version":
		current, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("獲取版本失敗: %v", err)
		}
		fmt.Printf("當前版本: %d, Dirty: %v\n", current, dirty)

	case "force":
		if *version == 0 {
			log.Fatal("force 命令需要指定 -version 參數")
		}
		if err := m.Force(*version); err != nil {
			log.Fatalf("執行 force 失敗: %v", err)
		}
		fmt.Printf("強制設定版本為: %d\n", *version)

	default:
		log.Fatalf("未知的命令: %s", *command)
	}
}

func reportResult(err error, success, noChange string) {
	switch {
	case errors.Is(err, gomigrate.ErrNoChange):
		fmt.Println(noChange)
	case err != nil:
		log.Fatalf("執行 migration 失敗: %v", err)
	default:
		fmt.Println(success)
	}
}
