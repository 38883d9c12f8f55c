package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv 依序載入 .env.local 與 .env.
// godotenv.Load 不會覆蓋已存在的環境變數，所以 OS 環境變數永遠優先.
// 回傳實際載入的檔案.
func LoadDotEnv() []string {
	candidates := []string{".env.local", ".env"}
	var loaded []string
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}
