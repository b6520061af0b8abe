package mylog

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
	slogtelegram "github.com/samber/slog-telegram/v2"
)

// Preinit installs a stderr logger usable before config is loaded.
// stdout stays clean for the MCP stdio transport.
func Preinit() {
	slog.SetDefault(slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})))
}

func Init(cfg *config.Config) error {
	level := ParseLevel(cfg.Log.Level)

	router := slogmulti.Router()

	router = router.Add(console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     level,
	}))

	if cfg.Log.Telegram.Token != "" {
		router = router.Add(
			slogtelegram.Option{
				Level:     level,
				Token:     cfg.Log.Telegram.Token,
				Username:  cfg.Log.Telegram.ChatID,
				AddSource: true,
			}.NewTelegramHandler(),
			telegramFilter,
		)
	}

	slog.SetDefault(slog.New(router.Handler()))

	return nil
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

func telegramFilter(_ context.Context, r slog.Record) bool {
	hasTelegram := false

	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "telegram" {
			hasTelegram = true
			return false
		}

		return true
	})

	return r.Level >= slog.LevelError || hasTelegram
}
