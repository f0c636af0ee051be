// relayd is the self-hosted variant of the relay: one process serving the
// Telegram webhook, firing deferred window rechecks in-process, and running
// the sweep on a cron schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"chat-relay/internal/integrations/openai"
	"chat-relay/internal/integrations/paramstore"
	"chat-relay/internal/integrations/telegram"
	"chat-relay/internal/media"
	"chat-relay/internal/recheck"
	"chat-relay/internal/repository"
	"chat-relay/internal/usecase"
)

const envPrefix = "RELAY"

// cronParser accepts standard 5-field expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func main() {
	initConfig()
	initLogger()

	stateTable := mustSetting("state.table")
	paramPrefix := mustSetting("param.prefix")
	relayCfg := usecase.Config{
		Window: usecase.WindowConfig{
			QuietPeriod:  time.Duration(viper.GetInt("window.quiet_seconds")) * time.Second,
			MinimumDelay: time.Duration(viper.GetInt("window.min_delay_seconds")) * time.Second,
		},
		ClaimTimeout:   time.Duration(viper.GetInt("claim.timeout_seconds")) * time.Second,
		HistoryLimit:   viper.GetInt("history.limit"),
		HistoryHorizon: time.Duration(viper.GetInt("history.horizon_minutes")) * time.Minute,
		SweepLimit:     viper.GetInt("sweep.limit"),
	}
	sweepSchedule, err := cronParser.Parse(viper.GetString("sweep.cron"))
	if err != nil {
		slog.Error("invalid sweep cron expression", "expr", viper.GetString("sweep.cron"), "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	storeClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), stateTable)
	if err != nil {
		slog.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	telegramClient, err := telegram.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create Telegram client", "err", err)
		os.Exit(1)
	}
	mediaProcessor, err := media.NewProcessor(telegramClient, openaiClient)
	if err != nil {
		slog.Error("failed to create media processor", "err", err)
		os.Exit(1)
	}

	// The scheduler closes over svc, which is assigned right below; timers
	// only arm once the service starts handling traffic.
	var svc *usecase.RelayService
	scheduler, err := recheck.NewScheduler(func(conversationID string) {
		if err := svc.CheckConversation(context.Background(), conversationID); err != nil {
			slog.Error("scheduled recheck failed", "conversation_id", conversationID, "err", err)
		}
	})
	if err != nil {
		slog.Error("failed to create recheck scheduler", "err", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	svc, err = usecase.NewRelayService(ssmClient, openaiClient, storeClient, mediaProcessor, telegramClient, paramPrefix, relayCfg, usecase.WithRecheck(scheduler))
	if err != nil {
		slog.Error("failed to create relay service", "err", err)
		os.Exit(1)
	}

	go runSweepLoop(ctx, svc, sweepSchedule)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", viper.GetInt("server.port")),
		Handler: newRouter(svc, telegramClient),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "err", err)
		}
	}()

	slog.Info("relayd listening", "addr", srv.Addr, "sweep_cron", viper.GetString("sweep.cron"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("relayd stopped")
}

func runSweepLoop(ctx context.Context, svc *usecase.RelayService, schedule cron.Schedule) {
	timer := time.NewTimer(time.Until(schedule.Next(time.Now())))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			res, err := svc.Sweep(ctx)
			if err != nil {
				slog.Error("sweep failed", "err", err)
			} else if res.Due > 0 || res.Reaped > 0 {
				slog.Info("sweep completed", "due", res.Due, "failed", res.Failed, "reaped", res.Reaped)
			}
			timer.Reset(time.Until(schedule.Next(time.Now())))
		}
	}
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("window.quiet_seconds", 30)
	viper.SetDefault("window.min_delay_seconds", 10)
	viper.SetDefault("claim.timeout_seconds", 300)
	viper.SetDefault("history.limit", 20)
	viper.SetDefault("history.horizon_minutes", 360)
	viper.SetDefault("sweep.limit", 50)
	viper.SetDefault("sweep.cron", "* * * * *")
	viper.SetDefault("logging.level", "info")

	// RELAY_CONFIG points at an optional YAML file; env vars win over it.
	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read config file %s: %v\n", cfgFile, err)
		os.Exit(1)
	}
}

func initLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("logging.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func mustSetting(key string) string {
	v := strings.TrimSpace(viper.GetString(key))
	if v == "" {
		slog.Error("required setting is not set", "key", key, "env", settingEnvVar(key))
		os.Exit(1)
	}
	return v
}

func settingEnvVar(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}
