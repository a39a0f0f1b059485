// 文件: cmd/riskd/main.go
// 风控守护进程
//
// 事件从 Kafka 进，审计从 NATS 出，状态落 MySQL，
// 锁定查询走 Redis 缓存。环境变量配置，全部有默认值，
// 本地起一套 docker-compose 就能跑。

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"riskd.com/pkg/audit"
	"riskd.com/pkg/engine"
	"riskd.com/pkg/event"
	"riskd.com/pkg/kafka"
	"riskd.com/pkg/lockout"
	"riskd.com/pkg/money"
	"riskd.com/pkg/pnl"
	"riskd.com/pkg/reset"
	"riskd.com/pkg/rules"
	"riskd.com/pkg/store"
	"riskd.com/pkg/timer"
)

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Println("[Riskd] starting...")

	// -------------------------------------------------------------------------
	// 1. 基础设施
	// -------------------------------------------------------------------------
	dsn := getenv("RISKD_MYSQL_DSN",
		"root:123456@tcp(127.0.0.1:3306)/riskd?charset=utf8mb4&parseTime=True&loc=Local")
	db, err := store.Open(store.DefaultConfig(dsn))
	if err != nil {
		log.Fatalf("[Riskd] open store: %v", err)
	}

	if err := event.InitSnowflake(getenvInt64("RISKD_NODE_ID", 1)); err != nil {
		log.Fatalf("[Riskd] init snowflake: %v", err)
	}

	recorder := buildRecorder()

	// -------------------------------------------------------------------------
	// 2. 日历 / 盈亏 / 定时器 / 锁定
	// -------------------------------------------------------------------------
	calCfg := reset.DefaultCalendarConfig()
	calCfg.Timezone = getenv("RISKD_RESET_TZ", calCfg.Timezone)
	calCfg.Hour = int(getenvInt64("RISKD_RESET_HOUR", int64(calCfg.Hour)))
	cal, err := reset.NewCalendar(calCfg)
	if err != nil {
		log.Fatalf("[Riskd] calendar: %v", err)
	}

	tracker := pnl.NewTracker(pnl.NewMySQLRepository(db), getenv("RISKD_CURRENCY", "USD"), cal.TradingDay)
	registerTickEconomics(tracker)

	timers := timer.NewManager(timer.DefaultConfig(), event.NextID)
	timers.Start(context.Background())

	var lockRepo lockout.Repository = lockout.NewMySQLRepository(db)
	if addr := os.Getenv("RISKD_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		lockRepo = lockout.NewCachedRepository(lockRepo, rdb)
		log.Printf("[Riskd] lockout cache enabled: %s", addr)
	}

	lockCfg := lockout.DefaultConfig()
	if getenv("RISKD_LOCKOUT_OVERLAP", "reject") == "extend" {
		lockCfg.Policy = lockout.OverlapExtend
	}
	locks := lockout.NewManager(lockCfg, lockRepo, timers, event.NextID)

	// -------------------------------------------------------------------------
	// 3. 规则集
	// -------------------------------------------------------------------------
	set, graceRule := buildRules(timers)

	// -------------------------------------------------------------------------
	// 4. 引擎 + 恢复 + 重置调度
	// -------------------------------------------------------------------------
	eng := engine.NewEngine(engine.DefaultConfig(), engine.Deps{
		Tracker:   tracker,
		Rules:     set,
		GraceRule: graceRule,
		Locks:     locks,
		Timers:    timers,
		Calendar:  cal,
		Markers:   reset.NewMySQLMarkerRepository(db),
		Recorder:  recorder,
		Executor:  buildExecutor(),
		NextID:    event.NextID,
	})

	if err := eng.Recover(context.Background()); err != nil {
		log.Fatalf("[Riskd] recover: %v", err)
	}
	eng.Start(context.Background())

	scheduler := reset.NewScheduler(reset.DefaultSchedulerConfig(), cal, eng.ApplyReset)
	scheduler.Start(context.Background())

	// -------------------------------------------------------------------------
	// 5. Kafka 事件入口
	// -------------------------------------------------------------------------
	brokers := strings.Split(getenv("RISKD_KAFKA_BROKERS", "127.0.0.1:9092"), ",")
	topics := strings.Split(getenv("RISKD_KAFKA_TOPICS", "risk.events"), ",")
	consumer, err := kafka.NewEventConsumer(
		kafka.DefaultConsumerConfig(brokers, getenv("RISKD_KAFKA_GROUP", "riskd"), topics), eng)
	if err != nil {
		log.Fatalf("[Riskd] kafka consumer: %v", err)
	}
	consumer.Start()

	log.Println("[Riskd] running")

	// -------------------------------------------------------------------------
	// 6. 优雅关闭: 先停入口，再停引擎，最后停定时器
	// -------------------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Riskd] shutting down...")
	if err := consumer.Stop(); err != nil {
		log.Printf("[Riskd] stop consumer: %v", err)
	}
	scheduler.Stop()
	eng.Stop()
	timers.Stop()
	log.Println("[Riskd] bye")
}

// buildRules 按环境变量装配规则集
func buildRules(timers *timer.Manager) (*rules.Set, *rules.NoStopLossGraceRule) {
	set := rules.NewSet()
	currency := getenv("RISKD_CURRENCY", "USD")

	if v := getenvInt64("RISKD_DAILY_LOSS_LIMIT", -1000); v != 0 {
		r, err := rules.NewDailyLossRule(money.New(v*money.Precision, currency), rules.ActionFlatten)
		if err != nil {
			log.Fatalf("[Riskd] daily loss rule: %v", err)
		}
		set.Register(r)
	}

	if v := getenvInt64("RISKD_PROFIT_TARGET", 0); v > 0 {
		r, err := rules.NewDailyRealizedProfitRule(money.New(v*money.Precision, currency), rules.ActionPause)
		if err != nil {
			log.Fatalf("[Riskd] profit target rule: %v", err)
		}
		set.Register(r)
	}

	if v := getenvInt64("RISKD_MAX_CONTRACTS", 0); v > 0 {
		perInstrument := getenv("RISKD_MAX_CONTRACTS_SCOPE", "instrument") == "instrument"
		r, err := rules.NewMaxPositionRule(v, perInstrument, rules.ActionReject)
		if err != nil {
			log.Fatalf("[Riskd] max position rule: %v", err)
		}
		set.Register(r)
	}

	var graceRule *rules.NoStopLossGraceRule
	if v := getenvInt64("RISKD_STOPLOSS_GRACE_SECONDS", 0); v > 0 {
		r, err := rules.NewNoStopLossGraceRule(time.Duration(v)*time.Second, timers, rules.ActionFlatten)
		if err != nil {
			log.Fatalf("[Riskd] stoploss grace rule: %v", err)
		}
		set.Register(r)
		graceRule = r
	}

	return set, graceRule
}

// buildRecorder 审计出口: 配了 NATS 就发 NATS，否则内存兜底
func buildRecorder() audit.Recorder {
	if url := os.Getenv("RISKD_NATS_URL"); url != "" {
		r, err := audit.NewNATSRecorder(url)
		if err != nil {
			log.Fatalf("[Riskd] nats recorder: %v", err)
		}
		log.Printf("[Riskd] audit egress: %s", url)
		return r
	}
	log.Println("[Riskd] audit egress: in-memory (no RISKD_NATS_URL)")
	return audit.NewMemoryRecorder()
}

// buildExecutor 执行通道
// TODO: 对接真实柜台网关后替换成 FIX/REST 实现
func buildExecutor() engine.Executor {
	return engine.NewMockExecutor()
}

// registerTickEconomics 合约经济参数: SYMBOL:tickSize:tickValue 逗号分隔
// 例: MNQ:0.25:0.5,MES:0.25:1.25
func registerTickEconomics(tracker *pnl.Tracker) {
	raw := getenv("RISKD_TICK_ECONOMICS", "")
	if raw == "" {
		return
	}
	currency := getenv("RISKD_CURRENCY", "USD")

	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			log.Fatalf("[Riskd] bad tick economics entry: %s", entry)
		}
		tickSize, err1 := strconv.ParseFloat(parts[1], 64)
		tickValue, err2 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil {
			log.Fatalf("[Riskd] bad tick economics entry: %s", entry)
		}
		err := tracker.RegisterTickEconomics(money.TickEconomics{
			Symbol:    parts[0],
			TickSize:  int64(tickSize * money.Precision),
			TickValue: int64(tickValue * money.Precision),
			Currency:  currency,
		})
		if err != nil {
			log.Fatalf("[Riskd] register tick economics %s: %v", parts[0], err)
		}
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("[Riskd] bad %s: %v", key, err)
	}
	return n
}
