package main

import (
	"flag"
	"time"

	"attendease-backend/lib/attendancestore"
	"attendease-backend/lib/configutil"
	"attendease-backend/lib/ginutil"
	"attendease-backend/lib/serviceutil"
	"attendease-backend/lib/sqliteutil"
	"attendease-backend/services/attendance"
	attendancedb "attendease-backend/services/attendance/db"
	"attendease-backend/services/auth"

	"github.com/gin-gonic/gin"
)

type HttpConfig struct {
	Port int `json:"port"`
}

type AuthConfig struct {
	JwtSecret     string `json:"jwt_secret"`
	TokenTtlHours int    `json:"token_ttl_hours"`
}

type AttendanceConfig struct {
	Database string `json:"database"`
	attendance.Config
}

type Config struct {
	Http       HttpConfig              `json:"http"`
	Auth       AuthConfig              `json:"auth"`
	Attendance AttendanceConfig        `json:"attendance"`
	RateLimit  ginutil.RateLimitConfig `json:"ratelimit"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	database, err := sqliteutil.OpenDB(
		attendancedb.Schema+attendancestore.Schema,
		cfg.Attendance.Database,
	)
	if err != nil {
		serviceutil.Fatal("open database", err)
	}
	defer database.Close()

	authService := auth.NewService(auth.Options{
		Secret:   cfg.Auth.JwtSecret,
		TokenTTL: time.Duration(cfg.Auth.TokenTtlHours) * time.Hour,
	})
	service := attendance.NewService(database, authService, cfg.Attendance.Config)

	if !*verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	service.RegisterRoutes(router, ginutil.RateLimit(cfg.RateLimit))

	port := cfg.Http.Port
	if port == 0 {
		port = 8000
	}
	serviceutil.StartHttpServer(ctx, port, router)
}
