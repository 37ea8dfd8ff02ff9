package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsrekognition "github.com/aws/aws-sdk-go/service/rekognition"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/api/handlers"
	"aws-face-recognition-go/internal/api/middleware"
	"aws-face-recognition-go/internal/core/models"
	"aws-face-recognition-go/internal/core/processor"
	"aws-face-recognition-go/internal/core/state"
	"aws-face-recognition-go/internal/db"
	"aws-face-recognition-go/internal/db/repository"
	"aws-face-recognition-go/internal/integrations/camera"
	"aws-face-recognition-go/internal/integrations/homeassistant"
	"aws-face-recognition-go/internal/integrations/mqtt"
	"aws-face-recognition-go/internal/integrations/rekognition"
	"aws-face-recognition-go/internal/integrations/s3archive"
	"aws-face-recognition-go/internal/logger"
	"aws-face-recognition-go/internal/metrics"
	"aws-face-recognition-go/internal/server/sse"
	"aws-face-recognition-go/internal/services/cleanup"
	"aws-face-recognition-go/internal/services/gallery"
	"aws-face-recognition-go/internal/services/usage"
	"aws-face-recognition-go/internal/util/timezone"
)

const defaultConfigPath = "/config/config.yaml"

func main() {
	configPath := defaultConfigPath
	if p := os.Getenv("AFR_CONFIG"); p != "" {
		configPath = p
	}

	// Konfiguration laden
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	timezone.Initialize(cfg.Server.Timezone)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Datenbank für Zähler und Galerie
	log.Info("Initializing database...")
	conn, err := db.Open(cfg.DB.File)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close(conn)
	repo := repository.NewSQLiteRepository(conn)

	// Ereignis-Hub und Zustand laufen bis nach dem Leeren des Worker-Pools
	stateCtx, stopState := context.WithCancel(context.Background())
	defer stopState()
	hub := sse.NewHub()
	go hub.Run(stateCtx)
	loop := state.NewLoop()
	go loop.Run(stateCtx)
	publisher := state.NewPublisher(loop, hub)

	promMetrics := metrics.New(hub.ClientCount)
	metricEvents, _ := hub.Subscribe(64)
	go promMetrics.Consume(ctx, metricEvents)

	usageService := usage.NewService(repo, publisher)
	usageService.Load()

	// AWS
	sess, err := rekognition.NewSession(cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to create AWS session: %v", err)
	}
	rekClient := rekognition.NewClient(awsrekognition.New(sess), cfg.AWS.CollectionID, usageService, promMetrics)
	if !rekClient.HasCollection() {
		log.Warn("No collection configured, face search is disabled")
	}

	imageProcessor := processor.NewImageProcessor(rekClient, nil, cfg.Processing, cfg.Server.SnapshotURL)
	if cfg.AWS.S3Bucket != "" {
		imageProcessor.SetArchiver(s3archive.New(sess, cfg.AWS.S3Bucket, cfg.AWS.S3Prefix))
		log.Infof("Archiving saved images to s3://%s", cfg.AWS.S3Bucket)
	}
	apiCost := func() float64 { return imageProcessor.Options().AWSAPICost }

	idx, last := processor.Bootstrap(cfg.Processing, cfg.Server.SnapshotURL)
	publisher.Bootstrap(last, idx)

	pool := processor.NewWorkerPool(imageProcessor, publisher, cfg.Server.Workers)
	pool.SetScanRecorder(usageService)
	pool.AddObserver(promMetrics)

	galleryService := gallery.NewService(rekClient, repo, publisher)
	faces := galleryService.Load()

	cameras := camera.NewManager(cfg.Cameras, camera.NewSnapshotClient(time.Duration(cfg.AWS.TimeoutSeconds)*time.Second), pool)

	// MQTT und Home Assistant
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = startMQTT(ctx, cfg, hub, pool, cameras, usageService, apiCost, last, faces)
	} else {
		log.Info("MQTT is disabled in config.")
	}

	// Hintergrunddienste
	go func() {
		if rekClient.HasCollection() {
			if _, err := galleryService.Refresh(ctx); err != nil {
				log.WithError(err).Warn("Initial gallery refresh failed")
			}
		}
		galleryService.Run(ctx, time.Duration(cfg.Gallery.SyncIntervalMinutes)*time.Minute)
	}()
	if cfg.Cleanup.IntervalMinutes > 0 {
		cleanupService := cleanup.NewCleanupService(imageProcessor.Options, publisher, time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute)
		go cleanupService.Start(ctx)
	}
	go cameras.Run(ctx)

	// HTTP
	var scanLimit gin.HandlerFunc
	if cfg.Server.ScanRatePerSecond > 0 {
		scanLimit = middleware.RateLimit(rate.NewLimiter(rate.Limit(cfg.Server.ScanRatePerSecond), max(1, cfg.Server.ScanBurst)))
	}
	api := handlers.NewAPIHandler(handlers.Dependencies{
		State:       publisher,
		Events:      hub,
		Frames:      pool,
		Cameras:     cameras,
		Gallery:     galleryService,
		SelfTest:    rekognition.NewSelfTester(sess, cfg.AWS),
		Pool:        pool,
		SnapshotDir: cfg.Processing.SaveFileFolder,
		APICost:     apiCost,
		ScanLimit:   scanLimit,
	})
	if log.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(api, handlers.RouterOptions{
		SnapshotDir: cfg.Processing.SaveFileFolder,
		SnapshotURL: cfg.Server.SnapshotURL,
		Metrics:     promMetrics.Handler(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.RegisterOnShutdown(api.CloseStreams)
	go func() {
		log.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown failed")
	}
	pool.Shutdown()
	stopState()
	if mqttClient != nil {
		mqttClient.Stop()
	}
	log.Info("Server stopped.")
}

// startMQTT verbindet den Broker, abonniert das Scan-Topic und startet die Home-Assistant-Sensoren
func startMQTT(ctx context.Context, cfg *config.Config, hub *sse.Hub, pool *processor.WorkerPool, cameras *camera.Manager,
	usageService *usage.Service, apiCost func() float64, last models.LastResult, faces models.FacesIndex) *mqtt.Client {
	client := mqtt.NewClient(cfg.MQTT)
	client.Subscribe(cfg.MQTT.Topic, mqtt.HandlerFunc(cameras.HandleMessage))

	var (
		discovery *homeassistant.DiscoveryManager
		sensors   *homeassistant.Publisher
	)
	if cfg.MQTT.HomeAssistant.Enabled {
		topics := homeassistant.Topics{Base: client.BaseTopic(), Availability: client.AvailabilityTopic()}
		discovery = homeassistant.NewDiscoveryManager(client, cfg.MQTT.HomeAssistant.DiscoveryPrefix, topics)
		sensors = homeassistant.NewPublisher(client, topics, usageService, apiCost)
		pool.AddObserver(sensors)
		events, _ := hub.Subscribe(64)
		go sensors.Run(ctx, events)
	}

	if err := client.Start(); err != nil {
		log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
		return client
	}
	if discovery != nil {
		if err := discovery.RegisterSensors(); err != nil {
			log.WithError(err).Warn("Failed to register Home Assistant sensors")
		}
		sensors.Bootstrap(last, faces)
	}
	return client
}
