// Package main seeds the demo catalog into the configured document store.
// Safe to re-run: games already present by name are skipped.
package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/xNova204/vaporshop/internal/blob"
	"github.com/xNova204/vaporshop/internal/catalog"
	"github.com/xNova204/vaporshop/internal/config"
	"github.com/xNova204/vaporshop/internal/events"
	"github.com/xNova204/vaporshop/internal/store"
)

var demoCatalog = []catalog.Game{
	{Name: "God of War", Price: "$49.99", Genre: "Action"},
	{Name: "Devil May Cry", Price: "$29.99", Genre: "Action"},
	{Name: "DOOM", Price: "$39.99", Genre: "Action"},
	{Name: "The Witcher 3", Price: "$39.99", Genre: "RPG"},
	{Name: "Final Fantasy VII", Price: "$59.99", Genre: "RPG"},
	{Name: "Skyrim", Price: "$19.99", Genre: "RPG"},
	{Name: "Call of Duty", Price: "$69.99", Genre: "Shooter"},
	{Name: "Halo", Price: "$49.99", Genre: "Shooter"},
	{Name: "Overwatch", Price: "$19.99", Genre: "Shooter"},
}

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	docs, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize document store", zap.Error(err))
	}
	defer closeStore()

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kp := events.NewKafkaPublisher(brokers, cfg.KafkaTopic, logger)
		defer kp.Close()
		publisher = kp
	}

	svc := catalog.NewService(docs, blob.NewMemoryUploader(), publisher, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	existing := make(map[string]bool)
	for _, g := range svc.Games(ctx) {
		existing[g.Name] = true
	}

	seeded := 0
	for _, game := range demoCatalog {
		if existing[game.Name] {
			continue
		}
		added, err := svc.AddGame(ctx, game, nil, "")
		if err != nil {
			logger.Fatal("Failed to seed game", zap.String("name", game.Name), zap.Error(err))
		}
		logger.Info("seeded game",
			zap.String("gameId", added.ID),
			zap.String("name", added.Name),
			zap.String("genre", added.Genre),
		)
		seeded++
	}

	logger.Info("seeding complete",
		zap.Int("seeded", seeded),
		zap.Int("skipped", len(demoCatalog)-seeded),
	)
}

func openStore(cfg *config.Config, logger *zap.Logger) (store.DocumentStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rs, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, logger)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	case config.BackendMSSQL:
		ms, err := store.NewMSSQLStore(cfg.MSSQLConn, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := ms.InitializeTables(); err != nil {
			ms.Close()
			return nil, nil, err
		}
		return ms, func() { ms.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}
