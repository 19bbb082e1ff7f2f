// Package catalog provides read and staff write access to the game catalog.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xNova204/vaporshop/internal/blob"
	"github.com/xNova204/vaporshop/internal/events"
	"github.com/xNova204/vaporshop/internal/store"
)

// Game is a purchasable catalog entry. Price is display-formatted, not
// numeric. ID is store-assigned and immutable.
type Game struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Genre    string `json:"genre"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Genre groups games by their genre label. Genres are derived from the game
// set at read time, never stored.
type Genre struct {
	Name  string `json:"name"`
	Games []Game `json:"games"`
}

// Service implements catalog reads and staff mutations over the document
// store.
type Service struct {
	store     store.DocumentStore
	uploader  blob.Uploader
	publisher events.Publisher
	logger    *zap.Logger
}

func NewService(docs store.DocumentStore, uploader blob.Uploader, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     docs,
		uploader:  uploader,
		publisher: publisher,
		logger:    logger,
	}
}

// Games returns every game in the catalog. Fetch failures are logged and
// reported as an empty catalog, so callers cannot distinguish "empty" from
// "fetch failed".
func (s *Service) Games(ctx context.Context) []Game {
	docs, err := s.store.List(ctx, store.CollectionGames)
	if err != nil {
		s.logger.Error("failed to fetch games", zap.Error(err))
		return nil
	}

	games := make([]Game, 0, len(docs))
	for _, doc := range docs {
		games = append(games, gameFromDocument(doc))
	}
	sort.Slice(games, func(i, j int) bool { return games[i].Name < games[j].Name })
	return games
}

// Genres partitions the given games by genre. Every game belongs to exactly
// one genre; the genre set is the distinct genre labels present.
func Genres(games []Game) []Genre {
	byName := make(map[string]*Genre)
	var order []string
	for _, g := range games {
		genre, ok := byName[g.Genre]
		if !ok {
			genre = &Genre{Name: g.Genre}
			byName[g.Genre] = genre
			order = append(order, g.Genre)
		}
		genre.Games = append(genre.Games, g)
	}
	sort.Strings(order)

	genres := make([]Genre, 0, len(order))
	for _, name := range order {
		genres = append(genres, *byName[name])
	}
	return genres
}

// AddGame creates a catalog entry. When image data accompanies the
// submission it is uploaded first and the resulting URL attached to the
// game. Upload and document write are not transactional: a write failure
// after a successful upload orphans the blob.
func (s *Service) AddGame(ctx context.Context, game Game, image []byte, imageType string) (Game, error) {
	if game.Name == "" || game.Price == "" || game.Genre == "" {
		return Game{}, &ValidationError{Field: "name/price/genre", Reason: "all fields are required"}
	}

	if len(image) > 0 {
		url, err := s.uploader.Upload(ctx, game.Name, imageType, image)
		if err != nil {
			return Game{}, fmt.Errorf("failed to upload image: %w", err)
		}
		game.ImageURL = url
	}

	fields := map[string]interface{}{
		"name":  game.Name,
		"price": game.Price,
		"genre": game.Genre,
	}
	if game.ImageURL != "" {
		fields["imageUrl"] = game.ImageURL
	}

	id, err := s.store.Add(ctx, store.CollectionGames, fields)
	if err != nil {
		return Game{}, fmt.Errorf("failed to add game: %w", err)
	}
	game.ID = id

	s.publish(ctx, events.GameAdded{
		GameID:  game.ID,
		Name:    game.Name,
		Genre:   game.Genre,
		AddedAt: time.Now().UTC(),
	})

	return game, nil
}

// RemoveGame deletes a catalog entry. The delete does not cascade: wishlist
// and inventory snapshots that reference the id keep their dangling copy.
func (s *Service) RemoveGame(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, store.CollectionGames, id); err != nil {
		return fmt.Errorf("failed to delete game: %w", err)
	}

	s.publish(ctx, events.GameRemoved{
		GameID:    id,
		RemovedAt: time.Now().UTC(),
	})
	return nil
}

func (s *Service) publish(ctx context.Context, event interface{}) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish catalog event", zap.Error(err))
	}
}

// ValidationError reports a rejected submission before any write occurred.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func gameFromDocument(doc store.Document) Game {
	return Game{
		ID:       doc.ID,
		Name:     doc.String("name"),
		Price:    doc.String("price"),
		Genre:    doc.String("genre"),
		ImageURL: doc.String("imageUrl"),
	}
}
