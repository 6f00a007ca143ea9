// Package database provides storage backends for feeds and articles.
package database

import (
	"errors"
	"fmt"

	"github.com/bryan-buckman/smallweb/internal/model"
)

// ErrFeedNotFound is returned by GetFeed for an unknown id.
var ErrFeedNotFound = errors.New("feed not found")

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Feed operations
	InsertFeed(feed model.Feed) (bool, error)
	GetFeed(id model.FeedID) (*model.Feed, error)
	GetFeeds() ([]model.Feed, error)
	GetFeedsByLang(lang string) ([]model.Feed, error)
	FeedIDs() ([]model.FeedID, error)
	DeleteFeed(id model.FeedID) error
	UpdateFeedLanguages(langs map[model.FeedID]string) error
	NonEnglishFeedURLs() ([]string, error)

	// Article operations
	InsertArticles(articles []model.Article) (int, error)
	GetArticles(feedID model.FeedID) ([]model.Article, error)
	ArticleLanguageCounts() (map[model.FeedID]map[string]int, error)
}

// OpenStore opens the backend named by driver: "sqlite" uses the directory
// path, "postgres" uses the connection string dsn.
func OpenStore(driver, path, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		db, err := Open(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		db, err := NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
