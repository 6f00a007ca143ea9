package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bryan-buckman/smallweb/internal/model"
)

// queries holds the SQL shared by both backends. Statements are written with
// '?' placeholders and rebound for drivers that number them.
type queries struct {
	conn     *sql.DB
	numbered bool
}

func (q *queries) bind(query string) string {
	if !q.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- Feed Methods ---

// InsertFeed stores feed unless its id is already present. Existing rows are
// never overwritten. Reports whether a row was inserted.
func (q *queries) InsertFeed(feed model.Feed) (bool, error) {
	res, err := q.conn.Exec(q.bind(`
		INSERT INTO feeds (id, url, title, description, lang, feed_type, license)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`),
		string(feed.ID), feed.URL, feed.Title, feed.Description, feed.Lang, feed.FeedType, feed.License)
	if err != nil {
		return false, fmt.Errorf("inserting feed %s: %w", feed.ID, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

const feedColumns = "id, url, title, description, lang, feed_type, license"

// GetFeed returns one feed or ErrFeedNotFound.
func (q *queries) GetFeed(id model.FeedID) (*model.Feed, error) {
	var f model.Feed
	err := q.conn.QueryRow(q.bind("SELECT "+feedColumns+" FROM feeds WHERE id = ?"), string(id)).
		Scan(&f.ID, &f.URL, &f.Title, &f.Description, &f.Lang, &f.FeedType, &f.License)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFeedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying feed %s: %w", id, err)
	}
	return &f, nil
}

// GetFeeds returns all feeds ordered by URL.
func (q *queries) GetFeeds() ([]model.Feed, error) {
	rows, err := q.conn.Query("SELECT " + feedColumns + " FROM feeds ORDER BY url")
	if err != nil {
		return nil, fmt.Errorf("querying feeds: %w", err)
	}
	defer rows.Close()
	return scanFeeds(rows)
}

// GetFeedsByLang returns the feeds classified as lang ("" for unknown).
func (q *queries) GetFeedsByLang(lang string) ([]model.Feed, error) {
	rows, err := q.conn.Query(q.bind("SELECT "+feedColumns+" FROM feeds WHERE lang = ? ORDER BY url"), lang)
	if err != nil {
		return nil, fmt.Errorf("querying feeds by lang: %w", err)
	}
	defer rows.Close()
	return scanFeeds(rows)
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		var f model.Feed
		if err := rows.Scan(&f.ID, &f.URL, &f.Title, &f.Description, &f.Lang, &f.FeedType, &f.License); err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// FeedIDs returns the ids of all stored feeds.
func (q *queries) FeedIDs() ([]model.FeedID, error) {
	rows, err := q.conn.Query("SELECT id FROM feeds ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying feed ids: %w", err)
	}
	defer rows.Close()
	var ids []model.FeedID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning feed id: %w", err)
		}
		ids = append(ids, model.FeedID(id))
	}
	return ids, rows.Err()
}

// DeleteFeed removes a feed and its articles, articles first.
func (q *queries) DeleteFeed(id model.FeedID) error {
	tx, err := q.conn.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(q.bind("DELETE FROM articles WHERE feed_id = ?"), string(id)); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting articles of %s: %w", id, err)
	}
	if _, err := tx.Exec(q.bind("DELETE FROM feeds WHERE id = ?"), string(id)); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting feed %s: %w", id, err)
	}
	return tx.Commit()
}

// UpdateFeedLanguages sets the lang column of each listed feed.
func (q *queries) UpdateFeedLanguages(langs map[model.FeedID]string) error {
	if len(langs) == 0 {
		return nil
	}
	tx, err := q.conn.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(q.bind("UPDATE feeds SET lang = ? WHERE id = ?"))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for id, lang := range langs {
		if _, err := stmt.Exec(lang, string(id)); err != nil {
			tx.Rollback()
			return fmt.Errorf("updating lang of %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// NonEnglishFeedURLs returns feeds with a known language other than English.
func (q *queries) NonEnglishFeedURLs() ([]string, error) {
	rows, err := q.conn.Query("SELECT url FROM feeds WHERE lang <> 'en' AND lang <> '' ORDER BY url")
	if err != nil {
		return nil, fmt.Errorf("querying non-english feeds: %w", err)
	}
	defer rows.Close()
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scanning url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// --- Article Methods ---

// InsertArticles stores articles whose URL is not yet known, in one
// transaction. Articles without a URL are skipped. Returns the number inserted.
func (q *queries) InsertArticles(articles []model.Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	tx, err := q.conn.Begin()
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(q.bind(`
		INSERT INTO articles (id, feed_id, title, content, creation_date, lang, license)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`))
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, a := range articles {
		if a.URL == "" {
			continue
		}
		res, err := stmt.Exec(a.URL, string(a.FeedID), a.Title, a.Content, a.CreationDate.UTC(), a.Lang, a.License)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("inserting article %s: %w", a.URL, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetArticles returns the articles of a feed, newest first.
func (q *queries) GetArticles(feedID model.FeedID) ([]model.Article, error) {
	rows, err := q.conn.Query(q.bind(`
		SELECT id, feed_id, title, content, creation_date, lang, license
		FROM articles WHERE feed_id = ? ORDER BY creation_date DESC, id`), string(feedID))
	if err != nil {
		return nil, fmt.Errorf("querying articles: %w", err)
	}
	defer rows.Close()

	var articles []model.Article
	for rows.Next() {
		var a model.Article
		var created sql.NullTime
		if err := rows.Scan(&a.URL, &a.FeedID, &a.Title, &a.Content, &created, &a.Lang, &a.License); err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		if created.Valid {
			a.CreationDate = created.Time
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// ArticleLanguageCounts returns, for every feed, the number of articles per
// language. Feeds without articles map to an empty count set.
func (q *queries) ArticleLanguageCounts() (map[model.FeedID]map[string]int, error) {
	rows, err := q.conn.Query(`
		SELECT feeds.id, COALESCE(articles.lang, ''), COUNT(articles.id)
		FROM feeds
		LEFT JOIN articles ON articles.feed_id = feeds.id
		GROUP BY feeds.id, articles.lang`)
	if err != nil {
		return nil, fmt.Errorf("counting article languages: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.FeedID]map[string]int)
	for rows.Next() {
		var (
			id   string
			lang string
			n    int
		)
		if err := rows.Scan(&id, &lang, &n); err != nil {
			return nil, fmt.Errorf("scanning language count: %w", err)
		}
		feed := counts[model.FeedID(id)]
		if feed == nil {
			feed = make(map[string]int)
			counts[model.FeedID(id)] = feed
		}
		if n > 0 {
			feed[lang] += n
		}
	}
	return counts, rows.Err()
}
