package catalog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Query is one named query definition from the catalogue directory.
type Query struct {
	Name string
	Text string
}

// Catalog is the snapshot a single job run operates on: the ordered
// database roster and the ordered query catalogue.
type Catalog struct {
	Databases []string
	Queries   []Query
}

// Restrict narrows the roster to a single database.
func (c *Catalog) Restrict(database string) error {
	for _, db := range c.Databases {
		if db == database {
			c.Databases = []string{database}
			return nil
		}
	}
	return errors.Errorf("database %q is not in the roster", database)
}

// Loader reads the roster file and the query directory. Both are re-read on
// every Load call so a job always runs against the current configuration.
type Loader struct {
	rosterPath string
	sqlDir     string
	logger     zerolog.Logger
}

func NewLoader(rosterPath, sqlDir string, logger zerolog.Logger) *Loader {
	return &Loader{
		rosterPath: rosterPath,
		sqlDir:     sqlDir,
		logger:     logger.With().Str("component", "catalog").Logger(),
	}
}

// Load returns the current roster and catalogue snapshot. An empty or
// unreadable roster or catalogue is an error: a run without databases or
// queries has nothing to do.
func (l *Loader) Load() (*Catalog, error) {
	databases, err := l.loadRoster()
	if err != nil {
		return nil, err
	}

	queries, err := l.loadQueries()
	if err != nil {
		return nil, err
	}

	l.logger.Debug().
		Int("databases", len(databases)).
		Int("queries", len(queries)).
		Msg("catalogue loaded")

	return &Catalog{Databases: databases, Queries: queries}, nil
}

func (l *Loader) loadRoster() ([]string, error) {
	v := viper.New()
	v.SetConfigFile(l.rosterPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read roster file %s", l.rosterPath)
	}

	databases := v.GetStringSlice("databases")
	if len(databases) == 0 {
		return nil, errors.Errorf("roster file %s lists no databases", l.rosterPath)
	}
	return databases, nil
}

func (l *Loader) loadQueries() ([]Query, error) {
	entries, err := os.ReadDir(l.sqlDir)
	if err != nil {
		return nil, errors.Wrapf(err, "read query directory %s", l.sqlDir)
	}

	var queries []Query
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".sql") {
			continue
		}
		text, err := os.ReadFile(filepath.Join(l.sqlDir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read query file %s", entry.Name())
		}
		queries = append(queries, Query{
			Name: strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Text: string(text),
		})
	}

	if len(queries) == 0 {
		return nil, errors.Errorf("query directory %s contains no .sql files", l.sqlDir)
	}
	return queries, nil
}
