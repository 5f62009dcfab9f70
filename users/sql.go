package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alwitt/fundstream/common"
	"github.com/alwitt/goutils"
	"github.com/apex/log"

	// Supported principal store drivers. sqlite3 serves single instance deployments
	// and local development; mysql serves everything else.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// lookupColumns maps a lookup method to the column it matches on. The column name is
// never taken from client input.
var lookupColumns = map[string]string{
	MethodEmail:    "email",
	MethodUsername: "username",
}

// sqlPrincipalStore implements PrincipalStore on a database/sql handle
type sqlPrincipalStore struct {
	goutils.Component
	db           *sql.DB
	queryTimeout time.Duration
}

// OpenDatabase open the principal database described by the config
func OpenDatabase(config common.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetConnMaxLifetime(time.Second * time.Duration(config.ConnMaxLifetime))
	return db, nil
}

// GetSQLPrincipalStore define a PrincipalStore reading the `principals` table
func GetSQLPrincipalStore(db *sql.DB, queryTimeout time.Duration) (PrincipalStore, error) {
	if db == nil {
		return nil, fmt.Errorf("no database handle given")
	}
	if queryTimeout <= 0 {
		return nil, fmt.Errorf("query timeout must be positive: %s", queryTimeout)
	}
	logTags := log.Fields{
		"module":    "users",
		"component": "principal-store",
	}
	return &sqlPrincipalStore{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:           db,
		queryTimeout: queryTimeout,
	}, nil
}

// FindByIdentifier fetch the one principal matching the identifier
func (s *sqlPrincipalStore) FindByIdentifier(
	ctxt context.Context, method, identifier string,
) (Principal, error) {
	localLogTags := s.GetLogTagsForContext(ctxt)
	column, ok := lookupColumns[method]
	if !ok {
		return Principal{}, fmt.Errorf("unknown lookup method '%s'", method)
	}

	useCtxt, cancel := context.WithTimeout(ctxt, s.queryTimeout)
	defer cancel()

	// Fetch up to two rows so an ambiguous identifier is caught
	query := fmt.Sprintf(
		`SELECT id, username, email, display_name, role, secret_hash
		FROM principals WHERE %s = ? LIMIT 2`, column,
	)
	rows, err := s.db.QueryContext(useCtxt, query, identifier)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Principal lookup by %s failed", method)
		return Principal{}, err
	}
	defer rows.Close()

	found := make([]Principal, 0, 1)
	for rows.Next() {
		var p Principal
		// A principal may be registered with only one of username and email
		var username, email, displayName, role sql.NullString
		if err := rows.Scan(
			&p.ID, &username, &email, &displayName, &role, &p.SecretHash,
		); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Unable to read principal row")
			return Principal{}, err
		}
		p.Username = username.String
		p.Email = email.String
		p.DisplayName = displayName.String
		p.Role = role.String
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Principal lookup iteration failed")
		return Principal{}, err
	}

	switch len(found) {
	case 0:
		return Principal{}, ErrNotFound
	case 1:
		return found[0], nil
	default:
		log.WithFields(localLogTags).Warnf("Identifier matches multiple principals by %s", method)
		return Principal{}, ErrAmbiguous
	}
}

// Ready check the database is reachable
func (s *sqlPrincipalStore) Ready(ctxt context.Context) error {
	useCtxt, cancel := context.WithTimeout(ctxt, s.queryTimeout)
	defer cancel()
	return s.db.PingContext(useCtxt)
}
