package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// driverMap folds the aliases accepted in configuration onto registered
// database/sql driver names.
var driverMap = map[string]string{
	"mssql":      "sqlserver",
	"sqlserver":  "sqlserver",
	"pg":         "postgres",
	"postgres":   "postgres",
	"postgresql": "postgres",
}

// dsn builds the driver name and connection string for one roster database.
// ODBC-style driver names ("ODBC Driver 17 for SQL Server") are accepted and
// mapped to the native sqlserver driver.
func (c Config) dsn(database string) (string, string, error) {
	driver, ok := driverMap[strings.ToLower(c.Driver)]
	if !ok && strings.Contains(strings.ToLower(c.Driver), "sql server") {
		driver, ok = "sqlserver", true
	}
	if !ok {
		return "", "", errors.Errorf("unsupported database driver %q", c.Driver)
	}

	u := &url.URL{
		Scheme: driver,
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}

	switch driver {
	case "sqlserver":
		q := url.Values{}
		q.Set("database", database)
		if c.TrustServerCertificate {
			q.Set("TrustServerCertificate", "true")
		}
		u.RawQuery = q.Encode()
	case "postgres":
		u.Path = "/" + database
		if c.TrustServerCertificate {
			q := url.Values{}
			q.Set("sslmode", "disable")
			u.RawQuery = q.Encode()
		}
	}

	return driver, u.String(), nil
}
