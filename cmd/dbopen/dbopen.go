// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package dbopen

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

var ErrDatabaseNotConfigured = errors.New("database connection configuration is unavailable")

const defaultApplicationName = "wsirunner"

// queryParams maps optional PREFIX_ variables onto connection string
// parameters understood by pgx.
var queryParams = []struct {
	env   string
	param string
}{
	{"SSLMODE", "sslmode"},
	{"MAX_CONNS", "pool_max_conns"},
	{"MIN_CONNS", "pool_min_conns"},
	{"APPLICATION_NAME", "application_name"},
}

// getDatabaseURLFromEnv builds a PostgreSQL URL from PREFIX_HOST,
// PREFIX_PORT (default 5432), PREFIX_USER, PREFIX_PASSWORD and
// PREFIX_DBNAME plus the optional parameters in queryParams. PREFIX_URL,
// when set, is returned unchanged.
func getDatabaseURLFromEnv(prefix string) (string, error) {
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	env := func(name string) string { return os.Getenv(prefix + name) }

	if urlStr := env("URL"); urlStr != "" {
		return urlStr, nil
	}

	var missing []string
	for _, name := range []string{"HOST", "DBNAME"} {
		if env(name) == "" {
			missing = append(missing, prefix+name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	port := env("PORT")
	if port == "" {
		port = "5432"
	}

	u := &url.URL{
		Scheme: "postgresql",
		Host:   env("HOST") + ":" + port,
		Path:   env("DBNAME"),
	}
	if user := env("USER"); user != "" {
		if pass := env("PASSWORD"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}

	q := u.Query()
	for _, p := range queryParams {
		if v := env(p.env); v != "" {
			q.Set(p.param, v)
		}
	}
	if q.Get("application_name") == "" {
		q.Set("application_name", defaultApplicationName)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
