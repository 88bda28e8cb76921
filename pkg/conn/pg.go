package conn

import (
	"net"
	"net/url"
	"strconv"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresOption locates a PostgreSQL server. A non-empty ConnString is used
// verbatim; otherwise the URL is assembled from the parts with localhost:5432
// and sslmode=disable as defaults.
type PostgresOption struct {
	ConnString string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Params   map[string]string

	Config *gorm.Config
}

// Postgres holds the gorm pool used by the account snapshot store.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres opens a pool. gorm logs only warnings unless Config says otherwise.
func NewPostgres(option PostgresOption) (*Postgres, error) {
	dsn, err := option.DSN()
	if err != nil {
		return nil, err
	}
	cfg := option.Config
	if cfg == nil {
		cfg = &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	}
	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres").With("host", option.Host)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) DB() *gorm.DB {
	if p == nil {
		return nil
	}
	return p.db
}

// Close releases the pool. Safe on nil.
func (p *Postgres) Close() error {
	if p.DB() == nil {
		return nil
	}
	pool, err := p.db.DB()
	if err != nil {
		return errors.Wrap(err, "postgres pool")
	}
	return pool.Close()
}

// DSN renders the postgres:// URL for the option.
func (opt PostgresOption) DSN() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}
	port := opt.Port
	switch {
	case port == 0:
		port = 5432
	case port < 0 || port > 65535:
		return "", errors.Errorf("invalid postgres port %d", opt.Port)
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(orDefault(opt.Host, "localhost"), strconv.Itoa(port)),
		User:     opt.userinfo(),
		RawQuery: opt.query().Encode(),
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	return u.String(), nil
}

func (opt PostgresOption) userinfo() *url.Userinfo {
	switch {
	case opt.User == "":
		return nil
	case opt.Password == "":
		return url.User(opt.User)
	default:
		return url.UserPassword(opt.User, opt.Password)
	}
}

func (opt PostgresOption) query() url.Values {
	q := make(url.Values, len(opt.Params)+1)
	for k, v := range opt.Params {
		if k != "" {
			q.Set(k, v)
		}
	}
	q.Set("sslmode", orDefault(opt.SSLMode, "disable"))
	return q
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
