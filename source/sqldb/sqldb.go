// Package sqldb runs modules against SQL engines (mysql, trino, sqlite).
// Variables are bound through :NAME placeholders in the statement.
package sqldb

import (
	"context"
	"crypto/tls"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/chengcxy/docshift/source"
	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/trinodb/trino-go-client/trino"
)

const (
	defaultMaxOpenConns = 20
	defaultMaxIdleConns = 20
	tlsConfigName       = "docshift"
)

func init() {
	source.Register("mysql", false, openMySQL)
	source.Register("mysqls", true, openMySQL)
	source.Register("trino", false, openTrino)
	source.Register("trinos", true, openTrino)
	source.Register("sqlite", false, openSQLite)
}

type ContentSource struct {
	db      *sql.DB
	dialect string
}

func New(db *sql.DB, dialect string) *ContentSource {
	return &ContentSource{db: db, dialect: dialect}
}

func openMySQL(ctx context.Context, u *url.URL, tlsConf *tls.Config) (source.ContentSource, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.Trim(u.Path, "/")
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.ParseTime = true
	cfg.Params = map[string]string{}
	for k, v := range u.Query() {
		cfg.Params[k] = v[0]
	}
	if tlsConf != nil {
		if err := mysql.RegisterTLSConfig(tlsConfigName, tlsConf); err != nil {
			return nil, err
		}
		cfg.TLSConfig = tlsConfigName
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	return New(db, "mysql"), nil
}

func openTrino(ctx context.Context, u *url.URL, tlsConf *tls.Config) (source.ContentSource, error) {
	proto := "http"
	q := u.Query()
	if tlsConf != nil {
		proto = "https"
		client := &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConf}}
		if err := trino.RegisterCustomClient(tlsConfigName, client); err != nil {
			return nil, err
		}
		q.Set("custom_client", tlsConfigName)
	}
	user := "docshift"
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	if catalog := strings.Trim(u.Path, "/"); catalog != "" && q.Get("catalog") == "" {
		q.Set("catalog", catalog)
	}
	dsn := fmt.Sprintf("%s://%s@%s?%s", proto, url.PathEscape(user), u.Host, q.Encode())
	db, err := sql.Open("trino", dsn)
	if err != nil {
		return nil, err
	}
	return New(db, "trino"), nil
}

func openSQLite(ctx context.Context, u *url.URL, _ *tls.Config) (source.ContentSource, error) {
	file := u.Opaque
	if file == "" {
		file = u.Host + u.Path
	}
	if file == "" {
		return nil, errors.New("sqlite uri needs a file, e.g. sqlite:///tmp/docs.db")
	}
	db, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, err
	}
	return New(db, "sqlite"), nil
}

func (cs *ContentSource) NewSession(ctx context.Context) (source.Session, error) {
	conn, err := cs.db.Conn(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &session{conn: conn}, nil
}

func (cs *ContentSource) Close() error {
	return cs.db.Close()
}

type session struct {
	conn *sql.Conn
}

func (s *session) Submit(ctx context.Context, req *source.Request) (source.ResultSequence, error) {
	if req.ModuleURI != "" {
		return nil, &source.RequestError{
			Kind:    source.KindModule,
			Code:    "SQL-NOMODULE",
			Message: fmt.Sprintf("module %s cannot be invoked on a sql source, use INLINE-SQL| or |ADHOC", req.ModuleURI),
		}
	}
	query, args := Bind(req.Query, req.Variables)
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, classify(err)
	}
	return newRowSequence(rows, len(cols)), nil
}

func (s *session) Close() error {
	return s.conn.Close()
}

var placeholder = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// Bind rewrites :NAME placeholders with known variables into positional ? args.
// Unknown names are left alone so casts like ::int survive.
func Bind(query string, vars map[string]string) (string, []interface{}) {
	args := make([]interface{}, 0)
	out := placeholder.ReplaceAllStringFunc(query, func(m string) string {
		v, ok := vars[m[1:]]
		if !ok {
			return m
		}
		args = append(args, v)
		return "?"
	})
	return out, args
}

type rowSequence struct {
	rows   *sql.Rows
	values []interface{}
	scan   []interface{}
	item   string
	err    error
}

func newRowSequence(rows *sql.Rows, n int) *rowSequence {
	rs := &rowSequence{rows: rows, values: make([]interface{}, n), scan: make([]interface{}, n)}
	for i := range rs.values {
		rs.scan[i] = &rs.values[i]
	}
	return rs
}

// Next renders a row as its columns joined by a comma.
func (rs *rowSequence) Next() bool {
	if rs.err != nil || !rs.rows.Next() {
		return false
	}
	if err := rs.rows.Scan(rs.scan...); err != nil {
		rs.err = classify(err)
		return false
	}
	parts := make([]string, len(rs.values))
	for i, v := range rs.values {
		switch val := v.(type) {
		case nil:
			parts[i] = ""
		case []byte:
			parts[i] = string(val)
		default:
			parts[i] = fmt.Sprint(val)
		}
	}
	rs.item = strings.Join(parts, ",")
	return true
}

func (rs *rowSequence) Item() string { return rs.item }

func (rs *rowSequence) Err() error {
	if rs.err != nil {
		return rs.err
	}
	if err := rs.rows.Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (rs *rowSequence) Close() error { return rs.rows.Close() }

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return source.ConnectError(err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return source.ConnectError(err)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		re := &source.RequestError{Kind: source.KindQuery, Code: fmt.Sprintf("MYSQL-%d", me.Number), Message: me.Message, Err: err}
		switch me.Number {
		case 1044, 1045, 1142, 1143:
			re.Kind = source.KindPermission
		case 1064:
			re.Kind = source.KindSyntax
		case 1205, 1213:
			re.Retryable = true
		}
		return re
	}
	var qf *trino.ErrQueryFailed
	if errors.As(err, &qf) {
		re := &source.RequestError{Kind: source.KindQuery, Code: fmt.Sprintf("TRINO-%d", qf.StatusCode), Message: err.Error(), Err: err}
		switch qf.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			re.Kind = source.KindPermission
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			re.Kind = source.KindServer
			re.Retryable = true
		}
		return re
	}
	return &source.RequestError{Kind: source.KindQuery, Message: err.Error(), Err: err}
}
