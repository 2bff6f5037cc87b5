package dump

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os/exec"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"mysql-oss-backup/internal/config"
	"mysql-oss-backup/internal/errors"
)

const pingTimeout = 10 * time.Second

// MySQLDumper exports a schema by running mysqldump and streaming its
// stdout.
type MySQLDumper struct {
	host     string
	port     int
	user     string
	password string
	schema   string
	binPath  string
}

func NewMySQLDumper(cfg *config.Config) *MySQLDumper {
	return &MySQLDumper{
		host:     cfg.MySQLHost,
		port:     cfg.MySQLPort,
		user:     cfg.MySQLUser,
		password: cfg.MySQLPassword,
		schema:   cfg.Schema,
		binPath:  cfg.MysqldumpPath,
	}
}

func (d *MySQLDumper) Schema() string {
	return d.schema
}

// Ping opens a short-lived connection and verifies the server answers,
// so that an unreachable server fails the run before mysqldump starts.
func (d *MySQLDumper) Ping(ctx context.Context) error {
	db, err := sql.Open("mysql", d.dsn())
	if err != nil {
		return errors.NewDumpError(d.schema, fmt.Errorf("open connection: %w", err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	return pingDB(ctx, db, d.schema)
}

func pingDB(ctx context.Context, db *sql.DB, schema string) error {
	if err := db.PingContext(ctx); err != nil {
		return errors.NewDumpError(schema, fmt.Errorf("server unreachable: %w", err))
	}
	return nil
}

func (d *MySQLDumper) Dump(ctx context.Context) (io.ReadCloser, error) {
	return d.dumpWithArgs(ctx, d.buildArgs())
}

func (d *MySQLDumper) dumpWithArgs(ctx context.Context, args []string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, d.binPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewDumpError(d.schema, fmt.Errorf("failed to create stdout pipe: %w", err))
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.NewDumpError(d.schema, fmt.Errorf("failed to create stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewDumpError(d.schema, fmt.Errorf("failed to start %s: %w", d.binPath, err))
	}

	return &cmdReadCloser{
		ReadCloser: stdout,
		cmd:        cmd,
		stderr:     stderrPipe,
		schema:     d.schema,
	}, nil
}

func (d *MySQLDumper) buildArgs() []string {
	args := []string{
		"--single-transaction",
		"--routines",
		"--triggers",
		"--events",
		fmt.Sprintf("--host=%s", d.host),
		fmt.Sprintf("--port=%d", d.port),
	}

	if d.user != "" {
		args = append(args, fmt.Sprintf("--user=%s", d.user))
	}

	if d.password != "" {
		args = append(args, fmt.Sprintf("--password=%s", d.password))
	}

	args = append(args, d.schema)

	return args
}

func (d *MySQLDumper) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=5s", d.user, d.password, d.host, d.port, d.schema)
}

// cmdReadCloser wraps the stdout pipe of a running dump process. The exit
// status is only known after the stream has been consumed, so Close reaps
// the process and reports a failed dump there, with whatever the tool wrote
// to stderr attached.
type cmdReadCloser struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr io.ReadCloser
	schema string
}

func (c *cmdReadCloser) Close() error {
	// Close stdout before draining stderr. If the consumer abandoned the
	// stream mid-read the process may be blocked writing stdout, and it
	// only exits (and closes stderr) once that pipe goes away.
	closeErr := c.ReadCloser.Close()

	stderrBytes, _ := io.ReadAll(c.stderr)

	if err := c.cmd.Wait(); err != nil {
		if msg := string(stderrBytes); msg != "" {
			return errors.NewDumpError(c.schema, fmt.Errorf("%w: %s", err, msg))
		}
		return errors.NewDumpError(c.schema, err)
	}

	return closeErr
}
