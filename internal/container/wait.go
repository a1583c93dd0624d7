package container

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	// Drivers for sql readiness checks
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/tomatool/exam/internal/option"
)

const defaultReadyTimeout = 30 * time.Second

// expandDSN substitutes {{host}} and {{port}} in a sql wait DSN.
func expandDSN(dsn, host, port string) string {
	return strings.NewReplacer("{{host}}", host, "{{port}}", port).Replace(dsn)
}

// portNumber strips a /tcp or /udp suffix.
func portNumber(spec string) string {
	if idx := strings.Index(spec, "/"); idx > 0 {
		return spec[:idx]
	}
	return spec
}

// readinessProbe is one attempt of a local readiness check. logs returns the
// lines captured so far.
type readinessProbe func(ctx context.Context, logs func() []string) error

// localReadiness converts a wait option to a check against localhost. A nil
// probe means no readiness check is configured.
func localReadiness(w option.WaitOption) (readinessProbe, error) {
	switch w.Kind {
	case "":
		return nil, nil
	case option.WaitPort:
		addr := net.JoinHostPort("localhost", portNumber(w.Target))
		return func(ctx context.Context, _ func() []string) error {
			conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
			if err != nil {
				return err
			}
			return conn.Close()
		}, nil
	case option.WaitHTTP:
		path := w.Path
		if path == "" {
			path = "/health"
		}
		url := fmt.Sprintf("http://%s%s", net.JoinHostPort("localhost", portNumber(w.Target)), path)
		client := &http.Client{Timeout: 2 * time.Second}
		return func(ctx context.Context, _ func() []string) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%s returned %d", url, resp.StatusCode)
			}
			return nil
		}, nil
	case option.WaitLog:
		return func(ctx context.Context, logs func() []string) error {
			for _, line := range logs() {
				if strings.Contains(line, w.Target) {
					return nil
				}
			}
			return fmt.Errorf("log line %q not seen yet", w.Target)
		}, nil
	case option.WaitSQL:
		dsn := expandDSN(w.DSN, "localhost", portNumber(w.Target))
		return func(ctx context.Context, _ func() []string) error {
			db, err := sql.Open(w.Driver, dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.PingContext(ctx)
		}, nil
	default:
		return nil, fmt.Errorf("wait strategy %q is not supported by the process runtime", w.Kind)
	}
}
