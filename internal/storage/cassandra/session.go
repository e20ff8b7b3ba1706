package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// session is the subset of CQL operations the store needs. gocqlSession
// backs it in production; tests substitute a scripted fake.
type session interface {
	Exec(ctx context.Context, stmt string, values ...any) error
	ExecCAS(ctx context.Context, stmt string, values ...any) (bool, error)
	ExecBatch(ctx context.Context, stmt string, rows [][]any) error
	Iter(ctx context.Context, stmt string, values ...any) scanner
	Close()
}

// scanner matches *gocql.Iter.
type scanner interface {
	Scan(dest ...any) bool
	Close() error
}

type gocqlSession struct {
	s     *gocql.Session
	write gocql.Consistency
	read  gocql.Consistency
}

func dial(cfg Config) (*gocqlSession, error) {
	write, err := parseConsistency(cfg.WriteConsistency, gocql.LocalQuorum)
	if err != nil {
		return nil, err
	}
	read, err := parseConsistency(cfg.ReadConsistency, gocql.LocalOne)
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.ProtoVersion = 4
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 1}
	cluster.ReconnectionPolicy = &gocql.ExponentialReconnectionPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
	cluster.Consistency = write

	s, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect cassandra: %w", err)
	}
	return &gocqlSession{s: s, write: write, read: read}, nil
}

func parseConsistency(value string, fallback gocql.Consistency) (gocql.Consistency, error) {
	if value == "" {
		return fallback, nil
	}
	c, err := gocql.ParseConsistencyWrapper(value)
	if err != nil {
		return 0, fmt.Errorf("cassandra consistency %q: %w", value, err)
	}
	return c, nil
}

func (g *gocqlSession) Exec(ctx context.Context, stmt string, values ...any) error {
	return g.s.Query(stmt, values...).WithContext(ctx).Consistency(g.write).Exec()
}

func (g *gocqlSession) ExecCAS(ctx context.Context, stmt string, values ...any) (bool, error) {
	return g.s.Query(stmt, values...).WithContext(ctx).Consistency(g.write).ScanCAS()
}

func (g *gocqlSession) ExecBatch(ctx context.Context, stmt string, rows [][]any) error {
	b := g.s.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.SetConsistency(g.write)
	for _, row := range rows {
		b.Query(stmt, row...)
	}
	return g.s.ExecuteBatch(b)
}

func (g *gocqlSession) Iter(ctx context.Context, stmt string, values ...any) scanner {
	return g.s.Query(stmt, values...).WithContext(ctx).Consistency(g.read).Iter()
}

func (g *gocqlSession) Close() {
	g.s.Close()
}
