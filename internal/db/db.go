package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"carousel-engine/internal/config"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// ClientProject holds the synthesized context for one project key.
type ClientProject struct {
	bun.BaseModel     `bun:"table:client_projects,alias:cp"`
	ID                int64     `bun:"id,pk,autoincrement"`
	ProjectKey        string    `bun:"project_key,notnull,unique"`
	SystemMessage     string    `bun:"system_message"`
	SourceDocumentIDs []string  `bun:"source_document_ids,array"`
	Uploaded          bool      `bun:"uploaded,notnull,default:false"`
	LastUsedRequestID string    `bun:"last_used_request_id,nullzero"`
	LastUsedAt        time.Time `bun:"last_used_at,nullzero"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// CarouselRequest is the externally created workflow record.
type CarouselRequest struct {
	bun.BaseModel `bun:"table:carousel_requests,alias:cr"`
	ID            string    `bun:"id,pk"`
	Title         string    `bun:"title,notnull"`
	Content       string    `bun:"content"`
	ProjectKey    string    `bun:"project_key,notnull"`
	Status        string    `bun:"status,notnull,default:'Requested'"`
	Format        string    `bun:"format,notnull"`
	Reason        string    `bun:"reason,nullzero"`
	AssetURL      string    `bun:"asset_url,nullzero"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the record store with bun's native driver or lib/pq.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.DSN
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}

	switch cfg.Driver {
	case "pq":
		if cfg.Password != "" {
			u, err := url.Parse(dsn)
			if err != nil {
				return nil, fmt.Errorf("parse dsn: %w", err)
			}
			u.User = url.UserPassword(u.User.Username(), cfg.Password)
			dsn = u.String()
		}
		return sql.Open("postgres", dsn)
	default:
		opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	}
}

// InitDB creates both tables and the unique project key index.
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*ClientProject)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create client_projects: %w", err)
	}
	if _, err := db.NewCreateIndex().
		Model((*ClientProject)(nil)).
		Index("client_projects_project_key_idx").
		Unique().
		Column("project_key").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create project key index: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*CarouselRequest)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create carousel_requests: %w", err)
	}
	_, err := db.NewCreateIndex().
		Model((*CarouselRequest)(nil)).
		Index("carousel_requests_status_idx").
		Column("format", "status").
		IfNotExists().
		Exec(ctx)
	return err
}
