package service

import (
	"context"

	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	reconciledomain "github.com/smallbiznis/allocledger/internal/reconcile/domain"
	"gorm.io/gorm"
)

// knownUsers lists every user the ledger has a membership or usage row for.
type knownUsers struct {
	db   *gorm.DB
	repo allocationdomain.Repository
}

func NewUserDirectory(db *gorm.DB, repo allocationdomain.Repository) reconciledomain.UserDirectory {
	return &knownUsers{db: db, repo: repo}
}

func (d *knownUsers) Usernames(ctx context.Context) ([]string, error) {
	return d.repo.ListUsernames(ctx, d.db)
}

// StaticDirectory is a fixed user list, for tools and tests.
type StaticDirectory []string

func (s StaticDirectory) Usernames(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}
