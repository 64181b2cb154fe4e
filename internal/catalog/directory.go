package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/budget-api/internal/common"
)

// Directory answers existence checks for the parties a quote refers to.
type Directory interface {
	UserExists(ctx context.Context, id string) (bool, error)
	CustomerExists(ctx context.Context, id string) (bool, error)
}

// PGDirectory checks the users and customers tables.
type PGDirectory struct {
	DB Querier
}

func (d *PGDirectory) UserExists(ctx context.Context, id string) (bool, error) {
	return d.exists(ctx, "SELECT 1 FROM users WHERE id = $1", id)
}

func (d *PGDirectory) CustomerExists(ctx context.Context, id string) (bool, error) {
	return d.exists(ctx, "SELECT 1 FROM customers WHERE id = $1", id)
}

func (d *PGDirectory) exists(ctx context.Context, query, id string) (bool, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false, nil
	}
	var one int
	if err := d.DB.QueryRow(ctx, query, parsed).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, common.Unavailable("directory.exists", err)
	}
	return true, nil
}

// StaticDirectory is an in-memory Directory.
type StaticDirectory struct {
	mu        sync.RWMutex
	users     map[string]struct{}
	customers map[string]struct{}
}

// NewStaticDirectory seeds a directory with the given user and customer ids.
func NewStaticDirectory(users, customers []string) *StaticDirectory {
	d := &StaticDirectory{users: map[string]struct{}{}, customers: map[string]struct{}{}}
	for _, id := range users {
		d.users[id] = struct{}{}
	}
	for _, id := range customers {
		d.customers[id] = struct{}{}
	}
	return d
}

// AddUser registers a user id.
func (d *StaticDirectory) AddUser(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id] = struct{}{}
}

// AddCustomer registers a customer id.
func (d *StaticDirectory) AddCustomer(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customers[id] = struct{}{}
}

func (d *StaticDirectory) UserExists(_ context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[id]
	return ok, nil
}

func (d *StaticDirectory) CustomerExists(_ context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.customers[id]
	return ok, nil
}

// OpenDirectory accepts every non-blank id. It backs memory mode, where no
// users or customers tables exist.
type OpenDirectory struct{}

func (OpenDirectory) UserExists(_ context.Context, id string) (bool, error) {
	return strings.TrimSpace(id) != "", nil
}

func (OpenDirectory) CustomerExists(_ context.Context, id string) (bool, error) {
	return strings.TrimSpace(id) != "", nil
}
