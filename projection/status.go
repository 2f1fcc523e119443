package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
)

// StatusController reads and writes the status of one descriptor.
type StatusController struct {
	store checkpoint.Store
	name  string
}

func NewStatusController(store checkpoint.Store, name string) *StatusController {
	return &StatusController{store: store, name: name}
}

// Fetch returns the stored status. A missing descriptor reads as running so
// a runner whose descriptor was removed keeps going until it persists.
func (c *StatusController) Fetch(ctx context.Context) (checkpoint.Status, error) {
	d, err := c.store.Get(ctx, c.name)
	if errors.Is(err, prowl.ErrProjectionNotFound) {
		return checkpoint.StatusRunning, nil
	}
	if err != nil {
		return "", fmt.Errorf("projection %s: fetch status: %w", c.name, err)
	}
	return d.Status, nil
}

// Request writes status for the lease holder to act on.
func (c *StatusController) Request(ctx context.Context, status checkpoint.Status) error {
	if err := c.store.Update(ctx, c.name, checkpoint.Patch{Status: status}); err != nil {
		return fmt.Errorf("projection %s: request %s: %w", c.name, status, err)
	}
	return nil
}
