package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/startuppulse/pulsesync/internal/client/sync"
	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/validation"
)

// SubmitOptions параметры команды submit
type SubmitOptions struct {
	Fields   []string            // key=value
	ID       string              // пустой для create
	Kind     string              // тип документа для create
	Author   string              // при создании pulse добавляет запись участия автора
	Mutation models.MutationType // create, update, delete
	Premium  bool
}

// Submit принимает изменение локально и ставит его в журнал
func (c *Cli) Submit(ctx context.Context, opts SubmitOptions) error {
	if opts.ID != "" {
		if err := validation.ValidateID("entity id", opts.ID); err != nil {
			return err
		}
	}

	fields, err := ParseFields(opts.Fields)
	if err != nil {
		return err
	}

	intents := []models.Intent{{
		EntityID: opts.ID,
		Kind:     opts.Kind,
		Mutation: opts.Mutation,
		Fields:   fields,
		Premium:  opts.Premium,
	}}

	// pulse и запись участия автора создаются атомарно
	if opts.Author != "" {
		if opts.Mutation != models.MutationCreate || opts.Kind != models.KindPulse {
			return fmt.Errorf("--author is only valid when creating a %s", models.KindPulse)
		}
		if intents[0].EntityID == "" {
			intents[0].EntityID = uuid.NewString()
		}
		intents = append(intents, models.Intent{
			Kind:     models.KindMembership,
			Mutation: models.MutationCreate,
			Fields: models.Fields{
				"pulse_id": intents[0].EntityID,
				"user_id":  opts.Author,
				"role":     "author",
			},
			Premium: opts.Premium,
		})
	}

	results, err := c.engine.SubmitBatch(ctx, intents)
	if err != nil {
		if errors.Is(err, sync.ErrPermissionDenied) {
			return fmt.Errorf("premium change requires a verified pro subscription: %w", err)
		}
		return fmt.Errorf("failed to submit: %w", err)
	}

	for _, r := range results {
		c.io.Printf("Accepted %s (seq %d): %s\n", r.EntityID, r.LocalSeq, r.Status.State)
	}
	return nil
}
