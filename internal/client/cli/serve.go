package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/startuppulse/pulsesync/internal/models"
)

// Command одна строка управляющего потока команды run (JSON на строку)
type Command struct {
	Op            string   `json:"op"` // submit или entitle
	Mutation      string   `json:"mutation,omitempty"`
	ID            string   `json:"id,omitempty"`
	Kind          string   `json:"kind,omitempty"`
	Author        string   `json:"author,omitempty"`
	Fields        []string `json:"fields,omitempty"` // key=value, как у флага --field
	Event         string   `json:"event,omitempty"`
	PurchaseToken string   `json:"purchase_token,omitempty"`
	SKU           string   `json:"sku,omitempty"`
	Premium       bool     `json:"premium,omitempty"`
}

// Serve принимает команды submit и entitle построчно из r, пока работает run.
// События биллинга уходят в billing, который читает монитор подписки;
// nil billing означает, что проверка подписки не настроена.
// Ошибка отдельной строки выводится и не прерывает поток.
func (c *Cli) Serve(ctx context.Context, r io.Reader, billing chan<- models.BillingEvent) error {
	// чтение stdin не отменяется через ctx: сканер живет в своей горутине
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := c.serveLine(ctx, line, billing); err != nil {
				c.io.Printf("Error: %v\n", err)
			}
		}
	}
}

func (c *Cli) serveLine(ctx context.Context, line string, billing chan<- models.BillingEvent) error {
	var cmd Command
	if err := json.Unmarshal([]byte(line), &cmd); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	switch cmd.Op {
	case "submit":
		mutation := models.MutationType(cmd.Mutation)
		if mutation == "" {
			mutation = models.MutationCreate
		}
		kind := cmd.Kind
		if kind == "" {
			kind = models.KindPulse
		}
		return c.Submit(ctx, SubmitOptions{
			Fields:   cmd.Fields,
			ID:       cmd.ID,
			Kind:     kind,
			Author:   cmd.Author,
			Mutation: mutation,
			Premium:  cmd.Premium,
		})

	case "entitle":
		if billing == nil {
			return ErrEntitlementsDisabled
		}
		ev := models.BillingEvent{
			Type:          models.BillingEventType(cmd.Event),
			PurchaseToken: cmd.PurchaseToken,
			SKU:           cmd.SKU,
		}
		if !validBillingEvent(ev.Type) {
			return fmt.Errorf("unknown billing event %q", ev.Type)
		}
		select {
		case billing <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.io.Printf("Queued billing event %s\n", ev.Type)
		return nil
	}
	return fmt.Errorf("unknown op %q, expected submit or entitle", cmd.Op)
}

func validBillingEvent(t models.BillingEventType) bool {
	switch t {
	case models.BillingPurchased, models.BillingRenewed, models.BillingCanceled, models.BillingRevoked, models.BillingExpired:
		return true
	}
	return false
}
