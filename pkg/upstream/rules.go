package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"streamscraper/pkg/errors"
	"streamscraper/pkg/models"
	"streamscraper/pkg/rules"
)

type apiProblem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Value  string `json:"value"`
	ID     string `json:"id"`
}

func (p apiProblem) String() string {
	parts := []string{p.Title}
	if p.Detail != "" {
		parts = append(parts, p.Detail)
	}
	if p.Value != "" {
		parts = append(parts, fmt.Sprintf("rule %q", p.Value))
	}
	return strings.Join(parts, ": ")
}

type rulesResponse struct {
	Data   []models.ActiveRule `json:"data"`
	Errors []apiProblem        `json:"errors"`
	Meta   struct {
		Summary struct {
			Created    int `json:"created"`
			NotCreated int `json:"not_created"`
			Deleted    int `json:"deleted"`
			NotDeleted int `json:"not_deleted"`
		} `json:"summary"`
	} `json:"meta"`
}

func (r *rulesResponse) problem() error {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, p := range r.Errors {
		msgs[i] = p.String()
	}
	return errors.New(errors.ErrorTypeInvalidRequest, strings.Join(msgs, "; "))
}

func (c *Client) rulesCall(ctx context.Context, name, method string, payload interface{}) (*rulesResponse, error) {
	if c.opts.Mode != ModeV2 {
		return nil, errors.New(errors.ErrorTypeInvalidRequest, "rule management requires v2 mode")
	}

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, errors.Wrap(errors.ErrorTypeInvalidRequest, "failed to encode rules request", err)
		}
	}

	var out rulesResponse
	err := c.retry(ctx, name, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := c.newRequest(ctx, method, c.endpoint(c.opts.RulesPath, nil), reader)
		if err != nil {
			return err
		}

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		out = rulesResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return errors.Wrap(errors.ErrorTypeDecode, "failed to decode rules response", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, out.problem()
}

// Rules lists the rules currently active on the upstream
func (c *Client) Rules(ctx context.Context) ([]models.ActiveRule, error) {
	resp, err := c.rulesCall(ctx, "list_rules", http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// AddRules registers rules and returns them with their upstream IDs
func (c *Client) AddRules(ctx context.Context, add []models.FilterRule) ([]models.ActiveRule, error) {
	if len(add) == 0 {
		return nil, nil
	}
	resp, err := c.rulesCall(ctx, "add_rules", http.MethodPost, map[string]interface{}{"add": add})
	if err != nil {
		return nil, err
	}

	c.logger.InfoWithFields("Rules added", map[string]interface{}{
		"created":     resp.Meta.Summary.Created,
		"not_created": resp.Meta.Summary.NotCreated,
	})
	return resp.Data, nil
}

// DeleteRules removes the rules with the given IDs
func (c *Client) DeleteRules(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	payload := map[string]interface{}{"delete": map[string][]string{"ids": ids}}
	resp, err := c.rulesCall(ctx, "delete_rules", http.MethodPost, payload)
	if err != nil {
		return err
	}

	c.logger.InfoWithFields("Rules deleted", map[string]interface{}{
		"deleted":     resp.Meta.Summary.Deleted,
		"not_deleted": resp.Meta.Summary.NotDeleted,
	})
	return nil
}

// DeleteAllRules removes every active rule and returns what was removed
func (c *Client) DeleteAllRules(ctx context.Context) ([]models.ActiveRule, error) {
	active, err := c.Rules(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(active))
	for i, r := range active {
		ids[i] = r.ID
	}
	if err := c.DeleteRules(ctx, ids); err != nil {
		return nil, err
	}
	return active, nil
}

// ReplaceRules deletes every active rule, then adds set. The two calls are
// not atomic; callers only replace rules while no stream is open.
func (c *Client) ReplaceRules(ctx context.Context, set rules.Set) ([]models.ActiveRule, error) {
	if _, err := c.DeleteAllRules(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete existing rules: %w", err)
	}
	added, err := c.AddRules(ctx, set.Rules())
	if err != nil {
		return nil, fmt.Errorf("failed to add rules: %w", err)
	}
	return added, nil
}

// RegisterRules makes set the upstream's active rule set before a session
func (c *Client) RegisterRules(ctx context.Context, set rules.Set) error {
	if c.opts.Mode == ModeV1 {
		return nil
	}
	_, err := c.ReplaceRules(ctx, set)
	return err
}
