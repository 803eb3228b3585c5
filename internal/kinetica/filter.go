package kinetica

import (
	"context"

	"github.com/joeblew999/kickbox/internal/query"
)

// FilterByRadius materializes the filter's view with the rows of tableName
// inside its radius. It does not fetch rows.
func (c *Client) FilterByRadius(ctx context.Context, tableName string, f query.Filter) error {
	endpoint, req, err := query.RadiusFilter(tableName, f)
	if err != nil {
		return err
	}
	return c.post(ctx, endpoint, req, nil)
}

// Filter materializes the filter's view with the rows of tableName matching
// its expression.
func (c *Client) Filter(ctx context.Context, tableName string, f query.Filter) error {
	req, err := query.ExpressionFilter(tableName, f)
	if err != nil {
		return err
	}
	return c.post(ctx, query.EndpointFilter, req, nil)
}
