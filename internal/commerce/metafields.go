package commerce

import (
	"context"
	"fmt"

	"github.com/machinebox/graphql"

	"retailsync/internal/ratelimit"
)

// metafieldsChunkLimit is COMMERCE's per-call cap (§4.5); the caller
// (ProductSyncPipeline step E) is responsible for partitioning, but
// SetMetafields still refuses to silently truncate an oversized batch.
const metafieldsChunkLimit = 25

// Metafield is one owner-scoped key/value pair, the wire shape behind
// metafieldsSet (§6.3, §6.4).
type Metafield struct {
	OwnerID   string
	Namespace string
	Key       string
	Type      string
	Value     string
}

const metafieldsSetMutation = `
mutation MetafieldsSet($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    metafields { id key }
    userErrors { field message }
  }
}`

type metafieldsSetResponse struct {
	MetafieldsSet struct {
		UserErrors []userError `json:"userErrors"`
	} `json:"metafieldsSet"`
}

// SetMetafields writes up to metafieldsChunkLimit metafields in one call
// (§4.5, §4.12 step E).
func (c *Client) SetMetafields(ctx context.Context, metafields []Metafield) error {
	if len(metafields) > metafieldsChunkLimit {
		return fmt.Errorf("SetMetafields: %d metafields exceeds the %d-per-call limit", len(metafields), metafieldsChunkLimit)
	}
	if len(metafields) == 0 {
		return nil
	}

	inputs := make([]map[string]interface{}, 0, len(metafields))
	for _, m := range metafields {
		inputs = append(inputs, map[string]interface{}{
			"ownerId":   m.OwnerID,
			"namespace": m.Namespace,
			"key":       m.Key,
			"type":      m.Type,
			"value":     m.Value,
		})
	}

	req := graphql.NewRequest(metafieldsSetMutation)
	req.Var("metafields", inputs)

	var resp metafieldsSetResponse
	if err := c.do(ctx, ratelimit.FamilyMetafield, "metafieldsSet", req, &resp); err != nil {
		return err
	}
	return c.translateUserErrors(ctx, ratelimit.FamilyMetafield, "metafieldsSet", resp.MetafieldsSet.UserErrors)
}
