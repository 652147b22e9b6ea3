// Package commerce is the thin transport over the COMMERCE platform's
// GraphQL API (§4.5, §6.3), modeled on the teacher's internal/ai.Agent:
// one client wrapping a single external-API handle, every call going
// through a uniform do() that applies a timeout, a rate-limit gate, and
// a retry policy before touching the wire, with userErrors translated
// into typed synerr failures the way the teacher translates OpenAI
// refusals into AgentDomainResult kinds.
package commerce

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/machinebox/graphql"
	"go.uber.org/zap"

	"retailsync/internal/config"
	"retailsync/internal/ratelimit"
	"retailsync/internal/retry"
	"retailsync/internal/synerr"
)

// Client is the engine's only entry point onto COMMERCE (§4.5).
type Client struct {
	gql        *graphql.Client
	token      string
	apiVersion string
	limiter    *ratelimit.Limiter
	retryExec  *retry.Executor
	logger     *zap.Logger

	callTimeout time.Duration

	// collectionCache memoizes EnsureCollection results by normalized
	// name so repeated product syncs don't re-create the same
	// collection lookup every run (§4.12 step I).
	collectionCache *lru.Cache[string, string]
}

// collectionCacheSize bounds the LRU to a handful of categoria/familia
// values; this catalog has dozens, not thousands, of distinct ones.
const collectionCacheSize = 512

// NewClient builds a Client against cfg.ShopURL, gated by limiter and
// retried by retryExec.
func NewClient(cfg config.CommerceConfig, limiter *ratelimit.Limiter, retryExec *retry.Executor, logger *zap.Logger) (*Client, error) {
	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", cfg.ShopURL, cfg.APIVersion)
	cache, err := lru.New[string, string](collectionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build collection cache: %w", err)
	}
	return &Client{
		gql:             graphql.NewClient(endpoint),
		token:           cfg.Token,
		apiVersion:      cfg.APIVersion,
		limiter:         limiter,
		retryExec:       retryExec,
		logger:          logger,
		callTimeout:     30 * time.Second,
		collectionCache: cache,
	}, nil
}

// userError is the shape COMMERCE embeds in mutation payloads for
// request-level failures that still return HTTP 200 (§4.5, §6.3).
type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// do runs name under the retry executor; each attempt first waits on the
// rate limiter for family, then makes the GraphQL call itself within a
// bounded per-call timeout (§5 "per remote call (default 30s)").
func (c *Client) do(ctx context.Context, family ratelimit.Family, name string, req *graphql.Request, resp interface{}) error {
	req.Header.Set("X-Shopify-Access-Token", c.token)

	return c.retryExec.Do(ctx, name, func(ctx context.Context) error {
		if err := c.limiter.Acquire(ctx, family); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		if err := c.gql.Run(callCtx, req, resp); err != nil {
			if isThrottled(err) {
				if surrenderErr := c.limiter.Surrender(ctx, family, parseThrottleRetryAfter(err.Error())); surrenderErr != nil {
					return fmt.Errorf("%s: %w", name, surrenderErr)
				}
			}
			return fmt.Errorf("%s: %w", name, classifyTransportError(err))
		}
		return nil
	})
}

// isThrottled reports whether a raw transport error is COMMERCE's 429/
// "throttled" backpressure signal rather than some other transient
// failure, so only that case surrenders the rate-limit budget (§4.1).
func isThrottled(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "throttled") || strings.Contains(msg, "too many requests")
}

// classifyTransportError recasts a raw graphql/HTTP error as the synerr
// kind the RetryExecutor and run-level error handling branch on (§7).
func classifyTransportError(err error) error {
	switch synerr.Classify(err) {
	case synerr.KindTransient:
		return &synerr.Transient{Cause: err}
	case synerr.KindAuth:
		return &synerr.Auth{Cause: err}
	default:
		return err
	}
}

// defaultThrottleRetryAfter is the fallback sleep when a throttled
// userError carries no parseable wait hint. COMMERCE's default bucket
// refills slowly enough that a sub-second retry just re-throttles.
const defaultThrottleRetryAfter = 2 * time.Second

// retryAfterPattern pulls a "retry after 2.5s" / "retry after 2 seconds"
// style hint out of a throttled userError message, when COMMERCE includes
// one.
var retryAfterPattern = regexp.MustCompile(`(?i)(?:retry after|available in)\s+([0-9]+(?:\.[0-9]+)?)\s*s`)

// parseThrottleRetryAfter extracts the server-suggested wait from a
// throttled userError message, falling back to defaultThrottleRetryAfter
// when the message carries no explicit figure (§4.1).
func parseThrottleRetryAfter(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return defaultThrottleRetryAfter
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil || secs <= 0 {
		return defaultThrottleRetryAfter
	}
	return time.Duration(secs * float64(time.Second))
}

// translateUserErrors converts a mutation's embedded userErrors into a
// single error. THROTTLED is the one message COMMERCE uses for
// rate-limit backpressure surfaced as a user error rather than an HTTP
// 429; everything else is permanent (§4.5, §7). On a throttled userError
// it also surrenders family's rate budget for the parsed (or default)
// retry interval, the same backpressure response a transport-level 429
// gets, per §4.1.
func (c *Client) translateUserErrors(ctx context.Context, family ratelimit.Family, mutation string, errs []userError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	retryable := false
	retryAfter := defaultThrottleRetryAfter
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("%v: %s", e.Field, e.Message))
		if strings.Contains(strings.ToLower(e.Message), "throttled") {
			retryable = true
			retryAfter = parseThrottleRetryAfter(e.Message)
		}
	}
	combined := fmt.Errorf("%s userErrors: %v", mutation, msgs)
	if retryable {
		if err := c.limiter.Surrender(ctx, family, retryAfter); err != nil {
			return fmt.Errorf("%s: %w", mutation, err)
		}
		return &synerr.Transient{Cause: combined}
	}
	return &synerr.Validation{Cause: combined}
}
