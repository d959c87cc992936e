package panel

import (
	"context"
	"errors"
	"net/url"
)

// DefaultPageSize is the panel's silent truncation threshold: a roster
// response of at most this many records may be an incomplete page even
// when all records were requested.
const DefaultPageSize = 50

// emptyPagesToStop ends a pagination probe after this many consecutive
// empty pages. Two guards against an off-by-one page-numbering mismatch.
const emptyPagesToStop = 2

// FetchRoster returns the full mapping of vpsid to snapshot.
//
// The first request asks for all records (reslen=0). A result at or
// below DefaultPageSize is a strong signal of silent truncation, so the
// fetcher then probes fixed-size pages under both the zero-based and
// one-based numbering conventions and keeps whichever merged result is
// largest. An empty roster is a valid result.
func (c *Client) FetchRoster(ctx context.Context) (map[string]Snapshot, error) {
	initial, err := c.fetchPage(ctx, 0, -1, nil)
	if err != nil {
		return nil, err
	}

	if len(initial) > DefaultPageSize {
		c.log.Debug("roster complete in one response", "count", len(initial))
		return initial, nil
	}

	c.log.Debug("roster may be truncated, probing pages", "initial_count", len(initial))

	best := initial
	for _, firstPage := range []int{0, 1} {
		merged := c.probePages(ctx, firstPage)
		if len(merged) > len(best) {
			best = merged
		}
	}

	c.log.Info("roster fetched", "count", len(best))
	return best, nil
}

// probePages walks fixed-size pages from firstPage until it has seen
// emptyPagesToStop consecutive empty pages, merging non-empty pages
// into one mapping keyed by vpsid. A mid-probe error abandons this
// sequence; the initial result is still available as a fallback.
func (c *Client) probePages(ctx context.Context, firstPage int) map[string]Snapshot {
	merged := make(map[string]Snapshot)
	empty := 0

	for page := firstPage; empty < emptyPagesToStop; page++ {
		pg, err := c.fetchPage(ctx, DefaultPageSize, page, nil)
		if err != nil {
			c.log.Warn("pagination probe aborted", "page", page, "error", err)
			break
		}
		if len(pg) == 0 {
			empty++
			continue
		}
		empty = 0
		for id, snap := range pg {
			merged[id] = snap
		}
	}

	return merged
}

// LookupVPS finds a single VPS by id. If the id is absent from the
// merged roster, one extra probe of the suspended-only subset runs
// before the lookup is declared not-found: suspended resources are
// omitted from the default listing on some panel versions.
func (c *Client) LookupVPS(ctx context.Context, vpsID string) (Snapshot, error) {
	roster, err := c.FetchRoster(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if snap, ok := roster[vpsID]; ok {
		return snap, nil
	}

	suspended, err := c.fetchPage(ctx, 0, -1, url.Values{"vsstatus": {"s"}})
	if err != nil {
		// The primary roster already answered; a failed fallback probe
		// downgrades to not-found rather than a transport failure.
		var ce *CallError
		if !errors.As(err, &ce) {
			return Snapshot{}, err
		}
		c.log.Warn("suspended-roster fallback probe failed", "vpsid", vpsID, "error", err)
	} else if snap, ok := suspended[vpsID]; ok {
		return snap, nil
	}

	return Snapshot{}, &CallError{Err: ErrNotFound, Endpoint: "vs", VPSID: vpsID}
}
