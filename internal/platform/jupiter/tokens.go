package jupiter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"solbot/internal/domain"
)

// TokenList resolves mints against the aggregator's verified token list and
// an optional local blacklist file. The list is fetched lazily and cached for
// the configured TTL.
type TokenList struct {
	logger     *slog.Logger
	listURL    string
	ttl        time.Duration
	httpClient *http.Client

	mu        sync.Mutex
	tokens    map[string]domain.Token
	fetchedAt time.Time
	blacklist map[string]bool
}

// NewTokenList builds a resolver. blacklistPath may be empty; when set, the
// file holds one mint address per line (# starts a comment).
func NewTokenList(logger *slog.Logger, listURL string, ttl time.Duration, blacklistPath string) (*TokenList, error) {
	tl := &TokenList{
		logger:     logger.With(slog.String("component", "token_list")),
		listURL:    listURL,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		blacklist:  map[string]bool{},
	}
	if blacklistPath != "" {
		if err := tl.loadBlacklist(blacklistPath); err != nil {
			return nil, err
		}
	}
	return tl, nil
}

// Resolve returns the token's metadata. Unknown mints come back as
// unverified rather than an error so the risk layer decides what to do with
// them.
func (t *TokenList) Resolve(ctx context.Context, mint string) (domain.Token, error) {
	if err := t.refresh(ctx); err != nil {
		return domain.Token{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if tok, ok := t.tokens[mint]; ok {
		return tok, nil
	}
	return domain.Token{Address: mint, Verified: false}, nil
}

// Blacklisted reports whether the mint is locally banned.
func (t *TokenList) Blacklisted(mint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blacklist[mint]
}

// refresh re-downloads the token list when the cache has expired. A fetch
// failure with a warm cache is tolerated: stale verification data beats none.
func (t *TokenList) refresh(ctx context.Context) error {
	t.mu.Lock()
	fresh := t.tokens != nil && time.Since(t.fetchedAt) < t.ttl
	warm := t.tokens != nil
	t.mu.Unlock()
	if fresh {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.listURL, nil)
	if err != nil {
		return fmt.Errorf("jupiter: create token list request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		if warm {
			t.logger.Warn("token list refresh failed, serving stale list", slog.String("error", err.Error()))
			return nil
		}
		return fmt.Errorf("jupiter: fetch token list: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("jupiter: read token list: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if warm {
			t.logger.Warn("token list refresh failed, serving stale list", slog.Int("status", resp.StatusCode))
			return nil
		}
		return fmt.Errorf("jupiter: fetch token list: HTTP %d", resp.StatusCode)
	}

	var entries []tokenEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return fmt.Errorf("jupiter: decode token list: %w", err)
	}

	tokens := make(map[string]domain.Token, len(entries))
	for _, e := range entries {
		tokens[e.Address] = domain.Token{
			Address:  e.Address,
			Symbol:   e.Symbol,
			Name:     e.Name,
			Decimals: e.Decimals,
			Verified: true,
		}
	}

	t.mu.Lock()
	t.tokens = tokens
	t.fetchedAt = time.Now()
	t.mu.Unlock()

	t.logger.Info("token list refreshed", slog.Int("tokens", len(tokens)))
	return nil
}

// loadBlacklist reads one mint per line, skipping blanks and comments.
func (t *TokenList) loadBlacklist(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("jupiter: open blacklist: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t.blacklist[line] = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("jupiter: read blacklist: %w", err)
	}
	return nil
}
