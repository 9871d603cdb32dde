// Package categorizer assigns text to one of the fixed index categories.
package categorizer

import (
	"fmt"
	"regexp"
	"strings"

	"knowledge-rag/internal/models"
)

type rule struct {
	category models.Category
	pattern  *regexp.Regexp
}

func keywords(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{models.CategorySecurity, keywords(
		`secur\w*`, `vulnerab\w*`, `exploit\w*`, `attack\w*`, `audit\w*`, `threat\w*`,
		`double[- ]satisfaction`, `reentran\w*`, `malicious`, `cve-\d+`, `unsafe`,
	)},
	{models.CategoryDeployment, keywords(
		`deploy\w*`, `mainnet`, `testnet`, `preprod`, `preview network`, `docker\w*`,
		`kubernetes`, `ci/cd`, `github actions`, `release\w*`, `cardano-node`, `hosting`,
	)},
	{models.CategoryIntegration, keywords(
		`integrat\w*`, `api`, `apis`, `sdk\w*`, `lucid`, `mesh`, `blockfrost`, `ogmios`,
		`kupo`, `wallet\w*`, `cip-30`, `off-chain`, `offchain`, `frontend`, `client library`,
	)},
	{models.CategoryCore, keywords(
		`validator\w*`, `datum\w*`, `redeemer\w*`, `e?utxo\w*`, `plutus`, `aiken`,
		`smart contract\w*`, `on-chain`, `script context`, `minting polic\w*`, `ledger`,
		`consensus`, `compact language`, `zk proof\w*`, `zero-knowledge`,
	)},
}

// Categorize returns the first matching category, or general. It never fails.
func Categorize(text string) models.Category {
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return r.category
		}
	}
	return models.CategoryGeneral
}

// Matches returns every category whose keywords occur in text, in priority order.
// The result is empty when nothing matches.
func Matches(text string) []models.Category {
	var out []models.Category
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			out = append(out, r.category)
		}
	}
	return out
}

// Parse validates a user-supplied category name.
func Parse(name string) (models.Category, error) {
	c := models.Category(strings.ToLower(strings.TrimSpace(name)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q (expected one of %v)", models.ErrInvalidCategoryFilter, name, models.AllCategories)
	}
	return c, nil
}
