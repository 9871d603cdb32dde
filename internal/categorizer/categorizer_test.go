package categorizer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-rag/internal/models"
)

func TestCategorize(t *testing.T) {
	cases := []struct {
		name string
		text string
		want models.Category
	}{
		{"security wins over core", "A double satisfaction vulnerability in the validator", models.CategorySecurity},
		{"deployment", "Deploying the script to preprod with cardano-node", models.CategoryDeployment},
		{"integration", "Build the transaction with Lucid and submit through Blockfrost", models.CategoryIntegration},
		{"core", "The redeemer selects which branch of the validator runs", models.CategoryCore},
		{"general", "Welcome to the knowledge base", models.CategoryGeneral},
		{"empty", "", models.CategoryGeneral},
		{"word boundary", "rapid prototyping", models.CategoryGeneral},
		{"case insensitive", "AUDIT CHECKLIST", models.CategorySecurity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Categorize(tc.text))
		})
	}
}

func TestCategorizeIsTotalAndDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcdefghijklmnopqrstuvwxyz -#\n.é漢validatorapiaudit")
	for i := 0; i < 500; i++ {
		buf := make([]rune, rng.Intn(120))
		for j := range buf {
			buf[j] = alphabet[rng.Intn(len(alphabet))]
		}
		s := string(buf)
		got := Categorize(s)
		assert.True(t, got.Valid(), "category %q for %q", got, s)
		assert.Equal(t, got, Categorize(s))
	}
}

func TestMatches(t *testing.T) {
	t.Run("Should return all matching in priority order", func(t *testing.T) {
		got := Matches("security vulnerability in validator")
		assert.Equal(t, []models.Category{models.CategorySecurity, models.CategoryCore}, got)
	})

	t.Run("Should return empty when nothing matches", func(t *testing.T) {
		assert.Empty(t, Matches("hello there"))
	})
}

func TestParse(t *testing.T) {
	t.Run("Should accept known category", func(t *testing.T) {
		c, err := Parse(" Security ")
		require.NoError(t, err)
		assert.Equal(t, models.CategorySecurity, c)
	})

	t.Run("Should reject unknown category", func(t *testing.T) {
		_, err := Parse("defi")
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrInvalidCategoryFilter)
	})
}
