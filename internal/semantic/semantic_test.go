package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

func TestExpand(t *testing.T) {
	l := Default()

	got := l.Expand("dentista")
	assert.Contains(t, got, "odontologia")
	assert.Contains(t, got, "dental")
	assert.Equal(t, "dentista", got[0], "original tokens come first")

	seen := map[string]bool{}
	for _, term := range got {
		assert.False(t, seen[term], "duplicate %q", term)
		seen[term] = true
	}
}

func TestExpand_SubstringBothWays(t *testing.T) {
	l, err := Load([]byte(`
- term: academia
  synonyms: [fitness]
- term: salão
  synonyms: [beleza]
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"academias", "fitness"}, l.Expand("academias"), "token contains key")
	assert.Equal(t, []string{"sal", "beleza"}, l.Expand("sal"), "key contains token")
}

func TestExpand_DropsShortTokensAndKeepsUnknown(t *testing.T) {
	l := Default()
	assert.Empty(t, l.Expand("de a"))
	assert.Equal(t, []string{"xylofone"}, l.Expand("xylofone"))
	assert.Empty(t, l.Expand(""))
}

func TestSuggestedCodes(t *testing.T) {
	l := Default()
	assert.Equal(t, []string{"8630503", "8630504"}, l.SuggestedCodes("dentista"))
	assert.Equal(t, []string{"4721102", "1091101", "4712100"}, l.SuggestedCodes("PADARIA"))
	assert.Empty(t, l.SuggestedCodes("xylofone"))
}

func TestSuggestedCodes_DiscoveryOrder(t *testing.T) {
	l, err := Load([]byte(`
- term: loja
  suggested_codes: ["4781400", "4789005"]
- term: vestuário
  suggested_codes: ["4781400", "4782201"]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"4781400", "4782201", "4789005"}, l.SuggestedCodes("vestuário loja"))
}

func TestEnrich(t *testing.T) {
	l := Default()
	results := []domain.ScoredResult{
		{Candidate: domain.Candidate{ClassificationEntry: domain.ClassificationEntry{Code: "8630504", Description: "Atividade odontológica"}}, Score: 0.9},
		{Candidate: domain.Candidate{ClassificationEntry: domain.ClassificationEntry{Code: "3250706", Description: "Laboratório dental"}}, Score: 0.5},
		{Candidate: domain.Candidate{ClassificationEntry: domain.ClassificationEntry{Code: "6920601", Description: "Atividades de contabilidade"}}, Score: 0.4},
	}

	got := l.Enrich(results, "dentista")
	require.Len(t, got, 3)

	assert.True(t, got[0].IsSuggested)
	assert.InDelta(t, 0.2, got[0].SemanticBoost, 1e-9)
	assert.Equal(t, 0.9, got[0].Score)

	assert.False(t, got[1].IsSuggested)
	assert.True(t, got[1].HasSemanticMatch, "'dental' is a synonym")
	assert.InDelta(t, 0.1, got[1].SemanticBoost, 1e-9)

	assert.False(t, got[2].IsSuggested)
	assert.False(t, got[2].HasSemanticMatch)

	assert.False(t, results[0].IsSuggested, "input must not be modified")
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load([]byte(`[{term: ""}]`))
	assert.Error(t, err)

	_, err = Load([]byte("- term: a\n- term: A\n"))
	assert.Error(t, err)
}
