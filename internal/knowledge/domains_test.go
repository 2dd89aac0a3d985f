package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_RanksByMatchCount(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.EnsureDomain("naver", "naver", "blog")
	require.NoError(t, err)
	_, err = svc.EnsureDomain("weather", "weather", "forecast")
	require.NoError(t, err)

	matches, err := svc.Detect("pull naver blog posts about weather")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "naver", matches[0].Name)
	assert.Equal(t, 2, matches[0].Matches)
	assert.Equal(t, "weather", matches[1].Name)
	assert.Equal(t, 1, matches[1].Matches)
}

func TestDetect_SpecificityBreaksTies(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.EnsureDomain("orchestration", "kubernetes")
	require.NoError(t, err)
	_, err = svc.EnsureDomain("shipping", "k8s")
	require.NoError(t, err)

	matches, err := svc.Detect("kubernetes or k8s deploys")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "orchestration", matches[0].Name)
	assert.Greater(t, matches[0].Specificity, matches[1].Specificity)
}

func TestDetect_DomainNameCountsAsTerm(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.EnsureDomain("grafana")
	require.NoError(t, err)

	matches, err := svc.Detect("set up grafana alerts")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "grafana", matches[0].Name)
	assert.Equal(t, 1, matches[0].Matches)
}

func TestDetect_NoMatches(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.EnsureDomain("weather", "forecast")
	require.NoError(t, err)

	matches, err := svc.Detect("unrelated query text")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDetect_SkipsInactiveAndCommon(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.EnsureDomain("legacy", "mainframe")
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateDomain("legacy"))

	matches, err := svc.Detect("common mainframe jobs")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestEnsureDomain_Idempotent(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	first, err := svc.EnsureDomain("weather", "forecast", "kma")
	require.NoError(t, err)
	assert.Equal(t, []string{"forecast", "kma"}, first.Keywords)

	again, err := svc.EnsureDomain("weather", "something-else")
	require.NoError(t, err)
	assert.Equal(t, first.Keywords, again.Keywords)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
}

func TestEnsureDomain_NormalizesNameAndKeywords(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	d, err := svc.EnsureDomain("  Weather API  ", " Forecast ", "forecast", "", "KMA")
	require.NoError(t, err)
	assert.Equal(t, "weather api", d.Name)
	assert.Equal(t, []string{"forecast", "kma"}, d.Keywords)
}

func TestEnsureDomain_DefaultsKeywordsToName(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	d, err := svc.EnsureDomain("grafana")
	require.NoError(t, err)
	assert.Equal(t, []string{"grafana"}, d.Keywords)
}

func TestEnsureDomain_RequiresName(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.EnsureDomain("   ")
	assert.ErrorContains(t, err, "name is required")
}

func TestDeactivateDomain(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.EnsureDomain("legacy")
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateDomain("legacy"))

	d, err := svc.store.GetDomain("legacy")
	require.NoError(t, err)
	assert.False(t, d.Active)
}

func TestDeactivateDomain_CommonForbidden(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	err := svc.DeactivateDomain(CommonDomain)
	assert.ErrorContains(t, err, "cannot be deactivated")
}
